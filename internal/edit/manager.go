package edit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/apierr"
)

// Defaults for Manager options.
const (
	DefaultCleanupTimeout = 10 * time.Second
	DefaultExpiryMargin   = 60 * time.Second

	// fallbackLifetime applies when the provider omits expiryTimeSeconds.
	fallbackLifetime = time.Hour
)

// Executor is the part of api.Client the manager needs.
type Executor interface {
	Execute(ctx context.Context, req api.Request) (*api.Response, error)
}

// Manager opens and drives edit sessions. It keeps at most one open session
// per app ID.
type Manager struct {
	client         Executor
	prefix         string
	logger         *slog.Logger
	now            func() time.Time
	cleanupTimeout time.Duration
	expiryMargin   time.Duration

	mu     sync.Mutex
	open   map[string]*Session
	begins map[string]*appLock
}

// appLock serializes Begin for one app ID. waiters is guarded by
// Manager.mu.
type appLock struct {
	mu      sync.Mutex
	waiters int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix sets the path prefix placed before the app ID.
func WithPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCleanupTimeout bounds the detached abort issued after cancellation.
func WithCleanupTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cleanupTimeout = d }
}

// WithExpiryMargin sets how close to expiry a session is renewed.
func WithExpiryMargin(d time.Duration) Option {
	return func(m *Manager) { m.expiryMargin = d }
}

// NewManager creates a Manager issuing requests through client.
func NewManager(client Executor, opts ...Option) *Manager {
	m := &Manager{
		client:         client,
		logger:         slog.Default(),
		now:            time.Now,
		cleanupTimeout: DefaultCleanupTimeout,
		expiryMargin:   DefaultExpiryMargin,
		open:           make(map[string]*Session),
		begins:         make(map[string]*appLock),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Begin returns the open session for appID, creating a remote edit when
// there is none or the previous one has expired. Concurrent calls for the
// same app share one remote edit; calls for other apps do not wait on it.
func (m *Manager) Begin(ctx context.Context, appID string) (*Session, error) {
	unlock := m.lockApp(appID)
	defer unlock()

	m.mu.Lock()
	s, ok := m.open[appID]

	if ok {
		if s.State() == StateOpen && m.now().Before(s.ExpiresAt()) {
			m.mu.Unlock()
			return s, nil
		}

		m.logger.Debug("discarding stale edit session",
			slog.String("app_id", appID),
			slog.String("edit_id", s.ID()),
			slog.String("state", s.State().String()),
		)

		delete(m.open, appID)
	}

	m.mu.Unlock()

	s = &Session{appID: appID}
	if err := m.create(ctx, s); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.open[appID] = s
	m.mu.Unlock()

	return s, nil
}

// lockApp acquires the Begin lock for appID and returns its release.
func (m *Manager) lockApp(appID string) func() {
	m.mu.Lock()
	l, ok := m.begins[appID]

	if !ok {
		l = &appLock{}
		m.begins[appID] = l
	}

	l.waiters++
	m.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.waiters--

		if l.waiters == 0 {
			delete(m.begins, appID)
		}

		m.mu.Unlock()
	}
}

// Mutate sends one change under s. Any failure aborts the session and
// deletes the remote edit; the original error is returned, joined with the
// cleanup error if deletion also failed. Mutating a committed session
// panics.
func (m *Manager) Mutate(ctx context.Context, s *Session, c Change) (*api.Response, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if err := m.requireOpen(s, "mutate"); err != nil {
		return nil, err
	}

	if m.nearExpiry(s) {
		if err := m.renew(ctx, s); err != nil {
			return nil, m.fail(ctx, s, err)
		}
	}

	resp, err := m.send(ctx, s, c)
	if err != nil {
		return nil, m.fail(ctx, s, err)
	}

	s.changes = append(s.changes, c)

	return resp, nil
}

// Read issues a GET under s. A failed read leaves the session open.
func (m *Manager) Read(ctx context.Context, s *Session, sub string, query url.Values) (*api.Response, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if err := m.requireOpen(s, "read"); err != nil {
		return nil, err
	}

	return m.client.Execute(ctx, api.Request{
		Method: http.MethodGet,
		Path:   m.editPath(s) + "/" + sub,
		Query:  query,
	})
}

// Commit validates (optionally) and commits s. On success the session is
// Committed; on failure it is aborted like a failed Mutate. Committing a
// committed session panics.
func (m *Manager) Commit(ctx context.Context, s *Session, opts CommitOptions) (*api.Response, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if err := m.requireOpen(s, "commit"); err != nil {
		return nil, err
	}

	if m.nearExpiry(s) {
		if err := m.renew(ctx, s); err != nil {
			return nil, m.fail(ctx, s, err)
		}
	}

	s.setState(StateValidating)

	if opts.ValidateFirst {
		if _, err := m.client.Execute(ctx, api.Request{
			Method: http.MethodPost,
			Path:   m.editPath(s) + ":validate",
		}); err != nil {
			return nil, m.fail(ctx, s, fmt.Errorf("edit: validating %s: %w", s.ID(), err))
		}
	}

	var query url.Values
	if opts.ChangesNotSentForReview {
		query = url.Values{"changesNotSentForReview": {"true"}}
	}

	resp, err := m.client.Execute(ctx, api.Request{
		Method: http.MethodPost,
		Path:   m.editPath(s) + ":commit",
		Query:  query,
	})
	if err != nil {
		return nil, m.fail(ctx, s, fmt.Errorf("edit: committing %s: %w", s.ID(), err))
	}

	s.setState(StateCommitted)
	m.forget(s)

	m.logger.Info("edit committed",
		slog.String("app_id", s.appID),
		slog.String("edit_id", s.ID()),
		slog.Int("changes", len(s.changes)),
	)

	return resp, nil
}

// Abort deletes the remote edit and marks s Aborted. It is a no-op on a
// terminal session. The state change happens even when deletion fails.
func (m *Manager) Abort(ctx context.Context, s *Session) error {
	s.op.Lock()
	defer s.op.Unlock()

	return m.abortLocked(ctx, s)
}

// WithSession runs fn inside an edit for appID and commits it when fn
// succeeds, returning the commit response. The session is aborted when fn
// fails, panics, or ctx is canceled before the commit.
func (m *Manager) WithSession(ctx context.Context, appID string, opts CommitOptions,
	fn func(ctx context.Context, s *Session) error,
) (*api.Response, error) {
	s, err := m.Begin(ctx, appID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = m.Abort(ctx, s)
			panic(r)
		}
	}()

	if err := fn(ctx, s); err != nil {
		return nil, errors.Join(err, m.Abort(ctx, s))
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Join(apierr.FromContext(err, "edit %s interrupted before commit", s.ID()), m.Abort(ctx, s))
	}

	return m.Commit(ctx, s, opts)
}

// WithReadSession runs fn inside a private edit for appID and always deletes
// it afterwards. The session is never shared with Begin.
func (m *Manager) WithReadSession(ctx context.Context, appID string,
	fn func(ctx context.Context, s *Session) error,
) error {
	s := &Session{appID: appID}
	if err := m.create(ctx, s); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = m.Abort(ctx, s)
			panic(r)
		}
	}()

	fnErr := fn(ctx, s)
	abortErr := m.Abort(ctx, s)

	if fnErr != nil {
		return errors.Join(fnErr, abortErr)
	}

	if abortErr != nil {
		m.logger.Warn("discarding read edit failed",
			slog.String("app_id", appID),
			slog.String("error", abortErr.Error()),
		)
	}

	return nil
}

// requireOpen enforces the legal source state for op. Called with s.op held.
func (m *Manager) requireOpen(s *Session, op string) error {
	switch st := s.State(); st {
	case StateOpen:
		return nil
	case StateCommitted:
		panic(fmt.Sprintf("edit: %s on committed session %s", op, s.ID()))
	default:
		return apierr.New(apierr.KindTransaction, "cannot %s edit %s in state %s", op, s.ID(), st)
	}
}

func (m *Manager) nearExpiry(s *Session) bool {
	return s.ExpiresAt().Sub(m.now()) < m.expiryMargin
}

// create opens a remote edit and resets s to it.
func (m *Manager) create(ctx context.Context, s *Session) error {
	resp, err := m.client.Execute(ctx, api.Request{
		Method: http.MethodPost,
		Path:   m.appPath(s.appID) + "/edits",
		Body:   []byte("{}"),
	})
	if err != nil {
		return fmt.Errorf("edit: opening edit for %s: %w", s.appID, err)
	}

	id := resp.Get("id").String()
	if id == "" {
		return apierr.New(apierr.KindProtocol, "edit: provider returned no edit id for %s", s.appID)
	}

	now := m.now()

	expires := now.Add(fallbackLifetime)
	if secs := resp.Get("expiryTimeSeconds").Int(); secs > 0 {
		expires = time.Unix(secs, 0)
	}

	s.reset(id, now, expires)

	m.logger.Debug("edit opened",
		slog.String("app_id", s.appID),
		slog.String("edit_id", id),
		slog.Time("expires_at", expires),
	)

	return nil
}

// renew replaces an expiring remote edit with a fresh one and replays the
// change log. Called with s.op held.
func (m *Manager) renew(ctx context.Context, s *Session) error {
	old := s.ID()

	if err := m.deleteRemote(ctx, s); err != nil {
		m.logger.Warn("deleting expiring edit failed",
			slog.String("edit_id", old),
			slog.String("error", err.Error()),
		)
	}

	if err := m.create(ctx, s); err != nil {
		return err
	}

	m.logger.Info("edit renewed",
		slog.String("app_id", s.appID),
		slog.String("old_edit_id", old),
		slog.String("edit_id", s.ID()),
		slog.Int("replayed", len(s.changes)),
	)

	for i, c := range s.changes {
		if _, err := m.send(ctx, s, c); err != nil {
			return fmt.Errorf("edit: replaying change %d of %d: %w", i+1, len(s.changes), err)
		}
	}

	return nil
}

func (m *Manager) send(ctx context.Context, s *Session, c Change) (*api.Response, error) {
	return m.client.Execute(ctx, api.Request{
		Method: c.Method,
		Path:   m.editPath(s) + "/" + c.Sub,
		Query:  c.Query,
		Body:   c.Body,
	})
}

// fail aborts s after err and joins any cleanup failure behind err.
func (m *Manager) fail(ctx context.Context, s *Session, err error) error {
	return errors.Join(err, m.abortLocked(ctx, s))
}

// abortLocked marks s Aborted and deletes the remote edit. Called with s.op
// held.
func (m *Manager) abortLocked(ctx context.Context, s *Session) error {
	if s.State().Terminal() {
		return nil
	}

	s.setState(StateAborted)
	m.forget(s)

	if err := m.deleteRemote(ctx, s); err != nil {
		m.logger.Warn("edit abort failed",
			slog.String("app_id", s.appID),
			slog.String("edit_id", s.ID()),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("edit: deleting %s: %w", s.ID(), err)
	}

	m.logger.Debug("edit aborted",
		slog.String("app_id", s.appID),
		slog.String("edit_id", s.ID()),
	)

	return nil
}

// deleteRemote deletes the current remote edit on a context detached from
// the caller's cancellation.
func (m *Manager) deleteRemote(ctx context.Context, s *Session) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cleanupTimeout)
	defer cancel()

	_, err := m.client.Execute(cctx, api.Request{
		Method: http.MethodDelete,
		Path:   m.editPath(s),
	})

	return err
}

// forget drops s from the open set if it is still registered.
func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open[s.appID] == s {
		delete(m.open, s.appID)
	}
}

func (m *Manager) appPath(appID string) string {
	return m.prefix + "/" + url.PathEscape(appID)
}

func (m *Manager) editPath(s *Session) string {
	return m.appPath(s.appID) + "/edits/" + url.PathEscape(s.ID())
}
