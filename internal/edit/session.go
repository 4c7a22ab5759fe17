// Package edit implements the transactional edit lifecycle used by the
// Google Play publishing API: open an edit, stage changes under it, then
// validate and commit them atomically or delete the edit.
package edit

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// State is the lifecycle position of a Session.
type State int

// Session states. Committed and Aborted are terminal.
const (
	StateNone State = iota
	StateOpen
	StateValidating
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateOpen:
		return "open"
	case StateValidating:
		return "validating"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Change is one staged mutation, sent to {app}/edits/{id}/{Sub}. Changes are
// recorded so an expiring session can be renewed and replayed.
type Change struct {
	Method string
	Sub    string
	Body   []byte
	Query  url.Values
}

// Put returns a PUT change with a JSON body.
func Put(sub string, body []byte) Change {
	return Change{Method: http.MethodPut, Sub: sub, Body: body}
}

// Patch returns a PATCH change with a JSON body.
func Patch(sub string, body []byte) Change {
	return Change{Method: http.MethodPatch, Sub: sub, Body: body}
}

// Delete returns a DELETE change.
func Delete(sub string) Change {
	return Change{Method: http.MethodDelete, Sub: sub}
}

// CommitOptions tunes Commit.
type CommitOptions struct {
	// ValidateFirst runs the provider's validate step before committing.
	ValidateFirst bool
	// ChangesNotSentForReview commits without sending the changes for
	// review.
	ChangesNotSentForReview bool
}

// Session is one remote edit. All operations on a Session are serialized;
// accessors may be called concurrently with them.
type Session struct {
	appID string

	// op serializes remote operations on the session.
	op sync.Mutex

	// changes is guarded by op.
	changes []Change

	mu        sync.RWMutex
	id        string
	createdAt time.Time
	expiresAt time.Time
	state     State
}

// AppID returns the package name the session edits.
func (s *Session) AppID() string {
	return s.appID
}

// ID returns the remote edit ID. It changes when the session is renewed.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.id
}

// CreatedAt returns when the current remote edit was opened.
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.createdAt
}

// ExpiresAt returns the provider-reported expiry of the current remote edit.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.expiresAt
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Changes returns a copy of the recorded change log.
func (s *Session) Changes() []Change {
	s.op.Lock()
	defer s.op.Unlock()

	return append([]Change(nil), s.changes...)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) reset(id string, created, expires time.Time) {
	s.mu.Lock()
	s.id = id
	s.createdAt = created
	s.expiresAt = expires
	s.state = StateOpen
	s.mu.Unlock()
}
