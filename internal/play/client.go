// Package play is the Google Play Developer API catalog: tracks, listings,
// testers, reviews, and submission. Mutations run inside edit sessions.
package play

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/edit"
	"github.com/fbonesso/storeops/internal/paging"
)

// DefaultBaseURL is the Android Publisher applications endpoint.
const DefaultBaseURL = "https://androidpublisher.googleapis.com/androidpublisher/v3/applications"

// defaultWorkers bounds multi-locale fan-out.
const defaultWorkers = 4

// reviewsCursor is the page-token convention of the reviews endpoint.
var reviewsCursor = paging.TokenCursor{Param: "token", Field: "tokenPagination.nextPageToken"}

// Executor is the part of api.Client the catalog needs.
type Executor interface {
	Execute(ctx context.Context, req api.Request) (*api.Response, error)
}

// Client issues Google Play operations.
type Client struct {
	exec    Executor
	edits   *edit.Manager
	workers int
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithWorkers bounds concurrent per-locale work.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEditManager replaces the edit manager built by New.
func WithEditManager(m *edit.Manager) Option {
	return func(c *Client) { c.edits = m }
}

// New creates a Client over exec.
func New(exec Executor, opts ...Option) *Client {
	c := &Client{exec: exec, workers: defaultWorkers, logger: slog.Default()}

	for _, opt := range opts {
		opt(c)
	}

	if c.edits == nil {
		c.edits = edit.NewManager(exec, edit.WithLogger(c.logger))
	}

	return c
}

// Edits returns the edit manager.
func (c *Client) Edits() *edit.Manager {
	return c.edits
}

// Tracks lists the release tracks of pkg.
func (c *Client) Tracks(ctx context.Context, pkg string) ([]Track, error) {
	var tracks []Track

	err := c.edits.WithReadSession(ctx, pkg, func(ctx context.Context, s *edit.Session) error {
		resp, err := c.edits.Read(ctx, s, "tracks", nil)
		if err != nil {
			return err
		}

		tracks, err = paging.DecodeField[Track]("tracks")(resp.Body)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("play: listing tracks of %s: %w", pkg, err)
	}

	return tracks, nil
}

// UpdateTrack replaces the releases of track with release and commits.
func (c *Client) UpdateTrack(ctx context.Context, pkg, track string, release json.RawMessage,
	opts edit.CommitOptions,
) (Track, error) {
	if !json.Valid(release) {
		return Track{}, apierr.New(apierr.KindUsage, "release is not valid JSON")
	}

	body, err := sjson.SetBytes([]byte(`{}`), "track", track)
	if err == nil {
		body, err = sjson.SetRawBytes(body, "releases.0", release)
	}

	if err != nil {
		return Track{}, fmt.Errorf("play: encoding track: %w", err)
	}

	var out Track

	_, err = c.edits.WithSession(ctx, pkg, opts, func(ctx context.Context, s *edit.Session) error {
		resp, err := c.edits.Mutate(ctx, s, edit.Put("tracks/"+url.PathEscape(track), body))
		if err != nil {
			return err
		}

		return resp.Decode(&out)
	})
	if err != nil {
		return Track{}, fmt.Errorf("play: updating track %s of %s: %w", track, pkg, err)
	}

	return out, nil
}

// Listings returns every store listing of pkg with command-line locales.
func (c *Client) Listings(ctx context.Context, pkg string) ([]Listing, error) {
	var listings []Listing

	err := c.edits.WithReadSession(ctx, pkg, func(ctx context.Context, s *edit.Session) error {
		resp, err := c.edits.Read(ctx, s, "listings", nil)
		if err != nil {
			return err
		}

		listings, err = paging.DecodeField[Listing]("listings")(resp.Body)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("play: listing listings of %s: %w", pkg, err)
	}

	for i := range listings {
		listings[i].Language = FromPlayLocale(listings[i].Language)
	}

	return listings, nil
}

// Listing returns the store listing of pkg for one locale.
func (c *Client) Listing(ctx context.Context, pkg, locale string) (Listing, error) {
	playLocale, err := ToPlayLocale(locale)
	if err != nil {
		return Listing{}, err
	}

	var out Listing

	err = c.edits.WithReadSession(ctx, pkg, func(ctx context.Context, s *edit.Session) error {
		resp, err := c.edits.Read(ctx, s, "listings/"+playLocale, nil)
		if err != nil {
			return err
		}

		return resp.Decode(&out)
	})
	if err != nil {
		return Listing{}, fmt.Errorf("play: reading listing %s of %s: %w", locale, pkg, err)
	}

	out.Language = FromPlayLocale(out.Language)

	return out, nil
}

// UpdateListings writes several locale listings in one edit and commits them
// together. Bodies are prepared on a bounded pool; the session serializes
// the mutations. Results are returned in input order.
func (c *Client) UpdateListings(ctx context.Context, pkg string, listings []Listing,
	opts edit.CommitOptions,
) ([]Listing, error) {
	type prepared struct {
		locale string
		body   []byte
	}

	bodies := make([]prepared, len(listings))

	for i, l := range listings {
		playLocale, err := ToPlayLocale(l.Language)
		if err != nil {
			return nil, err
		}

		l.Language = playLocale

		l, err = l.normalize()
		if err != nil {
			return nil, err
		}

		body, err := json.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("play: encoding listing %s: %w", playLocale, err)
		}

		bodies[i] = prepared{locale: playLocale, body: body}
	}

	out := make([]Listing, len(listings))

	_, err := c.edits.WithSession(ctx, pkg, opts, func(ctx context.Context, s *edit.Session) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)

		for i, p := range bodies {
			g.Go(func() error {
				if s.State() != edit.StateOpen {
					return nil
				}

				resp, err := c.edits.Mutate(gctx, s, edit.Put("listings/"+p.locale, p.body))
				if err != nil {
					// The locale that aborted the edit reports the failure.
					if apierr.KindOf(err) == apierr.KindTransaction && s.State() == edit.StateAborted {
						return nil
					}

					return err
				}

				var l Listing
				if err := resp.Decode(&l); err != nil {
					return err
				}

				l.Language = FromPlayLocale(l.Language)
				out[i] = l

				return nil
			})
		}

		return g.Wait()
	})
	if err != nil {
		return nil, fmt.Errorf("play: updating listings of %s: %w", pkg, err)
	}

	c.logger.Info("listings updated",
		slog.String("package", pkg),
		slog.Int("locales", len(listings)),
	)

	return out, nil
}

// DeleteListing removes the listing for one locale and commits.
func (c *Client) DeleteListing(ctx context.Context, pkg, locale string, opts edit.CommitOptions) error {
	playLocale, err := ToPlayLocale(locale)
	if err != nil {
		return err
	}

	_, err = c.edits.WithSession(ctx, pkg, opts, func(ctx context.Context, s *edit.Session) error {
		_, err := c.edits.Mutate(ctx, s, edit.Delete("listings/"+playLocale))
		return err
	})
	if err != nil {
		return fmt.Errorf("play: deleting listing %s of %s: %w", locale, pkg, err)
	}

	return nil
}

// Testers returns the tester groups of track.
func (c *Client) Testers(ctx context.Context, pkg, track string) (Testers, error) {
	var out Testers

	err := c.edits.WithReadSession(ctx, pkg, func(ctx context.Context, s *edit.Session) error {
		resp, err := c.edits.Read(ctx, s, "testers/"+url.PathEscape(track), nil)
		if err != nil {
			return err
		}

		return resp.Decode(&out)
	})
	if err != nil {
		return Testers{}, fmt.Errorf("play: listing testers of %s/%s: %w", pkg, track, err)
	}

	return out, nil
}

// AddTesters merges groups into the tester groups of track and commits.
// A track without testers starts from an empty list.
func (c *Client) AddTesters(ctx context.Context, pkg, track string, groups []string,
	opts edit.CommitOptions,
) (Testers, error) {
	var out Testers

	sub := "testers/" + url.PathEscape(track)

	_, err := c.edits.WithSession(ctx, pkg, opts, func(ctx context.Context, s *edit.Session) error {
		var current Testers

		resp, err := c.edits.Read(ctx, s, sub, nil)

		switch {
		case err == nil:
			if err := resp.Decode(&current); err != nil {
				return err
			}
		case apierr.KindOf(err) != apierr.KindNotFound:
			return err
		}

		merged := mergeGroups(current.GoogleGroups, groups)

		body, err := json.Marshal(Testers{GoogleGroups: merged})
		if err != nil {
			return fmt.Errorf("play: encoding testers: %w", err)
		}

		resp, err = c.edits.Mutate(ctx, s, edit.Put(sub, body))
		if err != nil {
			return err
		}

		return resp.Decode(&out)
	})
	if err != nil {
		return Testers{}, fmt.Errorf("play: adding testers to %s/%s: %w", pkg, track, err)
	}

	return out, nil
}

func mergeGroups(current, add []string) []string {
	seen := make(map[string]bool, len(current)+len(add))
	out := make([]string, 0, len(current)+len(add))

	for _, g := range append(append([]string(nil), current...), add...) {
		if g == "" || seen[g] {
			continue
		}

		seen[g] = true
		out = append(out, g)
	}

	return out
}

// Submit reads track inside an edit and commits the edit, publishing
// whatever the track holds.
func (c *Client) Submit(ctx context.Context, pkg, track string, opts edit.CommitOptions) (SubmitResult, error) {
	var out SubmitResult

	commit, err := c.edits.WithSession(ctx, pkg, opts, func(ctx context.Context, s *edit.Session) error {
		resp, err := c.edits.Read(ctx, s, "tracks/"+url.PathEscape(track), nil)
		if err != nil {
			return err
		}

		out.Track = resp.Body

		return nil
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("play: submitting %s to %s: %w", pkg, track, err)
	}

	out.Commit = commit.Body

	return out, nil
}

// Reviews returns a pager over the reviews of pkg. pageSize 0 uses the
// provider default.
func (c *Client) Reviews(pkg string, pageSize int, start paging.Cursor, opts ...paging.Option) *paging.Pager[Review] {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("maxResults", strconv.Itoa(pageSize))
	}

	req := api.Request{Method: http.MethodGet, Path: "/" + url.PathEscape(pkg) + "/reviews", Query: query}

	return paging.FromEndpoint(c.exec, req, reviewsCursor, paging.DecodeField[Review]("reviews"), start, opts...)
}

// ReplyReview posts a developer reply to a review.
func (c *Client) ReplyReview(ctx context.Context, pkg, reviewID, text string) (json.RawMessage, error) {
	req, err := api.JSONRequest(http.MethodPost,
		"/"+url.PathEscape(pkg)+"/reviews/"+url.PathEscape(reviewID)+":reply",
		map[string]string{"replyText": text})
	if err != nil {
		return nil, err
	}

	resp, err := c.exec.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("play: replying to review %s: %w", reviewID, err)
	}

	return resp.Body, nil
}
