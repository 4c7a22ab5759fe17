// Package appstore is the App Store Connect catalog: apps, builds, versions,
// and customer reviews. Lists follow links.next cursors.
package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/paging"
)

// DefaultBaseURL is the App Store Connect v1 endpoint.
const DefaultBaseURL = "https://api.appstoreconnect.apple.com/v1"

// DefaultPageSize is the page size used when none is given.
const DefaultPageSize = 50

var linkCursor = paging.LinkCursor{Param: "cursor"}

// Executor is the part of api.Client the catalog needs.
type Executor interface {
	Execute(ctx context.Context, req api.Request) (*api.Response, error)
}

// Resource is a JSON:API resource object. Attributes and relationships are
// kept verbatim.
type Resource struct {
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
	Relationships json.RawMessage `json:"relationships,omitempty"`
}

// ReviewFilter narrows customer review listings.
type ReviewFilter struct {
	Rating int    // 1..5, 0 for any
	Sort   string // "recent" (default) or "helpful"
}

// Client issues App Store Connect operations.
type Client struct {
	exec Executor
}

// New creates a Client over exec.
func New(exec Executor) *Client {
	return &Client{exec: exec}
}

// Apps returns a pager over the apps visible to the key.
func (c *Client) Apps(pageSize int, start paging.Cursor, opts ...paging.Option) *paging.Pager[Resource] {
	return c.list("/apps", pageQuery(pageSize), start, opts)
}

// App returns one app.
func (c *Client) App(ctx context.Context, id string) (Resource, error) {
	return c.get(ctx, "/apps/"+url.PathEscape(id))
}

// Builds returns a pager over the builds of an app.
func (c *Client) Builds(appID string, pageSize int, start paging.Cursor, opts ...paging.Option) *paging.Pager[Resource] {
	q := pageQuery(pageSize)
	q.Set("filter[app]", appID)

	return c.list("/builds", q, start, opts)
}

// Build returns one build.
func (c *Client) Build(ctx context.Context, id string) (Resource, error) {
	return c.get(ctx, "/builds/"+url.PathEscape(id))
}

// Versions returns a pager over the App Store versions of an app.
func (c *Client) Versions(appID string, pageSize int, start paging.Cursor, opts ...paging.Option) *paging.Pager[Resource] {
	return c.list("/apps/"+url.PathEscape(appID)+"/appStoreVersions", pageQuery(pageSize), start, opts)
}

// CreateVersion creates an App Store version for platform (default IOS).
func (c *Client) CreateVersion(ctx context.Context, appID, version, platform string) (Resource, error) {
	if platform == "" {
		platform = "IOS"
	}

	payload := map[string]any{
		"data": map[string]any{
			"type": "appStoreVersions",
			"attributes": map[string]string{
				"versionString": version,
				"platform":      platform,
			},
			"relationships": map[string]any{
				"app": map[string]any{
					"data": map[string]string{"type": "apps", "id": appID},
				},
			},
		},
	}

	return c.create(ctx, "/appStoreVersions", payload)
}

// Reviews returns a pager over the customer reviews of an app.
func (c *Client) Reviews(appID string, filter ReviewFilter, pageSize int, start paging.Cursor,
	opts ...paging.Option,
) (*paging.Pager[Resource], error) {
	q := pageQuery(pageSize)

	switch filter.Sort {
	case "", "recent":
		q.Set("sort", "-createdDate")
	case "helpful":
		q.Set("sort", "-rating")
	default:
		return nil, apierr.New(apierr.KindUsage, "unknown review sort %q (want recent or helpful)", filter.Sort)
	}

	if filter.Rating != 0 {
		if filter.Rating < 1 || filter.Rating > 5 {
			return nil, apierr.New(apierr.KindUsage, "rating must be between 1 and 5, got %d", filter.Rating)
		}

		q.Set("filter[rating]", strconv.Itoa(filter.Rating))
	}

	return c.list("/apps/"+url.PathEscape(appID)+"/customerReviews", q, start, opts), nil
}

// RespondReview posts a developer response to a customer review.
func (c *Client) RespondReview(ctx context.Context, reviewID, body string) (Resource, error) {
	payload := map[string]any{
		"data": map[string]any{
			"type":       "customerReviewResponses",
			"attributes": map[string]string{"responseBody": body},
			"relationships": map[string]any{
				"review": map[string]any{
					"data": map[string]string{"type": "customerReviews", "id": reviewID},
				},
			},
		},
	}

	return c.create(ctx, "/customerReviewResponses", payload)
}

func (c *Client) list(path string, q url.Values, start paging.Cursor, opts []paging.Option) *paging.Pager[Resource] {
	req := api.Request{Method: http.MethodGet, Path: path, Query: q}

	return paging.FromEndpoint(c.exec, req, linkCursor, paging.DecodeField[Resource]("data"), start, opts...)
}

func (c *Client) get(ctx context.Context, path string) (Resource, error) {
	resp, err := c.exec.Execute(ctx, api.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return Resource{}, fmt.Errorf("appstore: GET %s: %w", path, err)
	}

	return decodeData(resp)
}

func (c *Client) create(ctx context.Context, path string, payload any) (Resource, error) {
	req, err := api.JSONRequest(http.MethodPost, path, payload)
	if err != nil {
		return Resource{}, err
	}

	resp, err := c.exec.Execute(ctx, req)
	if err != nil {
		return Resource{}, fmt.Errorf("appstore: POST %s: %w", path, err)
	}

	return decodeData(resp)
}

func decodeData(resp *api.Response) (Resource, error) {
	var r Resource

	data := resp.Get("data")
	if !data.IsObject() {
		return Resource{}, apierr.New(apierr.KindProtocol, "appstore: response has no data object")
	}

	if err := json.Unmarshal([]byte(data.Raw), &r); err != nil {
		return Resource{}, apierr.Wrap(apierr.KindProtocol, err, "appstore: decoding resource")
	}

	return r, nil
}

func pageQuery(pageSize int) url.Values {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return url.Values{"limit": {strconv.Itoa(pageSize)}}
}
