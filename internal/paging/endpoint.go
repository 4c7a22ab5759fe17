package paging

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/apierr"
)

// Executor is the part of api.Client a pager needs.
type Executor interface {
	Execute(ctx context.Context, req api.Request) (*api.Response, error)
}

// FromEndpoint builds a Pager over a list endpoint. req describes the first
// page; conv decides how later pages are requested. When exec exposes
// BaseURL, absolute page links are checked against it; otherwise they are
// refused.
func FromEndpoint[T any](exec Executor, req api.Request, conv Convention, decode DecodeFunc[T],
	start Cursor, opts ...Option,
) *Pager[T] {
	var base string
	if b, ok := exec.(interface{ BaseURL() string }); ok {
		base = b.BaseURL()
	}

	fetch := func(ctx context.Context, c Cursor) (RawPage, error) {
		r := req

		var err error

		r.Path, r.Query, err = conv.Apply(c, base, req.Path, req.Query)
		if err != nil {
			return RawPage{}, err
		}

		resp, err := exec.Execute(ctx, r)
		if err != nil {
			return RawPage{}, err
		}

		return RawPage{Body: resp.Body, Next: conv.NextCursor(resp.Body)}, nil
	}

	return NewRaw(fetch, decode, start, opts...)
}

// DecodeField decodes the JSON array at gjson path field. A missing field is
// an empty page.
func DecodeField[T any](field string) DecodeFunc[T] {
	return func(body []byte) ([]T, error) {
		raw := gjson.GetBytes(body, field)
		if !raw.Exists() {
			return nil, nil
		}

		var items []T
		if err := json.Unmarshal([]byte(raw.Raw), &items); err != nil {
			return nil, apierr.Wrap(apierr.KindProtocol, err, "decoding %s", field)
		}

		return items, nil
	}
}
