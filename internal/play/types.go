package play

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/fbonesso/storeops/internal/apierr"
)

// Listing text limits enforced by Google Play, in characters.
const (
	MaxTitle            = 30
	MaxShortDescription = 80
	MaxFullDescription  = 4000
)

// Listing is a store listing for one locale.
type Listing struct {
	Language         string `json:"language"`
	Title            string `json:"title,omitempty"`
	FullDescription  string `json:"fullDescription,omitempty"`
	ShortDescription string `json:"shortDescription,omitempty"`
	Video            string `json:"video,omitempty"`
}

// normalize NFC-normalizes the text fields and checks them against the
// provider limits, reporting every violation at once.
func (l Listing) normalize() (Listing, error) {
	l.Title = norm.NFC.String(l.Title)
	l.ShortDescription = norm.NFC.String(l.ShortDescription)
	l.FullDescription = norm.NFC.String(l.FullDescription)

	var fields []apierr.FieldError

	check := func(field, value string, limit int) {
		if n := utf8.RuneCountInString(value); n > limit {
			fields = append(fields, apierr.FieldError{
				Field:   field,
				Code:    "too_long",
				Message: fmt.Sprintf("must be at most %d characters, got %d", limit, n),
			})
		}
	}

	check("title", l.Title, MaxTitle)
	check("shortDescription", l.ShortDescription, MaxShortDescription)
	check("fullDescription", l.FullDescription, MaxFullDescription)

	if len(fields) > 0 {
		err := apierr.New(apierr.KindUsage, "listing %s exceeds length limits", l.Language)
		err.Fields = fields

		return l, err
	}

	return l, nil
}

// Track is a release track with its releases kept verbatim.
type Track struct {
	Track    string            `json:"track"`
	Releases []json.RawMessage `json:"releases,omitempty"`
}

// Testers lists the tester groups of a track.
type Testers struct {
	GoogleGroups []string `json:"googleGroups"`
}

// Review is a user review. Comments are kept verbatim.
type Review struct {
	ReviewID   string            `json:"reviewId"`
	AuthorName string            `json:"authorName,omitempty"`
	Comments   []json.RawMessage `json:"comments,omitempty"`
}

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	Track  json.RawMessage `json:"track"`
	Commit json.RawMessage `json:"commit"`
}
