package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/paging"
)

// printJSON writes v to the command output, indented when pretty output is
// on.
func (cc *CLIContext) printJSON(v any) error {
	enc := json.NewEncoder(cc.Out)
	enc.SetEscapeHTML(false)

	if cc.Pretty {
		enc.SetIndent("", "  ")
	}

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// listResult is the output shape of every list command. Next is the encoded
// cursor to pass to --next, empty on the last page.
type listResult[T any] struct {
	Data []T   `json:"data"`
	Next string `json:"next,omitempty"`
}

// printList prints one page of p, or every page with --paginate.
func printList[T any](ctx context.Context, cc *CLIContext, p *paging.Pager[T]) error {
	var out listResult[T]

	if cc.Flags.Paginate {
		items, err := p.CollectAll(ctx)
		if err != nil {
			return err
		}

		out.Data = items
	} else {
		page, _, err := p.NextPage(ctx)
		if err != nil {
			return err
		}

		out.Data = page.Items
		out.Next = page.Next.Encode()
	}

	if out.Data == nil {
		out.Data = []T{}
	}

	cc.Logger.Debug("list complete",
		slog.Int("items", len(out.Data)),
		slog.Int("pages", p.Pages()),
	)

	return cc.printJSON(out)
}

// printEach prints every item of several pagers. The pagers run
// concurrently; items keep the order the pagers were given in.
func printEach[T any](ctx context.Context, cc *CLIContext, pagers []*paging.Pager[T]) error {
	if cc.Flags.Next != "" {
		return apierr.New(apierr.KindUsage, "--next applies to a single list, not %d", len(pagers))
	}

	results, err := paging.CollectEach(ctx, cc.Settings.Workers, pagers...)
	if err != nil {
		return err
	}

	out := listResult[T]{Data: []T{}}
	for _, items := range results {
		out.Data = append(out.Data, items...)
	}

	return cc.printJSON(out)
}

// errorBody is the JSON error object written to stderr.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string              `json:"kind"`
	Message   string              `json:"message"`
	Status    int                 `json:"status,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
	Attempts  int                 `json:"attempts,omitempty"`
	Fields    []apierr.FieldError `json:"fields,omitempty"`
}

// classifyCLIError gives errors that never passed through the engine (flag
// parsing, unknown commands) the usage kind.
func classifyCLIError(err error) error {
	if apierr.KindOf(err) != apierr.KindUnknown {
		return err
	}

	return &apierr.Error{Kind: apierr.KindUsage, Message: err.Error()}
}

// writeError renders err as a JSON error object.
func writeError(w io.Writer, err error) {
	detail := errorDetail{
		Kind:    apierr.KindOf(err).String(),
		Message: err.Error(),
	}

	var e *apierr.Error
	if errors.As(err, &e) {
		detail.Status = e.StatusCode
		detail.RequestID = e.RequestID
		detail.Attempts = e.Attempts
		detail.Fields = e.Fields
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if encErr := enc.Encode(errorBody{Error: detail}); encErr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}

// printTable writes aligned columns to w. headers and each row must have
// the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
