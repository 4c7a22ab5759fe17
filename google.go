package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/edit"
	"github.com/fbonesso/storeops/internal/play"
)

func newGoogleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "google",
		Short: "Google Play operations",
	}

	cmd.AddCommand(newGoogleTracksCmd())
	cmd.AddCommand(newGoogleListingsCmd())
	cmd.AddCommand(newGoogleTestersCmd())
	cmd.AddCommand(newGoogleReviewsCmd())
	cmd.AddCommand(newGoogleSubmitCmd())

	return cmd
}

// playClient returns the Google Play client for the command.
func playClient(cmd *cobra.Command) (*CLIContext, *play.Client, error) {
	cc := mustCLIContext(cmd.Context())

	c, err := cc.Registry.Play()
	if err != nil {
		return nil, nil, err
	}

	return cc, c, nil
}

// addCommitFlags registers the flags controlling how an edit is committed.
func addCommitFlags(cmd *cobra.Command, opts *edit.CommitOptions) {
	cmd.Flags().BoolVar(&opts.ValidateFirst, "validate", false, "validate the edit before committing")
	cmd.Flags().BoolVar(&opts.ChangesNotSentForReview, "changes-not-sent-for-review", false,
		"commit without sending the changes for review")
}

func newGoogleTracksCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tracks", Short: "Release tracks"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <package>",
		Short: "List tracks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			tracks, err := c.Tracks(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return cc.printJSON(listResult[play.Track]{Data: nonNil(tracks)})
		},
	})

	var (
		track   string
		release string
		commit  edit.CommitOptions
	)

	update := &cobra.Command{
		Use:   "update <package>",
		Short: "Replace the release of a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			out, err := c.UpdateTrack(cmd.Context(), args[0], track, json.RawMessage(release), commit)
			if err != nil {
				return err
			}

			return cc.printJSON(out)
		},
	}

	update.Flags().StringVar(&track, "track", "", "track name (internal, alpha, beta, production)")
	update.Flags().StringVar(&release, "release", "", "release JSON object")
	_ = update.MarkFlagRequired("track")
	_ = update.MarkFlagRequired("release")
	addCommitFlags(update, &commit)

	cmd.AddCommand(update)

	return cmd
}

// listingFlags are the per-field flags of `listings update`.
type listingFlags struct {
	locales   []string
	file      string
	title     string
	full      string
	short     string
	video     string
	aggregate bool
	commit    edit.CommitOptions
}

// listings builds the listings to write from --file or from --locale plus
// the field flags.
func (f *listingFlags) listings() ([]play.Listing, error) {
	if f.file != "" {
		if len(f.locales) > 0 {
			return nil, apierr.New(apierr.KindUsage, "--file and --locale are mutually exclusive")
		}

		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindUsage, err, "reading %s", f.file)
		}

		var listings []play.Listing
		if err := json.Unmarshal(data, &listings); err != nil {
			return nil, apierr.Wrap(apierr.KindUsage, err, "parsing %s: want a JSON array of listings", f.file)
		}

		return listings, nil
	}

	if len(f.locales) == 0 {
		return nil, apierr.New(apierr.KindUsage, "at least one --locale (or --file) is required")
	}

	listings := make([]play.Listing, 0, len(f.locales))
	for _, locale := range f.locales {
		listings = append(listings, play.Listing{
			Language:         locale,
			Title:            f.title,
			FullDescription:  f.full,
			ShortDescription: f.short,
			Video:            f.video,
		})
	}

	return listings, nil
}

func newGoogleListingsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "listings", Short: "Store listings"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <package>",
		Short: "List every locale's listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			listings, err := c.Listings(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return cc.printJSON(listResult[play.Listing]{Data: nonNil(listings)})
		},
	})

	var getLocale string

	get := &cobra.Command{
		Use:   "get <package>",
		Short: "Show one locale's listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			l, err := c.Listing(cmd.Context(), args[0], getLocale)
			if err != nil {
				return err
			}

			return cc.printJSON(l)
		},
	}

	get.Flags().StringVar(&getLocale, "locale", "", "locale, e.g. en-US")
	_ = get.MarkFlagRequired("locale")

	var lf listingFlags

	update := &cobra.Command{
		Use:   "update <package>",
		Short: "Create or update listings",
		Long: "Create or update listings. Each locale is committed in its own edit unless " +
			"--aggregate-locales is set, in which case all locales are committed together or not at all.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			listings, err := lf.listings()
			if err != nil {
				return err
			}

			out, err := updateListings(cmd.Context(), c, args[0], listings, lf.aggregate, lf.commit)
			if err != nil {
				return err
			}

			return cc.printJSON(listResult[play.Listing]{Data: nonNil(out)})
		},
	}

	uf := update.Flags()
	uf.StringArrayVar(&lf.locales, "locale", nil, "locale to update (repeatable)")
	uf.StringVar(&lf.file, "file", "", "JSON array of listings, one per locale")
	uf.StringVar(&lf.title, "title", "", "app title (max 30 characters)")
	uf.StringVar(&lf.full, "full-description", "", "full description (max 4000 characters)")
	uf.StringVar(&lf.short, "short-description", "", "short description (max 80 characters)")
	uf.StringVar(&lf.video, "video", "", "promo video URL")
	uf.BoolVar(&lf.aggregate, "aggregate-locales", false, "commit every locale in a single edit")
	addCommitFlags(update, &lf.commit)

	var (
		delLocale string
		delCommit edit.CommitOptions
	)

	del := &cobra.Command{
		Use:   "delete <package>",
		Short: "Delete one locale's listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			if err := c.DeleteListing(cmd.Context(), args[0], delLocale, delCommit); err != nil {
				return err
			}

			cc.Statusf("Deleted listing %s.\n", delLocale)

			return cc.printJSON(map[string]string{"deleted": delLocale})
		},
	}

	del.Flags().StringVar(&delLocale, "locale", "", "locale to delete")
	_ = del.MarkFlagRequired("locale")
	addCommitFlags(del, &delCommit)

	cmd.AddCommand(get, update, del)

	return cmd
}

// updateListings commits listings in one edit when aggregate is set,
// otherwise one edit per locale, stopping at the first failure.
func updateListings(ctx context.Context, c *play.Client, pkg string, listings []play.Listing,
	aggregate bool, opts edit.CommitOptions,
) ([]play.Listing, error) {
	if aggregate {
		return c.UpdateListings(ctx, pkg, listings, opts)
	}

	out := make([]play.Listing, 0, len(listings))

	for _, l := range listings {
		res, err := c.UpdateListings(ctx, pkg, []play.Listing{l}, opts)
		if err != nil {
			return nil, fmt.Errorf("locale %s (%d of %d committed): %w", l.Language, len(out), len(listings), err)
		}

		out = append(out, res...)
	}

	return out, nil
}

func newGoogleTestersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "testers", Short: "Track testers"}

	var listTrack string

	list := &cobra.Command{
		Use:   "list <package>",
		Short: "List the tester groups of a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			testers, err := c.Testers(cmd.Context(), args[0], listTrack)
			if err != nil {
				return err
			}

			return cc.printJSON(testers)
		},
	}

	list.Flags().StringVar(&listTrack, "track", "", "track name")
	_ = list.MarkFlagRequired("track")

	var (
		addTrack string
		emails   []string
		commit   edit.CommitOptions
	)

	add := &cobra.Command{
		Use:   "add <package>",
		Short: "Add tester groups to a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			testers, err := c.AddTesters(cmd.Context(), args[0], addTrack, emails, commit)
			if err != nil {
				return err
			}

			return cc.printJSON(testers)
		},
	}

	add.Flags().StringVar(&addTrack, "track", "", "track name")
	add.Flags().StringArrayVar(&emails, "email", nil, "Google group email (repeatable)")
	_ = add.MarkFlagRequired("track")
	_ = add.MarkFlagRequired("email")
	addCommitFlags(add, &commit)

	cmd.AddCommand(list, add)

	return cmd
}

func newGoogleReviewsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reviews", Short: "User reviews"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <package>",
		Short: "List reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			start, err := cc.startCursor()
			if err != nil {
				return err
			}

			return printList(cmd.Context(), cc, c.Reviews(args[0], cc.Flags.Limit, start, cc.pagingOptions()...))
		},
	})

	var (
		pkg  string
		body string
	)

	reply := &cobra.Command{
		Use:   "reply <review-id>",
		Short: "Reply to a review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			res, err := c.ReplyReview(cmd.Context(), pkg, args[0], body)
			if err != nil {
				return err
			}

			return cc.printJSON(res)
		},
	}

	reply.Flags().StringVar(&pkg, "package", "", "package name")
	reply.Flags().StringVar(&body, "body", "", "reply text")
	_ = reply.MarkFlagRequired("package")
	_ = reply.MarkFlagRequired("body")

	cmd.AddCommand(reply)

	return cmd
}

func newGoogleSubmitCmd() *cobra.Command {
	var (
		track  string
		commit edit.CommitOptions
	)

	cmd := &cobra.Command{
		Use:   "submit <package>",
		Short: "Commit an edit publishing the current state of a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := playClient(cmd)
			if err != nil {
				return err
			}

			res, err := c.Submit(cmd.Context(), args[0], track, commit)
			if err != nil {
				return err
			}

			return cc.printJSON(res)
		},
	}

	cmd.Flags().StringVar(&track, "track", "production", "target track")
	addCommitFlags(cmd, &commit)

	return cmd
}

// nonNil turns a nil slice into an empty one so it encodes as [].
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
