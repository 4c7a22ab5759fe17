package main

import (
	"github.com/spf13/cobra"

	"github.com/fbonesso/storeops/internal/appstore"
	"github.com/fbonesso/storeops/internal/paging"
)

func newAppleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apple",
		Short: "App Store Connect operations",
	}

	cmd.AddCommand(newAppleAppsCmd())
	cmd.AddCommand(newAppleBuildsCmd())
	cmd.AddCommand(newAppleVersionsCmd())
	cmd.AddCommand(newAppleReviewsCmd())

	return cmd
}

// appStoreClient returns the App Store Connect client for the command.
func appStoreClient(cmd *cobra.Command) (*CLIContext, *appstore.Client, error) {
	cc := mustCLIContext(cmd.Context())

	c, err := cc.Registry.AppStore()
	if err != nil {
		return nil, nil, err
	}

	return cc, c, nil
}

func newAppleAppsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apps", Short: "Apps"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List apps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			start, err := cc.startCursor()
			if err != nil {
				return err
			}

			return printList(cmd.Context(), cc, c.Apps(cc.Flags.Limit, start, cc.pagingOptions()...))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info <app-id>",
		Short: "Show one app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			app, err := c.App(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return cc.printJSON(app)
		},
	})

	return cmd
}

func newAppleBuildsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "builds", Short: "Builds"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <app-id>...",
		Short: "List builds of one or more apps",
		Long: "List builds. With several app IDs every page of every app is fetched, " +
			"the apps concurrently, and the builds are printed in argument order.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			if len(args) > 1 {
				pagers := make([]*paging.Pager[appstore.Resource], 0, len(args))
				for _, id := range args {
					pagers = append(pagers, c.Builds(id, cc.Flags.Limit, paging.Cursor{}, cc.pagingOptions()...))
				}

				return printEach(cmd.Context(), cc, pagers)
			}

			start, err := cc.startCursor()
			if err != nil {
				return err
			}

			return printList(cmd.Context(), cc, c.Builds(args[0], cc.Flags.Limit, start, cc.pagingOptions()...))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info <build-id>",
		Short: "Show one build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			build, err := c.Build(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return cc.printJSON(build)
		},
	})

	return cmd
}

func newAppleVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "versions", Short: "App Store versions"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <app-id>",
		Short: "List versions of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			start, err := cc.startCursor()
			if err != nil {
				return err
			}

			return printList(cmd.Context(), cc, c.Versions(args[0], cc.Flags.Limit, start, cc.pagingOptions()...))
		},
	})

	var versionString, platform string

	create := &cobra.Command{
		Use:   "create <app-id>",
		Short: "Create a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			v, err := c.CreateVersion(cmd.Context(), args[0], versionString, platform)
			if err != nil {
				return err
			}

			return cc.printJSON(v)
		},
	}

	create.Flags().StringVar(&versionString, "version", "", "version string, e.g. 1.2.0")
	create.Flags().StringVar(&platform, "platform", "IOS", "IOS, MAC_OS, TV_OS, or VISION_OS")
	_ = create.MarkFlagRequired("version")

	cmd.AddCommand(create)

	return cmd
}

func newAppleReviewsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reviews", Short: "Customer reviews"}

	var filter appstore.ReviewFilter

	list := &cobra.Command{
		Use:   "list <app-id>",
		Short: "List customer reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			start, err := cc.startCursor()
			if err != nil {
				return err
			}

			p, err := c.Reviews(args[0], filter, cc.Flags.Limit, start, cc.pagingOptions()...)
			if err != nil {
				return err
			}

			return printList(cmd.Context(), cc, p)
		},
	}

	list.Flags().IntVar(&filter.Rating, "rating", 0, "only reviews with this rating (1-5)")
	list.Flags().StringVar(&filter.Sort, "sort", "recent", "recent or helpful")

	var body string

	respond := &cobra.Command{
		Use:   "respond <review-id>",
		Short: "Respond to a review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, c, err := appStoreClient(cmd)
			if err != nil {
				return err
			}

			res, err := c.RespondReview(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}

			return cc.printJSON(res)
		},
	}

	respond.Flags().StringVar(&body, "body", "", "response text")
	_ = respond.MarkFlagRequired("body")

	cmd.AddCommand(list, respond)

	return cmd
}
