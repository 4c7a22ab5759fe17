package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/auth"
	"github.com/fbonesso/storeops/internal/config"
	"github.com/fbonesso/storeops/internal/tokenfile"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage credential profiles",
	}

	cmd.AddCommand(newAuthInitCmd())
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthSwitchCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthRemoveCmd())

	return cmd
}

func newAuthInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a config file with placeholder profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			added, err := cc.Store.Init()
			if err != nil {
				return err
			}

			if added {
				cc.Statusf("Wrote template profiles to %s. Edit them, then run 'storeops auth status'.\n", cc.Store.Path())
			} else {
				cc.Statusf("%s already has profiles; nothing added.\n", cc.Store.Path())
			}

			return cc.printJSON(map[string]any{"config": cc.Store.Path(), "created": added})
		},
	}
}

// loginOptions are the flags of `auth login`.
type loginOptions struct {
	name           string
	store          string
	keyID          string
	issuerID       string
	keyPath        string
	serviceAccount string
	makeDefault    bool
	cacheToken     bool
	noVerify       bool
}

func newAuthLoginCmd() *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a profile after proving its credential works",
		Long: "Save a profile. The credential is verified first: an App Store Connect key " +
			"must mint a token and a Google service account must complete a token exchange.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuthLogin(cmd.Context(), mustCLIContext(cmd.Context()), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "profile name")
	f.StringVar(&opts.store, "store", "", "store: apple or google")
	f.StringVar(&opts.keyID, "key-id", "", "App Store Connect key ID")
	f.StringVar(&opts.issuerID, "issuer-id", "", "App Store Connect issuer ID")
	f.StringVar(&opts.keyPath, "key-path", "", "path to the AuthKey .p8 file")
	f.StringVar(&opts.serviceAccount, "service-account", "", "path to the Google service-account JSON key")
	f.BoolVar(&opts.makeDefault, "default", false, "mark as the default profile")
	f.BoolVar(&opts.cacheToken, "cache-token", false, "cache exchanged tokens between runs (google only)")
	f.BoolVar(&opts.noVerify, "no-verify", false, "save without verifying the credential")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("store")

	return cmd
}

func runAuthLogin(ctx context.Context, cc *CLIContext, opts loginOptions) error {
	p := config.Profile{
		Store:              opts.store,
		KeyID:              opts.keyID,
		IssuerID:           opts.issuerID,
		KeyPath:            opts.keyPath,
		ServiceAccountPath: opts.serviceAccount,
		Default:            opts.makeDefault,
		CacheToken:         opts.cacheToken,
	}

	cred, err := config.LoadCredential(p)
	if err != nil {
		return err
	}

	result := map[string]any{
		"profile":    opts.name,
		"store":      p.Store,
		"credential": config.Describe(cred),
		"verified":   false,
	}

	if !opts.noVerify {
		authn, err := auth.New(cred,
			auth.WithHTTPClient(api.NewHTTPClient(cc.Settings.ConnectTimeout)),
			auth.WithLogger(cc.Logger),
		)
		if err != nil {
			return err
		}

		tok, err := authn.EnsureValid(ctx)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", config.Describe(cred), err)
		}

		result["verified"] = true
		result["expires_at"] = tok.ExpiresAt.UTC().Format(time.RFC3339)
	}

	if err := cc.Store.Put(opts.name, p); err != nil {
		return err
	}

	if err := cc.Store.SetActive(opts.name); err != nil {
		return err
	}

	cc.Logger.Info("profile saved",
		slog.String("profile", opts.name),
		slog.String("store", p.Store),
	)
	cc.Statusf("Saved profile %q and made it active.\n", opts.name)

	return cc.printJSON(result)
}

func newAuthSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <profile>",
		Short: "Make a profile the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.Store.SetActive(args[0]); err != nil {
				return err
			}

			cc.Statusf("Active profile is now %q.\n", args[0])

			return nil
		},
	}
}

// statusRow is one profile in `auth status --json`.
type statusRow struct {
	config.ProfileSummary
	Credential string `json:"credential"`
}

func newAuthStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List profiles and show which one is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			active, activeErr := cc.Store.Active(cc.Flags.Profile, cc.Env)

			rows := make([]statusRow, 0)

			for _, s := range cc.Store.List() {
				s.Active = activeErr == nil && s.Name == active

				p, err := cc.Store.Get(s.Name)
				if err != nil {
					return err
				}

				rows = append(rows, statusRow{ProfileSummary: s, Credential: describeProfile(p)})
			}

			if asJSON {
				return cc.printJSON(rows)
			}

			if len(rows) == 0 {
				cc.Statusf("No profiles in %s. Run 'storeops auth init' or 'storeops auth login'.\n", cc.Store.Path())
				return nil
			}

			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{marker(r.Active), r.Name, r.Store, yesNo(r.Default), r.Credential})
			}

			printTable(cc.Out, []string{"", "NAME", "STORE", "DEFAULT", "CREDENTIAL"}, table)

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON instead of a table")

	return cmd
}

// describeProfile names a profile's credential without reading key files.
func describeProfile(p config.Profile) string {
	switch p.Store {
	case config.StoreApple:
		return "key " + p.KeyID
	case config.StoreGoogle:
		return p.ServiceAccountPath
	default:
		return ""
	}
}

func marker(active bool) string {
	if active {
		return "*"
	}

	return ""
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

func newAuthRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <profile>",
		Short: "Delete a profile and its cached token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			name := args[0]

			if err := cc.Store.Remove(name); err != nil {
				return err
			}

			if path := config.ProfileTokenPath(name); path != "" {
				if err := tokenfile.Remove(path); err != nil {
					return apierr.Wrap(apierr.KindConfig, err, "removing cached token for %q", name)
				}
			}

			cc.Statusf("Removed profile %q.\n", name)

			return nil
		},
	}
}
