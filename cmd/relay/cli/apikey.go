package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"roomrelay/internal/app"
	"roomrelay/internal/auth"
)

func newAPIKeyCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apikey",
		Aliases: []string{"key"},
		Short:   "Manage API keys",
		Long:    "Create, list, refresh and revoke client API keys. Raw keys are printed once and cannot be retrieved again.",
	}

	cmd.AddCommand(newAPIKeyCreateCmd(load))
	cmd.AddCommand(newAPIKeyListCmd(load))
	cmd.AddCommand(newAPIKeyRefreshCmd(load))
	cmd.AddCommand(newAPIKeyRevokeCmd(load))

	return cmd
}

// withCredentials opens the credential store for the duration of fn.
func withCredentials(cmd *cobra.Command, load configLoader, fn func(ctx context.Context, store *auth.Manager, apiKeyTTL time.Duration) error) error {
	cfg, logger, err := load(cmd.ErrOrStderr(), zerolog.WarnLevel)
	if err != nil {
		return err
	}

	store, db, err := app.OpenCredentials(cfg, clock.New(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cmd.Context(), store, cfg.Auth.APIKeyTTL)
}

func newAPIKeyCreateCmd(load configLoader) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:     "create <clientId>",
		Short:   "Create a new API key for a client",
		Example: "  relay apikey create my-service --ttl 720h",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(cmd, load, func(ctx context.Context, store *auth.Manager, defaultTTL time.Duration) error {
				if ttl <= 0 {
					ttl = defaultTTL
				}
				key, err := store.IssueAPIKey(ctx, args[0], time.Now().Add(ttl))
				if err != nil {
					return fmt.Errorf("create api key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "key lifetime (default auth.api_key_ttl)")

	return cmd
}

func newAPIKeyRefreshCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <apiKey>",
		Short: "Replace an API key with a new one for the same client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(cmd, load, func(ctx context.Context, store *auth.Manager, _ time.Duration) error {
				key, err := store.RefreshAPIKey(ctx, args[0])
				if err != nil {
					return fmt.Errorf("refresh api key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
}

func newAPIKeyRevokeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <apiKey>",
		Short: "Invalidate an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(cmd, load, func(ctx context.Context, store *auth.Manager, _ time.Duration) error {
				if err := store.InvalidateAPIKey(ctx, args[0]); err != nil {
					return fmt.Errorf("revoke api key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key revoked")
				return nil
			})
		},
	}
}

func newAPIKeyListCmd(load configLoader) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored API keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(cmd, load, func(ctx context.Context, store *auth.Manager, _ time.Duration) error {
				keys, err := store.ListAPIKeys(ctx)
				if err != nil {
					return fmt.Errorf("list api keys: %w", err)
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(keys)
				}

				if len(keys) == 0 {
					fmt.Fprintln(out, "No API keys stored. Use 'relay apikey create' to create one.")
					return nil
				}

				fmt.Fprintf(out, "%-12s %-24s %-8s %-20s\n", "HASH", "CLIENT", "STATUS", "EXPIRES")
				for _, k := range keys {
					fmt.Fprintf(out, "%-12s %-24s %-8s %-20s\n",
						k.Hash[:min(12, len(k.Hash))], k.ClientID, k.Status, k.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
