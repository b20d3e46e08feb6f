// Command verifyctl runs operator tasks against the verification backends
// configured in the environment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"idverify/internal/app"
	"idverify/internal/platform/config"
	"idverify/internal/platform/logger"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "verifyctl",
		Short:         "Operator tooling for identity verifications",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log at debug level")

	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(rulesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func decideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide [verification-id]",
		Short: "Run the decision engine synchronously for one verification",
		Long: `Runs the decision engine in the foreground without claiming the
verification, then waits for the outcome webhook to be delivered.
Use it to re-decide a verification that is stuck in processing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid verification id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Decisions.Decide(ctx, id); err != nil {
					return err
				}
				wait, _ := cmd.Flags().GetDuration("wait")
				wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait)
				defer cancel()
				if err := a.Notifier.Wait(wctx); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "webhook delivery still pending:", err)
				}
				return printVerification(ctx, cmd.OutOrStdout(), a, id)
			})
		},
	}
	cmd.Flags().Duration("wait", 10*time.Second, "How long to wait for webhook delivery")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [verification-id]",
		Short: "Print a verification and its decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid verification id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return printVerification(ctx, cmd.OutOrStdout(), a, id)
			})
		},
	}
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules [organization-id]",
		Short: "Print the effective verification rules of an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid organization id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rules, err := a.Organizations.Rules(ctx, orgID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rules)
			})
		},
	}
}

// withApp assembles the backends from the environment for one command.
// Logs go to stderr so stdout stays machine readable.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) (err error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), level)

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("assemble app: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func printVerification(ctx context.Context, w io.Writer, a *app.App, id uuid.UUID) error {
	v, err := a.Verifications.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load verification: %w", err)
	}
	out := map[string]any{"verification": v}
	// Verifications that were never decided have no decision row.
	if d, err := a.Verifications.FindDecision(ctx, id); err == nil {
		out["decision"] = d
	}
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
