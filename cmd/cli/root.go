// Package cli implements the musap-admin command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/methics/musap-ios-sub000/internal/bootstrap"
	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/monitoring"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// app holds the runtime shared by the subcommands of one invocation.
type app struct {
	configPath string
	runtime    *bootstrap.Runtime
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	log, err := monitoring.NewZapLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	rt, err := bootstrap.New(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	a.runtime = rt
	return nil
}

func (a *app) close(cmd *cobra.Command, _ []string) error {
	if a.runtime == nil {
		return nil
	}
	err := a.runtime.Close(cmd.Context())
	a.runtime = nil
	return err
}

// NewRootCommand builds the musap-admin command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "musap-admin",
		Short: "Administer a MUSAP signature client.",
		Long: `musap-admin manages the keys and SSCDs of a MUSAP instance and its
coupling with the MUSAP Link service.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.open,
		PersistentPostRunE: a.close,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the configuration file")

	rootCmd.AddCommand(
		newSscdCommand(a),
		newKeyCommand(a),
		newLinkCommand(a),
	)
	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	ctx := context.Background()
	a := &app{}
	err := newRootCommand(a).ExecuteContext(ctx)
	// Post-run hooks are skipped when a command fails.
	if a.runtime != nil {
		_ = a.runtime.Close(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
