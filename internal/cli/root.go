// Package cli implements the licensetool command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-licensekey/internal/config"
)

// app holds the state shared by all subcommands, set during PersistentPreRun.
type app struct {
	cfgFile  string
	output   string
	logLevel string

	cfg    *config.Config
	logger log.Interface
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "licensetool",
		Short: "Issue, inspect and validate license keys",
		Long: `licensetool issues signed license keys, decodes and validates keys
against a trust configuration, and manages the keys registered on an
installation.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "TOML config file")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "output format: text, json, yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		a.keygenCmd(),
		a.issueCmd(),
		a.evaluateCmd(),
		a.inspectCmd(),
		a.validateCmd(),
		a.registerCmd(),
		a.listCmd(),
		a.unregisterCmd(),
		a.pruneCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	switch a.output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q", a.output)
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var handler log.Handler
	switch cfg.Log.Format {
	case "json":
		handler = jsonhandler.New(cmd.ErrOrStderr())
	default:
		handler = text.New(cmd.ErrOrStderr())
	}
	a.cfg = cfg
	a.logger = &log.Logger{Handler: handler, Level: level}
	return nil
}
