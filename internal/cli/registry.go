package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey"
)

// withManager opens the configured store and runs fn with a manager over it.
func (a *app) withManager(ctx context.Context, fn func(*licensekey.Manager) error) error {
	store, err := a.cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if store == nil {
		return licensekey.ErrNoStore
	}
	defer store.Close(ctx)

	trust, err := a.cfg.TrustContext(a.logger)
	if err != nil {
		return err
	}
	cache, err := a.cfg.NewCache(trust, a.logger)
	if err != nil {
		return err
	}
	m, err := licensekey.NewManager(
		licensekey.WithCache(cache),
		licensekey.WithStore(store),
		licensekey.WithManagerLogger(a.logger),
	)
	if err != nil {
		return err
	}
	return fn(m)
}

func (a *app) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <key>",
		Short: "Validate a license key and register it on this installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *licensekey.Manager) error {
				reg, err := m.Register(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				view := newRegistrationView(*reg)
				return a.render(cmd.OutOrStdout(), view, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s registered %s\n", status(true), reg.Record.Description())
					return err
				})
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Re-validate and list registered license keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *licensekey.Manager) error {
				regs, err := m.Load(cmd.Context())
				if err != nil {
					return err
				}
				views := make([]registrationView, 0, len(regs))
				for _, reg := range regs {
					views = append(views, newRegistrationView(reg))
				}
				return a.render(cmd.OutOrStdout(), views, func(w io.Writer) error {
					return writeRegistrations(w, views)
				})
			})
		},
	}
}

func (a *app) unregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <unique-id>",
		Short: "Remove a registered license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *licensekey.Manager) error {
				if err := m.Unregister(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "unregistered %s\n", args[0])
				return err
			})
		},
	}
}

func (a *app) pruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove registered keys that have not validated recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *licensekey.Manager) error {
				n, err := m.Prune(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d license(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "remove keys last validated before this long ago")
	return cmd
}
