package cli

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey"
)

// errNotValid makes validate exit non-zero after printing the outcome.
var errNotValid = errors.New("license is not valid")

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <key>",
		Short: "Decode a license key without validating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := licensekey.Deserialize(args[0])
			if err != nil {
				return err
			}
			view := newRecordView(r)
			return a.render(cmd.OutOrStdout(), view, view.writeText)
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	var (
		now       string
		token     string
		buildDate string
		buildVer  string
		appName   string
	)
	cmd := &cobra.Command{
		Use:   "validate <key>",
		Short: "Check a license key against the configured trust",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vc := licensekey.ValidationContext{BuildVersion: buildVer, ApplicationName: appName}
			var err error
			if now != "" {
				if vc.Now, err = parseDate(now); err != nil {
					return err
				}
			}
			if buildDate != "" {
				if vc.BuildDate, err = parseDate(buildDate); err != nil {
					return err
				}
			}
			if token != "" {
				if vc.PublicKeyToken, err = hex.DecodeString(token); err != nil {
					return fmt.Errorf("invalid --token: %w", err)
				}
			}

			trust, err := a.cfg.TrustContext(a.logger)
			if err != nil {
				return err
			}
			cache, err := a.cfg.NewCache(trust, a.logger)
			if err != nil {
				return err
			}
			r, verr := cache.ValidateContext(cmd.Context(), args[0], vc)
			if r == nil {
				return verr
			}
			view := newValidationView(r, verr)
			if err := a.render(cmd.OutOrStdout(), view, view.writeText); err != nil {
				return err
			}
			if verr != nil {
				return errNotValid
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&now, "now", "", "validate as of this date instead of the current time")
	fl.StringVar(&token, "token", "", "public key token of the calling assembly (hex)")
	fl.StringVar(&buildDate, "build-date", "", "build date of the application")
	fl.StringVar(&buildVer, "build-version", "", "version of the application")
	fl.StringVar(&appName, "app-name", "", "name of the application")
	return cmd
}
