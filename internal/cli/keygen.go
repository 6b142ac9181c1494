package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey"
)

type keygenView struct {
	KeyID          uint8  `json:"key_id" yaml:"key_id"`
	PublicKey      string `json:"public_key" yaml:"public_key"`
	PrivateKeyFile string `json:"private_key_file,omitempty" yaml:"private_key_file,omitempty"`
	PublicKeyFile  string `json:"public_key_file,omitempty" yaml:"public_key_file,omitempty"`
	PrivateKeyPEM  string `json:"private_key_pem,omitempty" yaml:"private_key_pem,omitempty"`
}

func (a *app) keygenCmd() *cobra.Command {
	var (
		keyID  uint8
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an issuer signing key pair",
		Long: `Generates an Ed25519 key pair for signing licenses under the given key id.
With --out the private key is written to issuer-<id>.pem and the public key
to issuer-<id>.pub.pem; otherwise the private key PEM is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			privPEM, err := licensekey.EncodePrivateKeyPEM(keyID, priv)
			if err != nil {
				return err
			}
			view := keygenView{KeyID: keyID, PublicKey: base64.StdEncoding.EncodeToString(pub)}

			if outDir == "" {
				view.PrivateKeyPEM = string(privPEM)
			} else {
				pubPEM, err := licensekey.EncodePublicKeyPEM(keyID, pub)
				if err != nil {
					return err
				}
				view.PrivateKeyFile = filepath.Join(outDir, fmt.Sprintf("issuer-%d.pem", keyID))
				view.PublicKeyFile = filepath.Join(outDir, fmt.Sprintf("issuer-%d.pub.pem", keyID))
				if err := os.WriteFile(view.PrivateKeyFile, privPEM, 0o600); err != nil {
					return fmt.Errorf("write private key: %w", err)
				}
				if err := os.WriteFile(view.PublicKeyFile, pubPEM, 0o644); err != nil {
					return fmt.Errorf("write public key: %w", err)
				}
			}
			a.logger.WithField("key_id", keyID).Info("issuer key generated")

			return a.render(cmd.OutOrStdout(), view, func(w io.Writer) error {
				fmt.Fprintf(w, "key id:     %d\n", view.KeyID)
				fmt.Fprintf(w, "public key: %s\n", view.PublicKey)
				if view.PrivateKeyFile != "" {
					fmt.Fprintf(w, "wrote %s and %s\n", view.PrivateKeyFile, view.PublicKeyFile)
					return nil
				}
				_, err := io.WriteString(w, view.PrivateKeyPEM)
				return err
			})
		},
	}
	cmd.Flags().Uint8Var(&keyID, "id", licensekey.DefaultKeyID, "signature key id")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for the key files")
	return cmd
}
