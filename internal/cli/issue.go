package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey"
)

type keyView struct {
	Key         string `json:"key" yaml:"key"`
	UniqueID    string `json:"unique_id" yaml:"unique_id"`
	Description string `json:"description" yaml:"description"`
}

func (v keyView) writeText(w io.Writer) error {
	_, err := fmt.Fprintln(w, v.Key)
	return err
}

// parseDate accepts 2006-01-02 or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

type issueFlags struct {
	licenseType     string
	product         string
	id              int32
	guid            bool
	validFrom       string
	validTo         string
	subscriptionEnd string
	users           int32
	namespace       string
	licensee        string
	token           string
	comment         string
	auditable       bool
	inheritance     bool
	issuedAt        bool
	group           int
}

func (f *issueFlags) builder(cmd *cobra.Command) (*licensekey.Builder, error) {
	lt, err := licensekey.ParseLicenseType(f.licenseType)
	if err != nil {
		return nil, err
	}
	p, err := licensekey.ParseProduct(f.product)
	if err != nil {
		return nil, err
	}
	b := licensekey.NewBuilder(lt, p)
	if f.guid {
		b.WithGUID(uuid.New())
	} else {
		b.WithID(f.id)
	}

	dates := []struct {
		value string
		set   func(time.Time) *licensekey.Builder
	}{
		{f.validFrom, b.SetValidFrom},
		{f.validTo, b.SetValidTo},
		{f.subscriptionEnd, b.SetSubscriptionEndDate},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		t, err := parseDate(d.value)
		if err != nil {
			return nil, err
		}
		d.set(t)
	}

	flags := cmd.Flags()
	if flags.Changed("users") {
		b.SetUserNumber(f.users)
	}
	if f.namespace != "" {
		b.SetNamespace(f.namespace)
	}
	if f.licensee != "" {
		b.SetLicensee(f.licensee)
	}
	if f.token != "" {
		token, err := hex.DecodeString(f.token)
		if err != nil {
			return nil, fmt.Errorf("invalid --token: %w", err)
		}
		b.SetPublicKeyToken(token)
	}
	if f.comment != "" {
		b.SetComment(f.comment)
	}
	if flags.Changed("auditable") {
		b.SetAuditable(f.auditable)
	}
	if flags.Changed("allow-inheritance") {
		b.SetAllowInheritance(f.inheritance)
	}
	if f.issuedAt {
		b.SetIssuedAt(time.Now())
	}
	return b, nil
}

func (a *app) issueCmd() *cobra.Command {
	var f issueFlags
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a license key",
		Long: `Builds a license from the flags and prints its key. Types and products that
require a signature are signed with the configured issuer key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := f.builder(cmd)
			if err != nil {
				return err
			}
			r, err := b.Build()
			if err != nil {
				return fmt.Errorf("build license: %w", err)
			}
			if r.RequiresSignature() {
				signer, err := a.cfg.Signer()
				if err != nil {
					return fmt.Errorf("%s %s licenses must be signed: %w", r.Product(), r.Type(), err)
				}
				if r, err = signer.Sign(r); err != nil {
					return fmt.Errorf("sign license: %w", err)
				}
			}
			return a.printKey(cmd.OutOrStdout(), r, f.group)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.licenseType, "type", "PerUser", "license type")
	fl.StringVar(&f.product, "product", "Framework", "product")
	fl.Int32Var(&f.id, "id", 0, "numeric license id")
	fl.BoolVar(&f.guid, "guid", false, "identify the license by a fresh GUID instead of --id")
	fl.StringVar(&f.validFrom, "valid-from", "", "first valid day")
	fl.StringVar(&f.validTo, "valid-to", "", "last valid day")
	fl.StringVar(&f.subscriptionEnd, "subscription-end", "", "last build date covered by the subscription")
	fl.Int32Var(&f.users, "users", 0, "number of licensed users")
	fl.StringVar(&f.namespace, "namespace", "", "restrict the license to a namespace")
	fl.StringVar(&f.licensee, "licensee", "", "licensee name")
	fl.StringVar(&f.token, "token", "", "bind to a public key token (hex)")
	fl.StringVar(&f.comment, "comment", "", "free-form comment")
	fl.BoolVar(&f.auditable, "auditable", false, "mark the license as auditable")
	fl.BoolVar(&f.inheritance, "allow-inheritance", false, "allow derived products to inherit the license")
	fl.BoolVar(&f.issuedAt, "issued-at", true, "record the issue time")
	fl.IntVar(&f.group, "group", 0, "split the key body into groups of this many characters")
	return cmd
}

func (a *app) evaluateCmd() *cobra.Command {
	var (
		product string
		days    int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Create an evaluation license key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := licensekey.ParseProduct(product)
			if err != nil {
				return err
			}
			r, err := licensekey.NewEvaluation(p, time.Now(), days)
			if err != nil {
				return err
			}
			return a.printKey(cmd.OutOrStdout(), r, 0)
		},
	}
	cmd.Flags().StringVar(&product, "product", "Framework", "product")
	cmd.Flags().IntVar(&days, "days", licensekey.DefaultEvaluationDays, "evaluation length in days")
	return cmd
}

func (a *app) printKey(w io.Writer, r *licensekey.Record, group int) error {
	key, err := licensekey.SerializeGrouped(r, group)
	if err != nil {
		return err
	}
	a.logger.WithField("id", r.UniqueID()).WithField("key", licensekey.KeyDigest(key)).Info("license issued")
	view := keyView{Key: key, UniqueID: r.UniqueID(), Description: r.Description()}
	return a.render(w, view, view.writeText)
}
