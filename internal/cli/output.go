package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey"
)

var (
	validStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	invalidStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// render writes v as JSON or YAML, or calls plain for text output.
func (a *app) render(w io.Writer, v any, plain func(io.Writer) error) error {
	switch a.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return plain(w)
	}
}

func status(valid bool) string {
	if valid {
		return validStyle.Render("VALID")
	}
	return invalidStyle.Render("INVALID")
}

type fieldView struct {
	ID    uint8  `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type recordView struct {
	UniqueID    string      `json:"unique_id" yaml:"unique_id"`
	Type        string      `json:"type" yaml:"type"`
	Product     string      `json:"product" yaml:"product"`
	Description string      `json:"description" yaml:"description"`
	Signed      bool        `json:"signed" yaml:"signed"`
	Fields      []fieldView `json:"fields" yaml:"fields"`
}

func newRecordView(r *licensekey.Record) recordView {
	v := recordView{
		UniqueID:    r.UniqueID(),
		Type:        r.Type().String(),
		Product:     r.Product().String(),
		Description: r.Description(),
		Signed:      r.HasField(licensekey.FieldSignature),
	}
	for _, f := range r.Fields() {
		v.Fields = append(v.Fields, fieldView{ID: uint8(f.ID), Name: f.ID.String(), Value: f.ValueString()})
	}
	return v
}

func (v recordView) writeText(w io.Writer) error {
	fmt.Fprintln(w, v.Description)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range v.Fields {
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", f.ID, f.Name, f.Value)
	}
	return tw.Flush()
}

type validationView struct {
	recordView `yaml:",inline"`
	Valid      bool   `json:"valid" yaml:"valid"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

func newValidationView(r *licensekey.Record, err error) validationView {
	v := validationView{recordView: newRecordView(r), Valid: err == nil}
	if err != nil {
		v.Message = err.Error()
		var ve *licensekey.ValidationError
		if errors.As(err, &ve) {
			v.Reason = ve.Reason.String()
		}
	}
	return v
}

func (v validationView) writeText(w io.Writer) error {
	line := status(v.Valid) + " " + v.Description
	if !v.Valid {
		line += "\n  " + v.Reason + ": " + v.Message
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

type registrationView struct {
	UniqueID        string    `json:"unique_id" yaml:"unique_id"`
	Product         string    `json:"product" yaml:"product"`
	LicenseType     string    `json:"license_type" yaml:"license_type"`
	KeyDigest       string    `json:"key_digest" yaml:"key_digest"`
	Fingerprint     string    `json:"fingerprint" yaml:"fingerprint"`
	RegisteredAt    time.Time `json:"registered_at" yaml:"registered_at"`
	LastValidatedAt time.Time `json:"last_validated_at" yaml:"last_validated_at"`
	Valid           bool      `json:"valid" yaml:"valid"`
	Message         string    `json:"message,omitempty" yaml:"message,omitempty"`
}

func newRegistrationView(reg licensekey.Registration) registrationView {
	v := registrationView{
		UniqueID:        reg.Entry.UniqueID,
		Product:         reg.Entry.Product,
		LicenseType:     reg.Entry.LicenseType,
		KeyDigest:       reg.Entry.KeyDigest,
		Fingerprint:     reg.Entry.Fingerprint,
		RegisteredAt:    reg.Entry.RegisteredAt,
		LastValidatedAt: reg.Entry.LastValidatedAt,
		Valid:           reg.Valid(),
	}
	if reg.Err != nil {
		v.Message = reg.Err.Error()
	}
	return v
}

func writeRegistrations(w io.Writer, regs []registrationView) error {
	if len(regs) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("No licenses registered."))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join([]string{"ID", "PRODUCT", "TYPE", "REGISTERED", "STATUS"}, "\t"))
	for _, r := range regs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.UniqueID, r.Product, r.LicenseType, r.RegisteredAt.Format(time.DateOnly), status(r.Valid))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range regs {
		if !r.Valid {
			fmt.Fprintln(w, dimStyle.Render(r.UniqueID+": "+r.Message))
		}
	}
	return nil
}
