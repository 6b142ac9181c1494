package licensekey

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Component is a library or tool linked into the application whose build date
// counts against a license's subscription end date.
type Component struct {
	Name      string
	Version   string
	BuildDate time.Time
	// MadeByVendor marks components released by the license issuer. Only those
	// are compared with the subscription end date.
	MadeByVendor bool
}

// ValidationContext is the environment a license is checked against.
type ValidationContext struct {
	// Now is the current instant. The zero value means time.Now.
	Now time.Time
	// PublicKeyToken identifies the assembly the caller is building, if any.
	PublicKeyToken []byte
	// BuildDate and BuildVersion describe the application itself. The
	// application always counts as a vendor component.
	BuildDate       time.Time
	BuildVersion    string
	ApplicationName string
	Components      []Component
	// ReaderVersion overrides the package ReaderVersion when non-zero.
	ReaderVersion Version
}

func (vc ValidationContext) now() time.Time {
	if vc.Now.IsZero() {
		return time.Now()
	}
	return vc.Now
}

func (vc ValidationContext) reader() Version {
	if vc.ReaderVersion == (Version{}) {
		return ReaderVersion
	}
	return vc.ReaderVersion
}

// latestVendorComponent returns the vendor component with the newest build date.
func (vc ValidationContext) latestVendorComponent() (Component, bool) {
	var latest Component
	found := false
	consider := func(c Component) {
		if !c.MadeByVendor || c.BuildDate.IsZero() {
			return
		}
		if !found || c.BuildDate.After(latest.BuildDate) {
			latest, found = c, true
		}
	}
	name := vc.ApplicationName
	if name == "" {
		name = "application"
	}
	consider(Component{Name: name, Version: vc.BuildVersion, BuildDate: vc.BuildDate, MadeByVendor: true})
	for _, c := range vc.Components {
		consider(c)
	}
	return latest, found
}

// Validate checks r against trust and vc. It returns nil when the license
// grants rights, otherwise a *ValidationError naming the first failed rule.
// A nil trust uses DefaultTrust.
func Validate(r *Record, trust *TrustContext, vc ValidationContext) error {
	return ValidateContext(context.Background(), r, trust, vc)
}

// ValidateContext is Validate with a context bounding key source retries.
func ValidateContext(ctx context.Context, r *Record, trust *TrustContext, vc ValidationContext) error {
	if r.licenseType == TypeAnonymous {
		return nil
	}
	if trust == nil {
		trust = DefaultTrust()
	}

	if err := trust.VerifySignatureContext(ctx, r); err != nil {
		if checkDeferred(err) {
			return fmt.Errorf("check signature of license %s: %w", r.UniqueID(), err)
		}
		return &ValidationError{
			Reason:  ReasonInvalidSignature,
			Message: fmt.Sprintf("license %s has an invalid signature: %v", r.UniqueID(), err),
			Err:     err,
		}
	}

	today := NewDate(vc.now())
	if from, ok := r.ValidFrom(); ok && from.After(today) {
		return validationErrorf(ReasonNotYetValid, "license %s is not valid before %s", r.UniqueID(), from)
	}
	if to, ok := r.ValidTo(); ok && to.Before(today) {
		return validationErrorf(ReasonExpired, "license %s expired on %s", r.UniqueID(), to)
	}

	if token, ok := r.PublicKeyToken(); ok {
		if len(vc.PublicKeyToken) == 0 {
			return validationErrorf(ReasonMissingAssemblyToken,
				"license %s is bound to public key token %x but none was supplied", r.UniqueID(), token)
		}
		if !bytes.Equal(token, vc.PublicKeyToken) {
			return validationErrorf(ReasonAssemblyMismatch,
				"license %s is bound to public key token %x, not %x", r.UniqueID(), token, vc.PublicKeyToken)
		}
	}

	if !r.licenseType.IsKnown() {
		return validationErrorf(ReasonUnknownType, "license %s has unknown type %d", r.UniqueID(), uint8(r.licenseType))
	}
	if !r.product.IsKnown() {
		return validationErrorf(ReasonUnknownProduct, "license %s has unknown product %d", r.UniqueID(), uint8(r.product))
	}

	for _, f := range r.fields {
		if f.ID.IsMustUnderstand() && !f.ID.IsKnown() {
			return validationErrorf(ReasonUnknownMustUnderstandField,
				"license %s requires field %d which this version does not understand", r.UniqueID(), uint8(f.ID))
		}
	}

	if end, ok := r.SubscriptionEndDate(); ok {
		if c, found := vc.latestVendorComponent(); found && NewDate(c.BuildDate).After(end) {
			return validationErrorf(ReasonSubscriptionExpired,
				"%s %s was built on %s but the subscription of license %s only covers builds until %s",
				c.Name, c.Version, NewDate(c.BuildDate), r.UniqueID(), end)
		}
	}

	switch {
	case r.IsRedistribution() && !r.IsLimitedByNamespace():
		return validationErrorf(ReasonNamespaceScopeMismatch,
			"%s license %s must be restricted to a namespace", r.licenseType, r.UniqueID())
	case !r.IsRedistribution() && r.IsLimitedByNamespace():
		return validationErrorf(ReasonNamespaceScopeMismatch,
			"%s license %s cannot be restricted to a namespace", r.licenseType, r.UniqueID())
	}

	if s, ok := r.MinReaderVersion(); ok {
		need, err := ParseVersion(s)
		if err != nil {
			return validationErrorf(ReasonIncompatibleVersion, "license %s requires reader version %q", r.UniqueID(), s)
		}
		if have := vc.reader(); need.Compare(have) > 0 {
			return validationErrorf(ReasonIncompatibleVersion,
				"license %s requires reader version %s or later, this is %s", r.UniqueID(), need, have)
		}
	}
	return nil
}

// IsValid projects Validate to a flag and a message. The message is empty when
// the license is valid.
func IsValid(r *Record, trust *TrustContext, vc ValidationContext) (bool, string) {
	if err := Validate(r, trust, vc); err != nil {
		return false, err.Error()
	}
	return true, ""
}
