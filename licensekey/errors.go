package licensekey

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for keys that cannot be parsed at all.
var (
	ErrFormat         = errors.New("malformed license key")
	ErrInvalidLicense = errors.New("invalid license")
)

// Sentinel errors for building records.
var (
	ErrFieldKind       = errors.New("field value has the wrong kind")
	ErrFieldRange      = errors.New("field value out of range")
	ErrMissingIdentity = errors.New("license has no identity")
)

// Sentinel errors for signing and signature verification.
var (
	ErrSignatureInvalid   = errors.New("signature verification failed")
	ErrMissingKeyID       = errors.New("license has no signature key id")
	ErrUnknownKeyID       = errors.New("signature key id is not trusted")
	ErrMissingSignature   = errors.New("license has no signature")
	ErrPublicKeyInvalid   = errors.New("invalid public key")
	ErrPrivateKeyInvalid  = errors.New("invalid private key")
	ErrKeySourceExhausted = errors.New("key source kept failing")
)

// Sentinel errors for business-rule validation, one per Reason.
var (
	ErrNotYetValid                = errors.New("license is not yet valid")
	ErrLicenseExpired             = errors.New("license expired")
	ErrAssemblyMismatch           = errors.New("license is bound to another public key token")
	ErrMissingAssemblyToken       = errors.New("license requires a public key token")
	ErrUnknownType                = errors.New("unknown license type")
	ErrUnknownProduct             = errors.New("unknown product")
	ErrUnknownMustUnderstandField = errors.New("license has a field this version cannot interpret")
	ErrSubscriptionExpired        = errors.New("subscription expired before this build")
	ErrNamespaceScopeMismatch     = errors.New("namespace restriction does not match license type")
	ErrIncompatibleVersion        = errors.New("license requires a newer reader")
)

// FormatError reports a license key whose text framing or Base32 body is malformed.
type FormatError struct {
	Msg string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrFormat, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrFormat, e.Msg)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

func (e *FormatError) Unwrap() error { return e.Err }

// InvalidLicenseError reports a binary record that is structurally broken.
type InvalidLicenseError struct {
	Msg string
}

func (e *InvalidLicenseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidLicense, e.Msg)
}

func (e *InvalidLicenseError) Is(target error) bool { return target == ErrInvalidLicense }

func invalidf(format string, args ...any) error {
	return &InvalidLicenseError{Msg: fmt.Sprintf(format, args...)}
}

// Reason classifies why a parsed license does not grant rights.
type Reason int

const (
	ReasonInvalidSignature Reason = iota + 1
	ReasonNotYetValid
	ReasonExpired
	ReasonAssemblyMismatch
	ReasonMissingAssemblyToken
	ReasonUnknownType
	ReasonUnknownProduct
	ReasonUnknownMustUnderstandField
	ReasonSubscriptionExpired
	ReasonNamespaceScopeMismatch
	ReasonIncompatibleVersion
)

var reasonSentinels = map[Reason]error{
	ReasonInvalidSignature:           ErrSignatureInvalid,
	ReasonNotYetValid:                ErrNotYetValid,
	ReasonExpired:                    ErrLicenseExpired,
	ReasonAssemblyMismatch:           ErrAssemblyMismatch,
	ReasonMissingAssemblyToken:       ErrMissingAssemblyToken,
	ReasonUnknownType:                ErrUnknownType,
	ReasonUnknownProduct:             ErrUnknownProduct,
	ReasonUnknownMustUnderstandField: ErrUnknownMustUnderstandField,
	ReasonSubscriptionExpired:        ErrSubscriptionExpired,
	ReasonNamespaceScopeMismatch:     ErrNamespaceScopeMismatch,
	ReasonIncompatibleVersion:        ErrIncompatibleVersion,
}

var reasonNames = map[Reason]string{
	ReasonInvalidSignature:           "InvalidSignature",
	ReasonNotYetValid:                "NotYetValid",
	ReasonExpired:                    "Expired",
	ReasonAssemblyMismatch:           "AssemblyMismatch",
	ReasonMissingAssemblyToken:       "MissingAssemblyToken",
	ReasonUnknownType:                "UnknownType",
	ReasonUnknownProduct:             "UnknownProduct",
	ReasonUnknownMustUnderstandField: "UnknownMustUnderstandField",
	ReasonSubscriptionExpired:        "SubscriptionExpired",
	ReasonNamespaceScopeMismatch:     "NamespaceScopeMismatch",
	ReasonIncompatibleVersion:        "IncompatibleVersion",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// ValidationError reports a license that parsed fine but does not currently grant rights.
// errors.Is matches the sentinel of its Reason; Unwrap exposes the underlying cause, if any.
type ValidationError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == reasonSentinels[e.Reason]
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validationErrorf(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// TransientError marks a failure of the environment (I/O contention, a key
// provider still initializing) that may succeed when retried. A signature that
// does not match is never transient.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err, or any error it wraps, is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// checkDeferred reports whether a signature check ended without an answer:
// the key source stayed unavailable or the caller gave up.
func checkDeferred(err error) bool {
	return IsTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
