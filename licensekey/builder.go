package licensekey

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Builder assembles a Record on the issuing or self-registration path.
// Setters never fail; the first problem is reported by Build.
type Builder struct {
	id          int32
	guid        uuid.UUID
	hasGUID     bool
	licenseType LicenseType
	product     Product
	fields      map[FieldID]FieldValue
	err         error
}

// NewBuilder starts a record of the given type and product.
func NewBuilder(t LicenseType, p Product) *Builder {
	return &Builder{
		licenseType: t,
		product:     p,
		fields:      make(map[FieldID]FieldValue),
	}
}

// WithID gives the license a numeric identity. It clears any GUID identity.
func (b *Builder) WithID(id int32) *Builder {
	if id <= 0 {
		b.fail(fmt.Errorf("%w: numeric id must be positive, got %d", ErrMissingIdentity, id))
		return b
	}
	b.id, b.hasGUID = id, false
	return b
}

// WithGUID gives the license a GUID identity. It clears any numeric identity.
func (b *Builder) WithGUID(g uuid.UUID) *Builder {
	if g == uuid.Nil {
		b.fail(fmt.Errorf("%w: GUID must not be nil", ErrMissingIdentity))
		return b
	}
	b.id, b.guid, b.hasGUID = 0, g, true
	return b
}

// Set stores an arbitrary field. Known ids must receive their fixed kind; unknown
// ids must be length-prefixed and receive a RawValue.
func (b *Builder) Set(id FieldID, v FieldValue) *Builder {
	if id == FieldLicenseGUID {
		b.fail(fmt.Errorf("%w: use WithGUID to set %s", ErrFieldKind, id))
		return b
	}
	if err := checkValue(id, v); err != nil {
		b.fail(err)
		return b
	}
	b.fields[id] = copyValue(v)
	return b
}

// Unset removes a field.
func (b *Builder) Unset(id FieldID) *Builder {
	delete(b.fields, id)
	return b
}

func (b *Builder) SetValidFrom(t time.Time) *Builder { return b.Set(FieldValidFrom, NewDate(t)) }

func (b *Builder) SetValidTo(t time.Time) *Builder { return b.Set(FieldValidTo, NewDate(t)) }

func (b *Builder) SetSubscriptionEndDate(t time.Time) *Builder {
	return b.Set(FieldSubscriptionEndDate, NewDate(t))
}

func (b *Builder) SetNamespace(ns string) *Builder { return b.Set(FieldNamespace, StringValue(ns)) }

func (b *Builder) SetAllowInheritance(v bool) *Builder {
	return b.Set(FieldAllowInheritance, BoolValue(v))
}

func (b *Builder) SetPublicKeyToken(token []byte) *Builder {
	return b.Set(FieldPublicKeyToken, BytesValue(append([]byte(nil), token...)))
}

func (b *Builder) SetUserNumber(n int32) *Builder { return b.Set(FieldUserNumber, Int32Value(n)) }

func (b *Builder) SetLicensee(name string) *Builder { return b.Set(FieldLicensee, StringValue(name)) }

func (b *Builder) SetAuditable(v bool) *Builder { return b.Set(FieldAuditable, BoolValue(v)) }

func (b *Builder) SetIssuedAt(t time.Time) *Builder { return b.Set(FieldIssuedAt, NewDateTime(t)) }

func (b *Builder) SetComment(s string) *Builder { return b.Set(FieldComment, StringValue(s)) }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build finalizes the record. The compatibility stamp is applied here so that a
// record is complete before it is signed.
func (b *Builder) Build() (*Record, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.hasGUID && b.id <= 0 {
		return nil, errors.Join(ErrMissingIdentity, errors.New("call WithID or WithGUID"))
	}

	r := &Record{
		version:     CurrentVersion,
		id:          b.id,
		licenseType: b.licenseType,
		product:     b.product,
		fields:      make([]Field, 0, len(b.fields)+1),
	}
	for id, v := range b.fields {
		r.fields = append(r.fields, Field{ID: id, Value: v})
	}
	if b.hasGUID {
		g := b.guid
		r.fields = append(r.fields, Field{ID: FieldLicenseGUID, Value: BytesValue(g[:])})
	}
	sortFields(r.fields)

	if _, err := r.MarshalBinary(); err != nil {
		return nil, err
	}
	return stampCompatibility(r), nil
}
