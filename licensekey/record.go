package licensekey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the binary format revision written and read by this package.
const CurrentVersion uint8 = 2

// Record is a decoded license. It is immutable: the only ways to obtain one are
// Deserialize, ParseBinary and Builder.Build, and the only ways to derive a
// changed copy are Sign and the Builder.
type Record struct {
	version     uint8
	id          int32
	licenseType LicenseType
	product     Product
	fields      []Field

	// sig is the memoized signature outcome attached by a Cache.
	sig *signatureState
}

type signatureState struct {
	trust *TrustContext
	err   error
}

// Version returns the binary format revision the record was read with.
func (r *Record) Version() uint8 { return r.version }

// ID returns the numeric identity of a centrally issued license.
func (r *Record) ID() (int32, bool) {
	if _, ok := r.GUID(); ok {
		return 0, false
	}
	return r.id, r.id > 0
}

// GUID returns the identity of a self-registered license.
func (r *Record) GUID() (uuid.UUID, bool) {
	b, ok := r.bytesField(FieldLicenseGUID)
	if !ok {
		return uuid.Nil, false
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, false
	}
	return u, true
}

// UniqueID is the decimal id or the canonical GUID string.
func (r *Record) UniqueID() string {
	if g, ok := r.GUID(); ok {
		return g.String()
	}
	return strconv.FormatInt(int64(r.id), 10)
}

// Type returns the license type.
func (r *Record) Type() LicenseType { return r.licenseType }

// Product returns the entitled product.
func (r *Record) Product() Product { return r.product }

// Fields returns a copy of the field table in ascending id order.
// Byte payloads are copied too.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	for i, f := range r.fields {
		out[i] = Field{ID: f.ID, Value: copyValue(f.Value)}
	}
	return out
}

// Field looks up a single field. The returned value does not alias the record.
func (r *Record) Field(id FieldID) (FieldValue, bool) {
	v, ok := r.field(id)
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

func (r *Record) field(id FieldID) (FieldValue, bool) {
	i, ok := r.indexOf(id)
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// HasField reports whether id is present.
func (r *Record) HasField(id FieldID) bool {
	_, ok := r.indexOf(id)
	return ok
}

func (r *Record) indexOf(id FieldID) (int, bool) {
	i := sort.Search(len(r.fields), func(i int) bool { return r.fields[i].ID >= id })
	return i, i < len(r.fields) && r.fields[i].ID == id
}

func (r *Record) dateField(id FieldID) (DateValue, bool) {
	v, ok := r.field(id)
	if !ok {
		return DateValue{}, false
	}
	d, ok := v.(DateValue)
	return d, ok
}

// bytesField returns a copy of a Bytes field.
func (r *Record) bytesField(id FieldID) ([]byte, bool) {
	v, ok := r.field(id)
	if !ok {
		return nil, false
	}
	b, ok := v.(BytesValue)
	return clone(b), ok
}

func (r *Record) stringField(id FieldID) (string, bool) {
	v, ok := r.field(id)
	if !ok {
		return "", false
	}
	s, ok := v.(StringValue)
	return string(s), ok
}

func (r *Record) boolField(id FieldID) bool {
	v, ok := r.field(id)
	if !ok {
		return false
	}
	b, _ := v.(BoolValue)
	return bool(b)
}

// ValidFrom returns the first day the license may be used.
func (r *Record) ValidFrom() (DateValue, bool) { return r.dateField(FieldValidFrom) }

// ValidTo returns the last day the license may be used.
func (r *Record) ValidTo() (DateValue, bool) { return r.dateField(FieldValidTo) }

// SubscriptionEndDate returns the last build date covered by maintenance.
func (r *Record) SubscriptionEndDate() (DateValue, bool) {
	return r.dateField(FieldSubscriptionEndDate)
}

// Namespace returns the namespace prefix the license is restricted to.
func (r *Record) Namespace() (string, bool) { return r.stringField(FieldNamespace) }

// AllowInheritance reports whether the namespace restriction extends to derived code.
func (r *Record) AllowInheritance() bool { return r.boolField(FieldAllowInheritance) }

// PublicKeyToken returns the token of the assembly the license is bound to.
func (r *Record) PublicKeyToken() ([]byte, bool) { return r.bytesField(FieldPublicKeyToken) }

// Licensee returns the display name of the license holder.
func (r *Record) Licensee() (string, bool) { return r.stringField(FieldLicensee) }

// Auditable reports whether usage of this license is subject to audit.
func (r *Record) Auditable() bool { return r.boolField(FieldAuditable) }

// UserNumber returns the number of users the license covers.
func (r *Record) UserNumber() (int32, bool) {
	v, ok := r.field(FieldUserNumber)
	if !ok {
		return 0, false
	}
	n, ok := v.(Int32Value)
	return int32(n), ok
}

// IssuedAt returns when the license was created.
func (r *Record) IssuedAt() (time.Time, bool) {
	v, ok := r.field(FieldIssuedAt)
	if !ok {
		return time.Time{}, false
	}
	d, ok := v.(DateTimeValue)
	return d.Time(), ok
}

// KeyID returns the id of the key the record was signed with.
func (r *Record) KeyID() (uint8, bool) {
	v, ok := r.field(FieldSignatureKeyID)
	if !ok {
		return 0, false
	}
	b, ok := v.(ByteValue)
	return uint8(b), ok
}

// Signature returns the raw signature bytes.
func (r *Record) Signature() ([]byte, bool) { return r.bytesField(FieldSignature) }

// MinReaderVersion returns the raw compatibility stamp, if any.
func (r *Record) MinReaderVersion() (string, bool) {
	return r.stringField(FieldMinReaderVersion)
}

// RequiresSignature reports whether the type and product combination must be signed by the issuer.
func (r *Record) RequiresSignature() bool {
	return !unsignedTypes[r.licenseType] && !unsignedProducts[r.product]
}

// checksSignature reports whether a trust context verifies r. A record that
// carries a signature is always checked, even if its combination is exempt.
func (r *Record) checksSignature() bool {
	return r.RequiresSignature() || r.HasField(FieldSignature)
}

// IsRedistribution reports whether the license permits redistribution of the product.
func (r *Record) IsRedistribution() bool {
	return r.licenseType == TypeOpenSourceRedistribution || r.licenseType == TypeCommercialRedistribution
}

// IsLimitedByNamespace reports whether the license only applies inside a namespace.
func (r *Record) IsLimitedByNamespace() bool {
	return r.HasField(FieldNamespace)
}

// Description is a one-line human-readable summary for registration screens and audit reports.
func (r *Record) Description() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s License", r.product, r.licenseType)
	if _, ok := r.GUID(); !ok {
		fmt.Fprintf(&sb, " #%d", r.id)
	}
	if n, ok := r.UserNumber(); ok && n > 1 {
		fmt.Fprintf(&sb, " for %d users", n)
	}
	if ns, ok := r.Namespace(); ok {
		fmt.Fprintf(&sb, " restricted to %s", ns)
	}
	from, hasFrom := r.ValidFrom()
	to, hasTo := r.ValidTo()
	switch {
	case hasFrom && hasTo:
		fmt.Fprintf(&sb, ", valid %s to %s", from, to)
	case hasTo:
		fmt.Fprintf(&sb, ", valid until %s", to)
	case hasFrom:
		fmt.Fprintf(&sb, ", valid from %s", from)
	}
	if name, ok := r.Licensee(); ok {
		fmt.Fprintf(&sb, ", licensed to %s", name)
	}
	return sb.String()
}

func (r *Record) String() string {
	parts := make([]string, 0, len(r.fields)+4)
	parts = append(parts,
		fmt.Sprintf("version=%d", r.version),
		fmt.Sprintf("id=%s", r.UniqueID()),
		fmt.Sprintf("type=%s", r.licenseType),
		fmt.Sprintf("product=%s", r.product),
	)
	for _, f := range r.fields {
		parts = append(parts, f.String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Equal reports whether two records carry the same header and field table.
func (r *Record) Equal(o *Record) bool {
	if r.version != o.version || r.id != o.id || r.licenseType != o.licenseType ||
		r.product != o.product || len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if r.fields[i].ID != o.fields[i].ID || !equalValues(r.fields[i].Value, o.fields[i].Value) {
			return false
		}
	}
	return true
}

// with returns a copy of r where id holds v. The caller has checked v.
func (r *Record) with(id FieldID, v FieldValue) *Record {
	out := r.clone()
	i, ok := out.indexOf(id)
	if ok {
		out.fields[i].Value = v
		return out
	}
	out.fields = append(out.fields, Field{})
	copy(out.fields[i+1:], out.fields[i:])
	out.fields[i] = Field{ID: id, Value: v}
	return out
}

// without returns a copy of r with id removed.
func (r *Record) without(id FieldID) *Record {
	i, ok := r.indexOf(id)
	if !ok {
		return r
	}
	out := r.clone()
	out.fields = append(out.fields[:i], out.fields[i+1:]...)
	return out
}

// clone copies the header and field table and drops any memoized signature state.
func (r *Record) clone() *Record {
	out := &Record{
		version:     r.version,
		id:          r.id,
		licenseType: r.licenseType,
		product:     r.product,
		fields:      make([]Field, len(r.fields), len(r.fields)+1),
	}
	copy(out.fields, r.fields)
	return out
}
