package licensekey

import (
	"bytes"
	"fmt"
	"time"
)

// FieldID identifies one attribute of the binary record.
//
// The numeric value carries two flags that every reader, old or new, can
// evaluate for ids it has never seen:
//
//   - bit 0x80 clear: must-understand. A reader that does not know the id must
//     refuse the license.
//   - bit 0x40 set: length-prefixed. The payload is preceded by a one-byte
//     length, so the field can be skipped and copied verbatim by readers that
//     do not know it.
//
// An unknown id without the length prefix cannot be skipped and makes the
// record unreadable.
type FieldID uint8

const (
	// FieldEnd terminates the field table.
	FieldEnd FieldID = 0

	FieldValidFrom           FieldID = 1
	FieldValidTo             FieldID = 2
	FieldUserNumber          FieldID = 3
	FieldNamespace           FieldID = 4
	FieldPublicKeyToken      FieldID = 5
	FieldSubscriptionEndDate FieldID = 6
	FieldMinReaderVersion    FieldID = 7
	FieldAllowInheritance    FieldID = 8
	FieldAuditable           FieldID = 9
	FieldLicenseGUID         FieldID = 10

	FieldLicensee       FieldID = 128
	FieldSignatureKeyID FieldID = 129
	FieldSignature      FieldID = 130
	FieldGraceDays      FieldID = 131
	FieldGracePercent   FieldID = 132
	FieldDevicesPerUser FieldID = 133
	FieldIssuedAt       FieldID = 134

	FieldComment FieldID = 192
)

const (
	optionalBit       = 0x80
	lengthPrefixedBit = 0x40
	maxPrefixedLength = 0xff
)

// Kind is the payload type permitted for a FieldID.
type Kind uint8

const (
	KindRaw Kind = iota
	KindByte
	KindBool
	KindInt16
	KindInt32
	KindInt64
	KindDate
	KindDateTime
	KindBytes
	KindString
)

var kindNames = [...]string{"raw", "byte", "bool", "int16", "int32", "int64", "date", "datetime", "bytes", "string"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

type fieldInfo struct {
	name string
	kind Kind
}

var fieldTable = map[FieldID]fieldInfo{
	FieldValidFrom:           {"ValidFrom", KindDate},
	FieldValidTo:             {"ValidTo", KindDate},
	FieldUserNumber:          {"UserNumber", KindInt32},
	FieldNamespace:           {"Namespace", KindString},
	FieldPublicKeyToken:      {"PublicKeyToken", KindBytes},
	FieldSubscriptionEndDate: {"SubscriptionEndDate", KindDate},
	FieldMinReaderVersion:    {"MinReaderVersion", KindString},
	FieldAllowInheritance:    {"AllowInheritance", KindBool},
	FieldAuditable:           {"Auditable", KindBool},
	FieldLicenseGUID:         {"LicenseGUID", KindBytes},
	FieldLicensee:            {"Licensee", KindString},
	FieldSignatureKeyID:      {"SignatureKeyID", KindByte},
	FieldSignature:           {"Signature", KindBytes},
	FieldGraceDays:           {"GraceDays", KindByte},
	FieldGracePercent:        {"GracePercent", KindByte},
	FieldDevicesPerUser:      {"DevicesPerUser", KindInt16},
	FieldIssuedAt:            {"IssuedAt", KindDateTime},
	FieldComment:             {"Comment", KindString},
}

// IsMustUnderstand reports whether a reader that does not know id must reject the record.
func (id FieldID) IsMustUnderstand() bool {
	return id != FieldEnd && id&optionalBit == 0
}

// IsPrefixedByLength reports whether the payload of id is preceded by a byte count.
func (id FieldID) IsPrefixedByLength() bool {
	return id&lengthPrefixedBit != 0
}

// IsKnown reports whether this reader knows the payload type of id.
func (id FieldID) IsKnown() bool {
	_, ok := fieldTable[id]
	return ok
}

// Kind returns the payload type of id, or KindRaw for unknown ids.
func (id FieldID) Kind() Kind {
	if info, ok := fieldTable[id]; ok {
		return info.kind
	}
	return KindRaw
}

func (id FieldID) String() string {
	if id == FieldEnd {
		return "End"
	}
	if info, ok := fieldTable[id]; ok {
		return info.name
	}
	return fmt.Sprintf("Field(%d)", uint8(id))
}

// FieldValue is the closed set of payloads a field can hold.
type FieldValue interface {
	Kind() Kind
	fieldValue()
}

type (
	ByteValue  uint8
	BoolValue  bool
	Int16Value int16
	Int32Value int32
	Int64Value int64
	// BytesValue holds an opaque byte string such as a signature or a key token.
	BytesValue []byte
	// StringValue holds UTF-8 text.
	StringValue string
	// RawValue is the undecoded payload of a length-prefixed field this reader
	// does not know. It is written back byte for byte.
	RawValue []byte
)

func (ByteValue) Kind() Kind   { return KindByte }
func (BoolValue) Kind() Kind   { return KindBool }
func (Int16Value) Kind() Kind  { return KindInt16 }
func (Int32Value) Kind() Kind  { return KindInt32 }
func (Int64Value) Kind() Kind  { return KindInt64 }
func (BytesValue) Kind() Kind  { return KindBytes }
func (StringValue) Kind() Kind { return KindString }
func (RawValue) Kind() Kind    { return KindRaw }

func (ByteValue) fieldValue()   {}
func (BoolValue) fieldValue()   {}
func (Int16Value) fieldValue()  {}
func (Int32Value) fieldValue()  {}
func (Int64Value) fieldValue()  {}
func (BytesValue) fieldValue()  {}
func (StringValue) fieldValue() {}
func (RawValue) fieldValue()    {}

// dateEpoch is day zero of DateValue.
var dateEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const maxDateDays = 0xffff

// DateValue is a calendar date without time of day, stored as days since 2000-01-01.
type DateValue struct {
	days int64
}

// NewDate returns the UTC calendar date of t.
func NewDate(t time.Time) DateValue {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return DateValue{days: int64(d.Sub(dateEpoch).Hours()) / 24}
}

// Time returns midnight UTC of the date.
func (d DateValue) Time() time.Time {
	return dateEpoch.AddDate(0, 0, int(d.days))
}

// Before reports whether d is an earlier day than o.
func (d DateValue) Before(o DateValue) bool { return d.days < o.days }

// After reports whether d is a later day than o.
func (d DateValue) After(o DateValue) bool { return d.days > o.days }

func (d DateValue) String() string { return d.Time().Format(time.DateOnly) }

func (d DateValue) inRange() bool { return d.days >= 0 && d.days <= maxDateDays }

// DateTimeValue is an instant with one-second resolution.
type DateTimeValue struct {
	unix int64
}

// NewDateTime truncates t to whole seconds.
func NewDateTime(t time.Time) DateTimeValue {
	return DateTimeValue{unix: t.Unix()}
}

// Time returns the instant in UTC.
func (d DateTimeValue) Time() time.Time { return time.Unix(d.unix, 0).UTC() }

func (d DateTimeValue) String() string { return d.Time().Format(time.RFC3339) }

func (DateValue) Kind() Kind      { return KindDate }
func (DateTimeValue) Kind() Kind  { return KindDateTime }
func (DateValue) fieldValue()     {}
func (DateTimeValue) fieldValue() {}

// Field is one entry of a record's field table.
type Field struct {
	ID    FieldID
	Value FieldValue
}

func (f Field) String() string {
	return fmt.Sprintf("%s=%s", f.ID, formatValue(f.Value))
}

// ValueString renders the value the way String does, without the field name.
func (f Field) ValueString() string { return formatValue(f.Value) }

func formatValue(v FieldValue) string {
	switch v := v.(type) {
	case BytesValue:
		return fmt.Sprintf("%x", []byte(v))
	case RawValue:
		return fmt.Sprintf("raw:%x", []byte(v))
	case StringValue:
		return fmt.Sprintf("%q", string(v))
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// checkValue verifies that v is the payload type id permits.
func checkValue(id FieldID, v FieldValue) error {
	if id == FieldEnd {
		return fmt.Errorf("%w: the terminator id cannot carry a value", ErrFieldKind)
	}
	if v == nil {
		return fmt.Errorf("%w: %s has no value", ErrFieldKind, id)
	}
	want := id.Kind()
	if !id.IsKnown() && !id.IsPrefixedByLength() {
		return fmt.Errorf("%w: unknown field %s is not length-prefixed", ErrFieldKind, id)
	}
	if v.Kind() != want {
		return fmt.Errorf("%w: %s holds %s, got %s", ErrFieldKind, id, want, v.Kind())
	}
	switch v := v.(type) {
	case DateValue:
		if !v.inRange() {
			return fmt.Errorf("%w: %s date %s outside %s..%s", ErrFieldRange, id, v,
				dateEpoch.Format(time.DateOnly), DateValue{days: maxDateDays})
		}
	case RawValue:
		if len(v) > maxPrefixedLength {
			return fmt.Errorf("%w: %s payload is %d bytes", ErrFieldRange, id, len(v))
		}
	}
	return nil
}

// copyValue returns v with any byte payload copied.
func copyValue(v FieldValue) FieldValue {
	switch v := v.(type) {
	case BytesValue:
		return BytesValue(clone(v))
	case RawValue:
		return RawValue(clone(v))
	}
	return v
}

func equalValues(a, b FieldValue) bool {
	switch a := a.(type) {
	case BytesValue:
		b, ok := b.(BytesValue)
		return ok && bytes.Equal(a, b)
	case RawValue:
		b, ok := b.(RawValue)
		return ok && bytes.Equal(a, b)
	default:
		return a == b
	}
}
