package licensekey

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawRecord assembles a binary record by hand.
func rawRecord(version uint8, id int32, typ LicenseType, product Product, fields ...byte) []byte {
	b := []byte{version}
	b = binary.LittleEndian.AppendUint32(b, uint32(id))
	b = append(b, uint8(typ), uint8(product))
	return append(b, fields...)
}

func TestMarshalBinary_Layout(t *testing.T) {
	r, err := NewBuilder(TypeCommunity, ProductCommunity).
		WithID(4242).
		SetLicensee("ACME").
		Build()
	require.NoError(t, err)

	got, err := r.MarshalBinary()
	require.NoError(t, err)
	want := []byte{
		2,                      // version
		0x92, 0x10, 0x00, 0x00, // id 4242
		13, 8, // type, product
		128, 4, 'A', 'C', 'M', 'E', // licensee
		0, // end
	}
	assert.Equal(t, want, got)

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, len(want), n)
	assert.Equal(t, want, buf.Bytes())
}

func TestParseBinary_RoundTrip(t *testing.T) {
	r, err := NewBuilder(TypeSite, ProductUltimate).
		WithID(7).
		SetValidFrom(date(2024, time.January, 1)).
		SetValidTo(date(2026, time.December, 31)).
		SetUserNumber(25).
		SetPublicKeyToken([]byte{0xde, 0xad, 0xbe, 0xef}).
		SetSubscriptionEndDate(date(2025, time.June, 30)).
		SetAuditable(true).
		SetLicensee("Contoso Ltd").
		SetIssuedAt(time.Date(2023, time.December, 15, 9, 30, 0, 0, time.UTC)).
		SetComment("renewal").
		Set(FieldGraceDays, ByteValue(14)).
		Set(FieldGracePercent, ByteValue(10)).
		Set(FieldDevicesPerUser, Int16Value(3)).
		Set(200, RawValue{0x01, 0x02, 0x03}).
		Build()
	require.NoError(t, err)

	b, err := r.MarshalBinary()
	require.NoError(t, err)
	back, err := ReadRecord(bytes.NewReader(b))
	require.NoError(t, err)
	assert.True(t, r.Equal(back), "%s != %s", r, back)

	v, ok := back.Field(200)
	require.True(t, ok)
	assert.Equal(t, RawValue{0x01, 0x02, 0x03}, v)

	again, err := back.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestParseBinary_GUIDIdentity(t *testing.T) {
	g := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	r, err := NewBuilder(TypeEvaluation, ProductFramework).WithGUID(g).Build()
	require.NoError(t, err)

	b, err := r.MarshalBinary()
	require.NoError(t, err)
	back, err := ParseBinary(b)
	require.NoError(t, err)

	got, ok := back.GUID()
	require.True(t, ok)
	assert.Equal(t, g, got)
	_, ok = back.ID()
	assert.False(t, ok)
	assert.Equal(t, g.String(), back.UniqueID())
}

func TestParseBinary_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		msg  string
	}{
		{"empty", nil, "header is truncated"},
		{"short header", []byte{2, 1, 0}, "header is truncated"},
		{"unsupported version", rawRecord(1, 1, TypePerUser, ProductFramework, 0), "unsupported license format version 1"},
		{"missing terminator", rawRecord(2, 1, TypePerUser, ProductFramework), "no end-of-fields marker"},
		{"trailing bytes", rawRecord(2, 1, TypePerUser, ProductFramework, 0, 0), "license is too long"},
		{"unknown unskippable field", rawRecord(2, 1, TypePerUser, ProductFramework, 20, 1, 0), "cannot be skipped"},
		{"out of order", rawRecord(2, 1, TypePerUser, ProductFramework, 2, 0, 0, 1, 0, 0, 0), "out of order"},
		{"duplicate", rawRecord(2, 1, TypePerUser, ProductFramework, 8, 1, 8, 1, 0), "duplicated"},
		{"truncated value", rawRecord(2, 1, TypePerUser, ProductFramework, 3, 1, 0), "UserNumber"},
		{"bad bool", rawRecord(2, 1, TypePerUser, ProductFramework, 8, 2, 0), "boolean byte 2"},
		{"string past end", rawRecord(2, 1, TypePerUser, ProductFramework, 128, 9, 'a', 0), "Licensee"},
		{"prefixed length past end", rawRecord(2, 1, TypePerUser, ProductFramework, 200, 9, 1, 0), "exceeds the license"},
		{"prefixed leftover", rawRecord(2, 1, TypePerUser, ProductFramework, 192, 3, 1, 'x', 'y', 0), "left over"},
		{"short GUID", rawRecord(2, 0, TypeEvaluation, ProductFramework, 10, 2, 1, 2, 0), "GUID is 2 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBinary(tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidLicense), "not an invalid license error: %v", err)
			var ile *InvalidLicenseError
			require.ErrorAs(t, err, &ile)
			assert.Contains(t, ile.Msg, tt.msg)
		})
	}
}

func TestParseBinary_PreservesUnknownMustUnderstand(t *testing.T) {
	// 70 is must-understand but length-prefixed: readable, but never valid.
	in := rawRecord(2, 1, TypePerUser, ProductFramework, 70, 2, 0xaa, 0xbb, 0)
	r, err := ParseBinary(in)
	require.NoError(t, err)
	v, ok := r.Field(70)
	require.True(t, ok)
	assert.Equal(t, RawValue{0xaa, 0xbb}, v)

	out, err := r.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSignedBytes_OmitsSignatureOnly(t *testing.T) {
	signed := mustSign(t, scenario100802(t), 0, testKey0)

	full, err := signed.MarshalBinary()
	require.NoError(t, err)
	unsigned, err := signed.signedBytes()
	require.NoError(t, err)

	sig, ok := signed.Signature()
	require.True(t, ok)
	assert.Len(t, sig, 64)
	// Field id, uvarint length and the signature itself.
	assert.Equal(t, len(full)-(1+1+len(sig)), len(unsigned))

	back, err := ParseBinary(unsigned)
	require.NoError(t, err)
	keyID, ok := back.KeyID()
	assert.True(t, ok)
	assert.Equal(t, uint8(0), keyID)
	assert.False(t, back.HasField(FieldSignature))
}
