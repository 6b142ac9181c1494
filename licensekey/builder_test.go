package licensekey

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
		want error
	}{
		{"no identity", NewBuilder(TypePerUser, ProductFramework), ErrMissingIdentity},
		{"zero id", NewBuilder(TypePerUser, ProductFramework).WithID(0), ErrMissingIdentity},
		{"negative id", NewBuilder(TypePerUser, ProductFramework).WithID(-4), ErrMissingIdentity},
		{"nil GUID", NewBuilder(TypeEvaluation, ProductFramework).WithGUID(uuid.Nil), ErrMissingIdentity},
		{"GUID as field", NewBuilder(TypeEvaluation, ProductFramework).WithID(1).Set(FieldLicenseGUID, BytesValue(make([]byte, 16))), ErrFieldKind},
		{"wrong kind", NewBuilder(TypePerUser, ProductFramework).WithID(1).Set(FieldUserNumber, StringValue("5")), ErrFieldKind},
		{"date out of range", NewBuilder(TypePerUser, ProductFramework).WithID(1).SetValidTo(date(1990, 1, 1)), ErrFieldRange},
		{"long comment", NewBuilder(TypePerUser, ProductFramework).WithID(1).SetComment(string(make([]byte, 300))), ErrFieldRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.b.Build()
			assert.Nil(t, r)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuilder_FirstErrorWins(t *testing.T) {
	_, err := NewBuilder(TypePerUser, ProductFramework).
		WithID(0).
		Set(FieldUserNumber, StringValue("x")).
		Build()
	assert.ErrorIs(t, err, ErrMissingIdentity)
	assert.NotErrorIs(t, err, ErrFieldKind)
}

func TestBuilder_IdentitySwitch(t *testing.T) {
	g := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")

	r, err := NewBuilder(TypeEvaluation, ProductFramework).WithID(9).WithGUID(g).Build()
	require.NoError(t, err)
	_, ok := r.ID()
	assert.False(t, ok)
	assert.Equal(t, g.String(), r.UniqueID())

	r, err = NewBuilder(TypeEvaluation, ProductFramework).WithGUID(g).WithID(9).Build()
	require.NoError(t, err)
	id, ok := r.ID()
	assert.True(t, ok)
	assert.EqualValues(t, 9, id)
	assert.False(t, r.HasField(FieldLicenseGUID))
}

func TestBuilder_FieldsSortedAndCopied(t *testing.T) {
	token := []byte{1, 2, 3}
	r, err := NewBuilder(TypeSite, ProductFramework).
		WithID(2).
		SetLicensee("Contoso").
		SetPublicKeyToken(token).
		SetValidTo(date(2026, time.May, 1)).
		SetUserNumber(4).
		Unset(FieldUserNumber).
		Build()
	require.NoError(t, err)
	token[0] = 99

	var ids []FieldID
	for _, f := range r.Fields() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []FieldID{FieldValidTo, FieldPublicKeyToken, FieldLicensee}, ids)

	got, ok := r.PublicKeyToken()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestRecord_AccessorsDoNotAlias(t *testing.T) {
	raw := RawValue{0x0a, 0x0b}
	r, err := NewBuilder(TypeSite, ProductFramework).
		WithID(3).
		SetPublicKeyToken([]byte{1, 2, 3}).
		Set(200, raw).
		Build()
	require.NoError(t, err)
	raw[0] = 0xff
	r = mustSign(t, r, 0, testKey0)

	tok, ok := r.PublicKeyToken()
	require.True(t, ok)
	tok[0] = 0xff
	sig, ok := r.Signature()
	require.True(t, ok)
	sig[0] ^= 0xff
	for _, f := range r.Fields() {
		switch v := f.Value.(type) {
		case BytesValue:
			v[0] ^= 0xff
		case RawValue:
			v[0] ^= 0xff
		}
	}
	v, ok := r.Field(200)
	require.True(t, ok)
	v.(RawValue)[1] = 0xff

	tok, _ = r.PublicKeyToken()
	assert.Equal(t, []byte{1, 2, 3}, tok)
	v, _ = r.Field(200)
	assert.Equal(t, RawValue{0x0a, 0x0b}, v)
	assert.True(t, testTrust(t).Verify(r), "the signature still covers the original bytes")
}

func TestRecord_Description(t *testing.T) {
	r, err := NewBuilder(TypeCommercialRedistribution, ProductUltimate).
		WithID(77).
		SetUserNumber(10).
		SetNamespace("Contoso.Tools").
		SetValidFrom(date(2024, 1, 1)).
		SetValidTo(date(2024, 12, 31)).
		SetLicensee("Contoso").
		Build()
	require.NoError(t, err)
	assert.Equal(t,
		"Ultimate Commercial Redistribution License #77 for 10 users restricted to Contoso.Tools, valid 2024-01-01 to 2024-12-31, licensed to Contoso",
		r.Description())

	eval, err := NewEvaluation(ProductCaching, date(2024, 3, 1), 10)
	require.NoError(t, err)
	assert.Equal(t, "Caching Library Evaluation License, valid 2024-03-01 to 2024-03-11", eval.Description())
}

func TestParseLicenseTypeAndProduct(t *testing.T) {
	lt, err := ParseLicenseType("PerUser")
	require.NoError(t, err)
	assert.Equal(t, TypePerUser, lt)
	lt, err = ParseLicenseType("open source redistribution")
	require.NoError(t, err)
	assert.Equal(t, TypeOpenSourceRedistribution, lt)
	_, err = ParseLicenseType("Platinum")
	assert.Error(t, err)

	p, err := ParseProduct("diagnostics-library")
	require.NoError(t, err)
	assert.Equal(t, ProductDiagnostics, p)
	_, err = ParseProduct("")
	assert.Error(t, err)

	assert.True(t, TypeEducation.IsRetired())
	assert.False(t, TypeAcademic.IsRetired())
	assert.Equal(t, "LicenseType(60)", LicenseType(60).String())
	assert.Equal(t, "Product(99)", Product(99).String())
}
