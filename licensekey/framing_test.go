package licensekey

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey/base32"
)

func TestSerialize_KnownKey(t *testing.T) {
	r, err := NewBuilder(TypeCommunity, ProductCommunity).WithID(4242).SetLicensee("ACME").Build()
	require.NoError(t, err)
	assert.Equal(t, "4242-ALKBAAAABWEJABCBJPGWLAA", mustSerialize(t, r))
}

func TestSerialize_RoundTrip(t *testing.T) {
	signed := mustSign(t, scenario100802(t), 0, testKey0)
	key := mustSerialize(t, signed)
	require.True(t, strings.HasPrefix(key, "100802-"), key)

	back, err := Deserialize(key)
	require.NoError(t, err)
	assert.True(t, signed.Equal(back))

	again := mustSerialize(t, back)
	assert.Equal(t, key, again)
}

func TestSerializeGrouped(t *testing.T) {
	r := scenario100802(t)
	key, err := SerializeGrouped(r, 5)
	require.NoError(t, err)

	prefix, body, _ := strings.Cut(key, "-")
	assert.Equal(t, "100802", prefix)
	for _, group := range strings.Split(body, "-") {
		assert.LessOrEqual(t, len(group), 5)
	}

	back, err := Deserialize(key)
	require.NoError(t, err)
	assert.True(t, r.Equal(back))
}

func TestDeserialize_Tolerance(t *testing.T) {
	r := scenario100802(t)
	key := mustSerialize(t, r)
	prefix, body, _ := strings.Cut(key, "-")

	variants := []string{
		strings.ToLower(key),
		"  " + key + "\n",
		prefix + "-" + body[:10] + "\r\n" + body[10:],
		prefix + "-" + body[:4] + " " + body[4:8] + "." + body[8:],
		"<" + key + ">",
	}
	for _, v := range variants {
		back, err := Deserialize(v)
		require.NoError(t, err, "%q", v)
		assert.True(t, r.Equal(back), "%q", v)
	}
}

func TestDeserialize_GUIDPrefix(t *testing.T) {
	g := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	r, err := NewBuilder(TypeEvaluation, ProductFramework).WithGUID(g).Build()
	require.NoError(t, err)

	key := mustSerialize(t, r)
	prefix, _, _ := strings.Cut(key, "-")
	assert.Equal(t, base32.Encode(g[:], 0), prefix)
	assert.Len(t, prefix, 26)

	back, err := Deserialize(key)
	require.NoError(t, err)
	got, ok := back.GUID()
	require.True(t, ok)
	assert.Equal(t, g, got)
}

func TestDeserialize_FormatErrors(t *testing.T) {
	r := scenario100802(t)
	key := mustSerialize(t, r)
	_, body, _ := strings.Cut(key, "-")

	tests := map[string]string{
		"no dash":        "100802",
		"empty prefix":   "-" + body,
		"empty body":     "100802-",
		"zero id":        "0-" + body,
		"bad prefix":     "AB-" + body,
		"short GUID":     "AAAAAAAA-" + body,
		"bad body chars": "100802-" + body[:5] + "0" + body[6:],
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Deserialize(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat), "want format error, got %v", err)
		})
	}

	var bfe *base32.FormatError
	_, err := Deserialize("100802-" + body + "1")
	require.ErrorAs(t, err, &bfe)
}

func TestDeserialize_IdentityMismatch(t *testing.T) {
	numbered := scenario100802(t)
	key := mustSerialize(t, numbered)
	_, body, _ := strings.Cut(key, "-")

	g := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	guided, err := NewBuilder(TypeEvaluation, ProductFramework).WithGUID(g).Build()
	require.NoError(t, err)
	gkey := mustSerialize(t, guided)
	gprefix, gbody, _ := strings.Cut(gkey, "-")

	other := uuid.MustParse("9a1b2c3d-0000-4000-8000-000000000001")
	tests := map[string]string{
		"numeric prefix differs":  "100803-" + body,
		"numeric prefix on GUID":  "1-" + gbody,
		"GUID prefix on numbered": gprefix + "-" + body,
		"GUID prefix differs":     base32.Encode(other[:], 0) + "-" + gbody,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Deserialize(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidLicense), "want invalid license, got %v", err)
		})
	}
}

func TestSerialize_RequiresIdentity(t *testing.T) {
	r := &Record{version: CurrentVersion, licenseType: TypePerUser, product: ProductFramework}
	_, err := Serialize(r)
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestSerialize_StampsUnsignedRecords(t *testing.T) {
	r, err := NewBuilder(TypePerUser, ProductMetaprogramming).WithID(5).Build()
	require.NoError(t, err)
	stripped := r.without(FieldMinReaderVersion)
	require.False(t, stripped.HasField(FieldMinReaderVersion))

	back, err := Deserialize(mustSerialize(t, stripped))
	require.NoError(t, err)
	v, ok := back.MinReaderVersion()
	require.True(t, ok)
	assert.Equal(t, "2025.1", v)
}
