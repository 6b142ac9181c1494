package licensekey

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_Verify(t *testing.T) {
	trust := testTrust(t)
	signed := mustSign(t, scenario100802(t), 0, testKey0)

	keyID, ok := signed.KeyID()
	require.True(t, ok)
	assert.Equal(t, uint8(0), keyID)
	assert.True(t, trust.Verify(signed))
	assert.NoError(t, trust.VerifySignature(signed))
}

func TestSign_ReplacesSignature(t *testing.T) {
	trust := testTrust(t)
	first := mustSign(t, scenario100802(t), 0, testKey0)
	second := mustSign(t, first, 1, testKey1)

	keyID, _ := second.KeyID()
	assert.Equal(t, uint8(1), keyID)
	assert.True(t, trust.Verify(second))
	assert.Len(t, second.Fields(), len(first.Fields()))
}

func TestSign_RejectsBadKey(t *testing.T) {
	_, err := Sign(scenario100802(t), 0, ed25519.PrivateKey{1, 2, 3})
	assert.ErrorIs(t, err, ErrPrivateKeyInvalid)
	_, err = NewSigner(0, nil)
	assert.ErrorIs(t, err, ErrPrivateKeyInvalid)
}

func TestSigner(t *testing.T) {
	s, err := NewSigner(1, testKey1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), s.KeyID())
	assert.Equal(t, publicOf(testKey1), s.PublicKey())

	signed, err := s.Sign(scenario100802(t))
	require.NoError(t, err)
	assert.True(t, testTrust(t).Verify(signed))
}

// assertBitFlipsBreak flips every bit outside the signature bytes of signed
// and fails if any variant that still parses verifies.
func assertBitFlipsBreak(t *testing.T, trust *TrustContext, signed *Record) {
	t.Helper()
	wire, err := signed.MarshalBinary()
	require.NoError(t, err)
	sig, _ := signed.Signature()

	// The signature bytes sit right before the terminator.
	sigStart := len(wire) - 1 - len(sig)
	for i := 0; i < len(wire); i++ {
		if i >= sigStart && i < len(wire)-1 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), wire...)
			flipped[i] ^= 1 << bit
			r, err := ParseBinary(flipped)
			if err != nil {
				continue
			}
			if trust.Verify(r) {
				t.Fatalf("%s/%s: flipping bit %d of byte %d still verifies: %s",
					signed.Type(), signed.Product(), bit, i, r)
			}
		}
	}
}

func TestVerify_EveryBitFlipBreaksSignature(t *testing.T) {
	trust := testTrust(t)
	assertBitFlipsBreak(t, trust, mustSign(t, scenario100802(t), 0, testKey0))

	for lt := range licenseTypeNames {
		for p := range productNames {
			r, err := NewBuilder(lt, p).
				WithID(100802).
				SetValidTo(date(2025, time.January, 1)).
				Build()
			require.NoError(t, err)
			if !r.RequiresSignature() {
				continue
			}
			assertBitFlipsBreak(t, trust, mustSign(t, r, 0, testKey0))
		}
	}
}

func TestVerify_SignedExemptRecordIsChecked(t *testing.T) {
	trust := testTrust(t)
	site, err := NewBuilder(TypeSite, ProductFramework).WithID(12).Build()
	require.NoError(t, err)
	signed := mustSign(t, site, 0, testKey0)

	// Site (3) is one bit away from Evaluation (1).
	wire, err := signed.MarshalBinary()
	require.NoError(t, err)
	wire[5] ^= 0x02
	r, err := ParseBinary(wire)
	require.NoError(t, err)
	require.Equal(t, TypeEvaluation, r.Type())
	assert.ErrorIs(t, trust.VerifySignature(r), ErrSignatureInvalid)

	// An exempt record signed by a trusted issuer still verifies.
	eval, err := NewBuilder(TypeEvaluation, ProductFramework).WithID(12).Build()
	require.NoError(t, err)
	assert.True(t, trust.Verify(mustSign(t, eval, 0, testKey0)))
}

func TestVerify_TamperedSignature(t *testing.T) {
	signed := mustSign(t, scenario100802(t), 0, testKey0)
	sig, _ := signed.Signature()
	bad := append([]byte(nil), sig...)
	bad[10] ^= 0x80
	tampered := signed.with(FieldSignature, BytesValue(bad))

	err := testTrust(t).VerifySignature(tampered)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_KeyRotation(t *testing.T) {
	// Licenses signed with the old key keep verifying after the default moves on.
	old := mustSign(t, scenario100802(t), 0, testKey0)
	current := mustSign(t, scenario100802(t), 1, testKey1)
	trust := testTrust(t)
	assert.True(t, trust.Verify(old))
	assert.True(t, trust.Verify(current))

	// Dropping key 0 invalidates only what it signed.
	onlyNew, err := NewTrustContext(WithKey(1, publicOf(testKey1)), WithTrustLogger(quietLogger))
	require.NoError(t, err)
	assert.ErrorIs(t, onlyNew.VerifySignature(old), ErrUnknownKeyID)
	assert.True(t, onlyNew.Verify(current))

	// A key id pointing at the wrong key fails.
	swapped, err := NewTrustContext(WithKey(0, publicOf(testKey1)), WithTrustLogger(quietLogger))
	require.NoError(t, err)
	assert.ErrorIs(t, swapped.VerifySignature(old), ErrSignatureInvalid)
}

func TestVerify_MissingParts(t *testing.T) {
	trust := testTrust(t)
	unsigned := scenario100802(t)
	assert.ErrorIs(t, trust.VerifySignature(unsigned), ErrMissingKeyID)

	signed := mustSign(t, unsigned, 0, testKey0)
	assert.ErrorIs(t, trust.VerifySignature(signed.without(FieldSignature)), ErrMissingSignature)
	assert.False(t, trust.Verify(signed.without(FieldSignature)))
}

func TestVerify_ExemptCombinations(t *testing.T) {
	trust := testTrust(t)
	tests := []struct {
		typ     LicenseType
		product Product
	}{
		{TypeAnonymous, ProductFramework},
		{TypeEvaluation, ProductUltimate},
		{TypeCommunity, ProductFramework},
		{TypePerUser, ProductCommunity},
	}
	for _, tt := range tests {
		r, err := NewBuilder(tt.typ, tt.product).WithID(9).Build()
		require.NoError(t, err)
		assert.False(t, r.RequiresSignature(), "%s/%s", tt.typ, tt.product)
		assert.True(t, trust.Verify(r), "%s/%s", tt.typ, tt.product)
	}
	assert.True(t, scenario100802(t).RequiresSignature())
}

func TestDefaultTrust(t *testing.T) {
	assert.Equal(t, []uint8{0, 1}, DefaultTrust().KeyIDs())
	_, ok := shippedKeys[DefaultKeyID]
	assert.True(t, ok, "default key id must be shipped")

	// Nothing signed with the test keys verifies against the shipped ones.
	signed := mustSign(t, scenario100802(t), 0, testKey0)
	assert.ErrorIs(t, DefaultTrust().VerifySignature(signed), ErrSignatureInvalid)
}

func TestNewTrustContext_RejectsBadOptions(t *testing.T) {
	_, err := NewTrustContext(WithKey(0, ed25519.PublicKey{1}))
	assert.ErrorIs(t, err, ErrPublicKeyInvalid)
	_, err = NewTrustContext(WithRetry(RetryPolicy{}))
	assert.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	pub, err := ParsePublicKey(shippedKeys[0])
	require.NoError(t, err)
	assert.Len(t, pub, ed25519.PublicKeySize)

	pemBytes, err := EncodePublicKeyPEM(3, publicOf(testKey0))
	require.NoError(t, err)
	fromPEM, err := ParsePublicKey(string(pemBytes))
	require.NoError(t, err)
	assert.Equal(t, publicOf(testKey0), fromPEM)

	for _, bad := range []string{"", "!!!", "AAAA"} {
		_, err := ParsePublicKey(bad)
		assert.ErrorIs(t, err, ErrPublicKeyInvalid, "%q", bad)
	}
}

func TestPrivateKeyPEM(t *testing.T) {
	pemBytes, err := EncodePrivateKeyPEM(7, testKey1)
	require.NoError(t, err)
	id, priv, err := ParsePrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), id)
	assert.Equal(t, testKey1, priv)

	_, _, err = ParsePrivateKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, ErrPrivateKeyInvalid)
}

func TestFileKeySource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.pem")
	block5, err := EncodePublicKeyPEM(5, publicOf(otherKey))
	require.NoError(t, err)
	block6, err := EncodePublicKeyPEM(6, publicOf(testKey1))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(block5, block6...), 0o600))

	trust := testTrust(t, WithKeySource(NewFileKeySource(path)))
	assert.True(t, trust.Verify(mustSign(t, scenario100802(t), 5, otherKey)))
	assert.True(t, trust.Verify(mustSign(t, scenario100802(t), 6, testKey1)))
	assert.ErrorIs(t, trust.VerifySignature(mustSign(t, scenario100802(t), 9, otherKey)), ErrUnknownKeyID)

	missing := testTrust(t, WithKeySource(NewFileKeySource(filepath.Join(dir, "nope.pem"))))
	err = missing.VerifySignature(mustSign(t, scenario100802(t), 5, otherKey))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, IsTransient(err))
}

// flakySource fails transiently a fixed number of times before answering.
type flakySource struct {
	failures int32
	calls    atomic.Int32
	key      ed25519.PublicKey
	err      error
}

func (s *flakySource) PublicKey(_ context.Context, id uint8) (ed25519.PublicKey, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		return nil, &TransientError{Err: errors.New("key provider busy")}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.key, nil
}

func recordSleeps(delays *[]time.Duration) TrustOption {
	return withSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

var testRetry = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     15 * time.Millisecond,
	Multiplier:   2,
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	src := &flakySource{failures: 2, key: publicOf(otherKey)}
	var delays []time.Duration
	trust := testTrust(t, WithKeySource(src), WithRetry(testRetry), recordSleeps(&delays))

	assert.True(t, trust.Verify(mustSign(t, scenario100802(t), 9, otherKey)))
	assert.EqualValues(t, 3, src.calls.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, delays)
}

func TestRetry_Exhausted(t *testing.T) {
	src := &flakySource{failures: 100, key: publicOf(otherKey)}
	var delays []time.Duration
	trust := testTrust(t, WithKeySource(src), WithRetry(testRetry), recordSleeps(&delays))

	err := trust.VerifySignature(mustSign(t, scenario100802(t), 9, otherKey))
	assert.ErrorIs(t, err, ErrKeySourceExhausted)
	assert.True(t, IsTransient(err))
	assert.EqualValues(t, 3, src.calls.Load())
	assert.Len(t, delays, 2)
}

func TestRetry_NotForPermanentErrors(t *testing.T) {
	src := &flakySource{err: ErrUnknownKeyID}
	var delays []time.Duration
	trust := testTrust(t, WithKeySource(src), WithRetry(testRetry), recordSleeps(&delays))

	err := trust.VerifySignature(mustSign(t, scenario100802(t), 9, otherKey))
	assert.ErrorIs(t, err, ErrUnknownKeyID)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Empty(t, delays)
}

func TestRetry_NotForCryptographicMismatch(t *testing.T) {
	src := &flakySource{key: publicOf(testKey0)}
	var delays []time.Duration
	trust := testTrust(t, WithKeySource(src), WithRetry(testRetry), recordSleeps(&delays))

	err := trust.VerifySignature(mustSign(t, scenario100802(t), 9, otherKey))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.False(t, IsTransient(err))
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Empty(t, delays)
}

func TestRetry_ContextCanceled(t *testing.T) {
	src := &flakySource{failures: 100}
	trust := testTrust(t, WithKeySource(src), WithRetry(testRetry))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := trust.VerifySignatureContext(ctx, mustSign(t, scenario100802(t), 9, otherKey))
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	want := []time.Duration{50, 100, 200, 400, 800, 1000, 1000}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, p.delay(i+1), "attempt %d", i+1)
	}
}
