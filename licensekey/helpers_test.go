package licensekey

import (
	"bytes"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
)

var (
	testKey0 = ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x01}, ed25519.SeedSize))
	testKey1 = ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x02}, ed25519.SeedSize))
	otherKey = ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x03}, ed25519.SeedSize))
)

var quietLogger = &log.Logger{Handler: discard.Default, Level: log.DebugLevel}

func publicOf(k ed25519.PrivateKey) ed25519.PublicKey {
	return k.Public().(ed25519.PublicKey)
}

// testTrust trusts testKey0 as id 0 and testKey1 as id 1.
func testTrust(t *testing.T, opts ...TrustOption) *TrustContext {
	t.Helper()
	opts = append([]TrustOption{
		WithKey(0, publicOf(testKey0)),
		WithKey(1, publicOf(testKey1)),
		WithTrustLogger(quietLogger),
	}, opts...)
	tc, err := NewTrustContext(opts...)
	if err != nil {
		t.Fatalf("NewTrustContext: %v", err)
	}
	return tc
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// scenario100802 is the numbered Per User license used across tests.
func scenario100802(t *testing.T) *Record {
	t.Helper()
	r, err := NewBuilder(TypePerUser, ProductFramework).
		WithID(100802).
		SetValidFrom(date(2024, time.January, 1)).
		SetValidTo(date(2025, time.January, 1)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return r
}

func mustSign(t *testing.T, r *Record, keyID uint8, priv ed25519.PrivateKey) *Record {
	t.Helper()
	signed, err := Sign(r, keyID, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return signed
}

func mustSerialize(t *testing.T, r *Record) string {
	t.Helper()
	key, err := Serialize(r)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return key
}
