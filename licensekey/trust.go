package licensekey

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/apex/log"
)

// DefaultKeyID is the key the issuer currently signs with.
const DefaultKeyID uint8 = 1

// shippedKeys is the public key table compiled into every reader. Rotation
// adds entries; removing one would invalidate every license it signed.
var shippedKeys = map[uint8]string{
	0: "nnBsnm3DSrPHGvrROJWYmQbEA3GxsUQnoC4xc7BXd+w=",
	1: "x4ATKlEZ+X/By74SqlUkQyKe5pLK6+cc4fWkDrK98eY=",
}

// TrustContext is the set of issuer public keys a reader accepts, indexed by
// key id. It is immutable once constructed and safe for concurrent use.
type TrustContext struct {
	keys   map[uint8]ed25519.PublicKey
	source KeySource
	retry  RetryPolicy
	sleep  sleepFunc
	logger log.Interface
}

// TrustOption configures a TrustContext.
type TrustOption func(*TrustContext) error

// WithKey trusts pub for signatures made under id. A later WithKey for the same
// id replaces the earlier one.
func WithKey(id uint8, pub ed25519.PublicKey) TrustOption {
	return func(t *TrustContext) error {
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: key %d is %d bytes, expected %d", ErrPublicKeyInvalid, id, len(pub), ed25519.PublicKeySize)
		}
		t.keys[id] = append(ed25519.PublicKey(nil), pub...)
		return nil
	}
}

// WithShippedKeys trusts the key table compiled into this package.
func WithShippedKeys() TrustOption {
	return func(t *TrustContext) error {
		for id, b64 := range shippedKeys {
			pub, err := ParsePublicKey(b64)
			if err != nil {
				return fmt.Errorf("embedded key %d: %w", id, err)
			}
			t.keys[id] = pub
		}
		return nil
	}
}

// WithKeySource consults src for key ids not configured with WithKey.
func WithKeySource(src KeySource) TrustOption {
	return func(t *TrustContext) error {
		t.source = src
		return nil
	}
}

// WithRetry sets the policy for transient key source failures.
func WithRetry(p RetryPolicy) TrustOption {
	return func(t *TrustContext) error {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("retry policy needs at least one attempt, got %d", p.MaxAttempts)
		}
		t.retry = p
		return nil
	}
}

// WithTrustLogger sets the logger used for key resolution events.
func WithTrustLogger(l log.Interface) TrustOption {
	return func(t *TrustContext) error {
		t.logger = l
		return nil
	}
}

// withSleep replaces the backoff timer in tests.
func withSleep(fn sleepFunc) TrustOption {
	return func(t *TrustContext) error {
		t.sleep = fn
		return nil
	}
}

// NewTrustContext builds a trust context from opts. With no options it trusts nothing.
func NewTrustContext(opts ...TrustOption) (*TrustContext, error) {
	t := &TrustContext{
		keys:   make(map[uint8]ed25519.PublicKey),
		retry:  DefaultRetryPolicy(),
		sleep:  sleepContext,
		logger: log.Log,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

var defaultTrust = func() *TrustContext {
	t, err := NewTrustContext(WithShippedKeys())
	if err != nil {
		panic(err)
	}
	return t
}()

// DefaultTrust returns the trust context holding the shipped key table.
func DefaultTrust() *TrustContext { return defaultTrust }

// KeyIDs returns the statically configured key ids in ascending order.
func (t *TrustContext) KeyIDs() []uint8 {
	return slices.Sorted(maps.Keys(t.keys))
}

// PublicKey resolves id, consulting the key source with retries when the id is
// not configured statically.
func (t *TrustContext) PublicKey(ctx context.Context, id uint8) (ed25519.PublicKey, error) {
	if pub, ok := t.keys[id]; ok {
		return pub, nil
	}
	if t.source == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyID, id)
	}
	pub, attempts, err := retry(ctx, t.retry, t.sleep, func() (ed25519.PublicKey, error) {
		return t.source.PublicKey(ctx, id)
	})
	if attempts > 1 {
		t.logger.WithFields(log.Fields{"key_id": id, "attempts": attempts}).Debug("key source retried")
	}
	if err != nil {
		if IsTransient(err) || errors.Is(err, ErrKeySourceExhausted) {
			t.logger.WithField("key_id", id).WithError(err).Warn("key source unavailable")
		}
		return nil, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key %d from source is %d bytes", ErrPublicKeyInvalid, id, len(pub))
	}
	return pub, nil
}

// ParsePublicKey accepts a base64 encoded raw Ed25519 public key or a PEM
// "PUBLIC KEY" block.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-----BEGIN") {
		keys, err := parsePublicKeyPEM([]byte(s))
		if err != nil {
			return nil, err
		}
		if len(keys) != 1 {
			return nil, fmt.Errorf("%w: expected one PEM block, got %d", ErrPublicKeyInvalid, len(keys))
		}
		return keys[0].Key, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrPublicKeyInvalid, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key length %d, expected %d", ErrPublicKeyInvalid, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
