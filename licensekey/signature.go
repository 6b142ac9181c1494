package licensekey

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
)

// Sign returns a copy of r carrying keyID and an Ed25519 signature over the
// SHA-256 digest of the record written without its Signature field. Any
// existing signature is replaced. Only the issuer holds priv.
func Sign(r *Record, keyID uint8, priv ed25519.PrivateKey) (*Record, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: key length %d, expected %d", ErrPrivateKeyInvalid, len(priv), ed25519.PrivateKeySize)
	}
	out := stampCompatibility(r.without(FieldSignature)).with(FieldSignatureKeyID, ByteValue(keyID))
	digest, err := signedDigest(out)
	if err != nil {
		return nil, err
	}
	return out.with(FieldSignature, BytesValue(ed25519.Sign(priv, digest[:]))), nil
}

func signedDigest(r *Record) ([sha256.Size]byte, error) {
	b, err := r.signedBytes()
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// Signer signs records with one issuer key.
type Signer struct {
	keyID uint8
	priv  ed25519.PrivateKey
}

// NewSigner returns a signer for priv registered under keyID.
func NewSigner(keyID uint8, priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: key length %d, expected %d", ErrPrivateKeyInvalid, len(priv), ed25519.PrivateKeySize)
	}
	return &Signer{keyID: keyID, priv: priv}, nil
}

// KeyID returns the id written into signed records.
func (s *Signer) KeyID() uint8 { return s.keyID }

// PublicKey returns the verification half of the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Sign signs r.
func (s *Signer) Sign(r *Record) (*Record, error) {
	return Sign(r, s.keyID, s.priv)
}

// Verify reports whether r carries a signature this trust context accepts.
// Unsigned records of a combination exempt from signing always verify.
func (t *TrustContext) Verify(r *Record) bool {
	return t.VerifySignature(r) == nil
}

// VerifySignature is Verify with the failure cause.
func (t *TrustContext) VerifySignature(r *Record) error {
	return t.VerifySignatureContext(context.Background(), r)
}

// VerifySignatureContext is VerifySignature with a context bounding key source retries.
func (t *TrustContext) VerifySignatureContext(ctx context.Context, r *Record) error {
	if !r.checksSignature() {
		return nil
	}
	if r.sig != nil && r.sig.trust == t {
		return r.sig.err
	}
	return t.verify(ctx, r)
}

func (t *TrustContext) verify(ctx context.Context, r *Record) error {
	keyID, ok := r.KeyID()
	if !ok {
		return ErrMissingKeyID
	}
	sig, ok := r.Signature()
	if !ok || len(sig) == 0 {
		return ErrMissingSignature
	}
	pub, err := t.PublicKey(ctx, keyID)
	if err != nil {
		return err
	}
	digest, err := signedDigest(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if !ed25519.Verify(pub, digest[:], sig) {
		return fmt.Errorf("%w: key %d", ErrSignatureInvalid, keyID)
	}
	return nil
}
