package licensekey

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
)

// KeySource resolves public keys that are not compiled in, such as keys
// provisioned on disk after a rotation. Implementations return an error
// wrapping ErrUnknownKeyID for ids they do not hold and a *TransientError for
// failures worth retrying.
type KeySource interface {
	PublicKey(ctx context.Context, id uint8) (ed25519.PublicKey, error)
}

// KeyEntry is a public key with its key id.
type KeyEntry struct {
	ID  uint8
	Key ed25519.PublicKey
}

const (
	pemPublicKey  = "PUBLIC KEY"
	pemPrivateKey = "PRIVATE KEY"
	pemKeyIDHdr   = "Key-Id"
)

// FileKeySource reads a PEM bundle of "PUBLIC KEY" blocks, each carrying a
// Key-Id header. The file is read on first use; a failed read is retried on
// the next lookup.
type FileKeySource struct {
	path string

	mu   sync.Mutex
	keys map[uint8]ed25519.PublicKey
}

// NewFileKeySource returns a source backed by path.
func NewFileKeySource(path string) *FileKeySource {
	return &FileKeySource{path: path}
}

func (s *FileKeySource) PublicKey(ctx context.Context, id uint8) (ed25519.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := s.load()
	if err != nil {
		return nil, err
	}
	pub, ok := keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d not in %s", ErrUnknownKeyID, id, s.path)
	}
	return pub, nil
}

func (s *FileKeySource) load() (map[uint8]ed25519.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys != nil {
		return s.keys, nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		err = fmt.Errorf("read key bundle: %w", err)
		if isTransientIO(err) {
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}
	entries, err := parsePublicKeyPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	keys := make(map[uint8]ed25519.PublicKey, len(entries))
	for _, e := range entries {
		keys[e.ID] = e.Key
	}
	s.keys = keys
	return keys, nil
}

// isTransientIO reports I/O failures caused by contention rather than by the
// file itself.
func isTransientIO(err error) bool {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EINTR) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

func parsePublicKeyPEM(data []byte) ([]KeyEntry, error) {
	var out []KeyEntry
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != pemPublicKey {
			continue
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublicKeyInvalid, err)
		}
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an Ed25519 key", ErrPublicKeyInvalid, pub)
		}
		id, err := pemKeyID(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublicKeyInvalid, err)
		}
		out = append(out, KeyEntry{ID: id, Key: edPub})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no %q PEM block", ErrPublicKeyInvalid, pemPublicKey)
	}
	return out, nil
}

// pemKeyID reads the Key-Id header. A block without one is key 0.
func pemKeyID(block *pem.Block) (uint8, error) {
	v, ok := block.Headers[pemKeyIDHdr]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("bad %s header %q", pemKeyIDHdr, v)
	}
	return uint8(n), nil
}

// EncodePublicKeyPEM returns a PEM block suitable for a FileKeySource bundle.
func EncodePublicKeyPEM(id uint8, pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublicKeyInvalid, err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:    pemPublicKey,
		Headers: map[string]string{pemKeyIDHdr: strconv.Itoa(int(id))},
		Bytes:   der,
	}), nil
}

// EncodePrivateKeyPEM returns a PKCS #8 PEM block carrying the key id.
func EncodePrivateKeyPEM(id uint8, priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrivateKeyInvalid, err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:    pemPrivateKey,
		Headers: map[string]string{pemKeyIDHdr: strconv.Itoa(int(id))},
		Bytes:   der,
	}), nil
}

// ParsePrivateKeyPEM reads a PKCS #8 Ed25519 private key and its key id.
func ParsePrivateKeyPEM(data []byte) (uint8, ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPrivateKey {
		return 0, nil, fmt.Errorf("%w: no %q PEM block", ErrPrivateKeyInvalid, pemPrivateKey)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrPrivateKeyInvalid, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %T is not an Ed25519 key", ErrPrivateKeyInvalid, key)
	}
	id, err := pemKeyID(block)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrPrivateKeyInvalid, err)
	}
	return id, priv, nil
}
