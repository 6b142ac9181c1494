// Package licensestore persists registered license keys so that an
// installation can re-validate them on start-up.
package licensestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned when no entry has the requested unique id.
var ErrNotFound = errors.New("license registration not found")

// Entry is one registered license key.
type Entry struct {
	// UniqueID is the decimal license id or the canonical GUID.
	UniqueID string `json:"unique_id" bson:"unique_id"`
	// LicenseKey is the key string exactly as registered.
	LicenseKey string `json:"license_key" bson:"license_key"`
	// KeyDigest identifies the key in logs.
	KeyDigest       string    `json:"key_digest" bson:"key_digest"`
	Product         string    `json:"product" bson:"product"`
	LicenseType     string    `json:"license_type" bson:"license_type"`
	Fingerprint     string    `json:"fingerprint" bson:"fingerprint"`
	RegisteredAt    time.Time `json:"registered_at" bson:"registered_at"`
	LastValidatedAt time.Time `json:"last_validated_at" bson:"last_validated_at"`
}

// Store keeps registered license keys, one entry per unique id.
type Store interface {
	// Put creates or replaces the entry with e.UniqueID. RegisteredAt of an
	// existing entry is kept.
	Put(ctx context.Context, e Entry) (*Entry, error)

	// Get returns the entry for uniqueID or ErrNotFound.
	Get(ctx context.Context, uniqueID string) (*Entry, error)

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, uniqueID string) error

	// List returns all entries ordered by registration time.
	List(ctx context.Context) ([]Entry, error)

	// Touch records a successful validation at the given time.
	Touch(ctx context.Context, uniqueID string, at time.Time) error

	// Prune removes entries not validated within olderThan and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}

// validIdentifier matches table and collection names that are safe to interpolate.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultName = "licensekey_registrations"

func checkIdentifier(kind, name string) error {
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("invalid %s name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", kind, name)
	}
	return nil
}

func validateEntry(e Entry) error {
	if e.UniqueID == "" {
		return errors.New("license registration has no unique id")
	}
	if e.LicenseKey == "" {
		return errors.New("license registration has no key")
	}
	return nil
}
