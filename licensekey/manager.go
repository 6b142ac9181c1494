package licensekey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey/licensestore"
)

// ErrNoStore is returned by Manager operations that persist registrations when
// no store is configured.
var ErrNoStore = errors.New("no license store configured")

// Manager ties the cache, the validation rules and a registration store
// together for an installed application.
type Manager struct {
	cache       *Cache
	store       licensestore.Store
	app         ValidationContext
	now         func() time.Time
	fingerprint func(uniqueID string) (string, error)
	logger      log.Interface
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCache sets the cache keys are parsed through. Its trust context decides
// which signatures are accepted.
func WithCache(c *Cache) ManagerOption {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithStore sets where registered keys are kept.
func WithStore(s licensestore.Store) ManagerOption {
	return func(m *Manager) {
		m.store = s
	}
}

// WithApplication describes the running application. Its Now field is ignored.
func WithApplication(vc ValidationContext) ManagerOption {
	return func(m *Manager) {
		m.app = vc
	}
}

// WithClock sets the clock used for validation and registration times.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithFingerprint replaces InstallationFingerprint.
func WithFingerprint(fn func(uniqueID string) (string, error)) ManagerOption {
	return func(m *Manager) {
		m.fingerprint = fn
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l log.Interface) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager. Without WithCache it uses a cache over DefaultTrust.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		now:         time.Now,
		fingerprint: InstallationFingerprint,
		logger:      log.Log,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		c, err := NewCache(DefaultTrust(), WithCacheLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.cache = c
	}
	return m, nil
}

// Registration is a stored key with the outcome of validating it.
type Registration struct {
	Entry  licensestore.Entry
	Record *Record
	Err    error
}

// Valid reports whether the registration currently grants rights.
func (r Registration) Valid() bool { return r.Err == nil }

func (m *Manager) context() ValidationContext {
	vc := m.app
	vc.Now = m.now()
	return vc
}

// Check parses and validates key. The record is returned whenever key parses.
func (m *Manager) Check(ctx context.Context, key string) (*Record, error) {
	return m.cache.ValidateContext(ctx, key, m.context())
}

// Register validates key and stores it with this installation's fingerprint.
// A key that does not validate is not stored.
func (m *Manager) Register(ctx context.Context, key string) (*Registration, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	r, err := m.Check(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("validate license: %w", err)
	}
	fp, err := m.fingerprint(r.UniqueID())
	if err != nil {
		return nil, fmt.Errorf("generate fingerprint: %w", err)
	}
	now := m.now().UTC()
	entry, err := m.store.Put(ctx, licensestore.Entry{
		UniqueID:        r.UniqueID(),
		LicenseKey:      key,
		KeyDigest:       KeyDigest(key),
		Product:         r.Product().String(),
		LicenseType:     r.Type().String(),
		Fingerprint:     fp,
		RegisteredAt:    now,
		LastValidatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("store license: %w", err)
	}
	m.logger.WithFields(log.Fields{
		"id":      r.UniqueID(),
		"key":     entry.KeyDigest,
		"product": r.Product().String(),
	}).Info("license registered")
	return &Registration{Entry: *entry, Record: r}, nil
}

// Load re-validates every stored key. A key that fails validation is reported
// in its Registration and stays stored; valid keys have their validation time
// refreshed. The error is only set when the store itself fails.
func (m *Manager) Load(ctx context.Context) ([]Registration, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	entries, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	out := make([]Registration, 0, len(entries))
	for _, e := range entries {
		r, err := m.Check(ctx, e.LicenseKey)
		reg := Registration{Entry: e, Record: r, Err: err}
		if err != nil {
			m.logger.WithField("id", e.UniqueID).WithField("key", e.KeyDigest).WithError(err).Warn("stored license no longer valid")
		} else {
			at := m.now().UTC()
			if err := m.store.Touch(ctx, e.UniqueID, at); err != nil {
				return nil, fmt.Errorf("touch license %s: %w", e.UniqueID, err)
			}
			reg.Entry.LastValidatedAt = at
		}
		out = append(out, reg)
	}
	return out, nil
}

// Unregister removes a stored key by unique id and drops it from the cache.
func (m *Manager) Unregister(ctx context.Context, uniqueID string) error {
	if m.store == nil {
		return ErrNoStore
	}
	e, err := m.store.Get(ctx, uniqueID)
	if err != nil {
		return fmt.Errorf("find license %s: %w", uniqueID, err)
	}
	if err := m.store.Delete(ctx, uniqueID); err != nil {
		return err
	}
	m.cache.Forget(e.LicenseKey)
	m.logger.WithField("id", uniqueID).Info("license unregistered")
	return nil
}

// Prune removes stored keys that have not passed validation within olderThan.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if m.store == nil {
		return 0, ErrNoStore
	}
	n, err := m.store.Prune(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune licenses: %w", err)
	}
	if n > 0 {
		m.logger.WithField("removed", n).WithField("older_than", olderThan).Info("stale licenses pruned")
	}
	return n, nil
}
