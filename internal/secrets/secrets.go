// Package secrets resolves credential fields of the configuration.
//
// Credentials may be stored in the config file as KMS ciphertext (base64) or
// as plaintext. A Cache owned by the dispatcher decrypts each field at most
// once per process and hands the plaintext to every channel that asks.
package secrets

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Decrypter turns a configured credential value into plaintext.
type Decrypter interface {
	Decrypt(ctx context.Context, field, value string) (string, error)
}

// Plaintext returns values unchanged.
type Plaintext struct{}

// Decrypt implements Decrypter.
func (Plaintext) Decrypt(_ context.Context, _, value string) (string, error) {
	return value, nil
}

type cacheEntry struct {
	once  sync.Once
	value string
	err   error
}

// Cache lazily decrypts credential fields and remembers the result.
// It is safe for concurrent use; concurrent callers for the same field
// block on a single decryption.
type Cache struct {
	decrypter Decrypter
	values    map[string]string
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCache builds a cache over the raw configured values, keyed by field name.
// A nil decrypter means plaintext.
func NewCache(d Decrypter, values map[string]string, logger *zap.Logger) *Cache {
	if d == nil {
		d = Plaintext{}
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Cache{
		decrypter: d,
		values:    copied,
		logger:    logger.Named("secrets"),
		entries:   make(map[string]*cacheEntry),
	}
}

// Get returns the plaintext of field. Unset fields return "" without error.
// A failed decryption is cached too: retrying within a run would only repeat
// the same failure against the same ciphertext.
func (c *Cache) Get(ctx context.Context, field string) (string, error) {
	raw := c.values[field]
	if raw == "" {
		return "", nil
	}

	c.mu.Lock()
	e, ok := c.entries[field]
	if !ok {
		e = &cacheEntry{}
		c.entries[field] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.value, e.err = c.decrypter.Decrypt(ctx, field, raw)
		if e.err != nil {
			c.logger.Error("Failed to decrypt credential", zap.String("field", field), zap.Error(e.err))
		}
	})
	return e.value, e.err
}

// GetUnless returns the raw value when keep reports true for it (e.g. a Slack
// token that is already a plaintext bot token), otherwise Get.
func (c *Cache) GetUnless(ctx context.Context, field string, keep func(string) bool) (string, error) {
	if raw := c.values[field]; raw != "" && keep(raw) {
		return raw, nil
	}
	return c.Get(ctx, field)
}
