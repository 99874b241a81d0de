package directory

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrNotFound is returned by sources when no entry matches.
var ErrNotFound = errors.New("directory entry not found")

// Person is the directory entry subset the mailer needs.
type Person struct {
	UID       string `json:"uid"`
	DN        string `json:"dn"`
	Email     string `json:"email"`
	ManagerDN string `json:"manager_dn,omitempty"`
}

// Source performs uncached lookups.
type Source interface {
	PersonByUID(ctx context.Context, uid string) (Person, error)
	PersonByDN(ctx context.Context, dn string) (Person, error)
}

// Cache remembers lookups. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (Person, bool, error)
	Set(ctx context.Context, key string, p Person) error
}

// Directory resolves ids to email addresses. Lookup failures are logged and
// contribute nothing; resolution never fails a notification.
type Directory struct {
	source Source
	cache  Cache
	logger *zap.Logger
}

// New creates a Directory. cache may be nil.
func New(source Source, cache Cache, logger *zap.Logger) *Directory {
	return &Directory{source: source, cache: cache, logger: logger.Named("directory")}
}

// Emails returns the email of uid and, when withManager is set, the email of
// uid's manager.
func (d *Directory) Emails(ctx context.Context, uid string, withManager bool) []string {
	uid = strings.TrimSpace(uid)
	if d == nil || uid == "" {
		return nil
	}
	p, ok := d.lookup(ctx, "uid:"+strings.ToLower(uid), func() (Person, error) {
		return d.source.PersonByUID(ctx, uid)
	})
	if !ok {
		return nil
	}

	var out []string
	if p.Email != "" {
		out = append(out, p.Email)
	}
	if withManager && p.ManagerDN != "" {
		m, ok := d.lookup(ctx, "dn:"+strings.ToLower(p.ManagerDN), func() (Person, error) {
			return d.source.PersonByDN(ctx, p.ManagerDN)
		})
		if ok && m.Email != "" {
			out = append(out, m.Email)
		}
	}
	return out
}

func (d *Directory) lookup(ctx context.Context, key string, fetch func() (Person, error)) (Person, bool) {
	if d.cache != nil {
		p, hit, err := d.cache.Get(ctx, key)
		if err != nil {
			d.logger.Warn("Directory cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return p, true
		}
	}

	p, err := fetch()
	if errors.Is(err, ErrNotFound) {
		d.logger.Debug("No directory entry", zap.String("key", key))
		return Person{}, false
	}
	if err != nil {
		d.logger.Warn("Directory lookup failed", zap.String("key", key), zap.Error(err))
		return Person{}, false
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, p); err != nil {
			d.logger.Warn("Directory cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return p, true
}
