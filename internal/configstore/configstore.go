// Package configstore implements the scoped configuration KV the Decision
// Engine reads thresholds from (spec.md §4.8): a Postgres-backed store with
// "vendor:{vendor_id}" then "global" scope fallback, fronted by a short-TTL,
// never-authoritative in-process cache so a hot vendor doesn't round-trip
// to the database on every request.
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/sieveerrors"
)

// GlobalScope is the fallback scope consulted when no vendor-scoped value
// exists.
const GlobalScope = "global"

// VendorScope formats the vendor-scoped key prefix spec.md §4.8 names.
func VendorScope(vendorID string) string {
	return "vendor:" + vendorID
}

// cacheTTL bounds how long a resolved value may be served from cache before
// a fresh lookup is forced; the cache is an optimization, never a system of
// record, so a short TTL is preferred over invalidation plumbing.
const cacheTTL = 30 * time.Second
const cacheSize = 4096

type cacheKey struct {
	tenantID, scope, key string
}

// Store is the Postgres-backed scoped config store.
type Store struct {
	db    *sqlx.DB
	cache *lru.LRU[cacheKey, string]
	log   *zap.Logger
}

// New constructs a Store, wiring an expirable LRU cache over db reads.
func New(db *sqlx.DB, log *zap.Logger) *Store {
	return &Store{
		db:    db,
		cache: lru.NewLRU[cacheKey, string](cacheSize, nil, cacheTTL),
		log:   log,
	}
}

// Get resolves key for tenantID, preferring scope vendor:{vendorID} and
// falling back to global. Returns sieveerrors.ErrSchemaViolation-wrapped
// errors are never returned here; absence of a value is reported via found.
func (s *Store) Get(ctx context.Context, tenantID, vendorID, key string) (value string, found bool, err error) {
	for _, scope := range []string{VendorScope(vendorID), GlobalScope} {
		if v, ok := s.cache.Get(cacheKey{tenantID, scope, key}); ok {
			return v, true, nil
		}
		v, ok, lerr := s.lookup(ctx, tenantID, scope, key)
		if lerr != nil {
			return "", false, lerr
		}
		if ok {
			s.cache.Add(cacheKey{tenantID, scope, key}, v)
			return v, true, nil
		}
	}
	return "", false, nil
}

// GetFloat resolves key as Get does, parses it as float64, and falls back
// to defaultValue when absent or unparsable.
func (s *Store) GetFloat(ctx context.Context, tenantID, vendorID, key string, defaultValue float64) (float64, error) {
	raw, found, err := s.Get(ctx, tenantID, vendorID, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return defaultValue, nil
	}
	f, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		s.log.Warn("configstore: unparsable float value, using default", zap.String("key", key), zap.String("raw", raw))
		return defaultValue, nil
	}
	return f, nil
}

func (s *Store) lookup(ctx context.Context, tenantID, scope, key string) (string, bool, error) {
	const q = `SELECT value FROM config_values WHERE tenant_id = $1 AND scope = $2 AND key = $3`
	var v string
	if err := s.db.GetContext(ctx, &v, q, tenantID, scope, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: config lookup: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	return v, true, nil
}

// Set upserts a scoped config value and invalidates its cache entry.
func (s *Store) Set(ctx context.Context, tenantID, scope, key, value string, now time.Time) error {
	const q = `
		INSERT INTO config_values (tenant_id, scope, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, scope, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, q, tenantID, scope, key, value, now); err != nil {
		return fmt.Errorf("%w: config set: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	s.cache.Remove(cacheKey{tenantID, scope, key})
	return nil
}
