package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is used when a cache is created with a non-positive TTL
const DefaultTTL = time.Hour

// Backend persists cached responses addressed by query hash.
//
// Get reports a hit only when the stored entry is live at now, and bumps its
// hit count as part of the read. Put overwrites an existing entry's
// response and expiry and resets its hit count to 1.
type Backend interface {
	Get(ctx context.Context, hash string, now time.Time) (*models.CachedResponse, bool, error)
	Put(ctx context.Context, entry *models.CachedResponse) error
	Close() error
}

// Cache is the content-addressed response cache
type Cache struct {
	backend Backend
	ttl     time.Duration
	logger  *logrus.Entry
	now     func() time.Time
}

// New creates a cache over backend
func New(backend Backend, ttl time.Duration, logger *logrus.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{
		backend: backend,
		ttl:     ttl,
		logger:  logger.WithField("component", "cache"),
		now:     time.Now,
	}
}

// TTL returns the lifetime given to new entries
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Normalize lower-cases and trims query text
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Key returns the content address of a (repository, query) pair
func Key(repoID int64, query string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", repoID, Normalize(query))))
	return hex.EncodeToString(sum[:])
}

// Get looks up the cached response for a query
func (c *Cache) Get(ctx context.Context, repoID int64, query string) (*models.CachedResponse, bool, error) {
	hash := Key(repoID, query)
	entry, ok, err := c.backend.Get(ctx, hash, c.now().UTC())
	if err != nil {
		return nil, false, errors.ExternalError(err, "reading response cache")
	}

	c.logger.WithFields(logrus.Fields{
		"repo_id": repoID,
		"hash":    hash[:12],
		"hit":     ok,
	}).Debug("Cache lookup")
	return entry, ok, nil
}

// Put stores response for a query with the cache TTL
func (c *Cache) Put(ctx context.Context, repoID int64, query, response string) (*models.CachedResponse, error) {
	now := c.now().UTC()
	entry := &models.CachedResponse{
		RepoID:    repoID,
		QueryHash: Key(repoID, query),
		QueryText: strings.TrimSpace(query),
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		HitCount:  1,
	}
	if err := c.backend.Put(ctx, entry); err != nil {
		return nil, errors.ExternalError(err, "writing response cache")
	}

	c.logger.WithFields(logrus.Fields{
		"repo_id":    repoID,
		"hash":       entry.QueryHash[:12],
		"expires_at": entry.ExpiresAt,
	}).Debug("Cached response")
	return entry, nil
}

// Close releases the backend
func (c *Cache) Close() error {
	return c.backend.Close()
}

type sqlBackend struct {
	store storage.Store
}

// NewSQLBackend serves the cache from the query_cache table. Closing the
// backend leaves the store open.
func NewSQLBackend(store storage.Store) Backend {
	return &sqlBackend{store: store}
}

func (b *sqlBackend) Get(ctx context.Context, hash string, now time.Time) (*models.CachedResponse, bool, error) {
	return b.store.GetCachedResponse(ctx, hash, now)
}

func (b *sqlBackend) Put(ctx context.Context, entry *models.CachedResponse) error {
	return b.store.PutCachedResponse(ctx, entry)
}

func (b *sqlBackend) Close() error {
	return nil
}
