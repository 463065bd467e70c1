package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rohankatakam/timemachine/internal/models"
	bolt "go.etcd.io/bbolt"
)

const responsesBucket = "responses"

// boltRecord is the stored form of a cached response
type boltRecord struct {
	ID        int64     `json:"id"`
	RepoID    int64     `json:"repo_id"`
	QueryText string    `json:"query_text"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int       `json:"hit_count"`
}

func (r *boltRecord) toModel(hash string) *models.CachedResponse {
	return &models.CachedResponse{
		ID:        r.ID,
		RepoID:    r.RepoID,
		QueryHash: hash,
		QueryText: r.QueryText,
		Response:  r.Response,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		HitCount:  r.HitCount,
	}
}

// BoltBackend keeps cached responses in an embedded bbolt file
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens or creates the bbolt file at path
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(responsesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Get reads and, on a live hit, bumps the hit count in one write transaction
func (b *BoltBackend) Get(ctx context.Context, hash string, now time.Time) (*models.CachedResponse, bool, error) {
	var entry *models.CachedResponse
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(responsesBucket))
		data := bucket.Get([]byte(hash))
		if data == nil {
			return nil
		}

		var rec boltRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode cached response: %w", err)
		}
		if !now.Before(rec.ExpiresAt) {
			return nil
		}

		rec.HitCount++
		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(hash), updated); err != nil {
			return err
		}
		entry = rec.toModel(hash)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return entry, entry != nil, nil
}

// Put inserts or overwrites the entry for entry.QueryHash
func (b *BoltBackend) Put(ctx context.Context, entry *models.CachedResponse) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(responsesBucket))

		rec := boltRecord{
			RepoID:    entry.RepoID,
			QueryText: entry.QueryText,
			Response:  entry.Response,
			CreatedAt: entry.CreatedAt.UTC(),
			ExpiresAt: entry.ExpiresAt.UTC(),
			HitCount:  1,
		}

		if data := bucket.Get([]byte(entry.QueryHash)); data != nil {
			var existing boltRecord
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("decode cached response: %w", err)
			}
			rec.ID = existing.ID
		} else {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			rec.ID = int64(seq)
		}

		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		entry.ID = rec.ID
		entry.HitCount = 1
		return bucket.Put([]byte(entry.QueryHash), data)
	})
}

// Close closes the bbolt file
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
