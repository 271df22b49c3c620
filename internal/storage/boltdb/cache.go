// Package boltdb stores fetched feed bodies together with their HTTP
// validators, so unchanged feeds can be answered with 304 Not Modified.
package boltdb

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	metaBucket = "meta"
	bodyBucket = "body"
)

// Entry is the cached state of one feed URL.
type Entry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cache is a bbolt backed feed cache. The database is opened for each
// operation so the file is never held between sync cycles.
type Cache struct {
	path string
}

// New returns a cache stored at path.
func New(path string) *Cache {
	return &Cache{path: path}
}

func (c *Cache) open() (*bolt.DB, error) {
	db, err := bolt.Open(c.path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open db %s: %w", c.path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{metaBucket, bodyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("unable to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Load returns the cached entry and body for url. ok is false when nothing
// has been stored yet.
func (c *Cache) Load(url string) (entry Entry, body []byte, ok bool, err error) {
	db, err := c.open()
	if err != nil {
		return Entry{}, nil, false, err
	}
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(metaBucket)).Get([]byte(url))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("could not decode cache entry: %w", err)
		}
		// Bytes returned by Get are only valid inside the transaction.
		body = append([]byte(nil), tx.Bucket([]byte(bodyBucket)).Get([]byte(url))...)
		ok = true
		return nil
	})
	if err != nil {
		return Entry{}, nil, false, err
	}
	return entry, body, ok, nil
}

// Save stores entry and body, replacing any previous value for entry.URL.
func (c *Cache) Save(entry Entry, body []byte) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("could not marshal cache entry: %w", err)
	}
	return db.Update(func(tx *bolt.Tx) error {
		key := []byte(entry.URL)
		if err := tx.Bucket([]byte(bodyBucket)).Put(key, body); err != nil {
			return fmt.Errorf("could not store body: %w", err)
		}
		if err := tx.Bucket([]byte(metaBucket)).Put(key, raw); err != nil {
			return fmt.Errorf("could not store cache entry: %w", err)
		}
		return nil
	})
}
