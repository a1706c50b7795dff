package files

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const urlPrefix = "url:"

// URLCache holds signed URLs in an in-memory badger store until they expire.
type URLCache struct {
	kv *badger.DB
}

// NewURLCache opens an in-memory cache.
func NewURLCache() (*URLCache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	kv, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening url cache: %w", err)
	}
	return &URLCache{kv: kv}, nil
}

// Get returns the cached URL for key.
func (c *URLCache) Get(key string) (string, bool) {
	var url string
	err := c.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(urlPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			url = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return url, true
}

// Set caches url for key until ttl elapses. TTLs shorter than a second are
// not cached since badger expires entries at second granularity.
func (c *URLCache) Set(key, url string, ttl time.Duration) error {
	if ttl < time.Second {
		return nil
	}
	return c.kv.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(urlPrefix+key), []byte(url)).WithTTL(ttl))
	})
}

// Invalidate drops the cached URL for key.
func (c *URLCache) Invalidate(key string) error {
	err := c.kv.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(urlPrefix + key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close releases the store.
func (c *URLCache) Close() error {
	return c.kv.Close()
}
