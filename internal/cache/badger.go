package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// zstd frame magic bytes
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// BadgerCache is a cache implementation using BadgerDB.
// Values are zstd-compressed unless disabled.
type BadgerCache struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	stop    chan struct{}
	once    sync.Once
}

// NewBadgerCache creates a new BadgerDB cache
func NewBadgerCache(opts Options) (*BadgerCache, error) {
	var badgerOpts badger.Options

	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Directory == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			opts.Directory = filepath.Join(homeDir, ".docbundle", "cache")
		}

		if err := os.MkdirAll(opts.Directory, 0755); err != nil {
			return nil, err
		}

		badgerOpts = badger.DefaultOptions(opts.Directory)
	}

	// Disable logging unless explicitly enabled
	if !opts.Logger {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}

	c := &BadgerCache{db: db, stop: make(chan struct{})}

	if !opts.DisableZstd {
		c.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.decoder, err = zstd.NewReader(nil)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	if !opts.InMemory {
		go c.runGC(5 * time.Minute)
	}

	return c, nil
}

// runGC reclaims value log space until the cache is closed
func (c *BadgerCache) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			_ = c.db.RunValueLogGC(0.5)
		}
	}
}

// Get retrieves a value from cache
func (c *BadgerCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrCacheMiss
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return c.decompress(value)
}

// Set stores a value in cache; a zero ttl never expires
func (c *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := c.compress(value)

	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), stored)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Has checks if a key exists in cache
func (c *BadgerCache) Has(ctx context.Context, key string) bool {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})

	return err == nil
}

// Delete removes a key from cache
func (c *BadgerCache) Delete(ctx context.Context, key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close releases cache resources
func (c *BadgerCache) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		if c.encoder != nil {
			_ = c.encoder.Close()
		}
		if c.decoder != nil {
			c.decoder.Close()
		}
		err = c.db.Close()
	})
	return err
}

// Clear removes all entries from the cache
func (c *BadgerCache) Clear() error {
	return c.db.DropAll()
}

// Size returns the number of entries in the cache
func (c *BadgerCache) Size() int64 {
	var count int64
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Stats describes the persistent cache
type Stats struct {
	Entries  int64
	LSMSize  int64
	VLogSize int64
}

// Stats returns cache statistics. Sizes are those badger last computed
// and can lag recent writes.
func (c *BadgerCache) Stats() Stats {
	lsm, vlog := c.db.Size()
	return Stats{Entries: c.Size(), LSMSize: lsm, VLogSize: vlog}
}

func (c *BadgerCache) compress(value []byte) []byte {
	if c.encoder == nil {
		return value
	}
	return c.encoder.EncodeAll(value, make([]byte, 0, len(value)/2))
}

// decompress accepts both compressed and plain values so a cache directory
// survives toggling compression.
func (c *BadgerCache) decompress(value []byte) ([]byte, error) {
	if len(value) < len(zstdMagic) || string(value[:4]) != string(zstdMagic) {
		return value, nil
	}
	decoder := c.decoder
	if decoder == nil {
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer d.Close()
		decoder = d
	}
	out, err := decoder.DecodeAll(value, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd: %w", err)
	}
	return out, nil
}
