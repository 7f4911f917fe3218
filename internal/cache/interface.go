package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// Ensure implementations satisfy domain.Cache
var (
	_ domain.Cache = (*BadgerCache)(nil)
	_ domain.Cache = (*MemoryCache)(nil)
	_ domain.Cache = (*TieredCache)(nil)
)

// Backend names
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendTiered = "tiered"
)

// Options contains cache configuration options
type Options struct {
	Backend       string
	Directory     string
	InMemory      bool
	Logger        bool
	MemoryEntries int
	DisableZstd   bool
}

// DefaultOptions returns default cache options
func DefaultOptions() Options {
	return Options{
		Backend:       BackendTiered,
		MemoryEntries: 4096,
	}
}

// New creates the cache selected by opts.Backend
func New(opts Options) (domain.Cache, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryCache(opts.MemoryEntries)
	case BackendBadger:
		return NewBadgerCache(opts)
	case BackendTiered, "":
		back, err := NewBadgerCache(opts)
		if err != nil {
			return nil, err
		}
		front, err := NewMemoryCache(opts.MemoryEntries)
		if err != nil {
			back.Close()
			return nil, err
		}
		return NewTieredCache(front, back), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// Entry is the persisted form of fetched content
type Entry struct {
	Type      domain.ContentType `json:"type"`
	Content   []byte             `json:"content,omitempty"`
	Entries   []string           `json:"entries,omitempty"`
	ETag      string             `json:"etag,omitempty"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// EncodeContent serializes content for storage
func EncodeContent(c *domain.FetchedContent) ([]byte, error) {
	return json.Marshal(Entry{
		Type:      c.Type(),
		Content:   c.Bytes(),
		Entries:   c.Entries(),
		ETag:      c.ETag(),
		FetchedAt: time.Now().UTC(),
	})
}

// DecodeContent restores content written by EncodeContent
func DecodeContent(data []byte) (*domain.FetchedContent, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}

	switch e.Type {
	case domain.ContentFile:
		return domain.NewFileContent(e.Content, e.ETag), nil
	case domain.ContentDirectory:
		return domain.NewDirectoryContent(e.Entries, e.ETag), nil
	case domain.ContentNotFound:
		return domain.NewNotFoundContent(), nil
	default:
		return nil, fmt.Errorf("decode cache entry: unknown type %q", e.Type)
	}
}
