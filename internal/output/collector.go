package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// DefaultIndexFilename is the index written next to the bundles
const DefaultIndexFilename = "bundles.json"

// IndexEntry describes one written bundle
type IndexEntry struct {
	Owner      string           `json:"owner"`
	Repository string           `json:"repository"`
	Path       string           `json:"path"`
	File       string           `json:"file"`
	CommitSHA  string           `json:"commitSha,omitempty"`
	Source     string           `json:"source,omitempty"`
	Code       domain.ErrorCode `json:"code,omitempty"`
}

// Index is the document Flush writes
type Index struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Total       int          `json:"total"`
	Failed      int          `json:"failed"`
	Bundles     []IndexEntry `json:"bundles"`
}

// IndexCollector gathers the bundles a Writer stores. A nil or disabled
// collector ignores everything.
type IndexCollector struct {
	mu       sync.RWMutex
	entries  []IndexEntry
	baseDir  string
	filename string
	enabled  bool
}

type CollectorOptions struct {
	BaseDir  string
	Filename string
	Enabled  bool
}

func NewIndexCollector(opts CollectorOptions) *IndexCollector {
	filename := opts.Filename
	if filename == "" {
		filename = DefaultIndexFilename
	}
	return &IndexCollector{
		entries:  make([]IndexEntry, 0),
		baseDir:  opts.BaseDir,
		filename: filename,
		enabled:  opts.Enabled,
	}
}

func (c *IndexCollector) Add(b *domain.Bundle, filePath string) {
	if c == nil || !c.enabled || b == nil {
		return
	}

	relPath, err := filepath.Rel(c.baseDir, filePath)
	if err != nil {
		relPath = filePath
	}

	entry := IndexEntry{
		Owner:      b.Owner,
		Repository: b.Repository,
		Path:       b.Path,
		File:       filepath.ToSlash(relPath),
		CommitSHA:  b.Ref.CommitSHA,
		Source:     b.Source,
	}
	if b.Error != nil {
		entry.Code = b.Error.Code
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *IndexCollector) Flush() error {
	if c == nil || !c.enabled || c.Count() == 0 {
		return nil
	}

	data, err := json.MarshalIndent(c.GetIndex(), "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.baseDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.baseDir, c.filename), data, 0644)
}

func (c *IndexCollector) Count() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *IndexCollector) GetIndex() *Index {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]IndexEntry, len(c.entries))
	copy(entries, c.entries)

	failed := 0
	for _, e := range entries {
		if e.Code != "" {
			failed++
		}
	}

	return &Index{
		GeneratedAt: time.Now(),
		Total:       len(entries),
		Failed:      failed,
		Bundles:     entries,
	}
}

// Filename returns the index file name, or "" for a nil collector
func (c *IndexCollector) Filename() string {
	if c == nil {
		return ""
	}
	return c.filename
}

func (c *IndexCollector) IsEnabled() bool {
	return c != nil && c.enabled
}
