// Package output writes bundles to a directory tree, one JSON file per
// bundle, with an optional index of everything written.
package output

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// DefaultBaseDir is used when no output directory is given
const DefaultBaseDir = "./bundles"

// Writer handles writing bundles to the filesystem
type Writer struct {
	baseDir   string
	force     bool
	dryRun    bool
	pretty    bool
	collector *IndexCollector
}

// WriterOptions contains options for the writer
type WriterOptions struct {
	BaseDir   string
	Force     bool
	DryRun    bool
	Pretty    bool
	Collector *IndexCollector
}

// NewWriter creates a new output writer
func NewWriter(opts WriterOptions) *Writer {
	if opts.BaseDir == "" {
		opts.BaseDir = DefaultBaseDir
	}

	return &Writer{
		baseDir:   opts.BaseDir,
		force:     opts.Force,
		dryRun:    opts.DryRun,
		pretty:    opts.Pretty,
		collector: opts.Collector,
	}
}

// Write saves b and returns the file it belongs in. Existing files are
// left alone unless the writer was created with Force.
func (w *Writer) Write(ctx context.Context, b *domain.Bundle) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	file := w.GetPath(b)

	if !w.force {
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}
	}

	if w.dryRun {
		return file, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return "", err
	}

	var (
		data []byte
		err  error
	)
	if w.pretty {
		data, err = json.MarshalIndent(b, "", "  ")
	} else {
		data, err = json.Marshal(b)
	}
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(file, append(data, '\n'), 0644); err != nil {
		return "", err
	}

	w.collector.Add(b, file)
	return file, nil
}

// WriteMultiple writes bundles in order
func (w *Writer) WriteMultiple(ctx context.Context, bundles []*domain.Bundle) error {
	for _, b := range bundles {
		if _, err := w.Write(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// GetPath returns <base>/<owner>/<repository>/<path>.json. Segments are
// cleaned so a bundle can never be written outside the base directory.
func (w *Writer) GetPath(b *domain.Bundle) string {
	p := cleanRelative(b.Path)
	if p == "" {
		p = domain.DefaultPath
	}
	return filepath.Join(w.baseDir, segment(b.Owner), segment(b.Repository), filepath.FromSlash(p)+".json")
}

// Exists checks if a bundle file already exists
func (w *Writer) Exists(b *domain.Bundle) bool {
	_, err := os.Stat(w.GetPath(b))
	return err == nil
}

// EnsureBaseDir creates the base directory if it doesn't exist
func (w *Writer) EnsureBaseDir() error {
	return os.MkdirAll(w.baseDir, 0755)
}

// Stats returns the number and total size of bundle files under the base directory
func (w *Writer) Stats() (int, int64, error) {
	var count int
	var size int64

	err := filepath.Walk(w.baseDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(p) == ".json" && filepath.Base(p) != w.collector.Filename() {
			count++
			size += info.Size()
		}
		return nil
	})

	return count, size, err
}

func cleanRelative(p string) string {
	return path.Clean("/" + p)[1:]
}

func segment(s string) string {
	s = path.Base(cleanRelative(s))
	if s == "" || s == "." {
		return "_"
	}
	return s
}
