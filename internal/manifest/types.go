package manifest

import (
	"fmt"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// Config represents a complete manifest
type Config struct {
	Bundles []Entry `yaml:"bundles" json:"bundles"`
	Options Options `yaml:"options" json:"options"`
}

// Entry names one repository and the documents to bundle from it
type Entry struct {
	Repository  string   `yaml:"repository" json:"repository"`
	Ref         string   `yaml:"ref,omitempty" json:"ref,omitempty"`
	Paths       []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	HeaderDepth int      `yaml:"header_depth,omitempty" json:"header_depth,omitempty"`
}

// Options represents global manifest options
type Options struct {
	ContinueOnError bool   `yaml:"continue_on_error" json:"continue_on_error"`
	Output          string `yaml:"output,omitempty" json:"output,omitempty"`
	Workers         int    `yaml:"workers,omitempty" json:"workers,omitempty"`
	Pretty          bool   `yaml:"pretty,omitempty" json:"pretty,omitempty"`
}

// Validate validates the manifest
func (c *Config) Validate() error {
	if len(c.Bundles) == 0 {
		return ErrNoBundles
	}
	for i, e := range c.Bundles {
		if e.Repository == "" {
			return fmt.Errorf("bundle %d: %w", i, ErrEmptyRepository)
		}
		if _, _, err := utils.SplitRepository(e.Repository); err != nil {
			return fmt.Errorf("bundle %d: %w", i, err)
		}
	}
	return nil
}

// Requests expands every entry into one request per path, in file order
func (c *Config) Requests() ([]domain.BundleRequest, error) {
	var reqs []domain.BundleRequest
	for i, e := range c.Bundles {
		owner, repo, err := utils.SplitRepository(e.Repository)
		if err != nil {
			return nil, fmt.Errorf("bundle %d: %w", i, err)
		}

		paths := e.Paths
		if len(paths) == 0 {
			paths = []string{""}
		}
		for _, p := range paths {
			reqs = append(reqs, domain.BundleRequest{
				Owner:       owner,
				Repository:  repo,
				Ref:         e.Ref,
				Path:        p,
				HeaderDepth: e.HeaderDepth,
			})
		}
	}
	return reqs, nil
}

// DefaultOptions returns options with sensible defaults
func DefaultOptions() Options {
	return Options{
		ContinueOnError: false,
		Output:          "./bundles",
		Workers:         4,
	}
}
