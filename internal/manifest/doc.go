// Package manifest loads batch files that describe many bundles to build
// in one run.
//
// Manifests can be written in YAML or JSON:
//
//	bundles:
//	  - repository: acme/docs
//	    ref: v2.0.0
//	    paths: [index, getting-started, guide/setup]
//	  - repository: acme/handbook
//	    header_depth: 2
//	options:
//	  continue_on_error: true
//	  output: ./bundles
//	  workers: 8
//
// An entry without paths builds the repository's index document.
//
// Sentinel errors:
//   - ErrNoBundles: manifest has no bundle entries
//   - ErrEmptyRepository: entry is missing the repository field
//   - ErrInvalidFormat: file is not valid YAML/JSON
//   - ErrFileNotFound: manifest file does not exist
//   - ErrUnsupportedExt: unsupported file extension
package manifest
