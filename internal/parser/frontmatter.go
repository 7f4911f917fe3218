package parser

import (
	"bytes"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/quantmind-br/docbundle/internal/domain"
)

const delimiter = "---"

// SplitFrontmatter separates a leading `---` delimited block from the body.
// Input must already use LF line endings. A document that does not start
// with the delimiter line has no frontmatter; one that opens a block but
// never closes it is malformed.
func SplitFrontmatter(text []byte) (frontmatter, body []byte, err error) {
	open := []byte(delimiter + "\n")
	if !bytes.HasPrefix(text, open) {
		return nil, text, nil
	}

	rest := text[len(open):]
	if bytes.HasPrefix(rest, open) {
		return []byte{}, rest[len(open):], nil
	}
	if bytes.Equal(rest, []byte(delimiter)) {
		return []byte{}, nil, nil
	}

	if idx := bytes.Index(rest, []byte("\n"+delimiter+"\n")); idx >= 0 {
		return rest[:idx+1], rest[idx+len(delimiter)+2:], nil
	}
	if bytes.HasSuffix(rest, []byte("\n"+delimiter)) {
		return rest[:len(rest)-len(delimiter)], nil, nil
	}

	return nil, nil, fmt.Errorf("%w: missing closing delimiter", domain.ErrMalformedFrontmatter)
}

// ParseFrontmatter decodes a YAML mapping. Empty input is an empty mapping.
// Duplicate keys, at any level, are rejected rather than overwritten.
func ParseFrontmatter(raw []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fields, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFrontmatter, err)
	}
	if len(doc.Content) == 0 {
		return fields, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return fields, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping at line %d", domain.ErrMalformedFrontmatter, root.Line)
	}

	seen := make(map[string]int, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if line, ok := seen[key.Value]; ok {
			return nil, fmt.Errorf("%w: key %q at line %d already defined at line %d",
				domain.ErrMalformedFrontmatter, key.Value, key.Line, line)
		}
		seen[key.Value] = key.Line
	}

	if err := root.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFrontmatter, err)
	}
	for k, v := range fields {
		nv, err := normalize(v, k)
		if err != nil {
			return nil, err
		}
		fields[k] = nv
	}
	return fields, nil
}

// normalize rewrites decoded YAML into values encoding/json accepts.
// Nested mappings with non-string keys get their keys stringified;
// NaN and infinities have no JSON form and are rejected.
func normalize(v any, path string) (any, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: %s is not a finite number", domain.ErrMalformedFrontmatter, path)
		}
	case map[string]any:
		for k, item := range t {
			nv, err := normalize(item, path+"."+k)
			if err != nil {
				return nil, err
			}
			t[k] = nv
		}
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			key := fmt.Sprint(k)
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("%w: key %q under %s is defined twice", domain.ErrMalformedFrontmatter, key, path)
			}
			nv, err := normalize(item, path+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = nv
		}
		return out, nil
	case []any:
		for i, item := range t {
			nv, err := normalize(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			t[i] = nv
		}
	}
	return v, nil
}
