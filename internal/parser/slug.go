package parser

import (
	"strconv"
	"strings"
	"unicode"
)

// fallbackSlug is used for headings with no letters or digits
const fallbackSlug = "heading"

// Slugify lower-cases text and collapses every run of characters that are
// not letters or digits into a single "-".
func Slugify(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	pending := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}

	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

// Slugger hands out document-unique slugs. The first use of a slug is
// bare, later ones get -1, -2, ... skipping any suffix already taken.
type Slugger struct {
	used map[string]struct{}
}

// NewSlugger creates an empty Slugger
func NewSlugger() *Slugger {
	return &Slugger{used: make(map[string]struct{})}
}

// Slug returns the next unique slug for text
func (s *Slugger) Slug(text string) string {
	base := Slugify(text)
	candidate := base
	for n := 1; s.taken(candidate); n++ {
		candidate = base + "-" + strconv.Itoa(n)
	}
	s.used[candidate] = struct{}{}
	return candidate
}

func (s *Slugger) taken(slug string) bool {
	_, ok := s.used[slug]
	return ok
}
