package parser

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// binarySniffLen is how many leading bytes are checked for NUL, as git does
const binarySniffLen = 8000

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeText returns data as UTF-8 with any byte-order mark removed and
// CRLF line endings normalized to LF.
//
// UTF-16 is accepted only with a BOM. Anything else must be valid UTF-8.
// Text containing NUL in its first 8000 bytes is treated as binary.
func DecodeText(data []byte) ([]byte, error) {
	utf16 := bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE)
	if !utf16 && !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid UTF-8", domain.ErrMalformedContent)
	}

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	text, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedContent, err)
	}

	if bytes.IndexByte(text[:min(len(text), binarySniffLen)], 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", domain.ErrMalformedContent)
	}

	return bytes.ReplaceAll(text, []byte("\r\n"), []byte("\n")), nil
}
