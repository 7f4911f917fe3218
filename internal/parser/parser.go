// Package parser turns document bytes into a domain.ParsedDocument.
//
// Parsing is pure: the same bytes and header depth always produce the same
// document. Slugs are assigned to every heading in document order, and the
// table of contents is pruned to the header depth afterwards, so TOC anchors
// always match the ids in the rendered body.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// Ensure Parser implements domain.DocumentParser
var _ domain.DocumentParser = (*Parser)(nil)

var calloutMarker = regexp.MustCompile(`(?i)^\[!(NOTE|TIP|IMPORTANT|WARNING|CAUTION)\]$`)

// Parser is the structural parser. It is safe for concurrent use.
type Parser struct {
	md     goldmark.Markdown
	logger *utils.Logger
}

// Options contains options for creating a Parser
type Options struct {
	Logger *utils.Logger
}

// New creates a Parser with GitHub Flavored Markdown enabled
func New(opts Options) *Parser {
	return &Parser{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		logger: opts.Logger.OrNop().WithComponent("parser"),
	}
}

// ClampDepth limits a header depth to the heading levels markdown has
func ClampDepth(depth int) int {
	return max(1, min(depth, domain.MaxHeaderDepth))
}

// Parse decodes data, splits off frontmatter and walks the markdown body.
// Missing frontmatter and documents without headings are not errors.
func (p *Parser) Parse(data []byte, headerDepth int) (*domain.ParsedDocument, error) {
	decoded, err := DecodeText(data)
	if err != nil {
		return nil, err
	}

	rawFrontmatter, body, err := SplitFrontmatter(decoded)
	if err != nil {
		return nil, err
	}
	fields, err := ParseFrontmatter(rawFrontmatter)
	if err != nil {
		return nil, err
	}

	root := p.md.Parser().Parse(text.NewReader(body))

	w := &walker{
		source:     body,
		slugger:    NewSlugger(),
		codeBlocks: []domain.CodeBlock{},
		callouts:   []domain.Callout{},
	}
	if err := ast.Walk(root, w.visit); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedContent, err)
	}

	var buf bytes.Buffer
	if err := p.md.Renderer().Render(&buf, body, root); err != nil {
		return nil, fmt.Errorf("%w: render: %w", domain.ErrMalformedContent, err)
	}

	depth := ClampDepth(headerDepth)
	toc := make([]domain.Heading, 0, len(w.headings))
	for _, h := range w.headings {
		if h.Depth <= depth {
			toc = append(toc, h)
		}
	}

	p.logger.Debug().
		Int("headings", len(w.headings)).
		Int("toc", len(toc)).
		Int("code_blocks", len(w.codeBlocks)).
		Msg("Parsed document")

	return &domain.ParsedDocument{
		Frontmatter: fields,
		Headings:    toc,
		Body:        buf.String(),
		CodeBlocks:  w.codeBlocks,
		Callouts:    w.callouts,
	}, nil
}

// walker collects structure from the AST and stamps heading ids
type walker struct {
	source     []byte
	slugger    *Slugger
	headings   []domain.Heading
	codeBlocks []domain.CodeBlock
	callouts   []domain.Callout
}

func (w *walker) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	switch node := n.(type) {
	case *ast.Heading:
		title := plainText(node, w.source)
		slug := w.slugger.Slug(title)
		node.SetAttributeString("id", []byte(slug))
		w.headings = append(w.headings, domain.Heading{Depth: node.Level, Text: title, Slug: slug})
		return ast.WalkSkipChildren, nil

	case *ast.FencedCodeBlock:
		var content strings.Builder
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			content.Write(seg.Value(w.source))
		}
		w.codeBlocks = append(w.codeBlocks, domain.CodeBlock{
			Language: string(node.Language(w.source)),
			Content:  content.String(),
		})
		return ast.WalkSkipChildren, nil

	case *ast.Blockquote:
		if callout, ok := w.callout(node); ok {
			node.SetAttributeString("class", []byte("callout callout-"+strings.ToLower(callout.Kind)))
			w.callouts = append(w.callouts, callout)
		}
	}

	return ast.WalkContinue, nil
}

// callout recognizes alert blockquotes whose first line is a marker
// such as [!NOTE]
func (w *walker) callout(bq *ast.Blockquote) (domain.Callout, bool) {
	para, ok := bq.FirstChild().(*ast.Paragraph)
	if !ok || para.Lines().Len() == 0 {
		return domain.Callout{}, false
	}

	seg := para.Lines().At(0)
	first := strings.TrimSpace(string(seg.Value(w.source)))
	m := calloutMarker.FindStringSubmatch(first)
	if m == nil {
		return domain.Callout{}, false
	}

	body := plainText(bq, w.source)
	if idx := strings.Index(body, "]"); idx >= 0 {
		body = body[idx+1:]
	}
	return domain.Callout{
		Kind: strings.ToUpper(m[1]),
		Text: strings.TrimSpace(body),
	}, true
}

// plainText flattens the inline text under n. Block boundaries become
// newlines and soft breaks become spaces.
func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if c != n && c.Type() == ast.TypeBlock {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}

		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.Label(source))
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
