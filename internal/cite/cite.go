// Package cite finds [S###] source citations and headings in markdown.
// Text inside code spans and code blocks is not scanned.
package cite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	mdOnce sync.Once
	md     goldmark.Markdown
)

func parser() goldmark.Markdown {
	mdOnce.Do(func() {
		md = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return md
}

// citationPattern matches [S001] and grouped forms like [S001, S014].
var citationPattern = regexp.MustCompile(`\[(S\d{3,}(?:\s*,\s*S\d{3,})*)\]`)

// Doc is what a scan extracts from one markdown document.
type Doc struct {
	// Citations are unique source IDs in order of first appearance.
	Citations []string
	Headings  []string
	// Empty is true when the document has no visible text.
	Empty bool
}

// Cites reports whether id is cited in d.
func (d Doc) Cites(id string) bool {
	for _, c := range d.Citations {
		if c == id {
			return true
		}
	}
	return false
}

// Parse scans markdown source.
func Parse(src []byte) Doc {
	doc := parser().Parser().Parse(text.NewReader(src))
	w := &walker{source: src}
	_ = ast.Walk(doc, w.walk)
	w.flushHeading()

	plain := w.buf.String()
	out := Doc{Headings: w.headings, Empty: strings.TrimSpace(plain) == ""}
	seen := map[string]bool{}
	for _, m := range citationPattern.FindAllStringSubmatch(plain, -1) {
		for _, id := range strings.Split(m[1], ",") {
			id = strings.TrimSpace(id)
			if !seen[id] {
				seen[id] = true
				out.Citations = append(out.Citations, id)
			}
		}
	}
	return out
}

// ParseFile scans a markdown file. A missing file yields an empty Doc and
// os.ErrNotExist.
func ParseFile(path string) (Doc, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Doc{Empty: true}, err
		}
		return Doc{Empty: true}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(src), nil
}

type walker struct {
	source   []byte
	buf      bytes.Buffer
	heading  *bytes.Buffer
	headings []string
}

func (w *walker) write(b []byte) {
	w.buf.Write(b)
	if w.heading != nil {
		w.heading.Write(b)
	}
}

func (w *walker) flushHeading() {
	if w.heading != nil {
		w.headings = append(w.headings, strings.TrimSpace(w.heading.String()))
		w.heading = nil
	}
}

func (w *walker) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n.Kind() {
	case ast.KindCodeSpan, ast.KindCodeBlock, ast.KindFencedCodeBlock, ast.KindHTMLBlock, ast.KindRawHTML:
		return ast.WalkSkipChildren, nil
	case ast.KindHeading:
		if entering {
			w.flushHeading()
			w.heading = &bytes.Buffer{}
		} else {
			w.flushHeading()
		}
	case ast.KindLink:
		if entering {
			w.write([]byte("["))
		} else {
			w.write([]byte("]"))
		}
	case ast.KindText:
		if entering {
			t := n.(*ast.Text)
			w.write(t.Segment.Value(w.source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				w.write([]byte(" "))
			}
		}
	case ast.KindString:
		if entering {
			w.write(n.(*ast.String).Value)
		}
	}
	if n.Type() == ast.TypeBlock && !entering {
		w.buf.WriteByte('\n')
	}
	return ast.WalkContinue, nil
}
