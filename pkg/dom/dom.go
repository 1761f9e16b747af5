// Package dom exposes marker-based lookups over a parsed document tree.
//
// A marker is the value of a stable semantic attribute (data-testid) that the
// source platform puts on elements for accessibility and testing. Lookups are
// keyed by markers, never by structural position, so any tree producer (an
// archived page or a live-rendered one) can serve the extractor.
package dom

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MarkerAttr is the attribute carrying marker values.
const MarkerAttr = "data-testid"

// Marker selects elements. An empty Element matches any element; an empty
// Value matches elements regardless of their marker attribute.
type Marker struct {
	Element string
	Value   string
}

func (m Marker) selector() string {
	sel := m.Element
	if sel == "" {
		sel = "*"
	}
	if m.Value != "" {
		sel += fmt.Sprintf(`[%s=%q]`, MarkerAttr, m.Value)
	}
	return sel
}

// Node is one element of a document tree.
type Node interface {
	// FindFirst returns the first descendant matching m in document order.
	FindFirst(m Marker) (Node, bool)
	// FindAll returns every descendant matching m in document order.
	FindAll(m Marker) []Node
	// FindByMarkerPrefix returns the first descendant whose marker value
	// starts with prefix.
	FindByMarkerPrefix(prefix string) (Node, bool)

	Children() []Node
	NextSibling() (Node, bool)
	Attr(name string) (string, bool)
	// Text is the concatenated text of the node.
	Text() string
	// Lines is the text content split on source line breaks, each line
	// trimmed, blank lines removed.
	Lines() []string
}

// Parse builds a tree from markup.
func Parse(r io.Reader) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return selection{doc.Selection}, nil
}

// ParseString builds a tree from a markup string.
func ParseString(markup string) (Node, error) {
	return Parse(strings.NewReader(markup))
}

// FromSelection adapts an existing goquery selection, e.g. one produced by a
// live-render collaborator.
func FromSelection(s *goquery.Selection) Node {
	return selection{s}
}

type selection struct {
	s *goquery.Selection
}

func (n selection) FindFirst(m Marker) (Node, bool) {
	found := n.s.Find(m.selector()).First()
	if found.Length() == 0 {
		return nil, false
	}
	return selection{found}, true
}

func (n selection) FindAll(m Marker) []Node {
	var out []Node
	n.s.Find(m.selector()).Each(func(_ int, s *goquery.Selection) {
		out = append(out, selection{s})
	})
	return out
}

func (n selection) FindByMarkerPrefix(prefix string) (Node, bool) {
	found := n.s.Find(fmt.Sprintf(`[%s^=%q]`, MarkerAttr, prefix)).First()
	if found.Length() == 0 {
		return nil, false
	}
	return selection{found}, true
}

func (n selection) Children() []Node {
	var out []Node
	n.s.Children().Each(func(_ int, s *goquery.Selection) {
		out = append(out, selection{s})
	})
	return out
}

func (n selection) NextSibling() (Node, bool) {
	next := n.s.Next()
	if next.Length() == 0 {
		return nil, false
	}
	return selection{next}, true
}

func (n selection) Attr(name string) (string, bool) {
	return n.s.Attr(name)
}

func (n selection) Text() string {
	return n.s.Text()
}

func (n selection) Lines() []string {
	var b strings.Builder
	for _, node := range n.s.Nodes {
		writeText(&b, node)
	}

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// blockElements end the current line of text.
var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true,
	"blockquote": true, "pre": true, "h1": true, "h2": true, "h3": true,
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch {
		case n.Data == "br":
			b.WriteByte('\n')
			return
		case n.Data == "script" || n.Data == "style":
			return
		case n.Data == "img":
			// Emoji are rendered as images carrying the character in alt.
			for _, a := range n.Attr {
				if a.Key == "alt" {
					b.WriteString(a.Val)
				}
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteByte('\n')
	}
}
