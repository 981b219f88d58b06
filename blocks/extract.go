// Package blocks splits a document tree into translatable blocks serialized
// in the identity-tagged exchange dialect, and applies translated fragments
// back onto the same tree.
package blocks

import (
	"strings"

	"github.com/minios-linux/jtrans/doctree"
)

// EntryKind tells whether a structure position held content or was empty.
type EntryKind int

const (
	EntryContent EntryKind = iota
	EntryEmpty
)

func (k EntryKind) String() string {
	if k == EntryEmpty {
		return "empty"
	}
	return "content"
}

// StructureEntry records one position visited by the extractor.
type StructureEntry struct {
	Kind EntryKind
	// BlockIndex is the index into Extraction.Blocks, -1 for empty entries.
	BlockIndex int
	// NodeKey is the key of the block node (content) or of the empty
	// paragraph (empty).
	NodeKey string
}

// TranslatableBlock is one block of inline content in exchange form.
type TranslatableBlock struct {
	BlockKey     string
	XML          string
	FormatByLeaf map[string]doctree.Format
	LeafOrder    []string
	// Links maps link wrapper keys to their URL.
	Links map[string]string
}

// PlainText returns the tag-stripped text of the block.
func (b TranslatableBlock) PlainText() string {
	return PlainText(b.XML)
}

// Extraction is the result of Extract.
type Extraction struct {
	Blocks    []TranslatableBlock
	Structure []StructureEntry
}

// EmptyCount returns the number of empty structure entries.
func (e Extraction) EmptyCount() int {
	n := 0
	for _, s := range e.Structure {
		if s.Kind == EntryEmpty {
			n++
		}
	}
	return n
}

// Extract walks doc depth-first and collects its translatable blocks.
//
// Code and HTML blocks are skipped with their subtree. A paragraph with no
// text is recorded as an empty structure entry. Paragraphs, headings,
// quotes and list items are block boundaries; lists and the root are
// walked through. Block nodes nested in a list item (sub-lists) are not
// part of the item's block and are visited after it.
func Extract(doc *doctree.Document) Extraction {
	var ext Extraction
	var walk func(n *doctree.Node)
	walk = func(n *doctree.Node) {
		switch {
		case n.IsCodeBlock(), n.IsHTMLBlock(), n.IsThematic():
			return

		case n.IsParagraph() && strings.TrimSpace(n.TextContent()) == "":
			if hasImage(n) {
				// Only an image: nothing to translate, nothing to restore.
				return
			}
			ext.Structure = append(ext.Structure, StructureEntry{
				Kind:       EntryEmpty,
				BlockIndex: -1,
				NodeKey:    n.Key(),
			})
			return

		case isBoundary(n):
			if b, ok := serializeBlock(n); ok {
				ext.Structure = append(ext.Structure, StructureEntry{
					Kind:       EntryContent,
					BlockIndex: len(ext.Blocks),
					NodeKey:    n.Key(),
				})
				ext.Blocks = append(ext.Blocks, b)
			}
			for _, c := range n.Children() {
				if !c.IsInlineNode() {
					walk(c)
				}
			}
			return
		}

		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(doc.Root())
	return ext
}

func isBoundary(n *doctree.Node) bool {
	return n.IsParagraph() || n.IsHeading() || n.IsQuote() || n.IsListItem()
}

func hasImage(n *doctree.Node) bool {
	found := false
	n.Walk(func(c *doctree.Node) bool {
		if c.IsImage() {
			found = true
		}
		return !found
	})
	return found
}

// serializeBlock renders the inline children of n. It reports false when
// the block has no leaves or only whitespace text.
func serializeBlock(n *doctree.Node) (TranslatableBlock, bool) {
	b := TranslatableBlock{
		BlockKey:     n.Key(),
		FormatByLeaf: make(map[string]doctree.Format),
		Links:        make(map[string]string),
	}
	var buf strings.Builder

	var ser func(c *doctree.Node)
	ser = func(c *doctree.Node) {
		switch {
		case c.IsText():
			buf.WriteString(`<x id="` + c.Key() + `">`)
			buf.WriteString(EscapeXML(c.Text()))
			buf.WriteString(`</x>`)
			b.FormatByLeaf[c.Key()] = c.Format()
			b.LeafOrder = append(b.LeafOrder, c.Key())
		case c.IsLink():
			buf.WriteString(`<a href="` + EscapeXML(c.URL) + `" id="` + c.Key() + `">`)
			for _, g := range c.Children() {
				ser(g)
			}
			buf.WriteString(`</a>`)
			b.Links[c.Key()] = c.URL
		case c.IsElement():
			for _, g := range c.Children() {
				ser(g)
			}
		}
	}
	for _, c := range n.Children() {
		if c.IsInlineNode() {
			ser(c)
		}
	}

	b.XML = buf.String()
	if b.XML == "" || len(b.LeafOrder) == 0 || strings.TrimSpace(PlainText(b.XML)) == "" {
		return TranslatableBlock{}, false
	}
	return b, true
}
