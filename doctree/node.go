// Package doctree implements the rich-text document model used by the
// translation engine: a tree of block nodes (paragraphs, headings, quotes,
// lists) holding inline leaves (formatted text runs and link wrappers).
//
// Every node carries a key that identifies it inside its Document. Keys are
// opaque, allocated by the document on creation and never persisted: they
// are only meaningful for the lifetime of one Document instance.
package doctree

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Node kinds and text formats
// ---------------------------------------------------------------------------

// Kind identifies the type of a node.
type Kind int

const (
	KindRoot Kind = iota
	KindParagraph
	KindHeading
	KindQuote
	KindList
	KindListItem
	KindCodeBlock
	KindHTMLBlock
	KindThematicBreak
	KindText
	KindLink
	KindImage
)

var kindNames = map[Kind]string{
	KindRoot:          "root",
	KindParagraph:     "paragraph",
	KindHeading:       "heading",
	KindQuote:         "quote",
	KindList:          "list",
	KindListItem:      "listitem",
	KindCodeBlock:     "code",
	KindHTMLBlock:     "html",
	KindThematicBreak: "hr",
	KindText:          "text",
	KindLink:          "link",
	KindImage:         "image",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Format is a bitmask of inline text styles.
type Format uint8

const (
	FormatBold Format = 1 << iota
	FormatItalic
	FormatStrikethrough
	FormatCode
)

// Has reports whether all bits of flag are set.
func (f Format) Has(flag Format) bool {
	return f&flag == flag
}

func (f Format) String() string {
	if f == 0 {
		return "plain"
	}
	var parts []string
	if f.Has(FormatBold) {
		parts = append(parts, "bold")
	}
	if f.Has(FormatItalic) {
		parts = append(parts, "italic")
	}
	if f.Has(FormatStrikethrough) {
		parts = append(parts, "strikethrough")
	}
	if f.Has(FormatCode) {
		parts = append(parts, "code")
	}
	return strings.Join(parts, "+")
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// Node is a single element or leaf of the document tree.
type Node struct {
	key      string
	kind     Kind
	doc      *Document
	parent   *Node
	children []*Node

	// Heading
	Level int
	// List
	Ordered bool
	Start   int
	Marker  byte
	// CodeBlock / HTMLBlock
	Language string
	Literal  string
	// Link / Image
	URL   string
	Title string

	// Text leaf (also the alt text of an image)
	text   string
	format Format
}

// Key returns the node identity within its document.
func (n *Node) Key() string { return n.key }

// Kind returns the node type.
func (n *Node) Kind() Kind { return n.kind }

// Parent returns the parent node, or nil for the root and detached nodes.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child nodes. The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) IsRoot() bool       { return n.kind == KindRoot }
func (n *Node) IsParagraph() bool  { return n.kind == KindParagraph }
func (n *Node) IsHeading() bool    { return n.kind == KindHeading }
func (n *Node) IsQuote() bool      { return n.kind == KindQuote }
func (n *Node) IsList() bool       { return n.kind == KindList }
func (n *Node) IsListItem() bool   { return n.kind == KindListItem }
func (n *Node) IsCodeBlock() bool  { return n.kind == KindCodeBlock }
func (n *Node) IsHTMLBlock() bool  { return n.kind == KindHTMLBlock }
func (n *Node) IsText() bool       { return n.kind == KindText }
func (n *Node) IsLink() bool       { return n.kind == KindLink }
func (n *Node) IsImage() bool      { return n.kind == KindImage }
func (n *Node) IsThematic() bool   { return n.kind == KindThematicBreak }
func (n *Node) HasChildren() bool  { return len(n.children) > 0 }
func (n *Node) IsInlineNode() bool { return n.kind == KindText || n.kind == KindLink || n.kind == KindImage }

// IsElement reports whether the node can hold children.
func (n *Node) IsElement() bool {
	switch n.kind {
	case KindText, KindImage, KindCodeBlock, KindHTMLBlock, KindThematicBreak:
		return false
	}
	return true
}

// IsBlockContainer reports whether the node is a block-level node that is
// not itself a text block (lists and the root).
func (n *Node) IsBlockContainer() bool {
	return n.kind == KindRoot || n.kind == KindList
}

// Text returns the content of a text leaf.
func (n *Node) Text() string { return n.text }

// SetText replaces the content of a text leaf.
func (n *Node) SetText(s string) { n.text = s }

// Format returns the format bitmask of a text leaf.
func (n *Node) Format() Format { return n.format }

// SetFormat replaces the format bitmask of a text leaf.
func (n *Node) SetFormat(f Format) { n.format = f }

// TextContent returns the concatenated text of the subtree. Code block and
// HTML literals are included; images contribute nothing.
func (n *Node) TextContent() string {
	var b strings.Builder
	n.writeText(&b)
	return b.String()
}

func (n *Node) writeText(b *strings.Builder) {
	switch n.kind {
	case KindText:
		b.WriteString(n.text)
		return
	case KindCodeBlock, KindHTMLBlock:
		b.WriteString(n.Literal)
		return
	}
	for _, c := range n.children {
		c.writeText(b)
	}
}

// Append attaches child as the last child of n. A child that is still
// attached elsewhere is detached first.
func (n *Node) Append(child *Node) {
	if child == nil {
		return
	}
	if child.parent != nil {
		child.parent.removeChild(child)
	}
	child.parent = n
	n.children = append(n.children, child)
	if n.doc != nil {
		n.doc.adopt(child)
	}
}

// Clear removes all children of n and drops them from the document index.
func (n *Node) Clear() {
	for _, c := range n.children {
		c.parent = nil
		if n.doc != nil {
			n.doc.forget(c)
		}
	}
	n.children = nil
}

// ClearInline removes the inline children of n and keeps nested block
// children (a sub-list inside a list item) in place after the new content.
func (n *Node) ClearInline() {
	var kept []*Node
	for _, c := range n.children {
		if c.IsInlineNode() {
			c.parent = nil
			if n.doc != nil {
				n.doc.forget(c)
			}
			continue
		}
		kept = append(kept, c)
	}
	n.children = kept
}

// InsertInline appends an inline child before any nested block children.
func (n *Node) InsertInline(child *Node) {
	i := len(n.children)
	for j, c := range n.children {
		if !c.IsInlineNode() {
			i = j
			break
		}
	}
	if child.parent != nil {
		child.parent.removeChild(child)
	}
	child.parent = n
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = child
	if n.doc != nil {
		n.doc.adopt(child)
	}
}

func (n *Node) removeChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// Walk calls fn for n and every descendant in depth-first order. When fn
// returns false the children of that node are skipped.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}
