package doctree

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrCycleInProgress is returned by BeginCycle when the document is already
// claimed by another extract/apply cycle.
var ErrCycleInProgress = errors.New("document is already in a translation cycle")

// Document owns a node tree and the key index used to address its nodes.
//
// A Document is not safe for concurrent use. BeginCycle lets a caller claim
// it for the duration of one extract/apply cycle.
type Document struct {
	// ID is a random instance identifier, useful to correlate log lines.
	ID string

	root  *Node
	nodes map[string]*Node
	next  uint64
	busy  atomic.Bool
}

// New returns an empty document with a fresh root.
func New() *Document {
	d := &Document{
		ID:    uuid.NewString(),
		nodes: make(map[string]*Node),
	}
	d.root = d.newNode(KindRoot)
	return d
}

// Root returns the root node.
func (d *Document) Root() *Node { return d.root }

// NodeByKey looks up a live node by its key.
func (d *Document) NodeByKey(key string) (*Node, bool) {
	n, ok := d.nodes[key]
	return n, ok
}

// Len returns the number of live nodes, root included.
func (d *Document) Len() int { return len(d.nodes) }

// BeginCycle claims the document for one extract/apply cycle. The returned
// function releases the claim.
func (d *Document) BeginCycle() (func(), error) {
	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	return func() { d.busy.Store(false) }, nil
}

// ---------------------------------------------------------------------------
// Node construction
// ---------------------------------------------------------------------------

func (d *Document) newNode(kind Kind) *Node {
	d.next++
	n := &Node{
		key:  strconv.FormatUint(d.next, 36),
		kind: kind,
		doc:  d,
	}
	d.nodes[n.key] = n
	return n
}

// NewParagraph creates a detached paragraph.
func (d *Document) NewParagraph() *Node { return d.newNode(KindParagraph) }

// NewHeading creates a detached heading of the given level (1-6).
func (d *Document) NewHeading(level int) *Node {
	n := d.newNode(KindHeading)
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	n.Level = level
	return n
}

// NewQuote creates a detached quote block.
func (d *Document) NewQuote() *Node { return d.newNode(KindQuote) }

// NewList creates a detached list. marker is the bullet character for
// unordered lists or the delimiter ('.' or ')') for ordered ones.
func (d *Document) NewList(ordered bool, start int, marker byte) *Node {
	n := d.newNode(KindList)
	n.Ordered = ordered
	n.Start = start
	n.Marker = marker
	return n
}

// NewListItem creates a detached list item.
func (d *Document) NewListItem() *Node { return d.newNode(KindListItem) }

// NewCodeBlock creates a detached fenced code block.
func (d *Document) NewCodeBlock(language, literal string) *Node {
	n := d.newNode(KindCodeBlock)
	n.Language = language
	n.Literal = literal
	return n
}

// NewHTMLBlock creates a detached raw HTML block.
func (d *Document) NewHTMLBlock(literal string) *Node {
	n := d.newNode(KindHTMLBlock)
	n.Literal = literal
	return n
}

// NewThematicBreak creates a detached horizontal rule.
func (d *Document) NewThematicBreak() *Node { return d.newNode(KindThematicBreak) }

// NewText creates a detached text leaf.
func (d *Document) NewText(text string, format Format) *Node {
	n := d.newNode(KindText)
	n.text = text
	n.format = format
	return n
}

// NewLink creates a detached link wrapper.
func (d *Document) NewLink(url, title string) *Node {
	n := d.newNode(KindLink)
	n.URL = url
	n.Title = title
	return n
}

// NewImage creates a detached image leaf.
func (d *Document) NewImage(src, alt, title string) *Node {
	n := d.newNode(KindImage)
	n.URL = src
	n.Title = title
	n.text = alt
	return n
}

// adopt (re)indexes a subtree that was attached to a node of d.
func (d *Document) adopt(n *Node) {
	n.Walk(func(c *Node) bool {
		if c.doc != nil && c.doc != d {
			// Nodes keep their key; a clash with a live key gets a new one.
			if _, taken := d.nodes[c.key]; taken {
				d.next++
				c.key = strconv.FormatUint(d.next, 36)
			}
		}
		c.doc = d
		d.nodes[c.key] = c
		return true
	})
}

// forget drops a detached subtree from the key index.
func (d *Document) forget(n *Node) {
	n.Walk(func(c *Node) bool {
		if cur, ok := d.nodes[c.key]; ok && cur == c {
			delete(d.nodes, c.key)
		}
		return true
	})
}
