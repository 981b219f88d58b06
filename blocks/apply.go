package blocks

import (
	"github.com/minios-linux/jtrans/doctree"
)

// ApplyOptions configures Apply.
type ApplyOptions struct {
	// Sentinel is written into every empty structure position so that the
	// exporter keeps it. Empty positions are left alone when it is "".
	Sentinel string
}

// ApplyStats reports what Apply did.
type ApplyStats struct {
	Applied int // blocks rebuilt from a fragment
	Skipped int // fragments that parsed to nothing or whose block is gone
	Empty   int // sentinels written
}

// Apply rebuilds the blocks of ext that have a fragment, in place on doc.
//
// Runs are laid out in fragment order; each run gets the format its id had
// at extraction time, or none for an unknown id. Runs that came back inside
// an <a> tag are wrapped in a link again. Nested blocks of a list item are
// kept. A fragment without runs, or whose block node no longer exists, is
// ignored.
func Apply(doc *doctree.Document, fragments map[int]string, ext Extraction, opts ApplyOptions) ApplyStats {
	var stats ApplyStats
	for idx, block := range ext.Blocks {
		frag, ok := fragments[idx]
		if !ok {
			continue
		}
		runs := ParseRuns(frag)
		node, found := doc.NodeByKey(block.BlockKey)
		if len(runs) == 0 || !found {
			stats.Skipped++
			continue
		}
		rebuild(doc, node, block, runs)
		stats.Applied++
	}

	if opts.Sentinel == "" {
		return stats
	}
	for _, entry := range ext.Structure {
		if entry.Kind != EntryEmpty {
			continue
		}
		n, ok := doc.NodeByKey(entry.NodeKey)
		if !ok || !n.IsElement() {
			continue
		}
		n.Clear()
		n.Append(doc.NewText(opts.Sentinel, 0))
		stats.Empty++
	}
	return stats
}

type linkAttrs struct {
	url    string
	title  string
	marker byte
}

func rebuild(doc *doctree.Document, node *doctree.Node, block TranslatableBlock, runs []Run) {
	// Link attributes are read before the old inline children are dropped.
	links := make(map[string]linkAttrs)
	for _, c := range node.Children() {
		c.Walk(func(n *doctree.Node) bool {
			if n.IsLink() {
				links[n.Key()] = linkAttrs{url: n.URL, title: n.Title, marker: n.Marker}
			}
			return true
		})
	}

	node.ClearInline()

	var (
		link   *doctree.Node
		linkID string
	)
	for _, r := range runs {
		if r.Text == "" {
			continue
		}
		leaf := doc.NewText(r.Text, block.FormatByLeaf[r.ID])
		if r.LinkID == "" {
			link = nil
			node.InsertInline(leaf)
			continue
		}
		if link == nil || linkID != r.LinkID {
			attrs, ok := links[r.LinkID]
			if !ok {
				attrs = linkAttrs{url: block.Links[r.LinkID]}
			}
			if attrs.url == "" {
				attrs.url = r.Href
			}
			link = doc.NewLink(attrs.url, attrs.title)
			link.Marker = attrs.marker
			linkID = r.LinkID
			node.InsertInline(link)
		}
		link.Append(leaf)
	}
}
