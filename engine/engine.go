// Package engine runs the document translation pipeline: markdown import,
// block extraction, cache partition, one batched provider call, application
// of the translated fragments onto the same tree and markdown export.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/jtrans/blocks"
	"github.com/minios-linux/jtrans/doctree"
	"github.com/minios-linux/jtrans/translate"
	"github.com/minios-linux/jtrans/txcache"
)

const (
	// DefaultSentinel keeps empty positions alive through export. Text that
	// contains it literally is turned into a line break as well.
	DefaultSentinel = "jtrans:br"
	// DefaultLineBreak replaces the sentinel in the exported markdown.
	DefaultLineBreak = "<br>"
)

// Options configures an Engine.
type Options struct {
	// Sentinel is the placeholder written into empty positions.
	Sentinel string
	// LineBreak is what every sentinel becomes in the output.
	LineBreak string
	// OnLog receives diagnostics.
	OnLog func(format string, args ...any)
	// Verbose enables per-stage logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) debug(format string, args ...any) {
	if o.Verbose {
		o.log(format, args...)
	}
}

func (o *Options) sentinel() string {
	if o.Sentinel != "" {
		return o.Sentinel
	}
	return DefaultSentinel
}

func (o *Options) lineBreak() string {
	if o.LineBreak != "" {
		return o.LineBreak
	}
	return DefaultLineBreak
}

// Engine translates markdown documents block by block.
type Engine struct {
	Translator translate.Translator
	Options    Options
}

// New returns an engine that sends batches to t.
func New(t translate.Translator, opts Options) *Engine {
	return &Engine{Translator: t, Options: opts}
}

// Stats describes one Translate call.
type Stats struct {
	// Blocks is the number of translatable blocks found.
	Blocks int `json:"blocks"`
	// Empty is the number of empty positions kept as line breaks.
	Empty int `json:"empty"`
	// CacheHits is the number of blocks served from the cache.
	CacheHits int `json:"cacheHits"`
	// Translated is the number of blocks the provider returned.
	Translated int `json:"translated"`
	// Missing is the number of blocks the provider left out.
	Missing int `json:"missing"`
	// ProviderCalls is 0 or 1.
	ProviderCalls int `json:"providerCalls"`
	// Duration is the wall time of the call.
	Duration time.Duration `json:"duration"`
}

// Result is the output of Translate.
type Result struct {
	Markdown string
	Cache    *txcache.Cache
	Stats    Stats
}

// frontmatterBlock matches a YAML front matter block at the start of the file.
var frontmatterBlock = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

// splitFrontMatter separates a YAML mapping front matter block, and the
// blank lines after it, from the body. Anything that does not parse as a
// mapping is left in the body.
func splitFrontMatter(text string) (head, body string) {
	m := frontmatterBlock.FindStringSubmatchIndex(text)
	if m == nil {
		return "", text
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text[m[2]:m[3]]), &node); err != nil {
		return "", text
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return "", text
	}
	rest := text[m[1]:]
	trimmed := strings.TrimLeft(rest, "\r\n")
	return text[:m[1]] + rest[:len(rest)-len(trimmed)], trimmed
}

// Translate translates markdown from one language to another, reusing and
// extending cache.
//
// Empty input, or input without translatable text, comes back unchanged
// with an empty cache for the pair. When the provider call fails the
// original markdown and the unchanged cache are returned with the error.
// Blocks the provider leaves out keep their source text.
func (e *Engine) Translate(ctx context.Context, markdown, from, to string, cache *txcache.Cache) (*Result, error) {
	start := time.Now()
	head, body := splitFrontMatter(markdown)

	doc := doctree.ImportMarkdown(body, true)
	release, err := doc.BeginCycle()
	if err != nil {
		return &Result{Markdown: markdown, Cache: cache}, err
	}
	defer release()

	ext := blocks.Extract(doc)
	stats := Stats{Blocks: len(ext.Blocks), Empty: ext.EmptyCount()}
	e.Options.debug("document %s: %d blocks, %d empty positions", doc.ID, stats.Blocks, stats.Empty)

	if len(ext.Blocks) == 0 {
		stats.Duration = time.Since(start)
		return &Result{Markdown: markdown, Cache: txcache.New(from, to), Stats: stats}, nil
	}

	hashed := txcache.HashBlocks(ext.Blocks)
	split := txcache.Partition(hashed, cache, from, to)
	stats.CacheHits = len(split.Hits)
	if cache != nil && !cache.ValidFor(from, to) {
		e.Options.debug("cache is for %s, ignoring it for %s -> %s", cache.Summary(), from, to)
	}

	translated := map[int]string{}
	if len(split.ToTranslate) > 0 {
		pending := make([]translate.Pending, len(split.ToTranslate))
		for i, b := range split.ToTranslate {
			pending[i] = translate.Pending{Index: b.Index, XML: b.Block.XML}
		}
		gw := &translate.Gateway{Translator: e.Translator, OnLog: e.Options.OnLog}
		stats.ProviderCalls = 1
		translated, err = gw.TranslateBatch(ctx, pending, from, to)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			stats.Duration = time.Since(start)
			return &Result{Markdown: markdown, Cache: cache, Stats: stats}, fmt.Errorf("translating %d blocks: %w", len(pending), err)
		}
		stats.Translated = len(translated)
		stats.Missing = len(pending) - len(translated)
	}

	merged := txcache.Merge(cache, from, to, hashed, translated)

	fragments := make(map[int]string, len(split.Cached)+len(translated))
	for idx, frag := range split.Cached {
		fragments[idx] = frag
	}
	for idx, frag := range translated {
		fragments[idx] = frag
	}

	sentinel := e.Options.sentinel()
	applied := blocks.Apply(doc, fragments, ext, blocks.ApplyOptions{Sentinel: sentinel})
	if applied.Skipped > 0 {
		e.Options.log("%d translated blocks could not be applied and keep their source text", applied.Skipped)
	}

	out := doc.ExportMarkdown(false)
	out = strings.ReplaceAll(out, sentinel, e.Options.lineBreak())
	if strings.HasSuffix(body, "\n") && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}

	stats.Duration = time.Since(start)
	e.Options.debug("document %s: %d cached, %d translated, %d missing in %v",
		doc.ID, stats.CacheHits, stats.Translated, stats.Missing, stats.Duration)
	return &Result{Markdown: head + out, Cache: merged, Stats: stats}, nil
}

// Inspect extracts the blocks of markdown without translating anything.
func Inspect(markdown string) blocks.Extraction {
	_, body := splitFrontMatter(markdown)
	return blocks.Extract(doctree.ImportMarkdown(body, true))
}
