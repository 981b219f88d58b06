// Package txcache implements the translation cache kept next to a document.
// Translated exchange fragments are stored under the BLAKE3 hash of their
// block's plain text, so only new or changed blocks reach the provider.
//
// A cache is valid for exactly one source/target language pair.
package txcache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/minios-linux/jtrans/blocks"
)

// Suffix is appended to a document path to name its cache file.
const Suffix = ".translation.json"

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Cache maps content hashes to translated exchange fragments.
//
// Fragments are stored with block-relative ordinal ids ("0", "1", ...)
// rather than node keys, which only live as long as one document instance.
type Cache struct {
	SourceLang string            `json:"sourceLang"`
	TargetLang string            `json:"targetLang"`
	Blocks     map[string]string `json:"blocks"`

	mu sync.Mutex
}

// New returns an empty cache tagged with the language pair.
func New(from, to string) *Cache {
	return &Cache{
		SourceLang: from,
		TargetLang: to,
		Blocks:     make(map[string]string),
	}
}

// ValidFor reports whether the cache applies to the language pair.
// A nil cache is never valid.
func (c *Cache) ValidFor(from, to string) bool {
	return c != nil && c.SourceLang == from && c.TargetLang == to
}

// Lookup returns the stored fragment for a content hash.
func (c *Cache) Lookup(hash string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	frag, ok := c.Blocks[hash]
	return frag, ok
}

// Clone returns a deep copy of the cache.
func (c *Cache) Clone() *Cache {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := New(c.SourceLang, c.TargetLang)
	for k, v := range c.Blocks {
		out.Blocks[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

// Hash returns the hex BLAKE3-256 digest of s.
func Hash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// BlockWithHash is an extracted block with its cache key.
type BlockWithHash struct {
	Index     int
	Block     blocks.TranslatableBlock
	PlainText string
	Hash      string
}

// HashBlocks computes the content hash of every block.
func HashBlocks(bs []blocks.TranslatableBlock) []BlockWithHash {
	out := make([]BlockWithHash, len(bs))
	for i, b := range bs {
		plain := b.PlainText()
		out[i] = BlockWithHash{Index: i, Block: b, PlainText: plain, Hash: Hash(plain)}
	}
	return out
}

// ordinals maps the ids of a block's XML to "0", "1", ... in document
// order, and back.
func ordinals(xml string) (toOrdinal, toKey map[string]string) {
	ids := blocks.IDs(xml)
	toOrdinal = make(map[string]string, len(ids))
	toKey = make(map[string]string, len(ids))
	for i, id := range ids {
		n := strconv.Itoa(i)
		toOrdinal[id] = n
		toKey[n] = id
	}
	return toOrdinal, toKey
}

// ---------------------------------------------------------------------------
// Partition and merge
// ---------------------------------------------------------------------------

// Split is the result of Partition.
type Split struct {
	// ToTranslate holds the blocks that must go to the provider, in index order.
	ToTranslate []BlockWithHash
	// Cached maps block index to a fragment relabelled to the block's
	// current leaf ids.
	Cached map[int]string
	// Hits holds the blocks served from the cache.
	Hits []BlockWithHash
}

// Partition separates blocks into cache hits and blocks to translate.
// The cache is ignored unless it is valid for the pair. A stored fragment
// that references ids the current block does not have counts as a miss.
func Partition(bs []BlockWithHash, c *Cache, from, to string) Split {
	s := Split{Cached: make(map[int]string)}
	valid := c.ValidFor(from, to)
	for _, b := range bs {
		if valid {
			if frag, ok := c.Lookup(b.Hash); ok {
				_, toKey := ordinals(b.Block.XML)
				if relabelled, ok := blocks.Relabel(frag, toKey); ok {
					s.Cached[b.Index] = relabelled
					s.Hits = append(s.Hits, b)
					continue
				}
			}
		}
		s.ToTranslate = append(s.ToTranslate, b)
	}
	return s
}

// Merge returns the cache to persist after a translation run. Entries of
// existing are kept when it is valid for the pair and dropped otherwise.
// Translated fragments, keyed by block index, are stored under their
// block's hash with ordinal ids. Fragments carrying ids unknown to their
// block are not stored. existing is not modified.
func Merge(existing *Cache, from, to string, bs []BlockWithHash, translated map[int]string) *Cache {
	var out *Cache
	if existing.ValidFor(from, to) {
		out = existing.Clone()
	} else {
		out = New(from, to)
	}
	for _, b := range bs {
		frag, ok := translated[b.Index]
		if !ok {
			continue
		}
		toOrdinal, _ := ordinals(b.Block.XML)
		normalized, ok := blocks.Relabel(frag, toOrdinal)
		if !ok {
			continue
		}
		out.Blocks[b.Hash] = normalized
	}
	return out
}

// Prune removes entries whose hash is not in current and returns how many
// were removed.
func (c *Cache) Prune(current []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	valid := make(map[string]bool, len(current))
	for _, h := range current {
		valid[h] = true
	}
	removed := 0
	for h := range c.Blocks {
		if !valid[h] {
			delete(c.Blocks, h)
			removed++
		}
	}
	return removed
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// CachePath returns the cache file path for a document.
func CachePath(docPath string) string {
	return docPath + Suffix
}

// LoadFile reads a cache file. A missing file yields a nil cache and no
// error.
func LoadFile(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses the JSON form of a cache.
func Decode(data []byte) (*Cache, error) {
	c := &Cache{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing cache: %w", err)
	}
	if c.Blocks == nil {
		c.Blocks = make(map[string]string)
	}
	return c, nil
}

// SaveFile writes the cache as indented JSON, creating the parent
// directory when needed.
func (c *Cache) SaveFile(path string) error {
	c.mu.Lock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Len returns the number of cached fragments.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Blocks)
}

// Hashes returns the sorted content hashes in the cache.
func (c *Cache) Hashes() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.Blocks))
	for h := range c.Blocks {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Summary returns a human-readable summary string.
func (c *Cache) Summary() string {
	n := c.Len()
	if n == 0 {
		return "empty"
	}
	return fmt.Sprintf("%s -> %s, %d blocks", c.SourceLang, c.TargetLang, n)
}
