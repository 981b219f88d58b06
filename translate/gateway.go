package translate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Translator sends one exchange payload to a translation service.
type Translator interface {
	Translate(ctx context.Context, payload, from, to string) (string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, payload, from, to string) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, payload, from, to string) (string, error) {
	return f(ctx, payload, from, to)
}

// Pending is a block waiting for translation.
type Pending struct {
	// Index is the block's position in the full extraction.
	Index int
	// XML is the block's exchange fragment.
	XML string
}

var blockRe = regexp.MustCompile(`(?s)<block\s+id\s*=\s*"(\d+)"\s*>(.*?)</block>`)

// Gateway batches pending blocks into a single provider call.
type Gateway struct {
	Translator Translator
	// OnLog receives diagnostics, such as blocks missing from a response.
	OnLog func(format string, args ...any)
}

func (g *Gateway) log(format string, args ...any) {
	if g.OnLog != nil {
		g.OnLog(format, args...)
	}
}

// BuildPayload wraps each pending fragment in <block id="N">, N being the
// position within pending.
func BuildPayload(pending []Pending) string {
	var b strings.Builder
	for i, p := range pending {
		b.WriteString(`<block id="`)
		b.WriteString(strconv.Itoa(i))
		b.WriteString(`">`)
		b.WriteString(p.XML)
		b.WriteString(`</block>`)
	}
	return b.String()
}

// TranslateBatch translates all pending blocks with one provider call and
// returns the fragments keyed by Pending.Index.
//
// No call is made for an empty batch. Blocks missing from the response are
// absent from the result. A response with no <block> element at all fails
// the whole batch with ErrMalformedResponse.
func (g *Gateway) TranslateBatch(ctx context.Context, pending []Pending, from, to string) (map[int]string, error) {
	out := make(map[int]string, len(pending))
	if len(pending) == 0 {
		return out, nil
	}
	if g.Translator == nil {
		return nil, ErrNotConfigured
	}

	resp, err := g.Translator.Translate(ctx, BuildPayload(pending), from, to)
	if err != nil {
		return nil, err
	}

	matches := blockRe.FindAllStringSubmatch(resp, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no <block> elements in %q", ErrMalformedResponse, truncate(resp, 200))
	}
	for _, m := range matches {
		local, err := strconv.Atoi(m[1])
		if err != nil || local < 0 || local >= len(pending) {
			g.log("ignoring unexpected block id %q in response", m[1])
			continue
		}
		idx := pending[local].Index
		if _, dup := out[idx]; dup {
			continue
		}
		out[idx] = m[2]
	}

	if missing := len(pending) - len(out); missing > 0 {
		g.log("%d of %d blocks missing from the response; they stay untranslated", missing, len(pending))
	}
	return out, nil
}
