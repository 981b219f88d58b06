package blocks

import (
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Exchange dialect
//
// The dialect is flat: <x id="..">text</x> runs, optionally grouped inside
// <a href=".." id="..">...</a>. Nothing else is recognised; any other markup
// in a provider response is treated as text.
// ---------------------------------------------------------------------------

var (
	xmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&apos;", "'", "&amp;", "&")

	// tagRe matches the opening and closing tags of the dialect.
	tagRe = regexp.MustCompile(`<(/?)(x|a)((?:\s+[a-zA-Z_:][-\w:.]*\s*=\s*"[^"]*")*)\s*(/?)>`)
	// attrRe extracts name="value" pairs from a tag.
	attrRe = regexp.MustCompile(`([a-zA-Z_:][-\w:.]*)\s*=\s*"([^"]*)"`)
	// anyTagRe is used to strip markup when computing plain text.
	anyTagRe = regexp.MustCompile(`<[^<>]*>`)
)

// EscapeXML escapes the characters that are special in the exchange dialect.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// UnescapeXML reverses EscapeXML. &#39; and &apos; are accepted as well,
// some providers emit them.
func UnescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

// PlainText strips all tags from an exchange fragment and unescapes the
// remaining text.
func PlainText(xml string) string {
	return UnescapeXML(anyTagRe.ReplaceAllString(xml, ""))
}

// Run is one text run parsed from a fragment.
type Run struct {
	// ID is the leaf id of the enclosing <x> tag. Text found outside any <x>
	// tag is returned with an empty ID.
	ID   string
	Text string

	// LinkID and Href describe the enclosing <a> tag, if any.
	LinkID string
	Href   string
}

// ParseRuns tokenizes fragment into runs in the order they appear.
// Whitespace between tags is ignored; empty runs are kept so that the
// caller sees every id the provider returned.
func ParseRuns(fragment string) []Run {
	var runs []Run
	var (
		inX     bool
		cur     Run
		linkID  string
		href    string
		textBuf strings.Builder
	)

	flushLoose := func(s string) {
		if strings.TrimSpace(s) == "" {
			return
		}
		runs = append(runs, Run{Text: UnescapeXML(s), LinkID: linkID, Href: href})
	}

	pos := 0
	for _, m := range tagRe.FindAllStringSubmatchIndex(fragment, -1) {
		between := fragment[pos:m[0]]
		pos = m[1]
		if inX {
			textBuf.WriteString(between)
		} else {
			flushLoose(between)
		}

		closing := fragment[m[2]:m[3]] == "/"
		name := fragment[m[4]:m[5]]
		selfClosing := fragment[m[8]:m[9]] == "/"
		attrs := parseAttrs(fragment[m[6]:m[7]])

		switch {
		case name == "x" && !closing:
			if inX {
				cur.Text = UnescapeXML(textBuf.String())
				runs = append(runs, cur)
			}
			textBuf.Reset()
			cur = Run{ID: attrs["id"], LinkID: linkID, Href: href}
			inX = !selfClosing
			if selfClosing {
				runs = append(runs, cur)
			}
		case name == "x" && closing:
			if inX {
				cur.Text = UnescapeXML(textBuf.String())
				runs = append(runs, cur)
				textBuf.Reset()
				inX = false
			}
		case name == "a" && !closing:
			if !selfClosing {
				linkID = attrs["id"]
				href = UnescapeXML(attrs["href"])
			}
		case name == "a" && closing:
			linkID, href = "", ""
		}
	}

	rest := fragment[pos:]
	if inX {
		textBuf.WriteString(rest)
		cur.Text = UnescapeXML(textBuf.String())
		runs = append(runs, cur)
	} else {
		flushLoose(rest)
	}
	return runs
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string, 2)
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}

// Relabel rewrites the id attributes of the <x> and <a> tags in fragment
// through mapping. It reports false when a tag carries an id that mapping
// does not know; the fragment is then returned unchanged.
func Relabel(fragment string, mapping map[string]string) (string, bool) {
	ok := true
	out := tagRe.ReplaceAllStringFunc(fragment, func(tag string) string {
		if strings.HasPrefix(tag, "</") {
			return tag
		}
		sub := tagRe.FindStringSubmatch(tag)
		attrs := parseAttrs(sub[3])
		id, has := attrs["id"]
		if !has {
			return tag
		}
		newID, known := mapping[id]
		if !known {
			ok = false
			return tag
		}
		var b strings.Builder
		b.WriteString("<" + sub[2])
		if sub[2] == "a" {
			b.WriteString(` href="` + attrs["href"] + `"`)
		}
		b.WriteString(` id="` + EscapeXML(newID) + `"`)
		if sub[4] == "/" {
			b.WriteString("/")
		}
		b.WriteString(">")
		return b.String()
	})
	if !ok {
		return fragment, false
	}
	return out, true
}

// IDs returns the id attributes of the <x> and <a> tags of fragment in
// document order.
func IDs(fragment string) []string {
	var ids []string
	for _, m := range tagRe.FindAllStringSubmatch(fragment, -1) {
		if m[1] == "/" {
			continue
		}
		if id, ok := parseAttrs(m[3])["id"]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
