// Package langmeta resolves language codes to display metadata (native and
// English names) used in provider prompts and CLI output.
package langmeta

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes language display metadata.
type Meta struct {
	// Code is the canonical BCP 47 form of the code.
	Code string
	// Name is the language name in the language itself.
	Name string
	// English is the English name.
	English string
}

// canonicalize normalizes separators and case: "pt_br" becomes "pt-BR".
func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	if tag, err := language.Parse(normalized); err == nil {
		return tag.String()
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Canonicalize returns the canonical form of a language code.
func Canonicalize(lang string) string {
	return canonicalize(lang)
}

// Valid reports whether lang parses as a language tag.
func Valid(lang string) bool {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if lang == "" {
		return false
	}
	_, err := language.Parse(lang)
	return err == nil
}

// Base returns the primary language subtag: "pt-BR" becomes "pt".
func Base(lang string) string {
	c := canonicalize(lang)
	base, _, _ := strings.Cut(c, "-")
	return base
}

// Resolve returns best-effort metadata for a language code. Regional
// variants without a name of their own fall back to the base language;
// unknown codes are passed through as their own name.
func Resolve(lang string) Meta {
	code := canonicalize(lang)
	tag, err := language.Parse(code)
	if err != nil {
		return Meta{Code: lang, Name: lang, English: lang}
	}

	m := Meta{
		Code:    code,
		Name:    display.Self.Name(tag),
		English: display.English.Tags().Name(tag),
	}
	if m.Name == "" || m.English == "" {
		base, _ := tag.Base()
		baseTag := language.Make(base.String())
		if m.Name == "" {
			m.Name = display.Self.Name(baseTag)
		}
		if m.English == "" {
			m.English = display.English.Tags().Name(baseTag)
		}
	}
	if m.Name == "" {
		m.Name = lang
	}
	if m.English == "" {
		m.English = m.Name
	}
	return m
}

// Label returns "English (Native)", or just the English name when both
// are the same.
func Label(lang string) string {
	m := Resolve(lang)
	if m.Name == m.English {
		return m.English
	}
	return m.English + " (" + m.Name + ")"
}
