// Package i18n translates the jtrans command-line messages.
//
// Catalogs are gettext .po files embedded under locales/ and read with
// gotext. Call Init once at startup; T and N pass strings through
// unchanged when no catalog matches the user's locale.
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

// Layout: locales/{lang}/LC_MESSAGES/jtrans.po
//
//go:embed all:locales
var locales embed.FS

const domain = "jtrans"

var po *gotext.Locale

// Init loads the catalog for lang, or for the locale of the environment
// when lang is empty.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}

	po = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// T translates msgid.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N translates a message with plural forms, following the plural rule of
// the loaded catalog.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage follows GNU gettext: LANGUAGE, LC_ALL, LC_MESSAGES, LANG.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := os.Getenv(env); val != "" {
			if env == "LANGUAGE" {
				parts := strings.SplitN(val, ":", 2)
				val = parts[0]
			}
			// ru_RU.UTF-8
			if idx := strings.IndexByte(val, '.'); idx >= 0 {
				val = val[:idx]
			}
			if val == "C" || val == "POSIX" || val == "" {
				continue
			}
			return val
		}
	}
	return "en"
}
