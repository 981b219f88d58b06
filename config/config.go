// Package config implements .jtrans.yaml project configuration.
//
// The file sets the language pair, the provider and its options, and the
// journal directories translated by a bare "jtrans translate". Command-line
// flags override every value read here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/jtrans/langmeta"
)

// FileName is the default config file name.
const FileName = ".jtrans.yaml"

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .jtrans.yaml structure.
type File struct {
	// SourceLang is the source language code (default "en").
	SourceLang string `yaml:"source_lang,omitempty"`
	// Languages is the default target language list.
	Languages []string `yaml:"languages,omitempty"`
	// Provider selects and configures the translation service.
	Provider ProviderConfig `yaml:"provider,omitempty"`
	// Prompt overrides the system prompt of chat-style providers.
	Prompt string `yaml:"prompt,omitempty"`
	// Sentinel overrides the empty-line placeholder.
	Sentinel string `yaml:"sentinel,omitempty"`
	// LineBreak overrides what empty lines become in the output.
	LineBreak string `yaml:"line_break,omitempty"`
	// Server configures "jtrans serve".
	Server ServerConfig `yaml:"server,omitempty"`
	// Targets lists the document sets to translate.
	Targets []Target `yaml:"targets,omitempty"`
}

// ProviderConfig holds provider settings. The API key is never read from
// this file; it comes from the flag, the environment or the auth store.
type ProviderConfig struct {
	ID         string `yaml:"id,omitempty"`
	Model      string `yaml:"model,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Proxy      string `yaml:"proxy,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	DataDir   string `yaml:"data_dir,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`
	LogPretty bool   `yaml:"log_pretty,omitempty"`
}

// Target describes one directory of journal documents.
type Target struct {
	// Name is a human-readable label shown in logs.
	Name string `yaml:"name"`
	// Root is the directory relative to .jtrans.yaml (default ".").
	Root string `yaml:"root,omitempty"`
	// Documents are globs relative to Root (default "*.md").
	Documents []string `yaml:"documents,omitempty"`
	// OutputDir receives <name>.<lang>.md, relative to Root (default ".").
	OutputDir string `yaml:"output_dir,omitempty"`
	// Languages overrides the global language list for this target.
	Languages []string `yaml:"languages,omitempty"`
	// SourceLang overrides the global source language.
	SourceLang string `yaml:"source_lang,omitempty"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file exists.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.SourceLang == "" {
		f.SourceLang = "en"
	}
	if f.Server.Addr == "" {
		f.Server.Addr = "127.0.0.1:8080"
	}
	if f.Server.DataDir == "" {
		f.Server.DataDir = "."
	}
	if f.Server.LogLevel == "" {
		f.Server.LogLevel = "info"
	}
}

// Load loads and validates .jtrans.yaml from the given directory.
// Returns nil if no .jtrans.yaml exists.
func Load(rootDir string) (*File, error) {
	return LoadPath(filepath.Join(rootDir, FileName))
}

// LoadPath loads and validates a config file. Returns nil if it does not
// exist.
func LoadPath(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	f.applyDefaults()

	if !langmeta.Valid(f.SourceLang) && f.SourceLang != "auto" {
		return nil, fmt.Errorf("%s: invalid source_lang %q", path, f.SourceLang)
	}
	for _, lang := range f.Languages {
		if !langmeta.Valid(lang) {
			return nil, fmt.Errorf("%s: invalid language %q", path, lang)
		}
	}
	if _, err := f.Timeout(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Provider.MaxRetries < 0 {
		return nil, fmt.Errorf("%s: provider.max_retries must not be negative", path)
	}

	for i := range f.Targets {
		t := &f.Targets[i]
		if t.Name == "" {
			return nil, fmt.Errorf("%s: target #%d has no name", path, i+1)
		}
		if t.Root == "" {
			t.Root = "."
		}
		if len(t.Documents) == 0 {
			t.Documents = []string{"*.md"}
		}
		if t.OutputDir == "" {
			t.OutputDir = "."
		}
		if len(t.Languages) == 0 {
			t.Languages = f.Languages
		}
		if t.SourceLang == "" {
			t.SourceLang = f.SourceLang
		}
		if len(t.Languages) == 0 {
			return nil, fmt.Errorf("%s: target %q has no languages", path, t.Name)
		}
		for _, lang := range t.Languages {
			if !langmeta.Valid(lang) {
				return nil, fmt.Errorf("%s: target %q: invalid language %q", path, t.Name, lang)
			}
		}
	}

	return &f, nil
}

// Timeout parses provider.timeout. Zero means the provider default.
func (f *File) Timeout() (time.Duration, error) {
	if f.Provider.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Provider.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid provider.timeout %q: %w", f.Provider.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid provider.timeout %q: negative", f.Provider.Timeout)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Resolving targets
// ---------------------------------------------------------------------------

// ResolvedTarget holds a target with absolute paths and its documents.
type ResolvedTarget struct {
	Target    Target
	AbsRoot   string
	Documents []string
}

// Resolve expands the document globs of every target. Files that are
// themselves translations (<name>.<lang>.md for a configured language) are
// skipped.
func (f *File) Resolve(projectRoot string) ([]ResolvedTarget, error) {
	absProjectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	var resolved []ResolvedTarget
	for _, t := range f.Targets {
		absRoot := filepath.Join(absProjectRoot, t.Root)
		seen := make(map[string]bool)
		var docs []string
		for _, pattern := range t.Documents {
			matches, err := filepath.Glob(filepath.Join(absRoot, pattern))
			if err != nil {
				return nil, fmt.Errorf("target %q: bad pattern %q: %w", t.Name, pattern, err)
			}
			for _, m := range matches {
				if seen[m] || isTranslation(m, f.AllLanguages()) {
					continue
				}
				if info, err := os.Stat(m); err != nil || info.IsDir() {
					continue
				}
				seen[m] = true
				docs = append(docs, m)
			}
		}
		sort.Strings(docs)
		resolved = append(resolved, ResolvedTarget{Target: t, AbsRoot: absRoot, Documents: docs})
	}
	return resolved, nil
}

// OutputPath returns where the translation of doc into lang is written.
func (rt *ResolvedTarget) OutputPath(doc, lang string) string {
	name := strings.TrimSuffix(filepath.Base(doc), filepath.Ext(doc))
	return filepath.Join(rt.AbsRoot, rt.Target.OutputDir, name+"."+lang+".md")
}

// AllLanguages returns the deduplicated union of all configured languages.
func (f *File) AllLanguages() []string {
	seen := make(map[string]bool)
	var all []string
	add := func(langs []string) {
		for _, lang := range langs {
			if !seen[lang] {
				seen[lang] = true
				all = append(all, lang)
			}
		}
	}
	add(f.Languages)
	for _, t := range f.Targets {
		add(t.Languages)
	}
	sort.Strings(all)
	return all
}

func isTranslation(path string, langs []string) bool {
	base := filepath.Base(path)
	for _, lang := range langs {
		if strings.HasSuffix(base, "."+lang+".md") {
			return true
		}
	}
	return false
}
