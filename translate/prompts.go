package translate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minios-linux/jtrans/langmeta"
	"github.com/minios-linux/jtrans/settings"
)

// ---------------------------------------------------------------------------
// System prompts
// ---------------------------------------------------------------------------

// DefaultSystemPrompt instructs chat-style providers to translate the
// exchange dialect without touching its markup.
const DefaultSystemPrompt = `You are a professional translator. Translate the user's text from {{sourceLang}} to {{targetLang}}.

The text is a personal journal written in a small XML dialect:
- <block id="N">...</block> wraps one paragraph, heading, quote or list item.
- <x id="K">...</x> wraps one run of text that has its own formatting.
- <a href="URL" id="K">...</a> wraps a link.

RULES:
- Translate only the text between tags.
- Keep every tag and every id attribute exactly as given. Never add, drop, merge or rename tags.
- You may reorder <x> runs inside a block when {{targetLang}} needs a different word order.
- Keep the <block> elements in their order and never move text from one block to another.
- Keep the entities &amp; &lt; &gt; &quot; escaped.
- Keep the personal, informal tone of a diary.
- Output only the translated XML. No explanations, no code fences.`

// PromptsConfig holds the system prompts loaded from prompts.json.
type PromptsConfig struct {
	Prompts map[string]string `json:"prompts"`
}

func defaultPromptsMap() map[string]string {
	return map[string]string{
		"default": DefaultSystemPrompt,
	}
}

// Get returns the named prompt, falling back to the built-in default.
func (c *PromptsConfig) Get(name string) string {
	if name == "" {
		name = "default"
	}
	if c != nil {
		if p, ok := c.Prompts[name]; ok && p != "" {
			return p
		}
	}
	return DefaultSystemPrompt
}

// LoadPromptsFromFile loads system prompts from a JSON file. A missing
// file yields a nil config and no error.
func LoadPromptsFromFile(path string) (*PromptsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var config PromptsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	return &config, nil
}

// createDefaultPromptsFile writes the built-in prompts to path.
func createDefaultPromptsFile(path string) error {
	data, err := json.MarshalIndent(PromptsConfig{Prompts: defaultPromptsMap()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default prompts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating prompts directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing default prompts file: %w", err)
	}
	return nil
}

// LoadPromptsFromDefaultLocations loads prompts.json from the settings
// directory, creating it with the built-in prompts when it does not exist.
// It returns the config and the path it was loaded from.
func LoadPromptsFromDefaultLocations() (*PromptsConfig, string, error) {
	path, err := settings.PromptsFilePath()
	if err != nil {
		return nil, "", fmt.Errorf("cannot determine prompts file path: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefaultPromptsFile(path); err != nil {
			return nil, "", fmt.Errorf("creating default prompts file: %w", err)
		}
	}
	cfg, err := LoadPromptsFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// ResolvePrompt substitutes {{sourceLang}} and {{targetLang}} with English
// language names.
func ResolvePrompt(prompt, from, to string) string {
	r := strings.NewReplacer(
		"{{sourceLang}}", langmeta.Resolve(from).English,
		"{{targetLang}}", langmeta.Resolve(to).English,
	)
	return r.Replace(prompt)
}
