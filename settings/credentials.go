// Package settings provides storage for jtrans user settings: provider
// credentials and the translation system prompts.
//
// All settings are stored in the XDG data directory:
//
//	$XDG_DATA_HOME/jtrans/  (default: ~/.local/share/jtrans/)
//
// Files stored:
//   - auth.json     provider API keys and endpoint overrides
//   - prompts.json  system prompts for chat-style providers
//
// auth.json is a JSON object keyed by provider ID. File permissions are
// 0600 (owner read/write only).
//
// Lookup order for API keys:
//  1. --api-key flag (highest priority)
//  2. JTRANS_API_KEY environment variable
//  3. the provider's own environment variable (DEEPL_AUTH_KEY, ...)
//  4. this credential store
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dataDirName = "jtrans"
	fileName    = "auth.json"

	// EnvAPIKey overrides the stored key for any provider.
	EnvAPIKey = "JTRANS_API_KEY"
)

// ---------------------------------------------------------------------------
// Auth entries
// ---------------------------------------------------------------------------

// Info is the entry stored per provider in auth.json.
type Info struct {
	// Type is "api" for API keys. Other values are reserved.
	Type string `json:"type"`

	Key string `json:"key,omitempty"`

	// BaseURL overrides the provider endpoint (self-hosted LibreTranslate,
	// OpenAI-compatible gateways, DeepL Pro).
	BaseURL string `json:"baseUrl,omitempty"`
	// Model is the default model for chat-style providers.
	Model string `json:"model,omitempty"`
}

// IsAPI returns true if this is an API key entry.
func (i *Info) IsAPI() bool {
	return i.Type == "api"
}

// Store holds all provider credentials, keyed by provider ID.
type Store map[string]*Info

// ---------------------------------------------------------------------------
// File paths
// ---------------------------------------------------------------------------

// dataDir returns the XDG data directory for jtrans.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// PromptsFilePath returns the path to the prompts.json file.
func PromptsFilePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompts.json"), nil
}

// DataDir returns the jtrans data directory path.
func DataDir() (string, error) {
	return dataDir()
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := filePath()
	if err != nil {
		return make(Store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil || store == nil {
		return make(Store)
	}
	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Get / Set / Remove
// ---------------------------------------------------------------------------

// Get returns the auth entry for a provider, or nil if not found.
func Get(providerID string) *Info {
	return Load()[providerID]
}

// Set stores an auth entry for a provider (upsert).
func Set(providerID string, info *Info) error {
	store := Load()
	store[providerID] = info
	return Save(store)
}

// Remove deletes credentials for a provider.
func Remove(providerID string) error {
	store := Load()
	if _, ok := store[providerID]; !ok {
		return nil
	}
	delete(store, providerID)
	return Save(store)
}

// SetAPIKey stores an API key for a provider, keeping any stored base URL
// and model.
func SetAPIKey(providerID, key string) error {
	info := &Info{Type: "api", Key: key}
	if existing := Get(providerID); existing != nil {
		info.BaseURL = existing.BaseURL
		info.Model = existing.Model
	}
	return Set(providerID, info)
}

// SetAPIKeyWithBaseURL stores an API key and base URL for a provider.
func SetAPIKeyWithBaseURL(providerID, key, baseURL string) error {
	info := &Info{Type: "api", Key: key, BaseURL: baseURL}
	if existing := Get(providerID); existing != nil {
		info.Model = existing.Model
	}
	return Set(providerID, info)
}

// GetAPIKey retrieves the stored API key for a provider.
func GetAPIKey(providerID string) string {
	info := Get(providerID)
	if info == nil || !info.IsAPI() {
		return ""
	}
	return info.Key
}

// GetBaseURL retrieves the stored base URL for a provider.
func GetBaseURL(providerID string) string {
	info := Get(providerID)
	if info == nil {
		return ""
	}
	return info.BaseURL
}

// GetModel retrieves the stored default model for a provider.
func GetModel(providerID string) string {
	info := Get(providerID)
	if info == nil {
		return ""
	}
	return info.Model
}

// ---------------------------------------------------------------------------
// Key resolution
// ---------------------------------------------------------------------------

// EnvVarForProvider returns the provider's conventional API key variable,
// or "" when it has none.
func EnvVarForProvider(providerID string) string {
	switch providerID {
	case "deepl":
		return "DEEPL_AUTH_KEY"
	case "libretranslate":
		return "LIBRETRANSLATE_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	}
	return ""
}

// ResolveAPIKey returns the API key to use for a provider following the
// lookup order documented on the package.
func ResolveAPIKey(providerID, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		return v
	}
	if env := EnvVarForProvider(providerID); env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return GetAPIKey(providerID)
}

// ---------------------------------------------------------------------------
// Display helpers
// ---------------------------------------------------------------------------

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// RemoveAll removes all stored credentials.
func RemoveAll() error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing auth file: %w", err)
	}
	return nil
}
