package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDirAndFilePathUseXDGDataHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir() error: %v", err)
	}
	wantDir := filepath.Join(tmp, "jtrans")
	if dir != wantDir {
		t.Fatalf("DataDir() = %q, want %q", dir, wantDir)
	}

	wantPath := filepath.Join(tmp, "jtrans", "auth.json")
	if got := FilePath(); got != wantPath {
		t.Fatalf("FilePath() = %q, want %q", got, wantPath)
	}

	prompts, err := PromptsFilePath()
	if err != nil {
		t.Fatalf("PromptsFilePath() error: %v", err)
	}
	if prompts != filepath.Join(tmp, "jtrans", "prompts.json") {
		t.Fatalf("PromptsFilePath() = %q", prompts)
	}
}

func TestSaveLoadRemoveLifecycle(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	store := Store{
		"deepl":          {Type: "api", Key: "apikey123456"},
		"libretranslate": {Type: "api", Key: "lt", BaseURL: "http://localhost:5000"},
	}

	if err := Save(store); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	path := filepath.Join(tmp, "jtrans", "auth.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat auth.json: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("auth.json mode = %o, want 600", info.Mode().Perm())
	}

	loaded := Load()
	if loaded["deepl"] == nil || loaded["deepl"].Key != "apikey123456" {
		t.Fatalf("Load() missing deepl key: %#v", loaded["deepl"])
	}
	if got := GetBaseURL("libretranslate"); got != "http://localhost:5000" {
		t.Fatalf("GetBaseURL(libretranslate) = %q", got)
	}

	if err := Remove("deepl"); err != nil {
		t.Fatalf("Remove(deepl) error: %v", err)
	}
	if got := GetAPIKey("deepl"); got != "" {
		t.Fatalf("GetAPIKey after remove = %q, want empty", got)
	}
	if GetAPIKey("libretranslate") != "lt" {
		t.Fatalf("libretranslate key should remain after removing deepl")
	}

	if err := Remove("missing-provider"); err != nil {
		t.Fatalf("Remove(missing) should be no-op, got: %v", err)
	}

	if err := RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("auth.json should be removed, stat err=%v", err)
	}
	if got := Load(); len(got) != 0 {
		t.Fatalf("Load() after RemoveAll should be empty, got=%#v", got)
	}
}

func TestSetAPIKeyKeepsEndpoint(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := Set("openai", &Info{Type: "api", Key: "old", BaseURL: "http://gw", Model: "m1"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := SetAPIKey("openai", "new"); err != nil {
		t.Fatalf("SetAPIKey() error: %v", err)
	}
	got := Get("openai")
	if got.Key != "new" || got.BaseURL != "http://gw" || got.Model != "m1" {
		t.Fatalf("entry = %#v", got)
	}
	if GetModel("openai") != "m1" {
		t.Fatalf("GetModel = %q", GetModel("openai"))
	}
}

func TestResolveAPIKeyPriority(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)
	t.Setenv(EnvAPIKey, "")

	if err := SetAPIKey("google", "stored-key"); err != nil {
		t.Fatalf("SetAPIKey() error: %v", err)
	}

	t.Setenv("GOOGLE_API_KEY", "env-key")

	if got := ResolveAPIKey("google", "flag-key"); got != "flag-key" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := ResolveAPIKey("google", ""); got != "env-key" {
		t.Fatalf("env should win over store, got %q", got)
	}

	t.Setenv(EnvAPIKey, "global-key")
	if got := ResolveAPIKey("google", ""); got != "global-key" {
		t.Fatalf("JTRANS_API_KEY should win over provider env, got %q", got)
	}

	t.Setenv(EnvAPIKey, "")
	t.Setenv("GOOGLE_API_KEY", "")
	if got := ResolveAPIKey("google", ""); got != "stored-key" {
		t.Fatalf("stored key expected, got %q", got)
	}
}

func TestEnvVarForProviderAndMaskKey(t *testing.T) {
	cases := map[string]string{
		"deepl":          "DEEPL_AUTH_KEY",
		"libretranslate": "LIBRETRANSLATE_API_KEY",
		"google":         "GOOGLE_API_KEY",
		"groq":           "GROQ_API_KEY",
		"openai":         "OPENAI_API_KEY",
		"anthropic":      "ANTHROPIC_API_KEY",
		"ollama":         "",
		"unknown":        "",
	}
	for provider, want := range cases {
		if got := EnvVarForProvider(provider); got != want {
			t.Fatalf("EnvVarForProvider(%q) = %q, want %q", provider, got, want)
		}
	}

	if got := MaskKey("short"); got != "****" {
		t.Fatalf("MaskKey(short) = %q, want ****", got)
	}
	if got := MaskKey("12345678"); got != "****" {
		t.Fatalf("MaskKey(8 chars) = %q, want ****", got)
	}
	if got := MaskKey("123456789"); got != "1234...6789" {
		t.Fatalf("MaskKey(9 chars) = %q, want 1234...6789", got)
	}
}
