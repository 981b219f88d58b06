package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, prov Provider, retries int) *Client {
	t.Helper()
	c, err := NewClient(Options{Provider: prov, MaxRetries: retries})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	c.retryBase = time.Millisecond
	return c
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		prov    Provider
		wantErr bool
	}{
		{"no provider", Provider{}, true},
		{"deepl without key", Provider{ID: ProviderDeepL}, true},
		{"deepl with key", Provider{ID: ProviderDeepL, APIKey: "k:fx"}, false},
		{"libretranslate without key", Provider{ID: ProviderLibreTranslate, BaseURL: "http://lt"}, false},
		{"openai without base url", Provider{ID: ProviderOpenAI, Model: "m"}, true},
		{"openai without model", Provider{ID: ProviderOpenAI, BaseURL: "http://gw"}, true},
		{"google without key", Provider{ID: ProviderGoogle, BaseURL: "http://g", Model: "m"}, true},
		{"ollama local", Provider{ID: ProviderOllama, BaseURL: "http://localhost:11434/v1", Model: "llama3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(Options{Provider: tt.prov})
			if tt.wantErr {
				if !errors.Is(err, ErrNotConfigured) {
					t.Fatalf("err = %v, want ErrNotConfigured", err)
				}
				if !IsConfigError(err) {
					t.Fatalf("IsConfigError(%v) = false", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDeepLBaseURLFromKey(t *testing.T) {
	free, err := NewClient(Options{Provider: Provider{ID: ProviderDeepL, APIKey: "abc:fx"}})
	if err != nil {
		t.Fatal(err)
	}
	if free.Provider().BaseURL != "https://api-free.deepl.com" {
		t.Fatalf("free key base = %q", free.Provider().BaseURL)
	}
	pro, err := NewClient(Options{Provider: Provider{ID: ProviderDeepL, APIKey: "abc"}})
	if err != nil {
		t.Fatal(err)
	}
	if pro.Provider().BaseURL != "https://api.deepl.com" {
		t.Fatalf("pro key base = %q", pro.Provider().BaseURL)
	}
}

func TestDeepLRequest(t *testing.T) {
	var form url.Values
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/translate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"translations": []map[string]string{{"text": `<block id="0"><x id="a">Bonjour</x></block>`}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, Provider{ID: ProviderDeepL, BaseURL: srv.URL, APIKey: "secret"}, 0)
	got, err := c.Translate(context.Background(), `<block id="0"><x id="a">Hello</x></block>`, "en", "pt_br")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != `<block id="0"><x id="a">Bonjour</x></block>` {
		t.Fatalf("got %q", got)
	}
	if auth != "DeepL-Auth-Key secret" {
		t.Fatalf("Authorization = %q", auth)
	}
	checks := map[string]string{
		"target_lang":        "PT-BR",
		"source_lang":        "EN",
		"tag_handling":       "xml",
		"non_splitting_tags": "x,a",
		"splitting_tags":     "block",
	}
	for k, want := range checks {
		if form.Get(k) != want {
			t.Errorf("form[%s] = %q, want %q", k, form.Get(k), want)
		}
	}
}

func TestDeepLOmitsAutoSource(t *testing.T) {
	_, _, body := buildDeepLRequest(Provider{BaseURL: "http://x", APIKey: "k"}, "p", "auto", "de")
	form, err := url.ParseQuery(string(body))
	if err != nil {
		t.Fatal(err)
	}
	if form.Has("source_lang") {
		t.Fatalf("source_lang should be omitted, got %q", form.Get("source_lang"))
	}
	if form.Get("target_lang") != "DE" {
		t.Fatalf("target_lang = %q", form.Get("target_lang"))
	}
}

func TestLibreTranslateRequest(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &req)
		_, _ = w.Write([]byte(`{"translatedText":"<block id=\"0\">Hallo</block>"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Provider{ID: ProviderLibreTranslate, BaseURL: srv.URL}, 0)
	got, err := c.Translate(context.Background(), `<block id="0">Hello</block>`, "", "de-AT")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != `<block id="0">Hallo</block>` {
		t.Fatalf("got %q", got)
	}
	if req["source"] != "auto" || req["target"] != "de" || req["format"] != "html" {
		t.Fatalf("request = %#v", req)
	}
	if _, ok := req["api_key"]; ok {
		t.Fatalf("api_key should be omitted without a key")
	}
}

func TestOpenAIChatRequest(t *testing.T) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = w.Write([]byte("{\"choices\":[{\"message\":{\"content\":\"```xml\\n<block id=\\\"0\\\">Hola</block>\\n```\"}}]}"))
	}))
	defer srv.Close()

	c := newTestClient(t, Provider{ID: ProviderOpenAI, BaseURL: srv.URL + "/v1", APIKey: "sk", Model: "gpt-x"}, 0)
	got, err := c.Translate(context.Background(), `<block id="0">Hello</block>`, "en", "es")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != `<block id="0">Hola</block>` {
		t.Fatalf("code fence not stripped: %q", got)
	}
	if auth != "Bearer sk" {
		t.Fatalf("Authorization = %q", auth)
	}
	if req.Model != "gpt-x" || len(req.Messages) != 2 {
		t.Fatalf("request = %#v", req)
	}
	if !strings.Contains(req.Messages[0].Content, "from English to Spanish") {
		t.Fatalf("system prompt not resolved: %q", req.Messages[0].Content)
	}
	if req.Messages[1].Content != `<block id="0">Hello</block>` {
		t.Fatalf("user message = %q", req.Messages[1].Content)
	}
}

func TestUnauthorizedIsConfigError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Wrong key"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, Provider{ID: ProviderDeepL, BaseURL: srv.URL, APIKey: "bad"}, 2)
	_, err := c.Translate(context.Background(), "<block id=\"0\">x</block>", "en", "de")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if !IsConfigError(err) || IsProviderError(err) {
		t.Fatalf("403 should be a config error: %v", err)
	}
}

func TestServerErrorIsProviderError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, Provider{ID: ProviderLibreTranslate, BaseURL: srv.URL}, 0)
	_, err := c.Translate(context.Background(), "p", "en", "de")
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 500 {
		t.Fatalf("err = %v, want ProviderError 500", err)
	}
	if !IsProviderError(err) || IsConfigError(err) {
		t.Fatalf("500 should be a provider error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 without retries", calls.Load())
	}
}

func TestRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"translatedText":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Provider{ID: ProviderLibreTranslate, BaseURL: srv.URL}, 2)
	got, err := c.Translate(context.Background(), "p", "en", "de")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Fatalf("got %q after %d calls", got, calls.Load())
	}
}

func TestUnreachableIsConfigError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := newTestClient(t, Provider{ID: ProviderLibreTranslate, BaseURL: base}, 0)
	_, err := c.Translate(context.Background(), "p", "en", "de")
	if !errors.Is(err, ErrUnreachable) || !IsConfigError(err) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestUnparseableBodyIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, Provider{ID: ProviderDeepL, BaseURL: srv.URL, APIKey: "k"}, 0)
	_, err := c.Translate(context.Background(), "p", "en", "de")
	if !errors.Is(err, ErrMalformedResponse) || !IsProviderError(err) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestExtractResponseTextFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai", `{"choices":[{"message":{"content":"a"}}]}`, "a"},
		{"gemini", `{"candidates":[{"content":{"parts":[{"text":"b"},{"text":"c"}]}}]}`, "bc"},
		{"anthropic", `{"content":[{"type":"text","text":"d"}]}`, "d"},
		{"ollama", `{"message":{"content":"e"}}`, "e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractResponseText([]byte(tt.body))
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := extractResponseText([]byte(`{"error":{"message":"quota"}}`)); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("API error not surfaced: %v", err)
	}
}

func TestParseRetryDelay(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"2s"}]}}`
	if got := parseRetryDelay([]byte(body)); got != 7*time.Second {
		t.Fatalf("parseRetryDelay = %v, want 7s", got)
	}
	if got := parseRetryDelay([]byte("nope")); got != 65*time.Second {
		t.Fatalf("default delay = %v", got)
	}
}

func TestBuildPayload(t *testing.T) {
	got := BuildPayload([]Pending{{Index: 4, XML: "<x id=\"a\">A</x>"}, {Index: 9, XML: "B"}})
	want := `<block id="0"><x id="a">A</x></block><block id="1">B</block>`
	if got != want {
		t.Fatalf("BuildPayload = %q, want %q", got, want)
	}
}

func TestTranslateBatch(t *testing.T) {
	pending := []Pending{{Index: 2, XML: "one"}, {Index: 5, XML: "two"}, {Index: 7, XML: "three"}}

	t.Run("maps local ids back", func(t *testing.T) {
		g := &Gateway{Translator: TranslatorFunc(func(ctx context.Context, payload, from, to string) (string, error) {
			return `<block id="2">DREI</block>` + "\n" + `<block id="0">EINS</block><block id="1">ZWEI</block>`, nil
		})}
		got, err := g.TranslateBatch(context.Background(), pending, "en", "de")
		if err != nil {
			t.Fatalf("TranslateBatch() error: %v", err)
		}
		if got[2] != "EINS" || got[5] != "ZWEI" || got[7] != "DREI" {
			t.Fatalf("got %#v", got)
		}
	})

	t.Run("missing and stray ids", func(t *testing.T) {
		var logged []string
		g := &Gateway{
			Translator: TranslatorFunc(func(ctx context.Context, payload, from, to string) (string, error) {
				return `<block id="0">EINS</block><block id="0">AGAIN</block><block id="42">X</block>`, nil
			}),
			OnLog: func(format string, args ...any) { logged = append(logged, format) },
		}
		got, err := g.TranslateBatch(context.Background(), pending, "en", "de")
		if err != nil {
			t.Fatalf("TranslateBatch() error: %v", err)
		}
		if len(got) != 1 || got[2] != "EINS" {
			t.Fatalf("got %#v", got)
		}
		if len(logged) != 2 {
			t.Fatalf("expected stray and missing logs, got %v", logged)
		}
	})

	t.Run("malformed response", func(t *testing.T) {
		g := &Gateway{Translator: TranslatorFunc(func(ctx context.Context, payload, from, to string) (string, error) {
			return "I cannot help with that.", nil
		})}
		_, err := g.TranslateBatch(context.Background(), pending, "en", "de")
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("err = %v, want ErrMalformedResponse", err)
		}
	})

	t.Run("empty batch makes no call", func(t *testing.T) {
		called := false
		g := &Gateway{Translator: TranslatorFunc(func(ctx context.Context, payload, from, to string) (string, error) {
			called = true
			return "", nil
		})}
		got, err := g.TranslateBatch(context.Background(), nil, "en", "de")
		if err != nil || len(got) != 0 || called {
			t.Fatalf("got %v err=%v called=%v", got, err, called)
		}
	})

	t.Run("no translator", func(t *testing.T) {
		_, err := (&Gateway{}).TranslateBatch(context.Background(), pending, "en", "de")
		if !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestPrompts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.json")

	cfg, err := LoadPromptsFromFile(path)
	if err != nil || cfg != nil {
		t.Fatalf("missing file: cfg=%v err=%v", cfg, err)
	}
	if got := cfg.Get("default"); got != DefaultSystemPrompt {
		t.Fatalf("nil config should fall back to default prompt")
	}

	if err := os.WriteFile(path, []byte(`{"prompts":{"default":"Translate {{sourceLang}} to {{targetLang}}."}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadPromptsFromFile(path)
	if err != nil {
		t.Fatalf("LoadPromptsFromFile() error: %v", err)
	}
	if got := ResolvePrompt(cfg.Get(""), "de", "fr"); got != "Translate German to French." {
		t.Fatalf("ResolvePrompt = %q", got)
	}

	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPromptsFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadPromptsFromDefaultLocationsCreatesFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	cfg, path, err := LoadPromptsFromDefaultLocations()
	if err != nil {
		t.Fatalf("LoadPromptsFromDefaultLocations() error: %v", err)
	}
	if path != filepath.Join(tmp, "jtrans", "prompts.json") {
		t.Fatalf("path = %q", path)
	}
	if cfg.Get("default") != DefaultSystemPrompt {
		t.Fatalf("created file should contain the default prompt")
	}
}
