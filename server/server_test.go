package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/minios-linux/jtrans/translate"
	"github.com/minios-linux/jtrans/txcache"
)

var textBetweenTags = regexp.MustCompile(`>[^<]*<`)

func upper(calls *atomic.Int32) translate.Translator {
	return translate.TranslatorFunc(func(ctx context.Context, payload, from, to string) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return textBetweenTags.ReplaceAllStringFunc(payload, strings.ToUpper), nil
	})
}

func newTestServer(t *testing.T, tr translate.Translator) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(Config{DataDir: dir, Translator: tr, Logger: zerolog.Nop()})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, dir
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, out
}

func TestTranslateEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, upper(nil))

	resp, out := postJSON(t, ts.URL+"/api/translate", map[string]any{
		"markdown": "Hello\n\nWorld",
		"from":     "en",
		"to":       "de",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, out)
	}
	if out["markdown"] != "HELLO\n\n<br>\n\nWORLD" {
		t.Fatalf("markdown = %q", out["markdown"])
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	cache, ok := out["cache"].(map[string]any)
	if !ok || cache["targetLang"] != "de" {
		t.Fatalf("cache = %#v", out["cache"])
	}
	stats := out["stats"].(map[string]any)
	if stats["blocks"].(float64) != 2 || stats["providerCalls"].(float64) != 1 {
		t.Fatalf("stats = %#v", stats)
	}
}

func TestTranslateEndpointUsesRequestCache(t *testing.T) {
	var calls atomic.Int32
	ts, _ := newTestServer(t, upper(&calls))

	_, first := postJSON(t, ts.URL+"/api/translate", map[string]any{"markdown": "Same text", "from": "en", "to": "de"})
	resp, second := postJSON(t, ts.URL+"/api/translate", map[string]any{
		"markdown": "Same text", "from": "en", "to": "de", "cache": first["cache"],
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", calls.Load())
	}
	if second["markdown"] != "SAME TEXT" {
		t.Fatalf("markdown = %q", second["markdown"])
	}
}

func TestTranslateEndpointBadInput(t *testing.T) {
	ts, _ := newTestServer(t, upper(nil))

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing target", `{"markdown":"x","from":"en"}`},
		{"bad source", `{"markdown":"x","from":"not a language","to":"de"}`},
		{"unknown field", `{"markdown":"x","from":"en","to":"de","extra":1}`},
		{"bad cache", `{"markdown":"x","from":"en","to":"de","cache":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/translate", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestTranslateEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		tr   translate.Translator
		want int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"unauthorized", translate.TranslatorFunc(func(ctx context.Context, p, f, to string) (string, error) {
			return "", &translate.ProviderError{Provider: "fake", StatusCode: 401}
		}), http.StatusServiceUnavailable},
		{"provider failure", translate.TranslatorFunc(func(ctx context.Context, p, f, to string) (string, error) {
			return "", &translate.ProviderError{Provider: "fake", StatusCode: 500}
		}), http.StatusBadGateway},
		{"malformed", translate.TranslatorFunc(func(ctx context.Context, p, f, to string) (string, error) {
			return "sorry", nil
		}), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, tt.tr)
			resp, out := postJSON(t, ts.URL+"/api/translate", map[string]any{"markdown": "Keep me", "from": "en", "to": "de"})
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if out["markdown"] != "Keep me" {
				t.Fatalf("original markdown not returned: %q", out["markdown"])
			}
			if out["error"] == "" || out["error"] == nil {
				t.Fatal("missing error message")
			}
		})
	}
}

func TestNewerRequestSupersedesOlder(t *testing.T) {
	started := make(chan struct{})
	tr := translate.TranslatorFunc(func(ctx context.Context, payload, from, to string) (string, error) {
		if strings.Contains(payload, "old") {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return payload, nil
	})
	ts, _ := newTestServer(t, tr)

	type result struct {
		status int
		body   map[string]any
	}
	oldDone := make(chan result, 1)
	go func() {
		data, _ := json.Marshal(map[string]any{"documentId": "day-1", "markdown": "old text", "from": "en", "to": "de"})
		resp, err := http.Post(ts.URL+"/api/translate", "application/json", bytes.NewReader(data))
		if err != nil {
			oldDone <- result{}
			return
		}
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		oldDone <- result{resp.StatusCode, body}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the provider")
	}

	resp, out := postJSON(t, ts.URL+"/api/translate", map[string]any{"documentId": "day-1", "markdown": "new text", "from": "en", "to": "de"})
	if resp.StatusCode != http.StatusOK || out["markdown"] != "new text" {
		t.Fatalf("newer request: status=%d body=%v", resp.StatusCode, out)
	}

	select {
	case old := <-oldDone:
		if old.status != http.StatusConflict {
			t.Fatalf("older request status = %d, want 409", old.status)
		}
		if old.body["markdown"] != "old text" {
			t.Fatalf("older request markdown = %q", old.body["markdown"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("older request was not cancelled")
	}
}

func TestTranslateDocument(t *testing.T) {
	var calls atomic.Int32
	ts, dir := newTestServer(t, upper(&calls))
	if err := os.WriteFile(filepath.Join(dir, "day1.md"), []byte("Dear diary\n\nToday was fine\n"), 0644); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		resp, out := postJSON(t, ts.URL+"/api/documents/day1/translate", map[string]any{"from": "en", "to": "de"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("run %d: status = %d, body = %v", i, resp.StatusCode, out)
		}
		if out["output"] != "day1.de.md" {
			t.Fatalf("output = %v", out["output"])
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1 (second run served from cache)", calls.Load())
	}

	got, err := os.ReadFile(filepath.Join(dir, "day1.de.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "DEAR DIARY\n\n<br>\n\nTODAY WAS FINE\n" {
		t.Fatalf("translation = %q", got)
	}
	cache, err := txcache.LoadFile(filepath.Join(dir, "day1.de.md"+txcache.Suffix))
	if err != nil || !cache.ValidFor("en", "de") || cache.Len() != 2 {
		t.Fatalf("cache = %v, err = %v", cache, err)
	}
}

func TestTranslateDocumentErrors(t *testing.T) {
	ts, _ := newTestServer(t, upper(nil))

	resp, _ := postJSON(t, ts.URL+"/api/documents/missing/translate", map[string]any{"from": "en", "to": "de"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing document status = %d", resp.StatusCode)
	}
	resp, _ = postJSON(t, ts.URL+"/api/documents/bad%20id/translate", map[string]any{"from": "en", "to": "de"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, upper(nil))

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	postJSON(t, ts.URL+"/api/translate", map[string]any{"markdown": "Hi", "from": "en", "to": "de"})

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`jtrans_requests_total{code="2xx",route="/api/translate"} 1`,
		"jtrans_provider_calls_total 1",
		`jtrans_blocks_total{source="provider"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestInflightRegistry(t *testing.T) {
	f := newInflight()
	ctx1, done1, sup1 := f.begin(context.Background(), "doc")
	if sup1 {
		t.Fatal("first request cannot supersede")
	}
	ctx2, done2, sup2 := f.begin(context.Background(), "doc")
	if !sup2 {
		t.Fatal("second request should supersede the first")
	}
	if context.Cause(ctx1) != errSuperseded {
		t.Fatalf("cause = %v", context.Cause(ctx1))
	}
	done1()
	if f.len() != 1 || ctx2.Err() != nil {
		t.Fatal("finishing the superseded request must not remove the newer one")
	}
	done2()
	if f.len() != 0 {
		t.Fatalf("len = %d", f.len())
	}
}
