// Package translate implements the translation gateway: one batched call
// per document to an HTTP translation provider. Supported providers are
// DeepL and LibreTranslate (native XML/HTML tag handling) and the
// chat-style LLM APIs Google AI (Gemini), Groq, OpenAI-compatible
// endpoints, Anthropic and Ollama.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minios-linux/jtrans/langmeta"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderDeepL          = "deepl"
	ProviderLibreTranslate = "libretranslate"
	ProviderGoogle         = "google"
	ProviderGroq           = "groq"
	ProviderOpenAI         = "openai"
	ProviderAnthropic      = "anthropic"
	ProviderOllama         = "ollama"
)

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for a translation service.
type Provider struct {
	// ID is the provider identifier (deepl, libretranslate, google, ...).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier for chat-style providers.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderDeepL: {
			ID:      ProviderDeepL,
			Name:    "DeepL",
			BaseURL: "https://api-free.deepl.com",
			Timeout: 60 * time.Second,
		},
		ProviderLibreTranslate: {
			ID:      ProviderLibreTranslate,
			Name:    "LibreTranslate",
			BaseURL: "https://libretranslate.com",
			Timeout: 60 * time.Second,
		},
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.5-flash",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Timeout: 60 * time.Second,
		},
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI-compatible",
			Timeout: 60 * time.Second,
		},
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Timeout: 120 * time.Second,
		},
	}
}

// ProviderIDs returns the known provider IDs in display order.
func ProviderIDs() []string {
	return []string{
		ProviderDeepL, ProviderLibreTranslate, ProviderGoogle, ProviderGroq,
		ProviderOpenAI, ProviderAnthropic, ProviderOllama,
	}
}

func needsAPIKey(id string) bool {
	switch id {
	case ProviderDeepL, ProviderGoogle, ProviderGroq, ProviderAnthropic:
		return true
	}
	return false
}

func needsModel(id string) bool {
	switch id {
	case ProviderDeepL, ProviderLibreTranslate:
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Client options
// ---------------------------------------------------------------------------

// Options controls the HTTP client.
type Options struct {
	// Provider is the provider configuration.
	Provider Provider
	// Timeout is the per-request timeout (overrides provider timeout if set).
	Timeout time.Duration
	// MaxRetries is the number of retries on 429, 5xx and network errors.
	// Default: 0, the caller decides whether to retry a failed batch.
	MaxRetries int
	// SystemPrompt overrides the prompt for chat-style providers.
	SystemPrompt string
	// Prompts supplies prompts loaded from prompts.json.
	Prompts *PromptsConfig
	// OnLog emits log messages.
	OnLog func(format string, args ...any)
	// Verbose enables per-request logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) debug(format string, args ...any) {
	if o.Verbose {
		o.log(format, args...)
	}
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if o.Provider.Timeout > 0 {
		return o.Provider.Timeout
	}
	return 120 * time.Second
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 0
}

func (o *Options) systemPrompt() string {
	if o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return o.Prompts.Get("default")
}

// ---------------------------------------------------------------------------
// Rate limit state (shared pause after a 429)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseEnd = time.Now().Add(duration)
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP client with proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is a Translator backed by one HTTP provider. A Client is safe for
// concurrent use; the rate limit pause is shared by all its calls.
type Client struct {
	opts      Options
	http      *http.Client
	rl        *rateLimitState
	retryBase time.Duration
}

// NewClient validates the provider configuration and returns a client.
// Missing credentials, endpoint or model yield ErrNotConfigured.
func NewClient(opts Options) (*Client, error) {
	prov := opts.Provider
	if prov.ID == "" {
		return nil, fmt.Errorf("%w: no provider selected", ErrNotConfigured)
	}
	if prov.Name == "" {
		prov.Name = prov.ID
	}
	if prov.ID == ProviderDeepL && prov.BaseURL == "" {
		prov.BaseURL = deepLBaseURL(prov.APIKey)
	}
	if prov.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s requires a base URL", ErrNotConfigured, prov.Name)
	}
	if needsAPIKey(prov.ID) && prov.APIKey == "" {
		return nil, fmt.Errorf("%w: %s requires an API key", ErrNotConfigured, prov.Name)
	}
	if needsModel(prov.ID) && prov.Model == "" {
		return nil, fmt.Errorf("%w: %s requires a model", ErrNotConfigured, prov.Name)
	}
	opts.Provider = prov

	return &Client{
		opts:      opts,
		http:      makeHTTPClient(prov.Proxy, opts.effectiveTimeout()),
		rl:        &rateLimitState{},
		retryBase: time.Second,
	}, nil
}

// Provider returns the effective provider configuration.
func (c *Client) Provider() Provider {
	return c.opts.Provider
}

// Translate sends payload to the provider and returns its response text.
func (c *Client) Translate(ctx context.Context, payload, from, to string) (string, error) {
	prov := c.opts.Provider

	var (
		endpoint string
		headers  map[string]string
		body     []byte
		parse    func([]byte) (string, error)
		err      error
	)
	switch prov.ID {
	case ProviderDeepL:
		endpoint, headers, body = buildDeepLRequest(prov, payload, from, to)
		parse = parseDeepLResponse
	case ProviderLibreTranslate:
		endpoint, headers, body, err = buildLibreTranslateRequest(prov, payload, from, to)
		parse = parseLibreTranslateResponse
	default:
		system := ResolvePrompt(c.opts.systemPrompt(), from, to)
		endpoint, headers, body, err = buildHTTPRequest(prov, system, payload, formatForProvider(prov.ID))
		parse = func(b []byte) (string, error) {
			text, err := extractResponseText(b)
			return stripCodeFence(text), err
		}
	}
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	respBody, err := c.post(ctx, endpoint, headers, body)
	if err != nil {
		return "", err
	}
	text, err := parse(respBody)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return text, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * c.retryBase
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// post sends the request, retrying on 429, 5xx and transport errors up to
// MaxRetries times.
func (c *Client) post(ctx context.Context, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	prov := c.opts.Provider
	maxRetries := c.opts.effectiveMaxRetries()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.rl.waitIfPaused(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		c.opts.debug("%s attempt %d: POST %s", prov.Name, attempt+1, endpoint)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < maxRetries {
				if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries {
			retryDelay := parseRetryDelay(respBody)
			c.opts.log("%s: rate limited, waiting %v before retry (attempt %d/%d)", prov.Name, retryDelay, attempt+1, maxRetries)
			c.rl.pause(retryDelay)
			if err := sleepCtx(ctx, retryDelay); err != nil {
				return nil, err
			}
			c.rl.unpause()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if attempt < maxRetries && resp.StatusCode >= 500 {
				if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &ProviderError{
				Provider:   prov.Name,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(respBody), 500),
			}
		}
		return respBody, nil
	}

	return nil, fmt.Errorf("exhausted all %d retries", maxRetries)
}

// ---------------------------------------------------------------------------
// DeepL
// ---------------------------------------------------------------------------

// deepLBaseURL picks the free or pro endpoint from the key suffix.
func deepLBaseURL(key string) string {
	if key == "" || strings.HasSuffix(key, ":fx") {
		return "https://api-free.deepl.com"
	}
	return "https://api.deepl.com"
}

// deepLLang converts a language code to DeepL's upper-case form. Source
// languages are reduced to their base language.
func deepLLang(lang string, target bool) string {
	c := langmeta.Canonicalize(lang)
	if !target {
		c = langmeta.Base(c)
	}
	return strings.ToUpper(c)
}

func buildDeepLRequest(prov Provider, payload, from, to string) (string, map[string]string, []byte) {
	form := url.Values{}
	form.Set("text", payload)
	form.Set("target_lang", deepLLang(to, true))
	if from != "" && from != "auto" {
		form.Set("source_lang", deepLLang(from, false))
	}
	form.Set("tag_handling", "xml")
	form.Set("non_splitting_tags", "x,a")
	form.Set("splitting_tags", "block")
	form.Set("preserve_formatting", "1")

	headers := map[string]string{
		"Content-Type":  "application/x-www-form-urlencoded",
		"Authorization": "DeepL-Auth-Key " + prov.APIKey,
	}
	endpoint := strings.TrimRight(prov.BaseURL, "/") + "/v2/translate"
	return endpoint, headers, []byte(form.Encode())
}

func parseDeepLResponse(body []byte) (string, error) {
	var resp struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if len(resp.Translations) == 0 {
		if resp.Message != "" {
			return "", fmt.Errorf("API error: %s", resp.Message)
		}
		return "", fmt.Errorf("no translations in response: %s", truncate(string(body), 500))
	}
	var b strings.Builder
	for _, t := range resp.Translations {
		b.WriteString(t.Text)
	}
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// LibreTranslate
// ---------------------------------------------------------------------------

func buildLibreTranslateRequest(prov Provider, payload, from, to string) (string, map[string]string, []byte, error) {
	source := langmeta.Base(from)
	if source == "" {
		source = "auto"
	}
	req := struct {
		Q      string `json:"q"`
		Source string `json:"source"`
		Target string `json:"target"`
		Format string `json:"format"`
		APIKey string `json:"api_key,omitempty"`
	}{
		Q:      payload,
		Source: source,
		Target: langmeta.Base(to),
		Format: "html",
		APIKey: prov.APIKey,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, nil, err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	return strings.TrimRight(prov.BaseURL, "/") + "/translate", headers, body, nil
}

func parseLibreTranslateResponse(body []byte) (string, error) {
	var resp struct {
		TranslatedText *string `json:"translatedText"`
		Error          string  `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("API error: %s", resp.Error)
	}
	if resp.TranslatedText == nil {
		return "", fmt.Errorf("no translatedText in response: %s", truncate(string(body), 500))
	}
	return *resp.TranslatedText, nil
}

// ---------------------------------------------------------------------------
// Chat-style providers: API formats and request builders
// ---------------------------------------------------------------------------

type apiFormat int

const (
	formatOpenAIChat   apiFormat = iota // OpenAI chat/completions
	formatGeminiNative                  // Google Gemini generateContent
	formatAnthropic                     // Anthropic messages
)

func formatForProvider(id string) apiFormat {
	switch id {
	case ProviderGoogle:
		return formatGeminiNative
	case ProviderAnthropic:
		return formatAnthropic
	}
	return formatOpenAIChat
}

func buildOpenAIChatRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

func buildAnthropicRequest(model, systemPrompt, userPrompt string) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    string `json:"system,omitempty"`
		Messages  []msg  `json:"messages"`
	}{
		Model:     model,
		MaxTokens: 8192,
		System:    systemPrompt,
		Messages:  []msg{{Role: "user", Content: userPrompt}},
	}
	return json.Marshal(req)
}

// buildHTTPRequest constructs the endpoint, headers, and body for a
// chat-style provider.
func buildHTTPRequest(prov Provider, systemPrompt, userPrompt string, format apiFormat) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	var endpoint string
	var body []byte
	var err error

	switch format {
	case formatGeminiNative:
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent",
			strings.TrimRight(prov.BaseURL, "/"), prov.Model)
		if prov.APIKey != "" {
			headers["x-goog-api-key"] = prov.APIKey
		}
		body, err = buildGeminiRequest(systemPrompt, userPrompt, 0.3)

	case formatAnthropic:
		endpoint = strings.TrimRight(prov.BaseURL, "/") + "/messages"
		if prov.APIKey != "" {
			headers["x-api-key"] = prov.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(prov.Model, systemPrompt, userPrompt)

	default: // formatOpenAIChat
		baseURL := strings.TrimRight(prov.BaseURL, "/")
		if !strings.HasSuffix(baseURL, "/chat/completions") {
			endpoint = baseURL + "/chat/completions"
		} else {
			endpoint = baseURL
		}
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		body, err = buildOpenAIChatRequest(prov.Model, systemPrompt, userPrompt, 0.3)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// ---------------------------------------------------------------------------
// Response parsing
// ---------------------------------------------------------------------------

// extractResponseText tries all known chat response formats.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	// 1. OpenAI chat format: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// 2. Gemini format: candidates[0].content.parts[].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					var b strings.Builder
					for _, p := range parts {
						if part, ok := p.(map[string]any); ok {
							if text, ok := part["text"].(string); ok {
								b.WriteString(text)
							}
						}
					}
					return b.String(), nil
				}
			}
		}
	}

	// 3. Anthropic format: content[].type=="text" -> .text
	if contentArr, ok := raw["content"].([]any); ok {
		for _, c := range contentArr {
			if block, ok := c.(map[string]any); ok && block["type"] == "text" {
				if text, ok := block["text"].(string); ok {
					return text, nil
				}
			}
		}
	}

	// 4. Ollama native format: message.content
	if message, ok := raw["message"].(map[string]any); ok {
		if content, ok := message["content"].(string); ok {
			return content, nil
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

var markdownCodeBlock = regexp.MustCompile("(?s)^\\s*```(?:xml|html)?\\s*(.*?)\\s*```\\s*$")

// stripCodeFence removes a code fence that chat models like to wrap their
// answer in.
func stripCodeFence(s string) string {
	if m := markdownCodeBlock.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return defaultDelay
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
