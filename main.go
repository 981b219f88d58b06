// jtrans: block-preserving markdown translation for journals.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/minios-linux/jtrans/config"
	"github.com/minios-linux/jtrans/engine"
	"github.com/minios-linux/jtrans/i18n"
	"github.com/minios-linux/jtrans/langmeta"
	"github.com/minios-linux/jtrans/server"
	"github.com/minios-linux/jtrans/settings"
	"github.com/minios-linux/jtrans/translate"
	"github.com/minios-linux/jtrans/txcache"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jtrans",
		Short: i18n.T("Block-preserving markdown translation for journals"),
		Long: `jtrans translates markdown journal entries block by block.

Each paragraph, heading, quote and list item is sent to the provider with
its formatting runs tagged, so bold and italic text survive word-order
changes. Code blocks are never translated. Translations are cached next to
the output by content hash; unchanged blocks are never sent again.

Commands:
  translate   Translate markdown files (or the targets in .jtrans.yaml)
  inspect     Show the translatable blocks of a file
  serve       Run the HTTP translation service
  auth        Manage provider API keys

Providers:
  deepl           DeepL API (free and pro keys)
  libretranslate  LibreTranslate (self-hosted or libretranslate.com)
  google          Google AI (Gemini)
  groq            Groq
  openai          Any OpenAI-compatible endpoint
  anthropic       Anthropic
  ollama          Local Ollama server`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", i18n.T("Project root directory (where .jtrans.yaml lives)"))

	root.AddCommand(
		newTranslateCmd(),
		newInspectCmd(),
		newServeCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jtrans version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// Project config and provider resolution
// ---------------------------------------------------------------------------

// loadProjectConfig returns .jtrans.yaml from the root directory, or the
// defaults when there is none.
func loadProjectConfig() (*config.File, error) {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// providerFlags are the provider options shared by translate and serve.
type providerFlags struct {
	provider   string
	model      string
	apiKey     string
	baseURL    string
	proxy      string
	prompt     string
	timeout    time.Duration
	maxRetries int
	verbose    bool

	flags *pflag.FlagSet
}

func (pf *providerFlags) register(fs *pflag.FlagSet) {
	pf.flags = fs
	fs.StringVar(&pf.provider, "provider", "", i18n.T("Translation provider: deepl, libretranslate, google, groq, openai, anthropic, ollama"))
	fs.StringVar(&pf.model, "model", "", i18n.T("Model name (chat-style providers)"))
	fs.StringVar(&pf.apiKey, "api-key", "", i18n.T("API key (or JTRANS_API_KEY env var)"))
	fs.StringVar(&pf.baseURL, "base-url", "", i18n.T("Custom API base URL"))
	fs.StringVar(&pf.proxy, "proxy", "", i18n.T("HTTP/HTTPS proxy URL"))
	fs.StringVar(&pf.prompt, "prompt", "", i18n.T("Custom system prompt (use {{sourceLang}} and {{targetLang}} placeholders)"))
	fs.DurationVar(&pf.timeout, "timeout", 0, i18n.T("Request timeout (0 = provider default)"))
	fs.IntVar(&pf.maxRetries, "max-retries", 0, i18n.T("Retries on rate limit and server errors"))
	fs.BoolVar(&pf.verbose, "verbose", false, i18n.T("Enable detailed logging"))
}

func (pf *providerFlags) changed(name string) bool {
	return pf.flags != nil && pf.flags.Changed(name)
}

// resolveProvider merges flags, .jtrans.yaml, the settings store and the
// built-in defaults, in that order of priority.
func resolveProvider(cfg *config.File, pf *providerFlags) (translate.Provider, error) {
	id := cfg.Provider.ID
	if pf.changed("provider") || id == "" {
		id = pf.provider
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return translate.Provider{}, fmt.Errorf("%s\n\n%s", i18n.T("no provider selected"),
			i18n.T("Use --provider or set provider.id in .jtrans.yaml"))
	}
	prov, ok := translate.DefaultProviders()[id]
	if !ok {
		return translate.Provider{}, fmt.Errorf(i18n.T("unknown provider %q (valid: %s)"), id, strings.Join(translate.ProviderIDs(), ", "))
	}

	pick := func(flagName, flagValue, cfgValue, stored, fallback string) string {
		switch {
		case pf.changed(flagName) && flagValue != "":
			return flagValue
		case cfgValue != "":
			return cfgValue
		case stored != "":
			return stored
		}
		return fallback
	}
	prov.BaseURL = pick("base-url", pf.baseURL, cfg.Provider.BaseURL, settings.GetBaseURL(id), prov.BaseURL)
	prov.Model = pick("model", pf.model, cfg.Provider.Model, settings.GetModel(id), prov.Model)
	prov.Proxy = pick("proxy", pf.proxy, cfg.Provider.Proxy, "", "")
	prov.APIKey = settings.ResolveAPIKey(id, pf.apiKey)

	// DeepL picks its endpoint from the key unless one is configured.
	if id == translate.ProviderDeepL && !pf.changed("base-url") && cfg.Provider.BaseURL == "" && settings.GetBaseURL(id) == "" {
		prov.BaseURL = ""
	}

	timeout, err := cfg.Timeout()
	if err != nil {
		return translate.Provider{}, err
	}
	if pf.changed("timeout") {
		timeout = pf.timeout
	}
	if timeout > 0 {
		prov.Timeout = timeout
	}
	return prov, nil
}

// newClient builds the provider client. Configuration problems are
// reported with a hint on how to fix them.
func newClient(cfg *config.File, pf *providerFlags, onLog func(string, ...any)) (*translate.Client, error) {
	prov, err := resolveProvider(cfg, pf)
	if err != nil {
		return nil, err
	}

	maxRetries := cfg.Provider.MaxRetries
	if pf.changed("max-retries") {
		maxRetries = pf.maxRetries
	}
	prompt := cfg.Prompt
	if pf.changed("prompt") {
		prompt = pf.prompt
	}

	var prompts *translate.PromptsConfig
	if prompt == "" {
		p, path, err := translate.LoadPromptsFromDefaultLocations()
		if err != nil {
			logWarning(i18n.T("Could not load prompts: %v"), err)
		} else {
			prompts = p
			if pf.verbose {
				logInfo(i18n.T("Prompts: %s"), path)
			}
		}
	}

	client, err := translate.NewClient(translate.Options{
		Provider:     prov,
		MaxRetries:   maxRetries,
		SystemPrompt: prompt,
		Prompts:      prompts,
		OnLog:        onLog,
		Verbose:      pf.verbose,
	})
	if errors.Is(err, translate.ErrNotConfigured) {
		hint := fmt.Sprintf(i18n.T("Store a key with: jtrans auth set --provider %s"), prov.ID)
		if env := settings.EnvVarForProvider(prov.ID); env != "" {
			hint += fmt.Sprintf(i18n.T("\nor export %s / %s"), settings.EnvAPIKey, env)
		}
		return nil, fmt.Errorf("%w\n\n%s", err, hint)
	}
	return client, err
}

func engineOptions(cfg *config.File, verbose bool) engine.Options {
	return engine.Options{
		Sentinel:  cfg.Sentinel,
		LineBreak: cfg.LineBreak,
		OnLog:     logWarning,
		Verbose:   verbose,
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	from, to   string
	out        string
	cachePath  string
	noCache    bool
	pruneCache bool
	dryRun     bool
}

func newTranslateCmd() *cobra.Command {
	var (
		a  translateArgs
		pf providerFlags
	)

	cmd := &cobra.Command{
		Use:   "translate [FILE...]",
		Short: i18n.T("Translate markdown files"),
		Long: `Translate markdown files block by block.

Without FILE arguments, every target listed in .jtrans.yaml is translated
into each of its languages. The output of FILE.md for language xx is
FILE.xx.md unless --out is given; the cache of that pair is kept in
FILE.xx.md.translation.json.

Examples:
  # Translate one entry into German with DeepL
  jtrans translate --provider deepl --from en --to de 2024-05-01.md

  # Translate into several languages with a local model
  jtrans translate --provider ollama --model llama3.2 --to de,fr notes.md

  # Show what would be sent without calling the provider
  jtrans translate --to de --dry-run notes.md

  # Translate all targets from .jtrans.yaml
  jtrans translate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runTranslate(ctx, args, a, &pf)
		},
	}

	cmd.Flags().StringVar(&a.from, "from", "", i18n.T("Source language (default: source_lang from .jtrans.yaml, or en)"))
	cmd.Flags().StringVar(&a.to, "to", "", i18n.T("Target languages (comma-separated)"))
	cmd.Flags().StringVarP(&a.out, "out", "o", "", i18n.T("Output file (single file and language only, - for stdout)"))
	cmd.Flags().StringVar(&a.cachePath, "cache", "", i18n.T("Cache file (single file and language only)"))
	cmd.Flags().BoolVar(&a.noCache, "no-cache", false, i18n.T("Neither read nor write the translation cache"))
	cmd.Flags().BoolVar(&a.pruneCache, "prune-cache", false, i18n.T("Drop cache entries for blocks no longer in the document"))
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, i18n.T("Show what would be translated without calling the provider"))
	pf.register(cmd.Flags())

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		defaults := translate.DefaultProviders()
		var out []string
		for _, id := range translate.ProviderIDs() {
			out = append(out, id+"\t"+defaults[id].Name)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("model", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		p, _ := cmd.Flags().GetString("provider")
		switch p {
		case translate.ProviderGoogle:
			return []string{"gemini-2.5-flash", "gemini-2.5-pro"}, cobra.ShellCompDirectiveNoFileComp
		case translate.ProviderGroq:
			return []string{"llama-3.3-70b-versatile", "mixtral-8x7b-32768"}, cobra.ShellCompDirectiveNoFileComp
		case translate.ProviderAnthropic:
			return []string{"claude-sonnet-4-5", "claude-haiku-4-5"}, cobra.ShellCompDirectiveNoFileComp
		case translate.ProviderOllama:
			return []string{"llama3.2", "qwen2.5", "mistral"}, cobra.ShellCompDirectiveNoFileComp
		default:
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
	})

	return cmd
}

// job is one document translated into one language.
type job struct {
	doc, out, cache string
	from, to        string
}

func runTranslate(ctx context.Context, args []string, a translateArgs, pf *providerFlags) error {
	cfg, err := loadProjectConfig()
	if err != nil {
		return err
	}

	jobs, err := planJobs(cfg, args, a)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		logWarning(i18n.T("Nothing to translate"))
		return nil
	}

	if a.dryRun {
		for _, j := range jobs {
			if err := dryRun(j, a); err != nil {
				return err
			}
		}
		return nil
	}

	client, err := newClient(cfg, pf, logWarning)
	if err != nil {
		return err
	}
	eng := engine.New(client, engineOptions(cfg, pf.verbose))
	logInfo(i18n.T("Provider: %s"), client.Provider().Name)

	failed := 0
	for _, j := range jobs {
		if err := translateJob(ctx, eng, j, a); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logError("%s: %v", j.doc, err)
			failed++
			// A configuration problem fails every document the same way.
			if translate.IsConfigError(err) {
				return err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf(i18n.N("%d translation failed", "%d translations failed", failed), failed)
	}
	return nil
}

// planJobs expands file arguments (or the configured targets) into one job
// per document and language.
func planJobs(cfg *config.File, args []string, a translateArgs) ([]job, error) {
	from := a.from
	if from == "" {
		from = cfg.SourceLang
	}
	if from != "auto" && !langmeta.Valid(from) {
		return nil, fmt.Errorf(i18n.T("invalid source language %q"), from)
	}
	from = canonicalOrAuto(from)

	langs, err := parseLanguages(a.to)
	if err != nil {
		return nil, err
	}

	var jobs []job
	if len(args) > 0 {
		if len(langs) == 0 {
			langs = cfg.Languages
		}
		if len(langs) == 0 {
			return nil, fmt.Errorf("%s", i18n.T("no target language: use --to or set languages in .jtrans.yaml"))
		}
		single := len(args) == 1 && len(langs) == 1
		if (a.out != "" || a.cachePath != "") && !single {
			return nil, fmt.Errorf("%s", i18n.T("--out and --cache need exactly one file and one target language"))
		}
		for _, doc := range args {
			if !fileExists(doc) {
				return nil, fmt.Errorf(i18n.T("file not found: %s"), doc)
			}
			for _, lang := range langs {
				j := job{doc: doc, out: defaultOutputPath(doc, lang), from: from, to: lang}
				if a.out != "" {
					j.out = a.out
				}
				j.cache = cacheFor(j.out, doc, lang)
				if a.cachePath != "" {
					j.cache = a.cachePath
				}
				jobs = append(jobs, j)
			}
		}
		return jobs, nil
	}

	if a.out != "" || a.cachePath != "" {
		return nil, fmt.Errorf("%s", i18n.T("--out and --cache need a FILE argument"))
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("%s", i18n.T("no FILE given and no targets in .jtrans.yaml"))
	}
	resolved, err := cfg.Resolve(rootDir)
	if err != nil {
		return nil, err
	}
	for _, rt := range resolved {
		targetLangs := rt.Target.Languages
		if len(langs) > 0 {
			targetLangs = intersectLanguages(targetLangs, langs)
		}
		targetFrom := from
		if a.from == "" {
			targetFrom = canonicalOrAuto(rt.Target.SourceLang)
		}
		for _, doc := range rt.Documents {
			for _, lang := range targetLangs {
				out := rt.OutputPath(doc, langmeta.Canonicalize(lang))
				jobs = append(jobs, job{doc: doc, out: out, cache: txcache.CachePath(out), from: targetFrom, to: langmeta.Canonicalize(lang)})
			}
		}
	}
	return jobs, nil
}

func translateJob(ctx context.Context, eng *engine.Engine, j job, a translateArgs) error {
	data, err := os.ReadFile(j.doc)
	if err != nil {
		return err
	}

	var cache *txcache.Cache
	if !a.noCache && j.cache != "" {
		cache, err = txcache.LoadFile(j.cache)
		if err != nil {
			logWarning(i18n.T("Ignoring unreadable cache %s: %v"), j.cache, err)
			cache = nil
		}
	}

	label := fmt.Sprintf("%s -> %s", j.from, langmeta.Label(j.to))
	logInfo(i18n.T("Translating %s (%s)"), j.doc, label)

	res, err := eng.Translate(ctx, string(data), j.from, j.to, cache)
	if err != nil {
		return err
	}

	if j.out == "-" {
		fmt.Print(res.Markdown)
	} else {
		if err := os.MkdirAll(filepath.Dir(j.out), 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		if err := os.WriteFile(j.out, []byte(res.Markdown), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", j.out, err)
		}
	}

	if !a.noCache && j.cache != "" {
		if a.pruneCache {
			if n := res.Cache.Prune(currentHashes(string(data))); n > 0 {
				logInfo(i18n.N("Pruned %d cache entry", "Pruned %d cache entries", n), n)
			}
		}
		if err := res.Cache.SaveFile(j.cache); err != nil {
			return err
		}
	}

	s := res.Stats
	logSuccess(i18n.T("%s: %d blocks (%d cached, %d translated, %d missing)"), j.out, s.Blocks, s.CacheHits, s.Translated, s.Missing)
	if s.Missing > 0 {
		logWarning(i18n.N("%d block kept its source text", "%d blocks kept their source text", s.Missing), s.Missing)
	}
	return nil
}

// dryRun reports what a translation would send to the provider.
func dryRun(j job, a translateArgs) error {
	data, err := os.ReadFile(j.doc)
	if err != nil {
		return err
	}
	var cache *txcache.Cache
	if !a.noCache {
		cache, _ = txcache.LoadFile(j.cache)
	}
	ext := engine.Inspect(string(data))
	split := txcache.Partition(txcache.HashBlocks(ext.Blocks), cache, j.from, j.to)
	fmt.Printf("%s -> %s: %d blocks, %d cached, %d to translate\n",
		j.doc, j.out, len(ext.Blocks), len(split.Hits), len(split.ToTranslate))
	for _, b := range split.ToTranslate {
		fmt.Printf("  [%d] %s\n", b.Index, truncateText(b.PlainText, 70))
	}
	return nil
}

func currentHashes(markdown string) []string {
	ext := engine.Inspect(markdown)
	var out []string
	for _, b := range txcache.HashBlocks(ext.Blocks) {
		out = append(out, b.Hash)
	}
	return out
}

// ---------------------------------------------------------------------------
// inspect
// ---------------------------------------------------------------------------

func newInspectCmd() *cobra.Command {
	var (
		showXML  bool
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: i18n.T("Show the translatable blocks of a file"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ext := engine.Inspect(string(data))
			fmt.Printf("%s: %d blocks, %d empty positions\n", args[0], len(ext.Blocks), ext.EmptyCount())

			var split txcache.Split
			if to != "" {
				out := defaultOutputPath(args[0], langmeta.Canonicalize(to))
				cache, err := txcache.LoadFile(txcache.CachePath(out))
				if err != nil {
					return err
				}
				split = txcache.Partition(txcache.HashBlocks(ext.Blocks), cache, canonicalOrAuto(from), langmeta.Canonicalize(to))
				fmt.Printf("cache %s: %s\n", txcache.CachePath(out), cache.Summary())
			}

			fmt.Println()
			for _, entry := range ext.Structure {
				if entry.BlockIndex < 0 {
					fmt.Println("  ----  (empty line)")
					continue
				}
				b := ext.Blocks[entry.BlockIndex]
				mark := " "
				if _, ok := split.Cached[entry.BlockIndex]; ok {
					mark = "*"
				}
				fmt.Printf("%s [%2d] %s\n", mark, entry.BlockIndex, truncateText(b.PlainText(), 70))
				if showXML {
					fmt.Printf("        %s\n", b.XML)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showXML, "xml", false, i18n.T("Print the exchange XML of each block"))
	cmd.Flags().StringVar(&from, "from", "en", i18n.T("Source language for the cache check"))
	cmd.Flags().StringVar(&to, "to", "", i18n.T("Mark blocks cached for this target language"))
	return cmd
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func newServeCmd() *cobra.Command {
	var (
		addr, dataDir, logLevel string
		pretty                  bool
		pf                      providerFlags
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: i18n.T("Run the HTTP translation service"),
		Long: `Run the HTTP translation service.

Endpoints:
  POST /api/translate                  {documentId, markdown, from, to, cache}
  POST /api/documents/{id}/translate   {from, to}, translates <data-dir>/<id>.md
  GET  /healthz
  GET  /metrics                        Prometheus metrics

A new request for a documentId cancels the one still running for it; the
cancelled request answers 409 Conflict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProjectConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Server.DataDir = dataDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Server.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-pretty") {
				cfg.Server.LogPretty = pretty
			}

			log := server.NewLogger(server.LogConfig{Level: cfg.Server.LogLevel, Pretty: cfg.Server.LogPretty})
			client, err := newClient(cfg, &pf, func(format string, args ...any) {
				log.Warn().Str("component", "provider").Msgf(format, args...)
			})
			if err != nil {
				return err
			}

			srv := server.New(server.Config{
				DataDir:    cfg.Server.DataDir,
				Translator: client,
				Engine:     engineOptions(cfg, pf.verbose),
				Logger:     log,
			})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", i18n.T("Listen address (default 127.0.0.1:8080)"))
	cmd.Flags().StringVar(&dataDir, "data-dir", "", i18n.T("Directory of documents for /api/documents"))
	cmd.Flags().StringVar(&logLevel, "log-level", "", i18n.T("Log level: debug, info, warn, error"))
	cmd.Flags().BoolVar(&pretty, "log-pretty", false, i18n.T("Human-readable console logs"))
	pf.register(cmd.Flags())
	return cmd
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: i18n.T("Manage provider API keys"),
		Long: `Manage provider API keys and endpoint overrides.

Keys are stored in $XDG_DATA_HOME/jtrans/auth.json (mode 0600).

Lookup order for a provider key:
  1. --api-key flag
  2. JTRANS_API_KEY
  3. the provider variable (DEEPL_AUTH_KEY, LIBRETRANSLATE_API_KEY, GOOGLE_API_KEY, ...)
  4. auth.json

Examples:
  jtrans auth set --provider deepl                 Prompt for a DeepL key
  jtrans auth set --provider openai --base-url http://localhost:4000/v1 --model gpt-4o
  jtrans auth remove --provider deepl
  jtrans auth remove                               Remove all stored keys
  jtrans auth list`,
	}
	cmd.AddCommand(newAuthSetCmd(), newAuthRemoveCmd(), newAuthListCmd())
	return cmd
}

func newAuthSetCmd() *cobra.Command {
	var provider, key, baseURL, model string
	cmd := &cobra.Command{
		Use:   "set",
		Short: i18n.T("Store an API key or endpoint for a provider"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := translate.DefaultProviders()[provider]; !ok {
				return fmt.Errorf(i18n.T("unknown provider %q (valid: %s)"), provider, strings.Join(translate.ProviderIDs(), ", "))
			}
			if key == "" && baseURL == "" && model == "" {
				existing := settings.GetAPIKey(provider)
				if existing != "" {
					fmt.Fprintf(os.Stderr, i18n.T("  Current key: %s%s%s\n"), colorYellow, settings.MaskKey(existing), colorReset)
					fmt.Fprint(os.Stderr, i18n.T("  Enter new key to replace, or press Enter to keep: "))
				} else {
					fmt.Fprint(os.Stderr, i18n.T("  Enter API key: "))
				}
				scanner := bufio.NewScanner(os.Stdin)
				if !scanner.Scan() {
					return errors.New(i18n.T("no input received"))
				}
				key = strings.TrimSpace(scanner.Text())
				if key == "" {
					if existing != "" {
						logInfo(i18n.T("Keeping existing key"))
						return nil
					}
					return errors.New(i18n.T("no API key provided"))
				}
			}
			return storeCredentials(provider, key, baseURL, model)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", i18n.T("Provider ID"))
	cmd.Flags().StringVar(&key, "key", "", i18n.T("API key (prompted when omitted)"))
	cmd.Flags().StringVar(&baseURL, "base-url", "", i18n.T("Endpoint override"))
	cmd.Flags().StringVar(&model, "model", "", i18n.T("Default model"))
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

// storeCredentials updates the stored entry of a provider, keeping the
// fields that are not given.
func storeCredentials(provider, key, baseURL, model string) error {
	info := settings.Get(provider)
	if info == nil {
		info = &settings.Info{Type: "api"}
	}
	if key != "" {
		info.Key = key
	}
	if baseURL != "" {
		info.BaseURL = baseURL
	}
	if model != "" {
		info.Model = model
	}
	if err := settings.Set(provider, info); err != nil {
		return fmt.Errorf(i18n.T("saving credentials: %w"), err)
	}
	logSuccess(i18n.T("%s credentials saved"), provider)
	return nil
}

func newAuthRemoveCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"logout"},
		Short:   i18n.T("Remove stored credentials"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				if err := settings.RemoveAll(); err != nil {
					return err
				}
				logSuccess(i18n.T("All stored credentials removed"))
				return nil
			}
			if err := settings.Remove(provider); err != nil {
				return err
			}
			logSuccess(i18n.T("%s credentials removed"), provider)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", i18n.T("Provider to remove (default: all)"))
	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   i18n.T("Show stored credentials and status"),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, i18n.T("Stored Credentials"), colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
			defaults := translate.DefaultProviders()
			for _, id := range translate.ProviderIDs() {
				fmt.Fprintf(os.Stderr, "  %-15s %s\n", id, credentialStatus(id, defaults[id]))
			}

			fmt.Fprintf(os.Stderr, "\n  %s%s%s\n", colorYellow, i18n.T("Environment Variables"), colorReset)
			if envKey := os.Getenv(settings.EnvAPIKey); envKey != "" {
				fmt.Fprintf(os.Stderr, "  %s: %s%s%s (%s)\n", settings.EnvAPIKey, colorGreen, settings.MaskKey(envKey), colorReset, i18n.T("overrides stored keys"))
			} else {
				fmt.Fprintf(os.Stderr, "  %s: %s%s%s\n", settings.EnvAPIKey, colorRed, i18n.T("not set"), colorReset)
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}

func credentialStatus(id string, prov translate.Provider) string {
	entry := settings.Get(id)
	var parts []string
	switch {
	case entry != nil && entry.Key != "":
		parts = append(parts, fmt.Sprintf("%s%s%s (key: %s)", colorGreen, i18n.T("configured"), colorReset, settings.MaskKey(entry.Key)))
	case id == translate.ProviderOllama || id == translate.ProviderLibreTranslate:
		parts = append(parts, i18n.T("no key needed"))
	default:
		parts = append(parts, fmt.Sprintf("%s%s%s", colorRed, i18n.T("not configured"), colorReset))
	}
	if entry != nil && entry.BaseURL != "" {
		parts = append(parts, "endpoint: "+entry.BaseURL)
	} else if prov.BaseURL != "" {
		parts = append(parts, "endpoint: "+prov.BaseURL)
	}
	if entry != nil && entry.Model != "" {
		parts = append(parts, "model: "+entry.Model)
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// defaultOutputPath returns FILE.xx.md for FILE.md.
func defaultOutputPath(doc, lang string) string {
	ext := filepath.Ext(doc)
	return strings.TrimSuffix(doc, ext) + "." + lang + ".md"
}

// cacheFor names the cache of one document and language. Output to stdout
// keeps the cache next to the source.
func cacheFor(out, doc, lang string) string {
	if out == "-" {
		return txcache.CachePath(defaultOutputPath(doc, lang))
	}
	return txcache.CachePath(out)
}

// parseLanguages splits a comma-separated list and canonicalizes each code.
func parseLanguages(s string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !langmeta.Valid(part) {
			return nil, fmt.Errorf(i18n.T("invalid language %q"), part)
		}
		c := langmeta.Canonicalize(part)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func canonicalOrAuto(lang string) string {
	if lang == "auto" {
		return lang
	}
	return langmeta.Canonicalize(lang)
}

// intersectLanguages keeps the languages of available that are in filter,
// in the order of available.
func intersectLanguages(available, filter []string) []string {
	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[langmeta.Canonicalize(strings.TrimSpace(f))] = true
	}
	var out []string
	for _, lang := range available {
		if want[langmeta.Canonicalize(lang)] {
			out = append(out, lang)
		}
	}
	return out
}

func truncateText(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
