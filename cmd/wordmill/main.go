// ABOUTME: CLI entrypoint for the wordmill content service with server, one-shot, and estimate modes.
// ABOUTME: Wires the task store, cost ledger, provider router, crash recovery, and signal handling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/2389-research/wordmill/engine"
	"github.com/2389-research/wordmill/metrics"
	"github.com/2389-research/wordmill/pipeline"
	"github.com/2389-research/wordmill/provider"
	"github.com/2389-research/wordmill/quality"
	"github.com/2389-research/wordmill/render"
	"github.com/2389-research/wordmill/router"
	"github.com/2389-research/wordmill/store"
	"github.com/2389-research/wordmill/web"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and the positional topic.
type config struct {
	serverMode    bool
	port          int
	dataDir       string
	preset        string
	presetsFile   string
	targetWords   int
	maxIterations int
	threshold     float64
	budget        float64
	style         string
	tone          string
	estimateOnly  bool
	showVersion   bool
	topic         string
}

func main() {
	loadDotEnv(".env")

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if cfg.showVersion {
		fmt.Printf("wordmill %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg, os.Stdout, os.Stderr))
}

// parseFlags parses command-line flags and returns a populated config.
// The first positional argument, if any, is the one-shot topic.
func parseFlags(args []string) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("wordmill", flag.ContinueOnError)
	fs.BoolVar(&cfg.serverMode, "server", false, "Start HTTP API server mode")
	fs.IntVar(&cfg.port, "port", 2390, "Server port")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Data directory for persistent state (default: $XDG_DATA_HOME/wordmill)")
	fs.StringVar(&cfg.preset, "preset", "", "Provider preset: fast, balanced, quality (default: balanced)")
	fs.StringVar(&cfg.presetsFile, "presets-file", "", "YAML file with additional provider presets")
	fs.IntVar(&cfg.targetWords, "words", 0, "Target word count (default: 800)")
	fs.IntVar(&cfg.maxIterations, "max-iterations", -1, "Maximum refinement iterations (default: 2)")
	fs.Float64Var(&cfg.threshold, "threshold", 0, "Quality score a draft must reach, 0-100 (default: 80)")
	fs.Float64Var(&cfg.budget, "budget", 0, "Budget ceiling in USD; estimates above it warn at creation")
	fs.StringVar(&cfg.style, "style", "", "Writing style hint passed to the providers")
	fs.StringVar(&cfg.tone, "tone", "", "Tone hint passed to the providers")
	fs.BoolVar(&cfg.estimateOnly, "estimate", false, "Print the cost estimate as JSON and exit")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		cfg.topic = fs.Arg(0)
	}
	return cfg, nil
}

// run dispatches to the appropriate mode based on the config.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg config, stdout, stderr io.Writer) int {
	if cfg.serverMode {
		return runServer(cfg, stderr)
	}
	if cfg.topic == "" {
		printHelp(stderr, version)
		return 0
	}
	if cfg.estimateOnly {
		return runEstimate(cfg, stdout, stderr)
	}
	return runOneShot(cfg, stdout, stderr)
}

// request builds the pipeline request from CLI flags. Zero-valued flags stay
// zero so the engine's own defaults apply.
func (c config) request() pipeline.Request {
	req := pipeline.Request{
		Topic:  c.topic,
		Preset: c.preset,
		Constraints: pipeline.Constraints{
			TargetWords:      c.targetWords,
			Style:            c.style,
			Tone:             c.tone,
			QualityThreshold: c.threshold,
			BudgetUSD:        c.budget,
		},
	}
	if c.maxIterations >= 0 {
		iters := c.maxIterations
		req.Constraints.MaxIterations = &iters
	}
	return req
}

// buildLibrary returns the preset library, merged with the user's presets
// file when one is configured.
func buildLibrary(cfg config) (*router.PresetLibrary, error) {
	library := router.NewPresetLibrary()
	path := cfg.presetsFile
	if path == "" {
		path = defaultPresetsFile()
	}
	if path != "" {
		if err := library.LoadFile(path); err != nil {
			if cfg.presetsFile == "" && errors.Is(err, os.ErrNotExist) {
				return library, nil
			}
			return nil, fmt.Errorf("load presets file %s: %w", path, err)
		}
	}
	return library, nil
}

// detectClients builds the provider client set from the environment. The
// free-local model is always available; paid tiers require API keys.
func detectClients(stderr io.Writer) []provider.Client {
	catalog := provider.DefaultCatalog()
	clients := []provider.Client{provider.NewLocalClient()}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		baseURL := os.Getenv("OPENAI_BASE_URL")
		clients = append(clients,
			provider.NewOpenAIClient(key, "gpt-5.2-mini", baseURL, catalog),
			provider.NewOpenAIClient(key, "gpt-5.2", baseURL, catalog),
		)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		clients = append(clients,
			provider.NewAnthropicClient(key, "claude-sonnet-4-5", os.Getenv("ANTHROPIC_BASE_URL"), catalog))
	}
	if len(clients) == 1 {
		fmt.Fprintln(stderr, "note: no provider API key found; only the free-local model is available")
		fmt.Fprintln(stderr, "Set OPENAI_API_KEY and/or ANTHROPIC_API_KEY for the paid tiers")
	}
	return clients
}

// backend bundles the persistent pieces a running engine needs.
type backend struct {
	store  *store.SqliteStore
	costs  *metrics.Aggregator
	router *router.Router
	engine *engine.Engine
}

func (b *backend) close() {
	b.engine.Wait()
	if err := b.router.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing providers: %v\n", err)
	}
	_ = b.costs.Close()
	_ = b.store.Close()
}

// buildBackend opens the task store and cost ledger under the data
// directory and wires the full engine on top of them.
func buildBackend(cfg config, stderr io.Writer) (*backend, error) {
	dataDir, err := resolveDataDir(cfg.dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.OpenSqlite(filepath.Join(dataDir, "tasks.db"))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	costs, err := metrics.Open(filepath.Join(dataDir, "costs.db"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open cost ledger: %w", err)
	}

	library, err := buildLibrary(cfg)
	if err != nil {
		_ = costs.Close()
		_ = st.Close()
		return nil, err
	}

	rt := router.New(detectClients(stderr),
		router.WithRecorder(costs),
		router.WithPresetLibrary(library),
	)
	nodes := pipeline.NewNodes(pipeline.Deps{
		Invoker:   rt,
		Evaluator: quality.NewEvaluator(nil),
		Renderer:  render.New(),
	})
	eng := engine.New(st, nodes, library, provider.DefaultCatalog(),
		engine.WithCostLedger(costs),
		engine.WithBudgetCeiling(cfg.budget),
	)

	return &backend{store: st, costs: costs, router: rt, engine: eng}, nil
}

// runServer starts the HTTP API, resuming any tasks interrupted by a
// previous crash, and shuts down cleanly on SIGINT/SIGTERM.
func runServer(cfg config, stderr io.Writer) int {
	b, err := buildBackend(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer b.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resumed, err := b.engine.Recover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "warning: recovery scan: %v\n", err)
	} else if resumed > 0 {
		fmt.Fprintf(stderr, "resumed %d interrupted task(s)\n", resumed)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.port)
	srv := web.NewServer(web.ServerConfig{Addr: addr, Engine: b.engine})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Minute,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(stderr, "\nInterrupted, shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "warning: shutdown: %v\n", err)
		}
		cancel()
	}()

	fmt.Fprintf(stderr, "wordmill %s listening on http://%s\n", version, addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runEstimate prices the request against the preset without touching any
// persistent state and prints the breakdown as JSON.
func runEstimate(cfg config, stdout, stderr io.Writer) int {
	req := cfg.request()
	if err := pipeline.Validate(req); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	library, err := buildLibrary(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	c := req.Constraints.Normalize()
	sel, err := library.Resolve(req.Preset, c.ProviderOverrides)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	est, err := router.EstimateTask(provider.DefaultCatalog(), sel, c.TargetWords, c.MaxRefinements())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(est); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runOneShot generates one article, streaming progress to stderr and
// printing the finished markdown to stdout.
func runOneShot(cfg config, stdout, stderr io.Writer) int {
	b, err := buildBackend(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer b.close()

	ctx := context.Background()
	rec, err := b.engine.Submit(ctx, cfg.request())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if rec.BudgetWarning {
		fmt.Fprintln(stderr, "warning: estimated cost exceeds the configured budget")
	}

	events, unsubscribe, err := b.engine.Subscribe(ctx, rec.ID)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer unsubscribe()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(stderr, "\nInterrupted, cancelling task...")
		if err := b.engine.Cancel(context.Background(), rec.ID); err != nil {
			fmt.Fprintf(stderr, "warning: cancel: %v\n", err)
		}
	}()

	for ev := range events {
		if ev.Terminal() {
			return printOutcome(ev, stdout, stderr)
		}
		fmt.Fprintf(stderr, "phase=%s progress=%3.0f%% cost=$%.4f\n",
			ev.Phase, ev.Progress*100, ev.CostSoFar)
	}

	fmt.Fprintln(stderr, "error: event stream ended without a terminal event")
	return 1
}

func printOutcome(ev engine.Event, stdout, stderr io.Writer) int {
	switch ev.Status {
	case store.StatusCompleted:
		fmt.Fprintln(stdout, ev.Result.Content)
		score := "n/a"
		if ev.Result.QualityScore != nil {
			score = fmt.Sprintf("%.1f", *ev.Result.QualityScore)
		}
		fmt.Fprintf(stderr, "done: words=%d reading_time=%dm quality=%s refinements=%d cost=$%.4f\n",
			ev.Result.WordCount, ev.Result.ReadingTime, score, ev.Result.Refinements, ev.Result.CostUSD)
		if ev.Result.NeedsReview {
			fmt.Fprintln(stderr, "warning: quality threshold not reached; content needs review")
		}
		return 0
	case store.StatusCancelled:
		fmt.Fprintln(stderr, "cancelled")
		return 1
	default:
		fmt.Fprintf(stderr, "error: task %s: %s\n", ev.Status, ev.Error)
		return 1
	}
}
