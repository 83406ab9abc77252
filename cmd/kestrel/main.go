// Kestrel is a conversational AI-agent backend: a user utterance goes
// in, a sequence of tool invocations plus retrieved context comes out.
//
// It exposes an HTTP API (chat, direct search, health, a websocket
// event stream) and a CLI for one-shot questions and markdown
// ingestion. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	kestrel serve              Start the API server
//	kestrel ask <question>     Ask a single question (for testing)
//	kestrel ingest <file.md>   Import a markdown document into the store
//	kestrel version            Print version and build information
//	kestrel -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/kestrel-agent/internal/agent"
	"github.com/kestrelworks/kestrel-agent/internal/api"
	"github.com/kestrelworks/kestrel-agent/internal/buildinfo"
	"github.com/kestrelworks/kestrel-agent/internal/config"
	"github.com/kestrelworks/kestrel-agent/internal/embeddings"
	"github.com/kestrelworks/kestrel-agent/internal/events"
	"github.com/kestrelworks/kestrel-agent/internal/fetch"
	"github.com/kestrelworks/kestrel-agent/internal/ingest"
	"github.com/kestrelworks/kestrel-agent/internal/llm"
	"github.com/kestrelworks/kestrel-agent/internal/memory"
	"github.com/kestrelworks/kestrel-agent/internal/mqtt"
	"github.com/kestrelworks/kestrel-agent/internal/retrieval"
	"github.com/kestrelworks/kestrel-agent/internal/session"
	"github.com/kestrelworks/kestrel-agent/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and os.Args out of
// the application logic so the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the kestrel command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: kestrel ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: kestrel ingest <file.md>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// services holds every long-lived component the serve and ask commands
// share. close tears them down in dependency order.
type services struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sql.DB
	store      *memory.Store
	embedder   embeddings.Embedder
	engine     *retrieval.Engine
	bus        *events.Bus
	controller *agent.Controller
}

func (s *services) close() {
	s.engine.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("database close failed", "error", err)
	}
}

// buildServices constructs the full component graph: store, retrieval
// engine, tool registry, dispatcher, LLM clients, and the reasoning
// loop controller.
func buildServices(stdout io.Writer, configPath string) (*services, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		parsed, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	logger := newLogger(stdout, level)
	logger.Info("config loaded", "path", cfgPath)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := memory.Open(filepath.Join(cfg.DataDir, "kestrel.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	storeOpts := &memory.StoreOptions{
		CacheTTL:   cfg.Cache.TTL(),
		CacheSweep: cfg.Cache.SweepInterval(),
	}
	store, err := memory.NewStore(db, logger, storeOpts)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}

	embedBase := cfg.Embeddings.BaseURL
	if embedBase == "" {
		embedBase = cfg.Models.OllamaURL
	}
	embedder := embeddings.New(embeddings.Config{
		BaseURL: embedBase,
		Model:   cfg.Embeddings.Model,
	})

	bus := events.New()

	engine := retrieval.NewEngine(store, embedder, logger, bus, &retrieval.Options{
		DefaultLimit: cfg.Retrieval.DefaultLimit,
		CacheTTL:     cfg.Cache.TTL(),
		CacheSweep:   cfg.Cache.SweepInterval(),
	})
	// Document mutations must not leave stale search results behind.
	store.OnMutation(func(string) { engine.InvalidateCache() })

	audit, err := tools.NewAuditStore(db)
	if err != nil {
		engine.Close()
		db.Close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	sessStore, err := session.NewStore(db)
	if err != nil {
		engine.Close()
		db.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	registry := tools.NewRegistry()
	memTool := tools.NewMemoryTool(engine, store, embedder, logger)
	registry.Register(memTool)
	registry.Register(tools.NewWebFetchTool(fetch.New(), store, embedder, logger))

	dispatcher := tools.NewDispatcher(registry, audit, cfg.Tools.ToolTimeout(), logger, bus)

	client := buildLLM(cfg, logger)

	controller := agent.NewController(client, dispatcher, sessStore, logger, bus, &agent.Options{
		MaxSteps: cfg.Loop.MaxSteps,
		ContextProviders: map[string]tools.ContextProvider{
			memTool.Name(): memTool,
		},
	})

	return &services{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      store,
		embedder:   embedder,
		engine:     engine,
		bus:        bus,
		controller: controller,
	}, nil
}

// buildLLM wires the model-routing client: Ollama as the fallback, with
// claude-prefixed models routed to Anthropic when an API key is set.
func buildLLM(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL)
	multi := llm.NewMultiClient(ollama)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		for _, model := range []string{cfg.Models.Default, cfg.Models.Alt} {
			if strings.HasPrefix(model, "claude") {
				multi.AddModel(model, "anthropic")
			}
		}
	}
	return multi
}

// runServe starts the API server and, when configured, the MQTT status
// publisher, then blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	svc, err := buildServices(stdout, configPath)
	if err != nil {
		return err
	}
	defer svc.close()

	cfg := svc.cfg
	logger := svc.logger
	logger.Info("starting", "build", buildinfo.String())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(
		cfg.Listen.Address, cfg.Listen.Port,
		svc.controller, svc.engine, svc.bus,
		api.Models{Default: cfg.Models.Default, Alt: cfg.Models.Alt},
		logger,
	)

	var wg sync.WaitGroup
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.New(cfg.MQTT, cfg.Models.Default, svc.bus, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Start(ctx); err != nil {
				logger.Warn("mqtt publisher stopped", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown failed", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt publisher stop failed", "error", err)
		}
	}
	wg.Wait()
	return nil
}

// runAsk boots the full component graph, runs one reasoning session
// over a throwaway conversation, and prints the answer.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	svc, err := buildServices(stdout, configPath)
	if err != nil {
		return err
	}
	defer svc.close()

	question := strings.Join(args, " ")
	sess := session.New(uuid.New().String(), svc.cfg.Models.Default, svc.cfg.Models.Alt, "")
	sess.AddMessage("user", question)

	answer, err := svc.controller.Run(ctx, sess)
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	fmt.Fprintln(stdout, answer)
	return nil
}

// runIngest imports one markdown file into the document store. The
// file's base name becomes the source id, so re-ingesting the same file
// replaces its previous chunks.
func runIngest(ctx context.Context, stdout io.Writer, configPath string, path string) error {
	svc, err := buildServices(stdout, configPath)
	if err != nil {
		return err
	}
	defer svc.close()

	ingester := ingest.NewMarkdownIngester(svc.store, svc.embedder, svc.logger)
	count, err := ingester.IngestFile(ctx, filepath.Base(path), path)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "ingested %d chunks from %s\n", count, path)
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Kestrel - Conversational AI Agent Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: kestrel [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  ingest       Import a markdown document into the store")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./kestrel.yaml, ~/.config/kestrel/kestrel.yaml, /etc/kestrel/kestrel.yaml")
	return nil
}

// newLogger creates a structured text logger that renders the custom
// TRACE level correctly.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
