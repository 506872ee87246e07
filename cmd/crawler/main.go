package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firmendata/wko-crawler/backoff"
	"github.com/firmendata/wko-crawler/catalog"
	"github.com/firmendata/wko-crawler/config"
	"github.com/firmendata/wko-crawler/dedupe"
	"github.com/firmendata/wko-crawler/scheduler"
	"github.com/firmendata/wko-crawler/sink"
	"github.com/firmendata/wko-crawler/state"
	"github.com/firmendata/wko-crawler/stepper"
)

func main() {
	defaultCfg := config.DefaultConfig()
	cyclesDefault := defaultCfg.MaxCycles
	if value, ok, err := config.EnvInt("CRAWLER_MAX_CYCLES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CRAWLER_MAX_CYCLES: %v\n", err)
		os.Exit(1)
	} else if ok {
		cyclesDefault = value
	}
	catalogDefault := defaultCfg.CatalogPath
	if value, ok := config.EnvString("CRAWLER_CATALOG"); ok {
		catalogDefault = value
	}
	stateDefault := defaultCfg.StatePath
	if value, ok := config.EnvString("CRAWLER_STATE"); ok {
		stateDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("CRAWLER_OUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("CRAWLER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	maxCycles := flag.Int("max-cycles", cyclesDefault, "Stop after this many crawl cycles (0 runs forever)")
	catalogPath := flag.String("catalog", catalogDefault, "Branch catalog file path")
	statePath := flag.String("state", stateDefault, "Crawl state file path")
	ratingsPath := flag.String("ratings", defaultCfg.RatingsPath, "Ratings snapshot file path (empty disables)")
	outputFile := flag.String("out", outputDefault, "Output JSONL file path")
	dedupeDir := flag.String("dedupe-dir", defaultCfg.DedupeDir, "Durable dedupe store directory")
	timeBudgetMin := flag.Int("branch-budget", int(defaultCfg.BranchTimeBudget.Minutes()), "Per-branch time budget (minutes)")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.MaxCycles = *maxCycles
	cfg.CatalogPath = *catalogPath
	cfg.StatePath = *statePath
	cfg.RatingsPath = *ratingsPath
	cfg.OutputFile = *outputFile
	cfg.DedupeDir = *dedupeDir
	cfg.BranchTimeBudget = time.Duration(*timeBudgetMin) * time.Minute
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("loading branch catalog", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("starting crawler",
		slog.Int("branches", len(cat.Branches)),
		slog.Int("max_cycles", cfg.MaxCycles),
		slog.String("output", cfg.OutputFile),
	)

	store, err := dedupe.Open(cfg.DedupeDir, cfg.DedupeCacheSize)
	if err != nil {
		slog.Error("opening dedupe store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close dedupe store", slog.Any("error", err))
		}
	}()

	writer, err := sink.NewJSONLWriter(cfg.OutputFile)
	if err != nil {
		slog.Error("opening output file", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close output file", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current branch")
	}()

	client := stepper.NewHTTPClient(cfg)
	var upsert stepper.Upserter
	if supa := sink.NewSupabaseFromEnv(client, cfg.SupabaseBatchSize); supa != nil {
		if err := supa.Preflight(ctx); err != nil {
			slog.Warn("supabase preflight failed; external upsert disabled", slog.Any("error", err))
		} else {
			slog.Info("supabase upsert enabled")
			upsert = supa
		}
	}

	metrics := stepper.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	crawler := stepper.New(cfg, client, backoff.NewController(cfg), store, writer, upsert, metrics)
	stateStore := state.NewStore(cfg.StatePath)
	sched := scheduler.New(cfg, cat.Branches, stateStore, crawler, metrics)

	startTime := time.Now()
	err = sched.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", shutdownErr))
		}
		cancel()
	}
	if err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		os.Exit(1)
	}

	printSummary(stateStore, time.Since(startTime), cfg.OutputFile)
}

func printSummary(store *state.Store, duration time.Duration, outputFile string) {
	doc, err := store.Load()
	if err != nil {
		slog.Error("reload state for summary", slog.Any("error", err))
		return
	}

	totalRows := 0
	crawls := 0
	denials := 0
	for _, st := range doc.Branches {
		totalRows += st.TotalRowsInserted
		crawls += st.CrawlCount
		denials += st.AccessDeniedCount
	}

	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl session complete")
	fmt.Printf("  Branches known:  %d\n", len(doc.Branches))
	fmt.Printf("  Branch crawls:   %d\n", crawls)
	fmt.Printf("  Rows inserted:   %d (all-time)\n", totalRows)
	fmt.Printf("  Access denials:  %d (all-time)\n", denials)
	fmt.Printf("  Duration:        %v\n", duration)
	fmt.Printf("  Output file:     %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
