// Command labyrinth runs the navigation simulation headless and prints a
// summary of what the agents did.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/milk9111/labyrinth/game"
	"github.com/milk9111/labyrinth/levels"
	"github.com/milk9111/labyrinth/prefabs"
)

func main() {
	levelName := flag.String("level", "labyrinth.yaml", "level file in levels/ or embedded")
	ticks := flag.Uint64("ticks", 3600, "ticks to simulate; 0 runs until interrupted")
	dt := flag.Float64("dt", 1.0/60, "seconds per tick")
	seed := flag.Uint64("seed", 1, "seed for wander waypoint selection")
	workers := flag.Int("workers", 2, "path planner workers; 0 plans inline")
	maxExpansions := flag.Int("max-expansions", 0, "A* expansion limit per search; 0 is unbounded")
	recordPath := flag.String("record", "", "SQLite file to record the run into")
	metricsAddr := flag.String("metrics", "", "address to serve Prometheus metrics on, e.g. :9090")
	watchDir := flag.String("watch", "", "prefab directory to hot reload from")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	logFormat := flag.String("log-format", envOr("LOG_FORMAT", "text"), "text or json")
	list := flag.Bool("list", false, "print embedded levels and prefabs, then exit")
	flag.Parse()

	if *list {
		printCatalog(os.Stdout)
		return
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if *dt <= 0 {
		logger.Error("dt must be positive", "dt", *dt)
		os.Exit(2)
	}
	if *watchDir != "" {
		prefabs.OverrideDir = *watchDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := game.Config{
		Level:         *levelName,
		Seed:          *seed,
		Workers:       *workers,
		MaxExpansions: *maxExpansions,
		RecordPath:    *recordPath,
		Logger:        logger,
	}
	if *watchDir != "" {
		cfg.WatchDirs = []string{*watchDir}
	}

	var srv *http.Server
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		cfg.Registerer = reg
		srv = serveMetrics(*metricsAddr, reg, logger)
	}

	if err := run(ctx, cfg, *ticks, *dt, logger); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func run(ctx context.Context, cfg game.Config, ticks uint64, dt float64, logger *slog.Logger) error {
	g, err := game.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			logger.Error("close", "err", err)
		}
	}()

	started := time.Now()
	err = g.Run(ctx, ticks, dt)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	elapsed := time.Since(started)

	printSummary(g.Summary(), elapsed, dt)

	if rec := g.Recorder(); rec != nil {
		if err := rec.Flush(context.Background()); err != nil {
			return err
		}
		s, err := rec.Summary(context.Background(), g.RunID())
		if err != nil {
			return err
		}
		fmt.Printf("recorded    %s transitions, %s nav events into %s\n",
			humanize.Comma(int64(s.Transitions)), humanize.Comma(int64(s.NavEvents)), cfg.RecordPath)
	}
	return nil
}

func printSummary(s game.Summary, elapsed time.Duration, dt float64) {
	simulated := time.Duration(float64(s.Ticks) * dt * float64(time.Second))
	fmt.Printf("run         %s\n", s.RunID)
	fmt.Printf("level       %s (%d agents)\n", s.Level, s.Agents)
	fmt.Printf("ticks       %s (%s simulated in %s)\n",
		humanize.Comma(int64(s.Ticks)), simulated.Round(time.Millisecond), elapsed.Round(time.Millisecond))
	fmt.Printf("transitions %s\n", humanize.Comma(int64(s.Transitions)))

	names := make([]string, 0, len(s.NavEvents))
	counts := map[string]int{}
	for ev, n := range s.NavEvents {
		names = append(names, ev.String())
		counts[ev.String()] = n
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, humanize.Comma(int64(counts[name])))
	}

	emits := make([]string, 0, len(s.Emits))
	for name := range s.Emits {
		emits = append(emits, name)
	}
	sort.Strings(emits)
	for _, name := range emits {
		fmt.Printf("emit %-6s %s\n", name, humanize.Comma(int64(s.Emits[name])))
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printCatalog(w io.Writer) {
	fmt.Fprintln(w, "levels:")
	for _, name := range levels.Names() {
		fmt.Fprintln(w, "  "+name)
	}
	fmt.Fprintln(w, "prefabs:")
	for _, name := range prefabs.Names() {
		fmt.Fprintln(w, "  "+name)
	}
}
