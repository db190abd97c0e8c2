package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tailored-agentic-units/observable/config"
	"github.com/tailored-agentic-units/observable/observability"
	"github.com/tailored-agentic-units/observable/service"
	"github.com/tailored-agentic-units/observable/state"
)

var CLI struct {
	Config   string   `short:"c" help:"Path to a JSON or YAML config file" type:"path"`
	Seed     string   `short:"s" help:"Path to a JSON or YAML file with the initial data (overrides config)" type:"path"`
	Addr     string   `short:"a" help:"Listen address (overrides config)"`
	Observer string   `short:"o" help:"Registered observer for state events (overrides config)"`
	Watch    []string `short:"w" help:"Namespaces whose changes are logged; empty logs every change"`
	Verbose  bool     `short:"v" help:"Enable verbose logging to stderr"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("stated"),
		kong.Description("Serve an observable state object over Connect RPC."),
	)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if CLI.Config != "" {
		loaded, err := config.LoadConfig(CLI.Config)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if err := cfg.ParseEnv(); err != nil {
		return nil, err
	}

	cfg.Merge(&config.Config{
		Addr:     CLI.Addr,
		Observer: CLI.Observer,
		SeedFile: CLI.Seed,
		Verbose:  CLI.Verbose,
	})
	return &cfg, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}

	registry := prom.NewRegistry()
	metrics := observability.NewPrometheusObserver(registry)
	observability.RegisterObserver("prometheus", metrics)

	named, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return err
	}
	var observer observability.Observer = metrics
	if named != observability.Observer(metrics) {
		observer = observability.NewMultiObserver(named, metrics)
	}

	st := state.New(seed, state.WithObserver(observer))
	watch(st, logger)

	mux := http.NewServeMux()
	mux.Handle(service.NewHandler(service.New(st, observer)))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("Serving state", "addr", cfg.Addr, "state", st.ID(), "keys", len(seed))
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Shutting down")
	return server.Shutdown(shutdown)
}

func watch(st *state.State, logger *slog.Logger) {
	namespaces := CLI.Watch
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}

	for _, ns := range namespaces {
		ns := ns
		st.On(ns, func(oldValue, newValue any) {
			logger.Info("State changed", "namespace", ns, "old", oldValue, "new", newValue)
		})
	}
}
