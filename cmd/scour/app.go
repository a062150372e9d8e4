package main

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/aggregate"
	"github.com/scourhq/scour/internal/coordinator"
	"github.com/scourhq/scour/internal/embedding"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/fetch"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/rag"
	"github.com/scourhq/scour/internal/search"
	"github.com/scourhq/scour/internal/search/brave"
	"github.com/scourhq/scour/internal/search/newsapi"
	"github.com/scourhq/scour/internal/search/serper"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/workflow"
)

// Worker pool shared by all concurrent provider calls.
const coordinatorPoolSize = 8

// app holds the fully wired service graph. Everything is constructed once at
// startup and torn down in Close.
type app struct {
	cfg         *config.Config
	store       store.RunStore
	coordinator *coordinator.Coordinator
	fetcher     fetch.Fetcher
	driver      *workflow.Driver
	reaper      *workflow.Reaper
	memory      *events.MemorySink
	redis       interface{ Close() error }
	registry    *prometheus.Registry
	logger      *log.Logger
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: log.New(log.Writer(), "[SCOUR] ", log.LstdFlags)}

	registry := search.NewRegistry(
		serper.New(cfg.Providers.Serper.APIKey),
		brave.New(cfg.Providers.Brave.APIKey),
		newsapi.New(cfg.Providers.NewsAPI.APIKey),
	)
	if len(registry.Configured()) == 0 {
		a.logger.Printf("no search providers configured, runs will fail until at least one api key is set")
	}

	a.memory = events.NewMemorySink(cfg.Events.BufferSize)
	sink := events.Sink(a.memory)
	if cfg.Events.Redis.Enabled() {
		client, err := events.Conn(ctx, cfg.Events.Redis.Host, cfg.Events.Redis.Port,
			cfg.Events.Redis.Password, cfg.Events.Redis.DB, cfg.Events.Redis.Timeout)
		if err != nil {
			return nil, fmt.Errorf("connecting redis: %w", err)
		}
		a.redis = client
		sink = events.MultiSink{a.memory, events.NewStreamSink(client, cfg.Events.Stream, cfg.Events.MaxLen)}
	}
	rec := events.NewRecorder(sink)

	a.registry = prometheus.NewRegistry()
	metrics := telemetry.New(a.registry)

	co, err := coordinator.New(registry, coordinatorPoolSize, coordinator.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("building coordinator: %w", err)
	}
	a.coordinator = co

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("building embedder: %w", err)
	}
	fetcher, err := fetch.New(cfg.Fetch)
	if err != nil {
		return nil, fmt.Errorf("building fetcher: %w", err)
	}
	a.fetcher = fetcher

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	a.store = st

	pipeline := workflow.NewPipeline(
		cfg.Workflow,
		cfg.Fetch,
		planner.New(cfg.Planner, registry),
		co,
		aggregate.New(cfg.Aggregation),
		fetcher,
		rag.NewEngine(embedder, cfg.RAG),
		rec,
	)
	a.driver = workflow.NewDriver(st, pipeline.Steps(), rec,
		workflow.WithStepTimeout(cfg.Workflow.StepTimeout),
		workflow.WithMetrics(metrics),
	)

	reaper, err := workflow.NewReaper(cfg.Workflow.Reaper, st, rec, metrics)
	if err != nil {
		return nil, fmt.Errorf("building reaper: %w", err)
	}
	a.reaper = reaper

	return a, nil
}

func (a *app) Close() {
	if a.coordinator != nil {
		a.coordinator.Close()
	}
	if closer, ok := a.fetcher.(fetch.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Printf("closing fetcher: %v", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Printf("closing redis: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Printf("closing store: %v", err)
		}
	}
}
