package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/deepresearch/fetch"
	"github.com/lexcodex/deepresearch/framework"
	"github.com/lexcodex/deepresearch/llm"
	"github.com/lexcodex/deepresearch/persistence"
	"github.com/lexcodex/deepresearch/research"
	"github.com/lexcodex/deepresearch/search"
)

// Runtime bundles everything a command needs to execute research runs.
type Runtime struct {
	Config  *research.Config
	Logger  *zap.Logger
	Agent   *research.Agent
	Runner  *research.Runner
	Runs    *persistence.FileRunStore
	Channel *framework.ChannelTelemetry

	closers []func() error
}

// Close releases files and database handles in reverse acquisition order.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildRuntime assembles the full pipeline from config. When withChannel is
// set, telemetry is additionally fanned out to a channel sink for live
// consumers (the TUI or the RPC server).
func buildRuntime(cfg *research.Config, withChannel bool) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	rt.Logger = logger
	rt.closers = append(rt.closers, func() error { _ = logger.Sync(); return nil })

	var sinks []framework.Telemetry
	if cfg.Logging.EventFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.EventFile), 0o755); err != nil {
			rt.Close()
			return nil, err
		}
		events, err := framework.NewJSONFileTelemetry(cfg.Logging.EventFile)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open event log: %w", err)
		}
		rt.closers = append(rt.closers, events.Close)
		sinks = append(sinks, events)
	}
	if withChannel {
		rt.Channel = framework.NewChannelTelemetry(256)
		sinks = append(sinks, rt.Channel)
	}
	telemetry := framework.MultiplexTelemetry{Sinks: sinks}

	client := llm.NewClient(cfg.Model.Endpoint, cfg.Model.Name)
	client.SetLogger(logger)
	client.SetDebugLogging(cfg.Model.Debug || cfg.Logging.LLMDebug)
	model := llm.NewInstrumentedModel(client, telemetry, cfg.Logging.LLMDebug)

	web, news, err := search.FromConfig(cfg.Search)
	if err != nil {
		rt.Close()
		return nil, err
	}

	docs, err := research.NewFileDocumentStore(cfg.OutputDir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		rt.Close()
		return nil, err
	}
	blocklist, err := persistence.NewSQLiteBlocklist(filepath.Join(cfg.StateDir, "blocklist.db"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open blocklist: %w", err)
	}
	rt.closers = append(rt.closers, blocklist.Close)

	runs, err := persistence.NewFileRunStore(cfg.StateDir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open run store: %w", err)
	}
	rt.Runs = runs

	kb := persistence.NewInMemoryVectorStore()

	agent, err := research.NewAgent(research.Agent{
		Model:      model,
		SearchWeb:  web,
		SearchNews: news,
		Scraper:    fetch.NewHTTP(),
		KB:         kb,
		Ingest:     kb,
		Docs:       docs,
		Blocklist:  blocklist,
		Telemetry:  telemetry,
		Logger:     logger,
		Config:     cfg,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	messages, err := persistence.NewFileMessageStore(filepath.Join(cfg.StateDir, "messages"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open message store: %w", err)
	}

	rt.Agent = agent
	rt.Runner = research.NewRunner(agent, runs).WithMessageLog(messages)
	return rt, nil
}

// buildLogger maps the logging config onto a zap production logger.
func buildLogger(cfg research.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
