package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/ragline/config"
	"github.com/c360studio/ragline/eventstream"
	"github.com/c360studio/ragline/pipeline"
	"github.com/c360studio/ragline/plugin"
	"github.com/c360studio/ragline/plugin/stage"
	"github.com/c360studio/ragline/slo"
	"github.com/c360studio/ragline/stages/evaluator"
	"github.com/c360studio/ragline/stages/fileloader"
	"github.com/c360studio/ragline/stages/lexrank"
	"github.com/c360studio/ragline/stages/memstore"
	"github.com/c360studio/ragline/stages/openai"
	"github.com/c360studio/ragline/stages/webloader"
)

const streamSetupTimeout = 10 * time.Second

// natsEmbedded selects the in-process NATS server instead of dialing out.
const natsEmbedded = "embedded"

// App wires the toolkit together for one CLI invocation: configuration,
// plugin registry with built-in stages, SLO monitor, and the optional
// event stream publisher.
type App struct {
	Config   *config.Config
	Registry *plugin.Registry
	Monitor  *slo.Monitor

	publisher *eventstream.Publisher
	embedded  *eventstream.EmbeddedPublisher
	watcher   *plugin.ContractWatcher
	logger    *slog.Logger
}

// newApp builds the application from a config path (empty means the
// layered user/project configuration).
func newApp(configPath string) (*App, error) {
	logger := slog.Default()

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, logger: logger}

	if err := app.startEventStream(); err != nil {
		return nil, err
	}
	if err := app.startRegistry(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.startMonitor(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.registerBuiltins(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close releases everything newApp started.
func (a *App) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.embedded != nil {
		a.embedded.Close()
	} else if a.publisher != nil {
		a.publisher.Close()
	}
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return config.NewLoader(logger).Load()
}

// startEventStream connects to NATS when configured. An empty URL
// disables event streaming entirely.
func (a *App) startEventStream() error {
	url := a.Config.NATS.URL
	if url == "" {
		return nil
	}

	prefix := a.Config.NATS.SubjectPrefix
	if url == natsEmbedded {
		ep, err := eventstream.ConnectEmbedded(prefix, a.logger)
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		a.embedded = ep
		a.publisher = ep.Publisher
	} else {
		pub, err := eventstream.Connect(url, prefix, a.logger)
		if err != nil {
			return fmt.Errorf("connect to NATS at %s: %w", url, err)
		}
		a.publisher = pub
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamSetupTimeout)
	defer cancel()
	if err := a.publisher.EnsureStream(ctx); err != nil {
		return err
	}
	a.logger.Info("event streaming enabled", "url", url, "prefix", prefix)
	return nil
}

func (a *App) startRegistry() error {
	opts := plugin.Options{
		VerifySignatures:        a.Config.Registry.VerifySignatures,
		FailClosed:              a.Config.Registry.FailClosed,
		TrustedKeysPath:         a.Config.Registry.TrustedKeysPath,
		DisableContractWarnings: a.Config.Registry.DisableContractWarnings,
		ValidateContractSchema:  a.Config.Registry.ValidateContractSchema,
		Logger:                  a.logger,
	}
	if a.publisher != nil {
		opts.AuditSink = a.publisher.AuditSink()
	}

	registry, err := plugin.New(opts)
	if err != nil {
		return err
	}
	a.Registry = registry

	dir := a.Config.Registry.ContractsDir
	if dir != "" {
		if err := registry.LoadContracts(dir); err != nil {
			return fmt.Errorf("load contracts from %s: %w", dir, err)
		}
		if a.Config.Registry.WatchContracts {
			watcher, err := plugin.NewContractWatcher(registry, dir, 0, a.logger)
			if err != nil {
				return fmt.Errorf("watch contracts: %w", err)
			}
			if err := watcher.Start(context.Background()); err != nil {
				return fmt.Errorf("watch contracts: %w", err)
			}
			a.watcher = watcher
		}
	}
	return nil
}

func (a *App) startMonitor() error {
	monitor := slo.NewMonitor(slo.WithLogger(a.logger))
	if a.Config.SLO.DefineDefaults {
		if err := monitor.DefineDefaults(); err != nil {
			return err
		}
	}
	for _, def := range a.Config.SLO.Objectives {
		if err := monitor.DefineSLO(def); err != nil {
			return fmt.Errorf("define SLO %q: %w", def.Name, err)
		}
	}
	if a.publisher != nil {
		monitor.OnAlert(a.publisher.AlertHandler())
	}

	if err := prometheus.Register(slo.NewCollector(monitor)); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			return fmt.Errorf("register SLO collector: %w", err)
		}
	}

	a.Monitor = monitor
	return nil
}

// registerBuiltins installs the bundled stage plugins. OpenAI stages
// register only when an API key is present in the environment.
func (a *App) registerBuiltins() error {
	builtins := []struct {
		category stage.Category
		name     string
		impl     any
	}{
		{stage.CategoryLoader, "file", fileloader.New()},
		{stage.CategoryLoader, "web", webloader.New()},
		{stage.CategoryRetriever, "memory", memstore.New()},
		{stage.CategoryReranker, "lexical", lexrank.New()},
		{stage.CategoryEvaluator, "overlap", evaluator.New()},
	}
	for _, b := range builtins {
		if err := a.Registry.Register(b.category, b.name, b.impl, nil); err != nil {
			return fmt.Errorf("register builtin %s/%s: %w", b.category, b.name, err)
		}
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		a.logger.Debug("OPENAI_API_KEY not set, openai stages unavailable")
		return nil
	}
	oaCfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		oaCfg.BaseURL = base
	}
	if a.Config.Batch.Model != "" {
		oaCfg.EmbeddingModel = a.Config.Batch.Model
	}
	if err := a.Registry.Register(stage.CategoryEmbedder, "openai", openai.NewEmbedder(oaCfg), nil); err != nil {
		return fmt.Errorf("register openai embedder: %w", err)
	}
	if err := a.Registry.Register(stage.CategoryLLM, "openai", openai.NewLLM(oaCfg), nil); err != nil {
		return fmt.Errorf("register openai llm: %w", err)
	}
	return nil
}

// runner builds the Runner for a named pipeline from configuration.
func (a *App) runner(name string) (*pipeline.Runner, error) {
	for _, pc := range a.Config.Pipelines {
		if pc.Name != name {
			continue
		}
		opts := []pipeline.Option{
			pipeline.WithEngine(a.Config.Engine),
			pipeline.WithBatch(a.Config.Batch),
			pipeline.WithMonitor(a.Monitor),
			pipeline.WithLogger(a.logger),
		}
		if a.publisher != nil {
			opts = append(opts, pipeline.WithBatchObserver(a.publisher.BatchObserver()))
		}
		return pipeline.New(a.Registry, pc, opts...)
	}
	return nil, fmt.Errorf("pipeline %q is not defined in configuration", name)
}
