package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cexll/linguahome-go/pkg/agent"
	"github.com/cexll/linguahome-go/pkg/audit"
	"github.com/cexll/linguahome-go/pkg/catalog"
	"github.com/cexll/linguahome-go/pkg/config"
	"github.com/cexll/linguahome-go/pkg/device"
	"github.com/cexll/linguahome-go/pkg/event"
	"github.com/cexll/linguahome-go/pkg/memory"
	"github.com/cexll/linguahome-go/pkg/model"
	anthropicmodel "github.com/cexll/linguahome-go/pkg/model/anthropic"
	openaimodel "github.com/cexll/linguahome-go/pkg/model/openai"
	"github.com/cexll/linguahome-go/pkg/prompt"
	"github.com/cexll/linguahome-go/pkg/sandbox"
	"github.com/cexll/linguahome-go/pkg/telemetry"
)

// modelFactory builds the language-model backend; tests swap it for a stub.
var modelFactory = newModel

// app bundles the wired collaborators behind one Close.
type app struct {
	cfg     *config.AppConfig
	loop    *agent.Loop
	catalog *catalog.Catalog
	logger  *zap.Logger
	bus     *event.EventBus
	monitor chan event.Event
	journal *audit.Journal

	closers []func() error
}

func (a *app) Close() {
	a.loop.Close()
	if a.bus != nil {
		_ = a.bus.Seal()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	_ = a.logger.Sync()
}

// buildApp loads configuration and wires the full pipeline. The modelName
// argument overrides the configured model when non-empty.
func buildApp(ctx context.Context, cfgPath, modelName string, withBus bool) (*app, error) {
	loader, err := config.NewLoader(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if modelName != "" {
		cfg.Model.Name = modelName
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	if cfg.Telemetry.Endpoint != "" {
		mgr, err := telemetry.NewManager(ctx, telemetry.Config{
			ServiceName: "linguahome",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.closers = append(a.closers, func() error {
			return mgr.Shutdown(context.Background())
		})
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	a.catalog = cat

	home := device.NewMockHome(cat)
	gateway := device.NewGateway(home, home,
		device.WithCallTimeout(cfg.Devices.CallTimeout),
		device.WithMaxInFlight(int64(maxInFlight(cfg))),
	)

	store, err := openStore(cfg, cat, a)
	if err != nil {
		return nil, err
	}

	builderOpts := []prompt.BuilderOption{prompt.WithWindow(cfg.Pipeline.Window)}
	if cfg.SkillsDir != "" {
		skills, err := prompt.LoadSkills(cfg.SkillsDir)
		if err != nil {
			return nil, fmt.Errorf("load skills: %w", err)
		}
		if err := skills.Watch(logger); err != nil {
			logger.Warn("skills watch disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, skills.Close)
		}
		builderOpts = append(builderOpts, prompt.WithSkills(skills))
	}
	prompts := prompt.NewBuilder(cat, builderOpts...)

	backend, err := modelFactory(cfg.Model)
	if err != nil {
		return nil, err
	}

	loopCfg := agent.Config{
		Model:     backend,
		Catalog:   cat,
		Prompts:   prompts,
		Validator: sandbox.NewValidator(),
		Executor:  sandbox.NewExecutor(gateway, gateway, sandbox.WithTimeout(cfg.Pipeline.SnippetTimeout)),
		Memory:    store,
		Logger:    logger,
		Retries:   cfg.Pipeline.Retries,
	}

	if withBus {
		a.monitor = make(chan event.Event, 64)
		// Progress stays unbound: per-request streams carry it.
		a.bus = event.NewEventBus(nil, a.monitor, event.WithAutoSealTypes(), event.WithLogger(a.logger))
		loopCfg.Bus = a.bus

		if cfg.AuditDir != "" {
			journal, err := audit.Open(cfg.AuditDir)
			if err != nil {
				return nil, fmt.Errorf("open audit journal: %w", err)
			}
			a.journal = journal
			a.closers = append(a.closers, journal.Close)
		}
	}

	loop, err := agent.NewLoop(loopCfg)
	if err != nil {
		return nil, err
	}
	a.loop = loop
	return a, nil
}

func loadCatalog(cfg *config.AppConfig) (*catalog.Catalog, error) {
	if cfg.Devices.CatalogPath == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.Load(cfg.Devices.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

func openStore(cfg *config.AppConfig, cat *catalog.Catalog, a *app) (memory.Store, error) {
	switch cfg.Memory.Backend {
	case "sqlite":
		store, err := memory.OpenSQLite(cfg.Memory.Path, cat.Rooms())
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "inmem":
		return memory.NewInMemoryStore(cat.Rooms()), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
}

func newModel(block config.ModelBlock) (model.Model, error) {
	apiKey := block.APIKey()
	if apiKey == "" {
		return nil, errors.New("model API key not set; export the provider's key variable")
	}
	switch block.ResolveProvider() {
	case config.ProviderOpenAI:
		return openaimodel.NewSDKModelWithBaseURL(apiKey, block.Name, block.BaseURL, block.MaxTokens), nil
	case config.ProviderAnthropic:
		return anthropicmodel.NewSDKModelWithBaseURL(apiKey, block.Name, block.BaseURL, block.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider for model %q", block.Name)
	}
}

func maxInFlight(cfg *config.AppConfig) int {
	if cfg.Devices.MaxInFlight > 0 {
		return cfg.Devices.MaxInFlight
	}
	return device.DefaultMaxInFlight
}
