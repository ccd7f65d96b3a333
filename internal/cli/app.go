package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/pickersync/pickersync/internal/config"
	"github.com/pickersync/pickersync/internal/dbfacade"
	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/prefs"
	"github.com/pickersync/pickersync/internal/provider"
	"github.com/pickersync/pickersync/internal/provider/stub"
	syncctl "github.com/pickersync/pickersync/internal/sync"
	"github.com/pickersync/pickersync/internal/telemetry"
)

const localAuthority = "com.pickersync.local"

// App holds every wired component a CLI command needs. Grounded on the
// teacher's Engine struct (internal/cli/engine.go) — a single lazily
// initialized bundle of managers the command implementations share
// instead of each constructing its own stack.
type App struct {
	Logger       *zap.Logger
	Registry     *provider.Registry
	Config       config.Store
	Prefs        prefs.Store
	Facade       dbfacade.Facade
	CloudState   *syncctl.CloudState
	Orchestrator *syncctl.Orchestrator
	Diagnostics  *syncctl.Diagnostics

	closers []func() error
}

var (
	app     *App
	appOnce sync.Once
	appErr  error
)

// GetApp lazily builds the App, mirroring the teacher's GetEngine().
func GetApp() (*App, error) {
	appOnce.Do(func() { app, appErr = initApp() })
	return app, appErr
}

func initApp() (*App, error) {
	logger, err := telemetry.New(verbose)
	if err != nil {
		return nil, fmt.Errorf("cli: init logger: %w", err)
	}

	dir := config.ResolveConfigDir(configDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cli: create config dir: %w", err)
	}

	cfg, err := config.NewViperStore(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("cli: load config: %w", err)
	}

	key := dbKey
	if key == "" {
		key = os.Getenv("PICKERSYNC_DB_KEY")
	}
	if key == "" {
		key = "dev"
	}

	resolvedDBPath := dbPath
	if resolvedDBPath == "" {
		resolvedDBPath = filepath.Join(dir, "picker.db")
	}
	resolvedPrefsPath := prefsPath
	if resolvedPrefsPath == "" {
		resolvedPrefsPath = filepath.Join(dir, "prefs.db")
	}

	facade, err := dbfacade.Open(resolvedDBPath, key)
	if err != nil {
		return nil, fmt.Errorf("cli: open picker database: %w", err)
	}

	prefsStore, err := prefs.Open(resolvedPrefsPath, key)
	if err != nil {
		facade.Close()
		return nil, fmt.Errorf("cli: open prefs database: %w", err)
	}

	registry := provider.NewRegistry()
	registry.Register(model.ProviderInfo{Authority: localAuthority, PackageName: "com.pickersync"}, stub.New(localAuthority))

	notifier := syncctl.FuncNotifier(func(ctx context.Context, uri string) error {
		logger.Info("notification", zap.String("uri", uri))
		return nil
	})

	cloudState := syncctl.NewCloudState(localAuthority, registry, cfg, prefsStore, facade, notifier, logger)
	if err := cloudState.RunDefaultSelection(context.Background()); err != nil {
		logger.Warn("default cloud provider selection failed", zap.Error(err))
	}

	planner := syncctl.NewPlanner(logger)
	engine := syncctl.NewPagedEngine(prefsStore, notifier, logger)

	local, _ := registry.Get(localAuthority)
	orchestrator := syncctl.NewOrchestrator(localAuthority, local, registry, cloudState, planner, engine, facade, prefsStore, logger, nil, syncctl.DefaultPageSize)
	diagnostics := syncctl.NewDiagnostics(localAuthority, cloudState, registry, prefsStore, facade)

	return &App{
		Logger:       logger,
		Registry:     registry,
		Config:       cfg,
		Prefs:        prefsStore,
		Facade:       facade,
		CloudState:   cloudState,
		Orchestrator: orchestrator,
		Diagnostics:  diagnostics,
		closers: []func() error{
			facade.Close,
			prefsStore.Close,
			logger.Sync,
		},
	}, nil
}

// Close releases every resource the App opened.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
