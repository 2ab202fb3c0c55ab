package app

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"rtcdoctor/internal/checks"
	"rtcdoctor/internal/config"
	"rtcdoctor/internal/ice"
	"rtcdoctor/internal/media"
	"rtcdoctor/internal/netprobe"
	"rtcdoctor/internal/paths"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/sqlite"
)

// App represents the application context
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Storage storage.Storage
	Servers *ice.Source
	Devices *media.Enumerator
	Host    *checks.Host
	Runner  *Runner
	DBPath  string
}

// New creates a new application instance
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dataDir, err := paths.DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath = filepath.Join(dataDir, "rtcdoctor.db")
	}

	// Initialize storage
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	paths.ChownToRealUser(dbPath)

	fetchCfg := ice.DefaultFetcherConfig()
	if cfg.ICE.Timeout > 0 {
		fetchCfg.Timeout = cfg.ICE.Timeout
	}
	servers := &ice.Source{
		Static:     cfg.ICE.Servers,
		Username:   cfg.ICE.Username,
		Credential: cfg.ICE.Credential,
		ListURL:    cfg.ICE.ServersURL,
		Registry:   ice.NewRegistry(),
		Fetcher:    ice.NewFetcher(fetchCfg),
		Decoder:    ice.NewDecoder(),
		Logger:     logger,
	}

	devices := media.NewEnumerator(cfg.Diagnostics.Media.DeviceRoot, logger)
	capture := media.NewCapture(devices, nil, logger)
	if res, err := cfg.Diagnostics.Media.ResolutionList(); err == nil && len(res) > 0 {
		capture.SetResolutions(res)
	}
	prober := netprobe.New(netprobe.Options{
		Timeout:         cfg.ICE.Timeout,
		Retries:         cfg.ICE.Retries,
		PortMin:         cfg.ICE.PortMin,
		PortMax:         cfg.ICE.PortMax,
		BandwidthWindow: cfg.ICE.BandwidthWindow,
		Logger:          logger,
	})
	host := checks.NewHost(capture, prober, logger)

	runner := NewRunner(cfg.Diagnostics, RunnerDeps{
		Store:        store,
		Probes:       host,
		Devices:      host,
		Capabilities: host.Capabilities,
		Servers:      servers.Resolve,
		Logger:       logger,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		Storage: store,
		Servers: servers,
		Devices: devices,
		Host:    host,
		Runner:  runner,
		DBPath:  dbPath,
	}, nil
}

// Close stops a live run and closes storage
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Stop()
	}
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
