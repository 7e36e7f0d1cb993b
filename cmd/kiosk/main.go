package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mmcdole/kiosk/internal/bridge"
	"github.com/mmcdole/kiosk/internal/catalog"
	"github.com/mmcdole/kiosk/internal/config"
	"github.com/mmcdole/kiosk/internal/imagecache"
	"github.com/mmcdole/kiosk/internal/localdata"
	"github.com/mmcdole/kiosk/internal/log"
	"github.com/mmcdole/kiosk/internal/remote"
	"github.com/mmcdole/kiosk/internal/settings"
	"github.com/mmcdole/kiosk/internal/signature"
	"github.com/mmcdole/kiosk/internal/store"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usage = `usage: kiosk [-v] [-config file] <command> [args]

commands:
  catalog                       show the active catalog
  lookup [-game] <id>           find a record by image id or game id
  search [-n N] <query>         fuzzy search titles
  image [-low] [-game] [-o file] [-open] <id>
                                fetch cover art
  invalidate <imageId> [key...] drop one image and its derived entries
  clear [-keep-catalog] [-all]  drop all cached artwork
  check-update <gameId> <ver>   ask the API for a newer version
  stats                         show cache counters
`

func main() {
	var (
		showVersion bool
		configFile  string
	)
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&configFile, "config", "", "config file (default: "+filepath.Join(config.DefaultConfigPath(), "config.yaml")+")")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if showVersion {
		fmt.Printf("kiosk %s\n", Version)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(configFile, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle(os.Stderr).Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func run(configFile string, args []string) error {
	load := config.LoadConfig
	if configFile != "" {
		load = func() (*config.Config, error) { return config.LoadConfigFile(configFile) }
	}

	// Load configuration
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Setup logger
	logger, closer, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	} else {
		defer closer.Close()
	}
	slog.SetDefault(logger)

	logger.Info("starting kiosk", "version", Version, "command", args[0])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(cfg, load, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.dispatch(ctx, args)
}

// app holds the wired cache stack for one CLI invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	kv      *store.Store
	remote  *remote.Client
	catalog *catalog.Cache
	images  *imagecache.Orchestrator
	opener  *bridge.Opener
	out     *printer
}

func newApp(cfg *config.Config, load bridge.ConfigLoader, logger *slog.Logger) (*app, error) {
	// Settings are re-read from disk so a mode change applies without restart.
	transport := bridge.NewHTTPTransport(&http.Client{Timeout: cfg.API.Timeout}, logger)
	host := bridge.NewNative(load, transport, bridge.NewLocalReader(), logger)
	settingsCache := settings.New(host, cfg.Cache.SettingsTTL, logger)

	kv, err := store.Open(cfg.CachePath(), cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	client := remote.New(host, remote.Options{
		BaseURL:       cfg.API.BaseURL,
		CDNURL:        cfg.API.CDNURL,
		OfflineStatus: cfg.API.OfflineStatus,
		UserAgent:     cfg.API.UserAgent,
	}, logger)
	if err := client.Validate(); err != nil {
		kv.Close()
		return nil, err
	}

	local := localdata.New(host, logger)
	catalogCache := catalog.New(settingsCache, client, local, kv, catalog.Options{TTL: cfg.Cache.CatalogTTL}, logger)

	images, err := imagecache.New(imagecache.Deps{
		Settings: settingsCache,
		Local:    local,
		Remote:   client,
		Signer:   signature.New(host, logger),
		Store:    kv,
		Catalog:  catalogCache,
		URLs:     host,
	}, imagecache.Config{
		Capacity:          cfg.Cache.LRUCapacity,
		Retries:           cfg.Cache.Retries,
		RetryDelay:        cfg.Cache.RetryDelay,
		NotFoundThreshold: cfg.Cache.NotFoundThreshold,
		MaxConcurrent:     cfg.Cache.MaxConcurrent,
	}, logger)
	if err != nil {
		kv.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		kv:      kv,
		remote:  client,
		catalog: catalogCache,
		images:  images,
		opener:  bridge.NewOpener(cfg.Viewer.Command, cfg.Viewer.Args, logger),
		out:     newPrinter(os.Stdout),
	}, nil
}

func (a *app) close() {
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("failed to close cache store", "error", err)
	}
}
