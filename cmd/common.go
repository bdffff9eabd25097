package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	"github.com/agpm-dev/agpm/pkg/cache"
	"github.com/agpm-dev/agpm/pkg/config"
	"github.com/agpm-dev/agpm/pkg/gitdriver"
	"github.com/agpm-dev/agpm/pkg/logging"
)

// appContext bundles the pieces every resolve/install/finalize command
// needs: the loaded global config, the project manifest, a cache wired
// to the git driver, and a logger writing to the cache root.
type appContext struct {
	cfg        *config.Config
	manifest   *agpmmanifest.Manifest
	cache      *cache.Cache
	driver     *gitdriver.Driver
	projectDir string
	maxParallel int
}

func newAppContext(projectDir string, maxParallelFlag int) (*appContext, error) {
	cfg, err := config.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}

	m, err := agpmmanifest.Load(projectDir)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	cacheRoot := cfg.ResolveCacheDir()
	logger, err := logging.NewRepoLogger(cacheRoot, level)
	if err != nil {
		return nil, fmt.Errorf("creating cache logger: %w", err)
	}

	driver := gitdriver.New()
	c := cache.New(cacheRoot, driver, logger)

	maxParallel := maxParallelFlag
	if maxParallel <= 0 {
		maxParallel = cfg.MaxParallel
	}

	return &appContext{
		cfg:         cfg,
		manifest:    m,
		cache:       c,
		driver:      driver,
		projectDir:  projectDir,
		maxParallel: maxParallel,
	}, nil
}

func (a *appContext) defaultTool() string {
	if a.manifest.DefaultTool != "" {
		return a.manifest.DefaultTool
	}
	return a.cfg.DefaultTool
}

// exitWithError prints err to stderr and exits 1: per spec.md's CLI
// surface, every failure (including --dry-run/--check finding updates)
// exits 0 on success, 1 otherwise, with no finer-grained codes.
func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
