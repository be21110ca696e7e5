package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/stackdrop/shuttle/internal/cli/output"
	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/catalog"
	"github.com/stackdrop/shuttle/pkg/config"
	"github.com/stackdrop/shuttle/pkg/metrics"
	"github.com/stackdrop/shuttle/pkg/objstore"
	"github.com/stackdrop/shuttle/pkg/objstore/s3"
	"github.com/stackdrop/shuttle/pkg/service"
	"github.com/stackdrop/shuttle/pkg/state"
	"github.com/stackdrop/shuttle/pkg/worker"
)

// app bundles the wired stores and services every command needs.
type app struct {
	cfg      *config.Config
	paths    state.Paths
	queue    *state.Queue
	progress *state.ProgressStore
	flags    *state.Flags
	catalog  *catalog.Store
	manager  *worker.Manager
	svc      *service.Service
	metrics  *metrics.SyncMetrics
}

// newApp loads configuration and wires the local state stores. No remote
// client is created; commands that talk to object storage call newStore.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if stateRoot != "" {
		cfg.StateRoot = stateRoot
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	syncMetrics := metrics.NewSyncMetrics()

	paths := state.NewPaths(cfg.StateRoot)
	queue := state.NewQueue(paths)
	progress := state.NewProgressStore(paths)
	flags := state.NewFlags(paths)
	cat := catalog.New(paths)

	spawnArgs := []string{"worker", "run", "--state-root", cfg.StateRoot}
	if cfgFile != "" {
		spawnArgs = append(spawnArgs, "--config", cfgFile)
	}
	manager := worker.NewManager(paths, flags, progress, worker.Options{
		SpawnArgs: spawnArgs,
	})

	svc := service.New(cat, queue, progress, flags, manager,
		service.WithAutoStartWorker(true),
		service.WithMetrics(syncMetrics),
	)

	return &app{
		cfg:      cfg,
		paths:    paths,
		queue:    queue,
		progress: progress,
		flags:    flags,
		catalog:  cat,
		manager:  manager,
		svc:      svc,
		metrics:  syncMetrics,
	}, nil
}

// newStore creates the S3-backed object store from config.
func (a *app) newStore(ctx context.Context) (objstore.Client, error) {
	if a.cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is not configured (set SHUTTLE_STORAGE_BUCKET or storage.bucket)")
	}
	return s3.NewFromConfig(ctx, s3.Config{
		Bucket:         a.cfg.Storage.Bucket,
		Region:         a.cfg.Storage.Region,
		Endpoint:       a.cfg.Storage.Endpoint,
		KeyPrefix:      a.cfg.Storage.KeyPrefix,
		ForcePathStyle: a.cfg.Storage.ForcePathStyle,
	})
}

// printer builds a Printer honoring the global --output flag.
func printer() (*output.Printer, error) {
	format, err := output.ParseFormat(outFormat)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format), nil
}
