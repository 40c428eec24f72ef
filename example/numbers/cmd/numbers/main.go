package main

import (
	"context"
	"sync"
	"time"

	_ "embed"

	"go.uber.org/fx"

	job "github.com/windrowio/windrow/example/numbers/internal/job"
	drivers "github.com/windrowio/windrow/pkg/windrow/adapter/database/drivers"
	local "github.com/windrowio/windrow/pkg/windrow/adapter/storage/local"
	archive "github.com/windrowio/windrow/pkg/windrow/archive"
	config "github.com/windrowio/windrow/pkg/windrow/config"
	coreledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	orchestrator "github.com/windrowio/windrow/pkg/windrow/engine/orchestrator"
	infraledger "github.com/windrowio/windrow/pkg/windrow/infrastructure/ledger"
	inframetrics "github.com/windrowio/windrow/pkg/windrow/infrastructure/metrics"
	telemetry "github.com/windrowio/windrow/pkg/windrow/infrastructure/telemetry"
	logging "github.com/windrowio/windrow/pkg/windrow/listener/logging"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

// provideRunHooks merges the logging hooks with the skip archiver.
func provideRunHooks(led coreledger.Ledger, cfg *config.Config) (port.RunHooks, error) {
	store, err := local.New(cfg.Windrow.Archive.Directory)
	if err != nil {
		return port.RunHooks{}, err
	}
	return logging.RunHooks().Merge(archive.NewExporter(led, store).Hooks()), nil
}

func provideChunkHooks() port.ChunkHooks {
	return logging.ChunkHooks()
}

// runTracker remembers the live execution so shutdown can stop it.
type runTracker struct {
	mu     sync.Mutex
	execID string
}

func (t *runTracker) set(id string) {
	t.mu.Lock()
	t.execID = id
	t.mu.Unlock()
}

func (t *runTracker) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.execID
}

// startRun launches the numbers job on application start and requests
// shutdown once it reaches a terminal state. Application shutdown while
// the run is live stops it gracefully at the next chunk boundary.
func startRun(lc fx.Lifecycle, shutdowner fx.Shutdowner, orch *orchestrator.Orchestrator, numbers *job.Numbers) {
	tracker := &runTracker{}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shut down application: %v", err)
					}
				}()

				params := model.NewRunParameters()
				params.Put("launchedAt", time.Now().Format(time.RFC3339))

				execID, err := orch.Start(context.Background(), numbers.Job, params)
				if err != nil {
					logger.Errorf("Failed to start numbers job: %v", err)
					return
				}
				tracker.set(execID)

				if err := orch.Wait(context.Background(), execID); err != nil {
					logger.Errorf("Failed waiting for execution %s: %v", execID, err)
					return
				}

				status, err := orch.Status(context.Background(), execID)
				if err != nil {
					logger.Errorf("Failed to fetch status of execution %s: %v", execID, err)
					return
				}
				logger.Infof("Execution %s finished with %s (read: %d, written: %d, skipped: %d, commits: %d)",
					status.ExecutionID, status.State,
					status.Counts.ReadCount, status.Counts.WriteCount,
					status.Counts.SkipCount, status.Counts.CommitCount)
				numbers.Report()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			execID := tracker.get()
			if execID == "" {
				return nil
			}
			if err := orch.Stop(ctx, execID); err == nil {
				_ = orch.Wait(ctx, execID)
			}
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Supply(config.EmbeddedConfig(embeddedConfig)),
		config.Module,
		drivers.Module,
		infraledger.Module,
		inframetrics.Module,
		telemetry.Module,
		fx.Provide(provideRunHooks),
		fx.Provide(provideChunkHooks),
		orchestrator.Module,
		fx.Provide(job.New),
		fx.Invoke(startRun),
	)
	app.Run()
	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}
