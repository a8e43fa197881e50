// Package engine wires C1–C11 together: it loads static configuration,
// builds the discovery catalog, and exposes a single entry point that turns
// a RunRequest into a scheduled run tree.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iverson-lu/pvtx/internal/artifact"
	"github.com/iverson-lu/pvtx/internal/discovery"
	"github.com/iverson-lu/pvtx/internal/engineconfig"
	"github.com/iverson-lu/pvtx/internal/reporter"
	"github.com/iverson-lu/pvtx/internal/scheduler"
	"github.com/iverson-lu/pvtx/internal/secretscrub"
)

// Engine is the top-level handle a CLI or service process holds: static
// config, the current catalog snapshot, and everything the scheduler needs.
type Engine struct {
	Config *engineconfig.Config
	Logger *zap.Logger
	Writer *artifact.Writer

	catMu   sync.RWMutex
	catalog *discovery.Catalog

	bus     reporter.Bus
	secrets *secretscrub.Tracker
}

// Bootstrap loads configPath (or defaults, if absent), builds a logger at
// the configured level, runs an initial discovery scan, and returns a ready
// Engine. bus may be nil, in which case run events reach only the engine's
// own zap logger (an Engine embedded in a library caller that only wants the
// returned RunResult can pass nil).
func Bootstrap(configPath string, bus reporter.Bus) (*Engine, error) {
	cfg, err := engineconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("engine: loading configuration: %w", err)
	}
	cfg.ResolveRoots(filepath.Dir(configPath))

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("engine: building logger: %w", err)
	}

	cat, report, err := discovery.Discover(discovery.Roots{
		CasesRoot:  cfg.CasesRoot,
		SuitesRoot: cfg.SuitesRoot,
		PlansRoot:  cfg.PlansRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: initial discovery scan: %w", err)
	}
	for _, scanErr := range report.Errors {
		logger.Warn("discovery issue", zap.Error(scanErr))
	}
	logger.Info("discovery complete",
		zap.Int("cases", len(cat.Cases)),
		zap.Int("suites", len(cat.Suites)),
		zap.Int("plans", len(cat.Plans)),
		zap.Int("issues", len(report.Errors)),
	)

	combined := reporter.Bus(newZapBus(logger))
	if bus != nil {
		combined = reporter.Multi{combined, bus}
	}

	secrets := secretscrub.New()
	writer := artifact.New(cfg.RunsRoot, secrets)

	return &Engine{
		Config:  cfg,
		Logger:  logger,
		Writer:  writer,
		catalog: cat,
		bus:     combined,
		secrets: secrets,
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Rediscover re-scans the configured roots and swaps the catalog in place;
// an in-flight run already holds the *discovery.Catalog it started with, so
// rediscovery never mutates a run's view of the world mid-execution.
func (e *Engine) Rediscover() (*discovery.Report, error) {
	cat, report, err := discovery.Discover(discovery.Roots{
		CasesRoot:  e.Config.CasesRoot,
		SuitesRoot: e.Config.SuitesRoot,
		PlansRoot:  e.Config.PlansRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: rediscovery scan: %w", err)
	}
	e.catMu.Lock()
	e.catalog = cat
	e.catMu.Unlock()
	for _, scanErr := range report.Errors {
		e.Logger.Warn("discovery issue", zap.Error(scanErr))
	}
	return report, nil
}

func (e *Engine) Catalog() *discovery.Catalog {
	e.catMu.RLock()
	defer e.catMu.RUnlock()
	return e.catalog
}

// runnerGracePeriod converts the configured grace period into a
// time.Duration, falling back to 5s if the config left it unset (e.g. a
// Config built by hand rather than through Default/Load).
func (e *Engine) runnerGracePeriod() time.Duration {
	if e.Config.RunnerGracePeriodSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(e.Config.RunnerGracePeriodSec) * time.Second
}

// WatchAndRediscover runs a filesystem watch against the configured roots
// and swaps in each rescanned catalog as it arrives, until ctx is cancelled
// or the watch fails. It is the caller's responsibility to gate invoking
// this on Config.Watch; the engine itself doesn't consult that flag.
func (e *Engine) WatchAndRediscover(ctx context.Context) <-chan error {
	roots := discovery.Roots{
		CasesRoot:  e.Config.CasesRoot,
		SuitesRoot: e.Config.SuitesRoot,
		PlansRoot:  e.Config.PlansRoot,
	}
	catalogs, errs := discovery.Watch(ctx, roots)
	out := make(chan error, 1)

	go func() {
		defer close(out)
		for catalogs != nil || errs != nil {
			select {
			case cat, ok := <-catalogs:
				if !ok {
					catalogs = nil
					continue
				}
				e.catMu.Lock()
				e.catalog = cat
				e.catMu.Unlock()
				e.Logger.Info("watch rediscovery complete",
					zap.Int("cases", len(cat.Cases)),
					zap.Int("suites", len(cat.Suites)),
					zap.Int("plans", len(cat.Plans)),
				)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				e.Logger.Warn("watch error", zap.Error(err))
				select {
				case out <- err:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Run executes req against the engine's current catalog snapshot.
func (e *Engine) Run(ctx context.Context, req scheduler.RunRequest) (scheduler.RunResult, error) {
	sched := scheduler.New(e.Catalog(), e.Writer, e.bus, e.secrets, e.Config.RunnerPath, e.Config.EngineVersion, e.runnerGracePeriod())
	e.Logger.Info("run starting",
		zap.String("testCase", req.TestCase),
		zap.String("suite", req.Suite),
		zap.String("plan", req.Plan),
	)
	res, err := sched.Run(ctx, req)
	if err != nil {
		e.Logger.Error("run failed before scheduling completed", zap.Error(err))
		return res, err
	}
	e.Logger.Info("run finished", zap.String("runId", res.RunID), zap.String("status", string(res.Status)))
	return res, nil
}
