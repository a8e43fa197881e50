package engine

import (
	"go.uber.org/zap"

	"github.com/iverson-lu/pvtx/internal/reporter"
	"github.com/iverson-lu/pvtx/internal/runstate"
)

// zapBus is a reporter.Bus that logs every event through a *zap.Logger. It
// carries no state of its own and never fails a run: a logging backend going
// down must not take scheduling down with it.
type zapBus struct {
	log *zap.Logger
}

// newZapBus returns a reporter.Bus backed by log, suitable for combining
// with a caller-supplied bus via reporter.Multi.
func newZapBus(log *zap.Logger) reporter.Bus {
	return zapBus{log: log.Named("run")}
}

func (b zapBus) OnRunPlanned(runID string, runType runstate.RunType, plannedNodes []reporter.PlannedNode) {
	b.log.Info("planned", zap.String("runId", runID), zap.String("runType", string(runType)), zap.Int("nodes", len(plannedNodes)))
}

func (b zapBus) OnNodeStarted(runID, nodeID string) {
	b.log.Debug("node started", zap.String("runId", runID), zap.String("nodeId", nodeID))
}

func (b zapBus) OnNodeFinished(runID string, state reporter.NodeState) {
	fields := []zap.Field{
		zap.String("runId", runID),
		zap.String("nodeId", state.NodeID),
		zap.String("status", string(state.Status)),
		zap.Int("retryCount", state.RetryCount),
	}
	if state.Error != nil {
		fields = append(fields, zap.String("errorKind", state.Error.Kind), zap.String("errorMessage", state.Error.Message))
		b.log.Warn("node finished", fields...)
		return
	}
	b.log.Info("node finished", fields...)
}

func (b zapBus) OnRunFinished(runID string, finalStatus runstate.Status) {
	b.log.Info("run finished", zap.String("runId", runID), zap.String("status", string(finalStatus)))
}

func (b zapBus) OnWarning(runID, code, message string) {
	b.log.Warn("advisory", zap.String("runId", runID), zap.String("code", code), zap.String("message", message))
}
