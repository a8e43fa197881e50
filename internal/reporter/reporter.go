// Package reporter implements C10: a thin, synchronous observer bus the
// scheduler drives as it plans and executes a run.
package reporter

import "github.com/iverson-lu/pvtx/internal/runstate"

// PlannedNode is one entry in the hierarchical plan handed to onRunPlanned,
// tagged with its parent so an observer can reconstruct the tree.
type PlannedNode struct {
	NodeID       string
	ParentNodeID string // empty for the root node
	RunType      runstate.RunType
	TestID       string
	TestVersion  string
}

// NodeState is the terminal (or in-flight) state of one node, handed to
// onNodeFinished.
type NodeState struct {
	NodeID     string
	Status     runstate.Status
	RetryCount int
	Error      *runstate.ErrorDetail
}

// Bus is the observer contract. Every method must return quickly:
// implementations that need to tail or buffer output are responsible for
// doing so off the calling goroutine — the scheduler calls these
// synchronously, on its own thread of control, and blocking here blocks
// scheduling.
type Bus interface {
	OnRunPlanned(runID string, runType runstate.RunType, plannedNodes []PlannedNode)
	OnNodeStarted(runID, nodeID string)
	OnNodeFinished(runID string, state NodeState)
	OnRunFinished(runID string, finalStatus runstate.Status)
	// OnWarning reports an advisory condition (Controls.MaxParallel.Ignored,
	// Privilege.Advisory) or a suite/plan node whose reference could not be
	// resolved (Reference.Invalid; that node is then counted as an error).
	OnWarning(runID, code, message string)
}

// Multi fans one set of calls out to several buses in registration order.
// A panic in one observer is not caught — reporter consumers that cannot
// guarantee not to panic should guard themselves.
type Multi []Bus

func (m Multi) OnRunPlanned(runID string, runType runstate.RunType, plannedNodes []PlannedNode) {
	for _, b := range m {
		b.OnRunPlanned(runID, runType, plannedNodes)
	}
}

func (m Multi) OnNodeStarted(runID, nodeID string) {
	for _, b := range m {
		b.OnNodeStarted(runID, nodeID)
	}
}

func (m Multi) OnNodeFinished(runID string, state NodeState) {
	for _, b := range m {
		b.OnNodeFinished(runID, state)
	}
}

func (m Multi) OnRunFinished(runID string, finalStatus runstate.Status) {
	for _, b := range m {
		b.OnRunFinished(runID, finalStatus)
	}
}

func (m Multi) OnWarning(runID, code, message string) {
	for _, b := range m {
		b.OnWarning(runID, code, message)
	}
}

// Noop implements Bus by doing nothing; embed it to satisfy the interface
// while only overriding the methods a particular observer cares about.
type Noop struct{}

func (Noop) OnRunPlanned(string, runstate.RunType, []PlannedNode) {}
func (Noop) OnNodeStarted(string, string)                         {}
func (Noop) OnNodeFinished(string, NodeState)                     {}
func (Noop) OnRunFinished(string, runstate.Status)                {}
func (Noop) OnWarning(string, string, string)                     {}
