package reporter

import (
	"sync"

	"github.com/iverson-lu/pvtx/internal/runstate"
)

// Event is one call captured by Recorder, tagged by its method name so tests
// can assert both occurrence and ordering.
type Event struct {
	Kind    string
	RunID   string
	NodeID  string
	Status  runstate.Status
	Message string
}

// Recorder is a Bus that appends every call to an in-memory, ordered log.
// Used by tests to inspect which events a bus received and in what order.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

func (r *Recorder) OnRunPlanned(runID string, runType runstate.RunType, plannedNodes []PlannedNode) {
	r.append(Event{Kind: "planned", RunID: runID})
}

func (r *Recorder) OnNodeStarted(runID, nodeID string) {
	r.append(Event{Kind: "started", RunID: runID, NodeID: nodeID})
}

func (r *Recorder) OnNodeFinished(runID string, state NodeState) {
	r.append(Event{Kind: "finished", RunID: runID, NodeID: state.NodeID, Status: state.Status})
}

func (r *Recorder) OnRunFinished(runID string, finalStatus runstate.Status) {
	r.append(Event{Kind: "runFinished", RunID: runID, Status: finalStatus})
}

func (r *Recorder) OnWarning(runID, code, message string) {
	r.append(Event{Kind: "warning", RunID: runID, Message: code + ": " + message})
}
