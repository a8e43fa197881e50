package reporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iverson-lu/pvtx/internal/runstate"
)

func TestMultiFansOutInOrder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, b}

	m.OnRunPlanned("r1", runstate.RunTypeCase, nil)
	m.OnNodeStarted("r1", "n1")
	m.OnNodeFinished("r1", NodeState{NodeID: "n1", Status: runstate.Passed})
	m.OnRunFinished("r1", runstate.Passed)

	for _, rec := range []*Recorder{a, b} {
		require.Len(t, rec.Events, 4)
		assert.Equal(t, "planned", rec.Events[0].Kind)
		assert.Equal(t, "started", rec.Events[1].Kind)
		assert.Equal(t, "finished", rec.Events[2].Kind)
		assert.Equal(t, "runFinished", rec.Events[3].Kind)
	}
}

func TestNoopSatisfiesBus(t *testing.T) {
	var _ Bus = Noop{}
}
