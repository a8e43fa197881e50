package runstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateFollowsMonotonicOrder(t *testing.T) {
	acc := Passed
	acc = Aggregate(acc, Passed)
	assert.Equal(t, Passed, acc)

	acc = Aggregate(acc, Failed)
	assert.Equal(t, Failed, acc)

	acc = Aggregate(acc, Timeout)
	assert.Equal(t, Timeout, acc)

	acc = Aggregate(acc, Passed)
	assert.Equal(t, Timeout, acc, "a later passing child does not downgrade the aggregate")

	acc = Aggregate(acc, Aborted)
	assert.Equal(t, Aborted, acc)
}

func TestValidRejectsUnknownStatus(t *testing.T) {
	assert.False(t, Status("bogus").Valid())
	assert.True(t, Passed.Valid())
}
