package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fracture-labs/fracture/internal/model"
)

func TestExecutionContextScopeStackPushPop(t *testing.T) {
	ec := NewExecutionContext(model.Info{}, "http", RuntimeOptions{}, nil, nil)
	assert.Nil(t, ec.TopScope())

	ec.PushScope(ScopeFolder, "f1")
	ec.PushScope(ScopeRequest, "r1")
	require.NotNil(t, ec.TopScope())
	assert.Equal(t, "r1", ec.TopScope().ID)

	frames := ec.ScopeFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "r1", frames[0].ID) // innermost first
	assert.Equal(t, "f1", frames[1].ID)

	ec.PopScope("r1")
	assert.Equal(t, "f1", ec.TopScope().ID)
}

func TestExecutionContextAppendHistoryIsAppendOnly(t *testing.T) {
	ec := NewExecutionContext(model.Info{}, "http", RuntimeOptions{}, nil, nil)
	ec.AppendHistory(ExecutionRecord{ID: "r1"})
	ec.AppendHistory(ExecutionRecord{ID: "r2"})
	require.Len(t, ec.History(), 2)

	snap := ec.History()
	snap[0].ID = "mutated"
	assert.Equal(t, "r1", ec.History()[0].ID) // History() returns a copy
}

func TestExecutionContextExpectedMessages(t *testing.T) {
	ec := NewExecutionContext(model.Info{}, "http", RuntimeOptions{}, nil, nil)
	_, ok := ec.ExpectedMessages("r1")
	assert.False(t, ok)

	ec.SetExpectedMessages("r1", 3, 1000)
	n, ok := ec.ExpectedMessages("r1")
	require.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestExecutionContextEventIndexIncrementsAndResets(t *testing.T) {
	ec := NewExecutionContext(model.Info{}, "http", RuntimeOptions{}, nil, nil)
	assert.Equal(t, 0, ec.NextEventIndex("r1", "onMessage"))
	assert.Equal(t, 1, ec.NextEventIndex("r1", "onMessage"))
	assert.Equal(t, 0, ec.NextEventIndex("r1", "onClose"))

	ec.ResetEventIndices("r1")
	assert.Equal(t, 0, ec.NextEventIndex("r1", "onMessage"))
}

func TestExecutionContextAbortReason(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ec := NewExecutionContext(model.Info{}, "http", RuntimeOptions{Signal: parent}, nil, nil)
	assert.False(t, ec.Aborted())

	cancel()
	assert.True(t, ec.Aborted())
	assert.Equal(t, "cancelled", ec.AbortReason())
}

func TestExecutionContextAbortWithCause(t *testing.T) {
	ec := NewExecutionContext(model.Info{}, "http", RuntimeOptions{}, nil, nil)
	ec.AbortCancel(assert.AnError)
	assert.True(t, ec.Aborted())
	assert.Equal(t, assert.AnError.Error(), ec.AbortReason())
}
