package systems

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionOrderByPriorityThenRegistration(t *testing.T) {
	m := NewManager(DefaultOptions(), nil)
	require.NoError(t, m.Register(&Func{ID: "gates", Order: PriorityLow}))
	require.NoError(t, m.Register(&Func{ID: "world", Order: PriorityHighest}))
	require.NoError(t, m.Register(&Func{ID: "tether.a", Order: PriorityNormal}))
	require.NoError(t, m.Register(&Func{ID: "tether.b", Order: PriorityNormal}))

	assert.Equal(t, []string{"world", "tether.a", "tether.b", "gates"}, m.ExecutionOrder())
	assert.ErrorIs(t, m.Register(&Func{ID: "world"}), ErrDuplicateSystem)
}

func TestTickRunsWholeFixedSteps(t *testing.T) {
	m := NewManager(Options{FixedStep: 0.02, MaxSubsteps: 10}, nil)
	fixed, updates := 0, 0
	require.NoError(t, m.Register(&Func{
		ID:       "counter",
		OnFixed:  func(dt float64) error { assert.Equal(t, 0.02, dt); fixed++; return nil },
		OnUpdate: func(float64) error { updates++; return nil },
	}))
	require.NoError(t, m.Initialize(context.Background()))

	require.NoError(t, m.Tick(0.05))
	assert.Equal(t, 2, fixed)
	require.NoError(t, m.Tick(0.01))
	assert.Equal(t, 3, fixed)
	assert.Equal(t, 2, updates)
	assert.InDelta(t, 0.06, m.SimTime(), 1e-9)
	assert.Equal(t, uint64(2), m.Frames())
}

func TestTickCapsSubsteps(t *testing.T) {
	m := NewManager(Options{FixedStep: 0.02, MaxSubsteps: 3}, nil)
	fixed := 0
	require.NoError(t, m.Register(&Func{ID: "c", OnFixed: func(float64) error { fixed++; return nil }}))

	require.NoError(t, m.Tick(1.0))
	assert.Equal(t, 3, fixed)
	assert.Equal(t, uint64(47), m.DroppedSteps())

	require.NoError(t, m.Tick(0.02))
	assert.Equal(t, 4, fixed)
}

func TestErrorsAreJoinedAndCounted(t *testing.T) {
	m := NewManager(DefaultOptions(), nil)
	boom := errors.New("boom")
	ran := false
	require.NoError(t, m.Register(&Func{ID: "bad", Order: PriorityHigh, OnFixed: func(float64) error { return boom }}))
	require.NoError(t, m.Register(&Func{ID: "good", OnFixed: func(float64) error { ran = true; return nil }}))

	err := m.FixedStepOnce()
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)

	metrics, ok := m.Metrics("bad")
	require.True(t, ok)
	assert.Equal(t, uint64(1), metrics.ErrorCount)
	assert.Equal(t, uint64(1), metrics.ExecutionCount)
}

type lifecycle struct {
	Func
	log *[]string
}

func (l *lifecycle) Shutdown(context.Context) error {
	*l.log = append(*l.log, l.ID)
	return nil
}

func TestShutdownRunsInReverse(t *testing.T) {
	var order []string
	m := NewManager(DefaultOptions(), nil)
	require.NoError(t, m.Register(&lifecycle{Func: Func{ID: "first", Order: PriorityHigh}, log: &order}))
	require.NoError(t, m.Register(&lifecycle{Func: Func{ID: "second", Order: PriorityLow}, log: &order}))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Equal(t, StateShutdown, m.State())

	require.NoError(t, m.Unregister("first"))
	assert.ErrorIs(t, m.Unregister("first"), ErrUnknownSystem)
}
