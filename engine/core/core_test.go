package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertPanicsWithSentinel(t *testing.T) {
	assert.NotPanics(t, func() { Assert(true, ErrInvalidHandle) })

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*AssertionError)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrInvalidHandle))
		assert.Equal(t, "resource handle does not belong to this graph: handle 7", err.Error())
	}()
	Assertf(false, ErrInvalidHandle, "handle %d", 7)
}

func TestAssertionErrorWithoutDetail(t *testing.T) {
	err := &AssertionError{Err: ErrNotCompiled}
	assert.Equal(t, ErrNotCompiled.Error(), err.Error())
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	first, second := new(int), new(int)
	var order []string

	assert.True(t, bus.Register(EVENT_CODE_FRAME_EXECUTED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "first")
		return data.U64[0] == 2
	}))
	assert.False(t, bus.Register(EVENT_CODE_FRAME_EXECUTED, first, nil), "duplicate listener")
	bus.Register(EVENT_CODE_FRAME_EXECUTED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "second")
		return false
	})

	assert.False(t, bus.Fire(EVENT_CODE_FRAME_EXECUTED, nil, EventContext{U64: [2]uint64{1}}))
	assert.Equal(t, []string{"first", "second"}, order)

	order = nil
	assert.True(t, bus.Fire(EVENT_CODE_FRAME_EXECUTED, nil, EventContext{U64: [2]uint64{2}}))
	assert.Equal(t, []string{"first"}, order, "handled events stop propagating")

	assert.True(t, bus.Unregister(EVENT_CODE_FRAME_EXECUTED, first))
	assert.False(t, bus.Unregister(EVENT_CODE_FRAME_EXECUTED, first))

	require.NoError(t, bus.Shutdown())
	assert.False(t, bus.Fire(EVENT_CODE_FRAME_EXECUTED, nil, EventContext{}))
}

func TestMetricsAccumulate(t *testing.T) {
	m := NewMetrics()
	m.Update(0.016, FrameCounters{Passes: 4, CulledPass: 1, Barriers: 6, Allocations: 3})
	m.Update(0.016, FrameCounters{Passes: 4, CulledPass: 1, Barriers: 5, Elided: 1, Reuses: 3})

	assert.Equal(t, FrameCounters{Passes: 4, CulledPass: 1, Barriers: 5, Elided: 1, Reuses: 3}, m.Last())
	assert.Equal(t, FrameCounters{Passes: 8, CulledPass: 2, Barriers: 11, Elided: 1, Allocations: 3, Reuses: 3}, m.Total())
}

func TestMetricsFrameTimeAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010, FrameCounters{})
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed(), "a clock that was never started does not advance")

	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Update()
	elapsed := c.Elapsed()
	assert.Greater(t, elapsed, 0.0)

	c.Stop()
	stopped := c.Elapsed()
	assert.GreaterOrEqual(t, stopped, elapsed)
	time.Sleep(2 * time.Millisecond)
	c.Update()
	assert.Equal(t, stopped, c.Elapsed(), "a stopped clock keeps its elapsed time")
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel("info")
	SetLogLevel("debug")
	assert.True(t, DebugEnabled())
	SetLogLevel("bogus")
	assert.False(t, DebugEnabled())
}
