// Package state keeps the last known GPU state of physical resources across
// frames. The frame graph queries it the first time an external resource is
// used in a frame and writes final states back once a frame is executed.
package state

import (
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type Tracker struct {
	mu     sync.RWMutex
	states map[uuid.UUID]rhi.ResourceState
}

func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[uuid.UUID]rhi.ResourceState),
	}
}

// State returns the recorded state of res. Untracked resources report
// StateUndefined and false.
func (t *Tracker) State(res rhi.Resource) (rhi.ResourceState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[res.ID()]
	if !ok {
		return rhi.StateUndefined, false
	}
	return s, true
}

func (t *Tracker) SetState(res rhi.Resource, s rhi.ResourceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[res.ID()] = s
}

// Forget drops the record of a destroyed resource.
func (t *Tracker) Forget(res rhi.Resource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, res.ID())
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
