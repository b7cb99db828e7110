// Package transient maps the frame graph's virtual resources onto pooled
// physical allocations. Allocations are keyed by the content hash of their
// description: once a resource has been surrendered, a later resource in the
// same or a following frame with an identical description reuses it.
package transient

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type entry struct {
	res  rhi.Resource
	hash uint64
	// state the previous occupant left the allocation in
	state     rhi.ResourceState
	lastFrame uint64
}

type bindingKey struct {
	frame  uint64
	handle uint32
}

/** @brief Pool counters. */
type Stats struct {
	/** @brief Physical resources created on a pool miss. */
	Allocations int
	/** @brief Acquisitions served from the free pool. */
	Reuses int
	/** @brief Allocations currently bound to a virtual resource. */
	Bound int
	/** @brief Allocations waiting in the free pool. */
	Free int
	/** @brief Allocations destroyed by Trim or Destroy. */
	Destroyed int
}

// Acquisition describes how a virtual resource got its physical backing.
type Acquisition struct {
	// Prior is the state the previous occupant left the allocation in,
	// StateUndefined for a new allocation.
	Prior rhi.ResourceState
	// Reused is set when the allocation came from the free pool.
	Reused bool
	// Allocated is set when the device created the allocation.
	Allocated bool
}

// Destroyer releases a physical resource that left the pool. The renderer
// context defers the real destruction until no frame in flight can use it.
type Destroyer func(res rhi.Resource) error

type Option func(*System)

func WithDestroyer(fn Destroyer) Option {
	return func(s *System) {
		s.destroy = fn
	}
}

// System is safe for concurrent use; graphs from several frames may acquire
// and surrender at the same time.
type System struct {
	mu      sync.Mutex
	device  rhi.Device
	free    map[uint64][]*entry
	bound   map[bindingKey]*entry
	stats   Stats
	destroy Destroyer
}

func NewSystem(device rhi.Device, opts ...Option) *System {
	s := &System{
		device:  device,
		free:    make(map[uint64][]*entry),
		bound:   make(map[bindingKey]*entry),
		destroy: func(res rhi.Resource) error { return res.Destroy() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AcquireImage returns the physical image bound to (frame, handle), binding
// a pooled or freshly created one on first use. Repeated calls for the same
// handle return the same image with a zero Acquisition.
func (s *System) AcquireImage(frame uint64, handle uint32, desc rhi.ImageDesc) (rhi.Image, Acquisition, error) {
	e, acq, err := s.acquire(frame, handle, desc.Hash(), func() (rhi.Resource, error) {
		return s.device.CreateImage(desc)
	})
	if err != nil {
		return nil, Acquisition{}, fmt.Errorf("acquire image %q: %w", desc.Name, err)
	}
	return e.res.(rhi.Image), acq, nil
}

func (s *System) AcquireBuffer(frame uint64, handle uint32, desc rhi.BufferDesc) (rhi.Buffer, Acquisition, error) {
	e, acq, err := s.acquire(frame, handle, desc.Hash(), func() (rhi.Resource, error) {
		return s.device.CreateStorageBuffer(desc)
	})
	if err != nil {
		return nil, Acquisition{}, fmt.Errorf("acquire buffer %q: %w", desc.Name, err)
	}
	return e.res.(rhi.Buffer), acq, nil
}

func (s *System) AcquireUniformBuffer(frame uint64, handle uint32, desc rhi.UniformBufferDesc) (rhi.UniformBuffer, Acquisition, error) {
	e, acq, err := s.acquire(frame, handle, desc.Hash(), func() (rhi.Resource, error) {
		return s.device.CreateUniformBuffer(desc)
	})
	if err != nil {
		return nil, Acquisition{}, fmt.Errorf("acquire uniform buffer %q: %w", desc.Name, err)
	}
	return e.res.(rhi.UniformBuffer), acq, nil
}

func (s *System) acquire(frame uint64, handle uint32, hash uint64, create func() (rhi.Resource, error)) (*entry, Acquisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bindingKey{frame: frame, handle: handle}
	if e, ok := s.bound[key]; ok {
		core.Assertf(e.hash == hash, core.ErrInvalidDescriptor, "handle %d re-acquired with a different description", handle)
		return e, Acquisition{}, nil
	}

	if list := s.free[hash]; len(list) > 0 {
		e := list[len(list)-1]
		list[len(list)-1] = nil
		s.free[hash] = list[:len(list)-1]
		e.lastFrame = frame
		s.bound[key] = e
		s.stats.Reuses++
		s.stats.Free--
		s.stats.Bound++
		return e, Acquisition{Prior: e.state, Reused: true}, nil
	}

	res, err := create()
	if err != nil {
		core.LogError("transient allocation failed: %s", err.Error())
		return nil, Acquisition{}, err
	}
	e := &entry{
		res:       res,
		hash:      hash,
		state:     rhi.StateUndefined,
		lastFrame: frame,
	}
	s.bound[key] = e
	s.stats.Allocations++
	s.stats.Bound++
	return e, Acquisition{Prior: rhi.StateUndefined, Allocated: true}, nil
}

// SurrenderResource returns the allocation bound to (frame, handle) to the
// free pool. final is the state the last user left it in; the next occupant
// synchronises against it.
func (s *System) SurrenderResource(frame uint64, handle uint32, hash uint64, final rhi.ResourceState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bindingKey{frame: frame, handle: handle}
	e, ok := s.bound[key]
	if !ok {
		core.LogWarn("surrender of unbound handle %d in frame %d", handle, frame)
		return
	}
	core.Assertf(e.hash == hash, core.ErrInvalidDescriptor, "handle %d surrendered with hash %#x, bound with %#x", handle, hash, e.hash)
	delete(s.bound, key)
	e.state = final
	s.free[hash] = append(s.free[hash], e)
	s.stats.Bound--
	s.stats.Free++
}

// Detach removes the binding of (frame, handle) without pooling it. The
// caller owns the resource afterwards.
func (s *System) Detach(frame uint64, handle uint32) (rhi.Resource, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bindingKey{frame: frame, handle: handle}
	e, ok := s.bound[key]
	if !ok {
		return nil, 0, false
	}
	delete(s.bound, key)
	s.stats.Bound--
	return e.res, e.hash, true
}

// Return hands a detached resource back to the pool.
func (s *System) Return(res rhi.Resource, hash uint64, frame uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free[hash] = append(s.free[hash], &entry{
		res:       res,
		hash:      hash,
		state:     rhi.StateUndefined,
		lastFrame: frame,
	})
	s.stats.Free++
}

// EndFrame surrenders everything still bound for frame. The frame's work has
// completed on the GPU, so the carried states are reset.
func (s *System) EndFrame(frame uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.bound {
		if key.frame != frame {
			continue
		}
		delete(s.bound, key)
		s.free[e.hash] = append(s.free[e.hash], e)
		s.stats.Bound--
		s.stats.Free++
	}
	for _, list := range s.free {
		for _, e := range list {
			if e.lastFrame == frame {
				e.state = rhi.StateUndefined
			}
		}
	}
}

// Trim destroys free allocations that have not been used for more than
// maxIdleFrames frames. It returns the number destroyed.
func (s *System) Trim(currentFrame uint64, maxIdleFrames uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	destroyed := 0
	for hash, list := range s.free {
		kept := list[:0]
		for _, e := range list {
			if currentFrame > e.lastFrame && currentFrame-e.lastFrame > maxIdleFrames {
				if err := s.destroy(e.res); err != nil {
					core.LogWarn("failed to destroy pooled resource: %s", err.Error())
				}
				destroyed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.free, hash)
		} else {
			s.free[hash] = kept
		}
	}
	s.stats.Free -= destroyed
	s.stats.Destroyed += destroyed
	if destroyed > 0 {
		core.LogDebug("transient pool trimmed %d idle allocations", destroyed)
	}
	return destroyed
}

// Destroy releases every allocation, bound or free.
func (s *System) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	release := func(e *entry) {
		if err := s.destroy(e.res); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stats.Destroyed++
	}
	for _, list := range s.free {
		for _, e := range list {
			release(e)
		}
	}
	for _, e := range s.bound {
		release(e)
	}
	s.free = make(map[uint64][]*entry)
	s.bound = make(map[bindingKey]*entry)
	s.stats.Free = 0
	s.stats.Bound = 0
	return firstErr
}

func (s *System) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
