// Package bindless allocates shader-visible indices for images and buffers.
// Indices are recycled lowest-first once unregistered.
package bindless

import (
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

// DefaultCapacity is the number of slots reserved up front per table.
const DefaultCapacity = 1024

// slotTable is an id allocator: free slots are nil and get taken first.
type slotTable struct {
	owners []rhi.Resource
}

func (s *slotTable) acquire(owner rhi.Resource) uint32 {
	length := uint32(len(s.owners))
	for i := uint32(0); i < length; i++ {
		// Existing free spot. Take it.
		if s.owners[i] == nil {
			s.owners[i] = owner
			return i
		}
	}
	// No existing free slots, push a new one.
	s.owners = append(s.owners, owner)
	return uint32(len(s.owners)) - 1
}

func (s *slotTable) release(id uint32) bool {
	if id >= uint32(len(s.owners)) || s.owners[id] == nil {
		return false
	}
	s.owners[id] = nil
	return true
}

func (s *slotTable) live() int {
	n := 0
	for _, o := range s.owners {
		if o != nil {
			n++
		}
	}
	return n
}

// Manager implements rhi.BindlessManager. A resource registered twice gets
// the same index back.
type Manager struct {
	mu      sync.Mutex
	images  slotTable
	buffers slotTable
	byImage map[uuid.UUID]uint32
	byBuf   map[uuid.UUID]uint32
}

func NewManager(initialCapacity int) *Manager {
	return &Manager{
		images:  slotTable{owners: make([]rhi.Resource, 0, initialCapacity)},
		buffers: slotTable{owners: make([]rhi.Resource, 0, initialCapacity)},
		byImage: make(map[uuid.UUID]uint32),
		byBuf:   make(map[uuid.UUID]uint32),
	}
}

func (m *Manager) RegisterImageView(img rhi.Image) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.byImage[img.ID()]; ok {
		return idx
	}
	idx := m.images.acquire(img)
	m.byImage[img.ID()] = idx
	return idx
}

func (m *Manager) RegisterBuffer(buf rhi.Resource) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.byBuf[buf.ID()]; ok {
		return idx
	}
	idx := m.buffers.acquire(buf)
	m.byBuf[buf.ID()] = idx
	return idx
}

func (m *Manager) UnregisterImageView(index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < uint32(len(m.images.owners)) && m.images.owners[index] != nil {
		delete(m.byImage, m.images.owners[index].ID())
	}
	if !m.images.release(index) {
		core.LogWarn("bindless: image index %d is not registered", index)
	}
}

func (m *Manager) UnregisterBuffer(index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < uint32(len(m.buffers.owners)) && m.buffers.owners[index] != nil {
		delete(m.byBuf, m.buffers.owners[index].ID())
	}
	if !m.buffers.release(index) {
		core.LogWarn("bindless: buffer index %d is not registered", index)
	}
}

// Live returns the number of registered images and buffers.
func (m *Manager) Live() (images, buffers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images.live(), m.buffers.live()
}
