// Package headless is a CPU-only implementation of the RHI contracts. It
// allocates nothing on a GPU and records every command so the frame graph can
// be driven and inspected without a driver.
package headless

import (
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type Device struct {
	mu sync.Mutex

	allocations    int
	destroyed      int
	submissions    int
	commandBuffers []*CommandBuffer
	failWith       error
}

func NewDevice() *Device {
	return &Device{}
}

// FailAllocations makes every following allocation return err. Pass nil to
// restore normal behaviour.
func (d *Device) FailAllocations(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}

func (d *Device) allocate() (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return uuid.Nil, d.failWith
	}
	d.allocations++
	return uuid.New(), nil
}

func (d *Device) CreateImage(desc rhi.ImageDesc) (rhi.Image, error) {
	id, err := d.allocate()
	if err != nil {
		return nil, err
	}
	return &Image{resource: resource{id: id, device: d}, desc: desc.Normalized()}, nil
}

func (d *Device) CreateStorageBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	id, err := d.allocate()
	if err != nil {
		return nil, err
	}
	return &Buffer{resource: resource{id: id, device: d}, desc: desc}, nil
}

func (d *Device) CreateUniformBuffer(desc rhi.UniformBufferDesc) (rhi.UniformBuffer, error) {
	id, err := d.allocate()
	if err != nil {
		return nil, err
	}
	return &UniformBuffer{
		resource: resource{id: id, device: d},
		desc:     desc,
		data:     make([]byte, desc.Size),
	}, nil
}

func (d *Device) NewCommandBuffer() (rhi.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := &CommandBuffer{device: d}
	d.commandBuffers = append(d.commandBuffers, cb)
	return cb, nil
}

func (d *Device) onSubmit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submissions++
}

func (d *Device) onDestroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed++
}

// Allocations returns the number of physical resources created.
func (d *Device) Allocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocations
}

// Destroyed returns the number of device resources destroyed.
func (d *Device) Destroyed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// LastCommandBuffer returns the most recently created command buffer.
func (d *Device) LastCommandBuffer() *CommandBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.commandBuffers) == 0 {
		return nil
	}
	return d.commandBuffers[len(d.commandBuffers)-1]
}

var (
	_ rhi.Device        = (*Device)(nil)
	_ rhi.CommandBuffer = (*CommandBuffer)(nil)
	_ rhi.Image         = (*Image)(nil)
	_ rhi.Buffer        = (*Buffer)(nil)
	_ rhi.UniformBuffer = (*UniformBuffer)(nil)
)
