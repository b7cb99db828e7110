package headless

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type resource struct {
	id        uuid.UUID
	mu        sync.Mutex
	destroyed bool
	device    *Device
}

func (r *resource) ID() uuid.UUID {
	return r.id
}

func (r *resource) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return fmt.Errorf("resource %s destroyed twice", r.id)
	}
	r.destroyed = true
	if r.device != nil {
		r.device.onDestroy()
	}
	return nil
}

// Destroyed reports whether Destroy was called.
func (r *resource) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

type Image struct {
	resource
	desc rhi.ImageDesc
}

func (i *Image) Kind() rhi.ResourceKind { return rhi.ResourceKindImage }
func (i *Image) Desc() rhi.ImageDesc    { return i.desc }

type Buffer struct {
	resource
	desc rhi.BufferDesc
}

func (b *Buffer) Kind() rhi.ResourceKind { return rhi.ResourceKindBuffer }
func (b *Buffer) Desc() rhi.BufferDesc   { return b.desc }

type UniformBuffer struct {
	resource
	desc rhi.UniformBufferDesc
	data []byte
}

func (u *UniformBuffer) Kind() rhi.ResourceKind      { return rhi.ResourceKindUniformBuffer }
func (u *UniformBuffer) Desc() rhi.UniformBufferDesc { return u.desc }

func (u *UniformBuffer) Write(offset uint32, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if uint64(offset)+uint64(len(data)) > uint64(len(u.data)) {
		return fmt.Errorf("uniform write of %d bytes at %d overflows %q (%d bytes)", len(data), offset, u.desc.Name, len(u.data))
	}
	copy(u.data[offset:], data)
	return nil
}

// Bytes returns a copy of the buffer contents.
func (u *UniformBuffer) Bytes() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]byte, len(u.data))
	copy(out, u.data)
	return out
}

// NewExternalImage creates an image that is not owned by any device, the
// way a swapchain image would be handed to the graph.
func NewExternalImage(desc rhi.ImageDesc) *Image {
	return &Image{resource: resource{id: uuid.New()}, desc: desc.Normalized()}
}

// NewExternalBuffer is NewExternalImage for buffers.
func NewExternalBuffer(desc rhi.BufferDesc) *Buffer {
	return &Buffer{resource: resource{id: uuid.New()}, desc: desc}
}
