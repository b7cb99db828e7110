// Package rhi holds the contracts between the frame graph and a graphics
// API implementation: physical resources, command buffers, the resource
// state tracker and the bindless registry.
package rhi

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/math"
)

// Resource is a physical GPU object. ID is stable for the lifetime of the
// object and is used as its identity by the state tracker and the graph's
// external import map.
type Resource interface {
	ID() uuid.UUID
	Kind() ResourceKind
	Destroy() error
}

type Image interface {
	Resource
	Desc() ImageDesc
}

type Buffer interface {
	Resource
	Desc() BufferDesc
}

type UniformBuffer interface {
	Resource
	Desc() UniformBufferDesc
	// Write copies data into host-visible memory at offset.
	Write(offset uint32, data []byte) error
}

// Barrier is one resource transition recorded into a command buffer.
// Exactly one of Image or Buffer is set.
type Barrier struct {
	Image  Image
	Buffer Resource
	Src    ResourceState
	Dst    ResourceState
}

// Target returns the resource the barrier applies to.
func (b Barrier) Target() Resource {
	if b.Image != nil {
		return b.Image
	}
	return b.Buffer
}

// CommandBuffer records GPU work. Begin must precede every recording call
// and End must precede Execute.
type CommandBuffer interface {
	Begin() error
	End() error
	// Execute submits the recorded work and blocks until it completes.
	Execute() error

	ResourceBarrier(barriers []Barrier)
	BeginMarker(name string, colour math.Vec4)
	EndMarker()

	Dispatch(groupCountX, groupCountY, groupCountZ uint32)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CopyBufferRegion(src Resource, srcOffset uint64, dst Resource, dstOffset uint64, size uint64)
	ClearBuffer(buffer Resource, value uint32)
}

// Device is the physical resource factory.
type Device interface {
	CreateImage(desc ImageDesc) (Image, error)
	CreateStorageBuffer(desc BufferDesc) (Buffer, error)
	CreateUniformBuffer(desc UniformBufferDesc) (UniformBuffer, error)
	NewCommandBuffer() (CommandBuffer, error)
}

// StateTracker is the process-wide record of the last known state of every
// physical resource.
type StateTracker interface {
	State(res Resource) (ResourceState, bool)
	SetState(res Resource, state ResourceState)
	Forget(res Resource)
}

// BindlessManager hands out shader-visible indices for resources.
type BindlessManager interface {
	RegisterImageView(img Image) uint32
	RegisterBuffer(buf Resource) uint32
	UnregisterImageView(index uint32)
	UnregisterBuffer(index uint32)
}
