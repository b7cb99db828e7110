package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

// deviceBuffer is implemented by every buffer type recorded into a command
// buffer.
type deviceBuffer interface {
	rhi.Resource
	handle() vk.Buffer
	size() vk.DeviceSize
}

type allocation struct {
	id      uuid.UUID
	context *VulkanContext
	name    string
	bytes   vk.DeviceSize

	mu     sync.Mutex
	Handle vk.Buffer
	Memory vk.DeviceMemory
}

func (a *allocation) ID() uuid.UUID {
	return a.id
}

func (a *allocation) handle() vk.Buffer {
	return a.Handle
}

func (a *allocation) size() vk.DeviceSize {
	return a.bytes
}

func (a *allocation) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Handle == vk.NullBuffer {
		return fmt.Errorf("buffer %q destroyed twice", a.name)
	}
	a.release()
	return nil
}

func (a *allocation) release() {
	if a.Handle != vk.NullBuffer {
		vk.DestroyBuffer(a.context.LogicalDevice, a.Handle, a.context.Allocator)
		a.Handle = vk.NullBuffer
	}
	if a.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(a.context.LogicalDevice, a.Memory, a.context.Allocator)
		a.Memory = vk.NullDeviceMemory
	}
}

// memoryProperties maps a residency to the property flags to look for, most
// preferred first.
func memoryProperties(residency rhi.MemoryResidency) []vk.MemoryPropertyFlags {
	hostVisible := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	switch residency {
	case rhi.MemoryCPUToGPU:
		return []vk.MemoryPropertyFlags{hostVisible}
	case rhi.MemoryGPUToCPU:
		return []vk.MemoryPropertyFlags{
			hostVisible | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit),
			hostVisible,
		}
	}
	return []vk.MemoryPropertyFlags{vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)}
}

func newAllocation(context *VulkanContext, name string, bytes uint64, usage vk.BufferUsageFlags, residency rhi.MemoryResidency) (*allocation, error) {
	a := &allocation{id: uuid.New(), context: context, name: name, bytes: vk.DeviceSize(bytes)}

	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        a.bytes,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(context.LogicalDevice, &info, context.Allocator, &a.Handle); res != vk.Success {
		return nil, resultError(fmt.Sprintf("vkCreateBuffer(%s)", name), res)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.LogicalDevice, a.Handle, &reqs)
	reqs.Deref()

	index := int32(-1)
	for _, props := range memoryProperties(residency) {
		if index = context.FindMemoryIndex(reqs.MemoryTypeBits, props); index >= 0 {
			break
		}
	}
	if index < 0 {
		a.release()
		return nil, fmt.Errorf("%w: no suitable memory for buffer %q", ErrVulkan, name)
	}

	alloc := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	if res := vk.AllocateMemory(context.LogicalDevice, &alloc, context.Allocator, &a.Memory); res != vk.Success {
		a.release()
		return nil, resultError(fmt.Sprintf("vkAllocateMemory(%s)", name), res)
	}
	if res := vk.BindBufferMemory(context.LogicalDevice, a.Handle, a.Memory, 0); res != vk.Success {
		a.release()
		return nil, resultError("vkBindBufferMemory", res)
	}
	return a, nil
}

type VulkanBuffer struct {
	*allocation
	desc rhi.BufferDesc
}

func newStorageBuffer(context *VulkanContext, desc rhi.BufferDesc) (*VulkanBuffer, error) {
	usage := desc.Usage | vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit|vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit)
	a, err := newAllocation(context, desc.Name, desc.Size(), usage, desc.Memory)
	if err != nil {
		return nil, err
	}
	return &VulkanBuffer{allocation: a, desc: desc}, nil
}

func (b *VulkanBuffer) Kind() rhi.ResourceKind {
	return rhi.ResourceKindBuffer
}

func (b *VulkanBuffer) Desc() rhi.BufferDesc {
	return b.desc
}

type VulkanUniformBuffer struct {
	*allocation
	desc rhi.UniformBufferDesc
}

func newUniformBuffer(context *VulkanContext, desc rhi.UniformBufferDesc) (*VulkanUniformBuffer, error) {
	usage := vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit | vk.BufferUsageTransferDstBit)
	a, err := newAllocation(context, desc.Name, uint64(desc.Size), usage, rhi.MemoryCPUToGPU)
	if err != nil {
		return nil, err
	}
	return &VulkanUniformBuffer{allocation: a, desc: desc}, nil
}

func (u *VulkanUniformBuffer) Kind() rhi.ResourceKind {
	return rhi.ResourceKindUniformBuffer
}

func (u *VulkanUniformBuffer) Desc() rhi.UniformBufferDesc {
	return u.desc
}

// Write maps the written range, copies data and unmaps again. The memory is
// host coherent so no flush is needed.
func (u *VulkanUniformBuffer) Write(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(u.desc.Size) {
		return fmt.Errorf("uniform write of %d bytes at %d overflows %q (%d bytes)", len(data), offset, u.desc.Name, u.desc.Size)
	}
	if len(data) == 0 {
		return nil
	}
	return u.context.locks.SafeCall(MemoryManagement, func() error {
		u.mu.Lock()
		defer u.mu.Unlock()
		var mapped unsafe.Pointer
		if res := vk.MapMemory(u.context.LogicalDevice, u.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
			return resultError("vkMapMemory", res)
		}
		vk.Memcopy(mapped, data)
		vk.UnmapMemory(u.context.LogicalDevice, u.Memory)
		return nil
	})
}
