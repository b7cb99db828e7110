package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/math"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	context *VulkanContext
	Handle  vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext) (*VulkanCommandBuffer, error) {
	cb := &VulkanCommandBuffer{
		context: context,
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        context.CommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	err := context.locks.SafeCall(CommandBufferManagement, func() error {
		if res := vk.AllocateCommandBuffers(context.LogicalDevice, &info, handles); res != vk.Success {
			return resultError("vkAllocateCommandBuffers", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	cb.Handle = handles[0]
	cb.State = COMMAND_BUFFER_STATE_READY
	return cb, nil
}

func (v *VulkanCommandBuffer) free() {
	if v.Handle == nil {
		return
	}
	_ = v.context.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(v.context.LogicalDevice, v.context.CommandPool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin() error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return fmt.Errorf("command buffer cannot begin in state %d", v.State)
	}
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(v.Handle, &info); res != vk.Success {
		return resultError("vkBeginCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("command buffer cannot end in state %d", v.State)
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError("vkEndCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// Execute submits the command buffer, waits on a fence for it to finish and
// frees it. The command buffer cannot be reused afterwards.
func (v *VulkanCommandBuffer) Execute() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("command buffer cannot be submitted in state %d", v.State)
	}
	defer v.free()

	fence, err := NewFence(v.context, false)
	if err != nil {
		return err
	}
	defer fence.Destroy(v.context)

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}
	err = v.context.locks.SafeQueueCall(v.context.QueueIndex, func() error {
		if res := vk.QueueSubmit(v.context.Queue, 1, []vk.SubmitInfo{submit}, fence.Handle); res != vk.Success {
			return resultError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
	return fence.Wait(v.context, ^uint64(0))
}

// stageMasks folds the stages of a barrier batch into the two masks of a
// single vkCmdPipelineBarrier. Empty masks fall back to top and bottom of
// pipe.
func stageMasks(barriers []rhi.Barrier) (vk.PipelineStageFlags, vk.PipelineStageFlags) {
	var src, dst vk.PipelineStageFlags
	for _, b := range barriers {
		src |= b.Src.Stage
		dst |= b.Dst.Stage
	}
	if src == 0 {
		src = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	if dst == 0 {
		dst = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return src, dst
}

func (v *VulkanCommandBuffer) ResourceBarrier(barriers []rhi.Barrier) {
	if len(barriers) == 0 {
		return
	}
	images := make([]vk.ImageMemoryBarrier, 0, len(barriers))
	buffers := make([]vk.BufferMemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		if b.Image != nil {
			img, ok := b.Image.(*VulkanImage)
			if !ok {
				core.LogError("barrier on image %s not created by the Vulkan device", b.Image.ID())
				continue
			}
			images = append(images, img.barrier(b.Src, b.Dst))
			continue
		}
		buf, ok := b.Buffer.(deviceBuffer)
		if !ok {
			core.LogError("barrier on buffer %s not created by the Vulkan device", b.Buffer.ID())
			continue
		}
		buffers = append(buffers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       b.Src.Access,
			DstAccessMask:       b.Dst.Access,
			SrcQueueFamilyIndex: queueFamilyIgnored,
			DstQueueFamilyIndex: queueFamilyIgnored,
			Buffer:              buf.handle(),
			Offset:              0,
			Size:                buf.size(),
		})
	}
	if len(images) == 0 && len(buffers) == 0 {
		return
	}
	src, dst := stageMasks(barriers)
	vk.CmdPipelineBarrier(v.Handle, src, dst, 0,
		0, nil,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

func (v *VulkanCommandBuffer) BeginMarker(name string, colour math.Vec4) {
	if !v.context.DebugMarkers {
		return
	}
	info := vk.DebugMarkerMarkerInfo{
		SType:       vk.StructureTypeDebugMarkerMarkerInfo,
		PMarkerName: safeString(name),
		Color:       colour.Array(),
	}
	vk.CmdDebugMarkerBegin(v.Handle, &info)
}

func (v *VulkanCommandBuffer) EndMarker() {
	if !v.context.DebugMarkers {
		return
	}
	vk.CmdDebugMarkerEnd(v.Handle)
}

func (v *VulkanCommandBuffer) Dispatch(groupCountX, groupCountY, groupCountZ uint32) {
	vk.CmdDispatch(v.Handle, groupCountX, groupCountY, groupCountZ)
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) CopyBufferRegion(src rhi.Resource, srcOffset uint64, dst rhi.Resource, dstOffset uint64, size uint64) {
	from, ok := src.(deviceBuffer)
	to, ok2 := dst.(deviceBuffer)
	if !ok || !ok2 {
		core.LogError("buffer copy between resources not created by the Vulkan device")
		return
	}
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(v.Handle, from.handle(), to.handle(), 1, []vk.BufferCopy{region})
}

func (v *VulkanCommandBuffer) ClearBuffer(buffer rhi.Resource, value uint32) {
	buf, ok := buffer.(deviceBuffer)
	if !ok {
		core.LogError("buffer clear on a resource not created by the Vulkan device")
		return
	}
	vk.CmdFillBuffer(v.Handle, buf.handle(), 0, buf.size(), value)
}
