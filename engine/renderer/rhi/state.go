package rhi

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// ResourceState is the synchronisation scope a resource is in: which memory
// accesses touched it, from which pipeline stages and, for images, in which
// layout. Buffers always carry ImageLayoutUndefined.
type ResourceState struct {
	Access vk.AccessFlags
	Stage  vk.PipelineStageFlags
	Layout vk.ImageLayout
}

const writeAccessMask = vk.AccessFlags(vk.AccessShaderWriteBit |
	vk.AccessColorAttachmentWriteBit |
	vk.AccessDepthStencilAttachmentWriteBit |
	vk.AccessTransferWriteBit |
	vk.AccessHostWriteBit |
	vk.AccessMemoryWriteBit)

// StateUndefined is the state of a resource with no known prior usage.
var StateUndefined = ResourceState{
	Access: 0,
	Stage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
	Layout: vk.ImageLayoutUndefined,
}

// IsUndefined reports whether no prior access is recorded.
func (s ResourceState) IsUndefined() bool {
	return s.Access == 0 && s.Layout == vk.ImageLayoutUndefined &&
		(s.Stage == 0 || s.Stage == vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit))
}

// IsReadOnly reports whether the state contains no write access.
func (s ResourceState) IsReadOnly() bool {
	return s.Access&writeAccessMask == 0
}

// Implies reports whether other is already covered by s: other only reads,
// its access and stage masks are subsets of s and the layout is unchanged.
// A barrier from s to other would not order anything new.
func (s ResourceState) Implies(other ResourceState) bool {
	if !s.IsReadOnly() || !other.IsReadOnly() {
		return false
	}
	if s.Layout != other.Layout {
		return false
	}
	return other.Access&^s.Access == 0 && other.Stage&^s.Stage == 0
}

// Merge combines two states a resource is used in during the same pass.
// Conflicting image layouts collapse to GENERAL.
func (s ResourceState) Merge(other ResourceState) ResourceState {
	out := ResourceState{
		Access: s.Access | other.Access,
		Stage:  s.Stage | other.Stage,
		Layout: s.Layout,
	}
	if s.Layout != other.Layout {
		out.Layout = vk.ImageLayoutGeneral
	}
	return out
}

// Discarded returns s with the layout reset, used when the previous contents
// of a resource do not need to be preserved.
func (s ResourceState) Discarded() ResourceState {
	s.Layout = vk.ImageLayoutUndefined
	return s
}

func (s ResourceState) String() string {
	return fmt.Sprintf("{access:%#x stage:%#x layout:%d}", uint32(s.Access), uint32(s.Stage), int32(s.Layout))
}

// ForcedState overrides the default state a pass derives for a resource.
type ForcedState int

const (
	ForcedStateNone ForcedState = iota
	ForcedStateIndirectArgument
	ForcedStateVertexBuffer
	ForcedStateIndexBuffer
	ForcedStateCopySource
	ForcedStateCopyDestination
	ForcedStateClear
	ForcedStatePresent
)

func (f ForcedState) String() string {
	switch f {
	case ForcedStateNone:
		return "none"
	case ForcedStateIndirectArgument:
		return "indirect-argument"
	case ForcedStateVertexBuffer:
		return "vertex-buffer"
	case ForcedStateIndexBuffer:
		return "index-buffer"
	case ForcedStateCopySource:
		return "copy-source"
	case ForcedStateCopyDestination:
		return "copy-destination"
	case ForcedStateClear:
		return "clear"
	case ForcedStatePresent:
		return "present"
	}
	return fmt.Sprintf("forced(%d)", int(f))
}

// State returns the concrete state of a forced usage. isImage selects
// whether a layout is attached.
func (f ForcedState) State(isImage bool) ResourceState {
	var s ResourceState
	switch f {
	case ForcedStateIndirectArgument:
		s = ResourceState{
			Access: vk.AccessFlags(vk.AccessIndirectCommandReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit),
		}
	case ForcedStateVertexBuffer:
		s = ResourceState{
			Access: vk.AccessFlags(vk.AccessVertexAttributeReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		}
	case ForcedStateIndexBuffer:
		s = ResourceState{
			Access: vk.AccessFlags(vk.AccessIndexReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		}
	case ForcedStateCopySource:
		s = ResourceState{
			Access: vk.AccessFlags(vk.AccessTransferReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			Layout: vk.ImageLayoutTransferSrcOptimal,
		}
	case ForcedStateCopyDestination, ForcedStateClear:
		s = ResourceState{
			Access: vk.AccessFlags(vk.AccessTransferWriteBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			Layout: vk.ImageLayoutTransferDstOptimal,
		}
	case ForcedStatePresent:
		s = ResourceState{
			Access: 0,
			Stage:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			Layout: vk.ImageLayoutPresentSrc,
		}
	default:
		return StateUndefined
	}
	if !isImage {
		s.Layout = vk.ImageLayoutUndefined
	}
	return s
}
