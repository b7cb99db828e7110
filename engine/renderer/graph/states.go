package graph

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

var (
	graphicsShaderStages = vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit)
	computeShaderStage   = vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
)

// defaultState is the state a use without a forced state requires.
// Creates count as writes.
func defaultState(n *resourceNode, compute, write bool) rhi.ResourceState {
	stage := graphicsShaderStages
	if compute {
		stage = computeShaderStage
	}

	switch n.kind {
	case rhi.ResourceKindImage:
		switch {
		case compute && write:
			return rhi.ResourceState{
				Access: vk.AccessFlags(vk.AccessShaderWriteBit),
				Stage:  stage,
				Layout: vk.ImageLayoutGeneral,
			}
		case !write:
			return rhi.ResourceState{
				Access: vk.AccessFlags(vk.AccessShaderReadBit),
				Stage:  stage,
				Layout: vk.ImageLayoutShaderReadOnlyOptimal,
			}
		case n.image.IsDepth():
			return rhi.ResourceState{
				Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
				Stage:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
				Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
		default:
			return rhi.ResourceState{
				Access: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
				Stage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				Layout: vk.ImageLayoutColorAttachmentOptimal,
			}
		}

	case rhi.ResourceKindUniformBuffer:
		if write {
			return rhi.ResourceState{
				Access: vk.AccessFlags(vk.AccessHostWriteBit),
				Stage:  vk.PipelineStageFlags(vk.PipelineStageHostBit),
				Layout: vk.ImageLayoutUndefined,
			}
		}
		return rhi.ResourceState{
			Access: vk.AccessFlags(vk.AccessUniformReadBit),
			Stage:  stage,
			Layout: vk.ImageLayoutUndefined,
		}
	}

	access := vk.AccessFlags(vk.AccessShaderReadBit)
	if write {
		access = vk.AccessFlags(vk.AccessShaderWriteBit)
	}
	return rhi.ResourceState{Access: access, Stage: stage, Layout: vk.ImageLayoutUndefined}
}

func targetState(n *resourceNode, a ResourceAccess, compute, write bool) rhi.ResourceState {
	if a.Forced != rhi.ForcedStateNone {
		return a.Forced.State(n.isImage())
	}
	return defaultState(n, compute, write)
}
