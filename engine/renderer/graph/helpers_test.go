package graph

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/headless"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/state"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/transient"
)

type fixture struct {
	dev     *headless.Device
	pool    *transient.System
	tracker *state.Tracker
	bind    *bindless.Manager
}

func newFixture() *fixture {
	dev := headless.NewDevice()
	return &fixture{
		dev:     dev,
		pool:    transient.NewSystem(dev),
		tracker: state.NewTracker(),
		bind:    bindless.NewManager(16),
	}
}

func (f *fixture) graph(frame uint64) *RenderGraph {
	return New(Environment{
		Frame:        frame,
		Device:       f.dev,
		Pool:         f.pool,
		Tracker:      f.tracker,
		Bindless:     f.bind,
		DebugMarkers: true,
	})
}

func colourDesc(name string) rhi.ImageDesc {
	return rhi.ImageDesc{
		Name:   name,
		Format: vk.FormatR16g16b16a16Sfloat,
		Width:  1280,
		Height: 720,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit | vk.ImageUsageStorageBit),
	}
}

func bufferDesc(name string) rhi.BufferDesc {
	return rhi.BufferDesc{
		Name:         name,
		ElementSize:  16,
		ElementCount: 1024,
		Usage:        vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		Memory:       rhi.MemoryGPUOnly,
	}
}

// requireAssertion runs fn and checks it panics with an assertion wrapping
// target.
func requireAssertion(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic wrapping %v", target)
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.ErrorIs(t, err, target)
	}()
	fn()
}

func barrierFor(p *passNode, h ResourceHandle) (plannedBarrier, bool) {
	for _, b := range p.barriers {
		if b.handle == h {
			return b, true
		}
	}
	return plannedBarrier{}, false
}

// recordedBarriers flattens every barrier recorded against res.
func recordedBarriers(cb *headless.CommandBuffer, res rhi.Resource) []rhi.Barrier {
	var out []rhi.Barrier
	for _, cmd := range cb.Filter(headless.CmdBarrier) {
		for _, b := range cmd.Barriers {
			if b.Target().ID() == res.ID() {
				out = append(out, b)
			}
		}
	}
	return out
}

func computeRead() rhi.ResourceState {
	return rhi.ResourceState{
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Stage:  computeShaderStage,
		Layout: vk.ImageLayoutUndefined,
	}
}

func computeWrite() rhi.ResourceState {
	return rhi.ResourceState{
		Access: vk.AccessFlags(vk.AccessShaderWriteBit),
		Stage:  computeShaderStage,
		Layout: vk.ImageLayoutUndefined,
	}
}

func newExternalImage() *headless.Image {
	return headless.NewExternalImage(rhi.ImageDesc{
		Name:   "swapchain",
		Format: vk.FormatB8g8r8a8Unorm,
		Width:  1280,
		Height: 720,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
	})
}
