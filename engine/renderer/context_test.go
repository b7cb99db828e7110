package renderer

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-framegraph/engine/config"
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/graph"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/headless"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

func scratchDesc() rhi.BufferDesc {
	return rhi.BufferDesc{
		Name:         "scratch",
		ElementSize:  4,
		ElementCount: 256,
		Usage:        vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
	}
}

func targetDesc() rhi.ImageDesc {
	return rhi.ImageDesc{
		Name:   "target",
		Format: vk.FormatR8g8b8a8Unorm,
		Width:  64,
		Height: 64,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit),
	}
}

// clearPass adds a pass that clears a fresh scratch buffer and is kept alive
// by its side effect.
func clearPass(g *graph.RenderGraph) {
	var h graph.ResourceHandle
	g.AddPass("clear", func(b *graph.Builder) {
		h = b.CreateBuffer(scratchDesc())
		b.SetIsComputePass().SetHasSideEffect()
	}, func(ctx *graph.Context) {
		ctx.CommandBuffer().ClearBuffer(ctx.Buffer(h), 0)
	})
}

func newTestContext(t *testing.T, cfg *config.Config, bus *core.EventBus) (*Context, *headless.Device) {
	t.Helper()
	dev := headless.NewDevice()
	c, err := NewContext(dev, cfg, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })
	return c, dev
}

func TestNewContextRejectsMissingDevice(t *testing.T) {
	_, err := NewContext(nil, nil, nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Renderer.FramesInFlight = 0
	_, err = NewContext(headless.NewDevice(), cfg, nil)
	assert.ErrorContains(t, err, "frames_in_flight")
}

func TestSubmitExecutesFrame(t *testing.T) {
	bus := core.NewEventBus()
	executed := make(chan uint64, 4)
	bus.Register(core.EVENT_CODE_FRAME_EXECUTED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		executed <- data.U64[0]
		return false
	})

	c, dev := newTestContext(t, nil, bus)
	g := c.NewGraph()
	clearPass(g)

	ticket, err := c.Submit(g)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ticket.Frame())

	stats, err := ticket.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Allocations)
	assert.Equal(t, 1, dev.Submissions())
	assert.True(t, g.Executed())
	assert.Equal(t, uint64(1), c.LastExecutedFrame())

	last := c.Metrics().Last()
	assert.Equal(t, 1, last.Passes)
	assert.Equal(t, 0, last.CulledPass)
	assert.Equal(t, 1, last.Allocations)

	select {
	case frame := <-executed:
		assert.Equal(t, uint64(1), frame)
	default:
		t.Fatal("frame executed event was not fired")
	}
}

func TestSubmitReportsExecutionFailure(t *testing.T) {
	c, dev := newTestContext(t, nil, nil)
	oom := errors.New("out of device memory")
	dev.FailAllocations(oom)

	g := c.NewGraph()
	clearPass(g)
	ticket, err := c.Submit(g)
	require.NoError(t, err)

	_, err = ticket.Wait()
	assert.ErrorIs(t, err, oom)
	assert.Equal(t, core.FrameCounters{}, c.Metrics().Last(), "failed frames are not recorded")

	// the context keeps working once the device recovers
	dev.FailAllocations(nil)
	g = c.NewGraph()
	clearPass(g)
	ticket, err = c.Submit(g)
	require.NoError(t, err)
	_, err = ticket.Wait()
	assert.NoError(t, err)
}

func TestFramesRunInOrder(t *testing.T) {
	c, _ := newTestContext(t, nil, nil)
	tickets := make([]*FrameTicket, 0, 5)
	for i := 0; i < 5; i++ {
		g := c.NewGraph()
		clearPass(g)
		ticket, err := c.Submit(g)
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}
	for i, ticket := range tickets {
		stats, err := ticket.Wait()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ticket.Frame())
		if i == 0 {
			assert.Equal(t, 1, stats.Allocations)
		} else {
			assert.Equal(t, 1, stats.Reuses, "frame %d reuses the scratch buffer", ticket.Frame())
		}
	}
	assert.Equal(t, uint64(5), c.Frame())
	assert.Equal(t, 4, c.Metrics().Total().Reuses)
}

func TestReleaseExtractionReturnsToPool(t *testing.T) {
	c, dev := newTestContext(t, nil, nil)

	g := c.NewGraph()
	var target graph.ResourceHandle
	g.AddPass("draw", func(b *graph.Builder) {
		target = b.CreateImage(targetDesc())
	}, func(ctx *graph.Context) {
		ctx.CommandBuffer().Draw(3, 1, 0, 0)
	})
	extraction := g.QueueImageExtraction(target)

	ticket, err := c.Submit(g)
	require.NoError(t, err)
	_, err = ticket.Wait()
	require.NoError(t, err)

	require.NotNil(t, extraction.Image)
	assert.True(t, extraction.Pooled())
	assert.Equal(t, 0, c.Pool().Stats().Free, "extracted image is owned by the caller")
	_, tracked := c.Tracker().State(extraction.Image)
	assert.True(t, tracked)

	c.ReleaseExtraction(extraction)
	assert.Equal(t, 1, c.Pool().Stats().Free)
	_, tracked = c.Tracker().State(extraction.Image)
	assert.False(t, tracked)

	g = c.NewGraph()
	g.AddPass("draw", func(b *graph.Builder) {
		h := b.CreateImage(targetDesc())
		b.WriteResource(h).SetHasSideEffect()
	}, func(ctx *graph.Context) {})
	ticket, err = c.Submit(g)
	require.NoError(t, err)
	stats, err := ticket.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reuses)
	assert.Equal(t, 0, stats.Allocations)
	assert.Equal(t, 1, dev.Allocations())
}

func TestReleaseExternalExtractionIsNoop(t *testing.T) {
	c, _ := newTestContext(t, nil, nil)
	c.ReleaseExtraction(&graph.Extraction{})
	assert.Equal(t, 0, c.Pool().Stats().Free)
}

func TestIdleAllocationsAreDestroyedAfterLatency(t *testing.T) {
	cfg := config.Default()
	cfg.Transient.MaxIdleFrames = 0
	cfg.Renderer.FramesInFlight = 2
	c, dev := newTestContext(t, cfg, nil)

	run := func(declare func(g *graph.RenderGraph)) {
		g := c.NewGraph()
		declare(g)
		ticket, err := c.Submit(g)
		require.NoError(t, err)
		_, err = ticket.Wait()
		require.NoError(t, err)
	}

	run(clearPass)
	assert.Equal(t, 0, c.PendingDeletions())

	// the scratch buffer goes idle in frame 2 and is queued for deletion
	run(func(*graph.RenderGraph) {})
	assert.Equal(t, 1, c.PendingDeletions())
	assert.Equal(t, 0, dev.Destroyed())

	// frame 3 is still within two frames of the trim
	run(func(*graph.RenderGraph) {})
	assert.Equal(t, 1, c.PendingDeletions())
	assert.Equal(t, 0, dev.Destroyed())

	run(func(*graph.RenderGraph) {})
	assert.Equal(t, 0, c.PendingDeletions())
	assert.Equal(t, 1, dev.Destroyed())
}

func TestApplyConfigKeepsFixedSettings(t *testing.T) {
	c, _ := newTestContext(t, nil, nil)
	next := config.Default()
	next.Graph.DebugMarkers = false
	next.Renderer.FramesInFlight = 7

	c.ApplyConfig(next)
	assert.False(t, c.Config().Graph.DebugMarkers)
	assert.Equal(t, 2, c.Config().Renderer.FramesInFlight)
}

func TestDestroy(t *testing.T) {
	dev := headless.NewDevice()
	c, err := NewContext(dev, nil, nil)
	require.NoError(t, err)

	g := c.NewGraph()
	clearPass(g)
	ticket, err := c.Submit(g)
	require.NoError(t, err)
	_, err = ticket.Wait()
	require.NoError(t, err)

	require.NoError(t, c.Destroy())
	assert.Equal(t, 1, dev.Destroyed(), "pooled allocations are released")
	require.NoError(t, c.Destroy())

	_, err = c.Submit(graph.New(graph.Environment{Device: dev, Pool: c.Pool()}))
	assert.ErrorIs(t, err, core.ErrExecutorClosed)
}

func TestParseBackendType(t *testing.T) {
	backend, err := ParseBackendType("Vulkan")
	require.NoError(t, err)
	assert.Equal(t, RENDERER_BACKEND_TYPE_VULKAN, backend)

	backend, err = ParseBackendType("")
	require.NoError(t, err)
	assert.Equal(t, RENDERER_BACKEND_TYPE_HEADLESS, backend)

	_, err = ParseBackendType("metal")
	assert.Error(t, err)
}

func TestNewHeadlessDevice(t *testing.T) {
	dev, release, err := NewDevice(config.Default().Renderer, true)
	require.NoError(t, err)
	defer release()
	_, ok := dev.(*headless.Device)
	assert.True(t, ok)
}
