package testbed

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-framegraph/engine"
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/math"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/graph"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

const histogramBins = 256

type TestGame struct {
	*engine.Game
}

type cameraUniform struct {
	ViewProjection [16]float32
	Position       [4]float32
	Time           float32
	Exposure       float32
	_              [2]float32
}

type lightingData struct {
	albedo, normal, depth graph.ResourceHandle
	hdr                   graph.ResourceHandle
	width, height         uint32
}

type gameState struct {
	width  uint32
	height uint32
	time   float64

	// Stands in for a swapchain image: owned by the game, imported every
	// frame.
	backbuffer rhi.Image
	// Histogram read backs of frames that may still be in flight.
	histograms []*graph.Extraction
}

func NewTestGame(configPath string, maxFrames uint64) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:       "Anima Framegraph Testbed",
				ConfigPath: configPath,
				Width:      1280,
				Height:     720,
				MaxFrames:  maxFrames,
				TargetFPS:  60,
			},
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	st := g.state()
	if width == st.width && height == st.height && st.backbuffer != nil {
		return nil
	}
	if st.backbuffer != nil {
		g.Renderer.Tracker().Forget(st.backbuffer)
		if err := st.backbuffer.Destroy(); err != nil {
			return err
		}
	}
	img, err := g.Renderer.Device().CreateImage(rhi.ImageDesc{
		Name:   "backbuffer",
		Format: vk.FormatB8g8r8a8Unorm,
		Width:  width,
		Height: height,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
	})
	if err != nil {
		return fmt.Errorf("create backbuffer: %w", err)
	}
	st.backbuffer = img
	st.width, st.height = width, height
	core.LogDebug("backbuffer resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state().time += deltaTime
	return nil
}

/**
 * @brief Declares the demo frame: a geometry pass, compute lighting, a
 * luminance histogram read back by the CPU, tonemapping into the imported
 * backbuffer and a debug overlay nobody consumes, which the compiler culls.
 */
func (g *TestGame) Render(rg *graph.RenderGraph, deltaTime float64) error {
	st := g.state()
	g.releaseHistograms(g.Renderer.LastExecutedFrame())
	width, height := st.width, st.height

	rg.BeginMarker("Frame", math.ColourWhite)
	backbuffer := rg.AddExternalImage(st.backbuffer)

	var albedo, normal, depth, camera graph.ResourceHandle
	rg.AddPass("GBuffer", func(b *graph.Builder) {
		albedo = b.CreateImage(colourTarget("albedo", vk.FormatR8g8b8a8Unorm, width, height))
		normal = b.CreateImage(colourTarget("normal", vk.FormatR16g16b16a16Sfloat, width, height))
		depth = b.CreateImage(rhi.ImageDesc{
			Name:   "depth",
			Format: vk.FormatD32Sfloat,
			Width:  width,
			Height: height,
			Usage:  vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageSampledBit),
		})
		camera = b.CreateUniformBuffer(rhi.UniformBufferDesc{Name: "camera", Size: 96})
		b.ReadResource(camera)
	}, func(ctx *graph.Context) {
		uniform := cameraUniform{
			Position: [4]float32{0, 2, -5, 1},
			Time:     float32(st.time),
			Exposure: 1,
		}
		for i := 0; i < 4; i++ {
			uniform.ViewProjection[i*5] = 1
		}
		if err := graph.WriteUniformValue(ctx, camera, uniform); err != nil {
			core.LogError(err.Error())
			return
		}
		ctx.CommandBuffer().Draw(36, 1, 0, 0)
	})

	var hdr graph.ResourceHandle
	graph.AddPassWithData(rg, "Lighting", func(b *graph.Builder, d *lightingData) {
		d.albedo, d.normal, d.depth = albedo, normal, depth
		d.width, d.height = width, height
		d.hdr = b.CreateImage(rhi.ImageDesc{
			Name:   "hdr",
			Format: vk.FormatR16g16b16a16Sfloat,
			Width:  width,
			Height: height,
			Usage:  vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageSampledBit),
		})
		hdr = d.hdr
		b.SetIsComputePass().
			ReadResource(albedo).
			ReadResource(normal).
			ReadResource(depth)
	}, func(ctx *graph.Context, d *lightingData) {
		ctx.ImageBindlessIndex(d.albedo)
		ctx.ImageBindlessIndex(d.normal)
		ctx.CommandBuffer().Dispatch((d.width+7)/8, (d.height+7)/8, 1)
	})

	var histogram graph.ResourceHandle
	rg.AddPass("Luminance Histogram", func(b *graph.Builder) {
		histogram = b.CreateBuffer(rhi.BufferDesc{
			Name:         "luminance histogram",
			ElementSize:  4,
			ElementCount: histogramBins,
			Usage:        vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
			Memory:       rhi.MemoryGPUToCPU,
		})
		b.SetIsComputePass().ReadResource(hdr)
	}, func(ctx *graph.Context) {
		cb := ctx.CommandBuffer()
		cb.ClearBuffer(ctx.Buffer(histogram), 0)
		cb.Dispatch((width+15)/16, (height+15)/16, 1)
	})
	st.histograms = append(st.histograms, rg.QueueBufferExtraction(histogram))

	rg.AddPass("Tonemap", func(b *graph.Builder) {
		b.ReadResource(hdr).
			ReadResource(histogram).
			WriteResource(backbuffer).
			SetHasSideEffect()
	}, func(ctx *graph.Context) {
		ctx.CommandBuffer().Draw(3, 1, 0, 0)
	})

	rg.AddPass("Debug Overlay", func(b *graph.Builder) {
		overlay := b.CreateImage(colourTarget("debug overlay", vk.FormatR8g8b8a8Unorm, width, height))
		b.WriteResource(overlay).ReadResource(hdr)
	}, func(ctx *graph.Context) {
		ctx.CommandBuffer().Draw(3, 1, 0, 0)
	})

	rg.AddResourceBarrier(backbuffer, rhi.ForcedStatePresent.State(true))
	rg.EndMarker()
	return nil
}

func (g *TestGame) Shutdown() error {
	st := g.state()
	g.releaseHistograms(^uint64(0))
	if st.backbuffer != nil {
		g.Renderer.Tracker().Forget(st.backbuffer)
		if err := st.backbuffer.Destroy(); err != nil {
			return err
		}
		st.backbuffer = nil
	}
	core.LogInfo("testbed shut down")
	return nil
}

// releaseHistograms hands back the read backs of frames up to executed.
func (g *TestGame) releaseHistograms(executed uint64) {
	st := g.state()
	kept := st.histograms[:0]
	for _, e := range st.histograms {
		if e.Frame() > executed {
			kept = append(kept, e)
			continue
		}
		g.Renderer.ReleaseExtraction(e)
	}
	st.histograms = kept
}

func colourTarget(name string, format vk.Format, width, height uint32) rhi.ImageDesc {
	return rhi.ImageDesc{
		Name:   name,
		Format: format,
		Width:  width,
		Height: height,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit),
	}
}
