package graph

import (
	"fmt"
	mrand "math/rand"
	"sort"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/math"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

func TestChainReachingSideEffectIsKept(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r1, r2 ResourceHandle
	g.AddPass("A", func(b *Builder) {
		r1 = b.CreateImage(colourDesc("r1"))
	}, nil)
	g.AddPass("B", func(b *Builder) {
		b.SetIsComputePass()
		b.ReadResource(r1)
		r2 = b.CreateBuffer(bufferDesc("r2"))
	}, nil)
	g.AddPass("C", func(b *Builder) {
		b.ReadResource(r2)
		b.SetHasSideEffect()
	}, nil)

	stats := g.Compile()
	assert.Equal(t, CompileStats{Passes: 3, Culled: 0, Barriers: 4, Elided: 0}, stats)
	for i := 0; i < 3; i++ {
		assert.False(t, g.Pass(i).IsCulled, "pass %d", i)
	}

	writeState := defaultState(g.resources[r1], false, true)
	b, ok := barrierFor(g.passes[1], r1)
	require.True(t, ok)
	assert.Equal(t, writeState, b.src)
	assert.Equal(t, rhi.ResourceState{
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Stage:  computeShaderStage,
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	}, b.dst)

	info := g.Resource(r1)
	assert.Equal(t, 0, info.Producer)
	assert.Equal(t, 0, info.FirstUsage)
	assert.Equal(t, 1, info.LastUsage)
	assert.Contains(t, g.passes[1].surrenders, r1)
}

func TestUnreadPassIsCulled(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	ran := false
	g.AddPass("A", func(b *Builder) {
		b.CreateBuffer(bufferDesc("r1"))
	}, func(*Context) { ran = true })

	stats := g.Compile()
	assert.Equal(t, 1, stats.Culled)
	assert.Equal(t, 0, stats.Barriers)
	assert.True(t, g.Pass(0).IsCulled)

	_, err := g.Execute()
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 0, f.dev.Allocations())
	assert.Equal(t, 1, f.dev.Submissions())
}

func TestCullingPropagatesThroughReads(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r1, shared ResourceHandle
	g.AddPass("shared", func(b *Builder) {
		shared = b.CreateBuffer(bufferDesc("shared"))
	}, nil)
	g.AddPass("A", func(b *Builder) {
		r1 = b.CreateBuffer(bufferDesc("r1"))
	}, nil)
	g.AddPass("B", func(b *Builder) {
		b.ReadResource(r1)
		b.ReadResource(shared)
		b.CreateBuffer(bufferDesc("r2"))
	}, nil)
	g.AddPass("present", func(b *Builder) {
		b.ReadResource(shared)
		b.SetHasSideEffect()
	}, nil)

	stats := g.Compile()
	assert.Equal(t, 2, stats.Culled)
	assert.False(t, g.Pass(0).IsCulled)
	assert.True(t, g.Pass(1).IsCulled)
	assert.True(t, g.Pass(2).IsCulled)
	assert.False(t, g.Pass(3).IsCulled)

	// the culled reader no longer holds the shared buffer alive
	assert.Equal(t, 1, g.Resource(shared).RefCount)
	assert.Equal(t, 3, g.Resource(shared).LastUsage)
}

func TestSideEffectPassIsNeverCulled(t *testing.T) {
	f := newFixture()
	g := f.graph(1)
	g.AddPass("capture", func(b *Builder) {
		b.CreateImage(colourDesc("capture"))
		b.SetHasSideEffect()
	}, nil)
	g.Compile()
	assert.False(t, g.Pass(0).IsCulled)
}

func TestWriteMovesProducer(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r ResourceHandle
	g.AddPass("clear", func(b *Builder) {
		r = b.CreateBuffer(bufferDesc("counter"))
		b.WriteResource(r)
	}, nil)
	g.AddPass("accumulate", func(b *Builder) {
		b.SetIsComputePass()
		b.WriteResource(r)
	}, nil)

	assert.Empty(t, g.Pass(0).Writes, "writing a created resource is a no-op")
	assert.Equal(t, 1, g.Resource(r).Producer)

	stats := g.Compile()
	assert.Equal(t, 2, stats.Culled, "nothing reads the counter, so every writer goes")
	assert.True(t, g.Pass(0).IsCulled)
	assert.True(t, g.Pass(1).IsCulled)

	_, err := g.Execute()
	require.NoError(t, err)
	assert.Equal(t, 0, f.dev.Allocations())
}

func TestLiveWriterKeepsEarlierWriters(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r ResourceHandle
	g.AddPass("clear", func(b *Builder) {
		r = b.CreateBuffer(bufferDesc("counter"))
	}, nil)
	g.AddPass("accumulate", func(b *Builder) {
		b.SetIsComputePass().WriteResource(r)
	}, nil)
	g.AddPass("publish", func(b *Builder) {
		b.WriteResource(r).SetHasSideEffect()
	}, nil)
	g.AddPass("overwrite", func(b *Builder) {
		b.WriteResource(r)
	}, nil)

	stats := g.Compile()
	assert.Equal(t, 1, stats.Culled)
	assert.False(t, g.Pass(0).IsCulled)
	assert.False(t, g.Pass(1).IsCulled)
	assert.False(t, g.Pass(2).IsCulled)
	assert.True(t, g.Pass(3).IsCulled, "the last write is never observed")
}

func TestCulledWriterReleasesItsReads(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var src, dst ResourceHandle
	g.AddPass("upload", func(b *Builder) {
		src = b.CreateBuffer(bufferDesc("source"))
	}, nil)
	g.AddPass("prepare", func(b *Builder) {
		dst = b.CreateBuffer(bufferDesc("target"))
	}, nil)
	g.AddPass("copy", func(b *Builder) {
		b.ReadResource(src, rhi.ForcedStateCopySource).
			WriteResource(dst, rhi.ForcedStateCopyDestination)
	}, nil)

	stats := g.Compile()
	assert.Equal(t, 3, stats.Culled)
	for i := 0; i < 3; i++ {
		assert.True(t, g.Pass(i).IsCulled, "pass %d", i)
	}
}

func TestReadAfterReadIsElided(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r ResourceHandle
	g.AddPass("build", func(b *Builder) {
		b.SetIsComputePass()
		r = b.CreateBuffer(bufferDesc("lights"))
	}, nil)
	for i := 0; i < 2; i++ {
		g.AddPass(fmt.Sprintf("cull%d", i), func(b *Builder) {
			b.SetIsComputePass()
			b.ReadResource(r)
			b.SetHasSideEffect()
		}, nil)
	}
	g.AddPass("shade", func(b *Builder) {
		b.ReadResource(r)
		b.SetHasSideEffect()
	}, nil)

	stats := g.Compile()
	assert.Equal(t, 1, stats.Elided)
	assert.Len(t, g.passes[1].barriers, 1)
	assert.Empty(t, g.passes[2].barriers)

	// a stage change is never elided
	shade, ok := barrierFor(g.passes[3], r)
	require.True(t, ok)
	assert.Equal(t, computeRead(), shade.src)
	assert.Equal(t, graphicsShaderStages, shade.dst.Stage)
}

func TestUsesWithinOnePassMerge(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r ResourceHandle
	g.AddPass("create", func(b *Builder) {
		r = b.CreateImage(colourDesc("history"))
	}, nil)
	g.AddPass("resolve", func(b *Builder) {
		b.WriteResource(r)
		b.ReadResource(r)
		b.SetHasSideEffect()
	}, nil)

	g.Compile()
	require.Len(t, g.passes[1].barriers, 1)
	b := g.passes[1].barriers[0]
	assert.Equal(t, vk.ImageLayoutGeneral, b.dst.Layout)
	assert.Equal(t, vk.AccessFlags(vk.AccessColorAttachmentReadBit|vk.AccessColorAttachmentWriteBit|vk.AccessShaderReadBit), b.dst.Access)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)|graphicsShaderStages, b.dst.Stage)
}

func TestForcedStateOverridesDefault(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var args ResourceHandle
	g.AddPass("build-args", func(b *Builder) {
		b.SetIsComputePass()
		args = b.CreateBuffer(bufferDesc("args"))
	}, nil)
	g.AddPass("draw", func(b *Builder) {
		b.ReadResource(args, rhi.ForcedStateIndirectArgument)
		b.SetHasSideEffect()
	}, nil)

	g.Compile()
	b, ok := barrierFor(g.passes[1], args)
	require.True(t, ok)
	assert.Equal(t, computeWrite(), b.src)
	assert.Equal(t, rhi.ForcedStateIndirectArgument.State(false), b.dst)
}

func TestDepthTargetDefaults(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var depth ResourceHandle
	g.AddPass("prepass", func(b *Builder) {
		depth = b.CreateImage(rhi.ImageDesc{
			Name:   "depth",
			Format: vk.FormatD32Sfloat,
			Width:  1280,
			Height: 720,
			Usage:  vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		})
		b.SetHasSideEffect()
	}, nil)
	g.Compile()

	b, ok := barrierFor(g.passes[0], depth)
	require.True(t, ok)
	assert.True(t, b.discard)
	assert.Equal(t, vk.ImageLayoutUndefined, b.src.Layout)
	assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal, b.dst.Layout)
}

func TestExternalSourceComesFromTracker(t *testing.T) {
	f := newFixture()
	swapchain := newExternalImage()
	presented := rhi.ForcedStatePresent.State(true)
	f.tracker.SetState(swapchain, presented)

	g := f.graph(1)
	var target ResourceHandle
	g.AddPass("blit", func(b *Builder) {
		target = b.AddExternalImage(swapchain)
		b.WriteResource(target, rhi.ForcedStateCopyDestination)
		b.SetHasSideEffect()
	}, nil)
	g.Compile()

	b, ok := barrierFor(g.passes[0], target)
	require.True(t, ok)
	assert.Equal(t, presented, b.src)
	assert.Equal(t, rhi.ForcedStateCopyDestination.State(true), b.dst)
}

func TestUntrackedExternalStartsUndefined(t *testing.T) {
	f := newFixture()
	img := newExternalImage()

	g := f.graph(1)
	var h ResourceHandle
	g.AddPass("sample", func(b *Builder) {
		h = b.AddExternalImage(img)
		b.ReadResource(h)
		b.SetHasSideEffect()
	}, nil)
	stats := g.Compile()

	b, ok := barrierFor(g.passes[0], h)
	require.True(t, ok)
	assert.True(t, b.src.IsUndefined())
	assert.Equal(t, 0, stats.Elided)
}

func TestStandaloneBarrierIsBackFilled(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r ResourceHandle
	g.AddPass("render", func(b *Builder) {
		r = b.CreateImage(colourDesc("scene"))
		b.SetHasSideEffect()
	}, nil)
	g.AddResourceBarrier(r, rhi.ForcedStateCopySource.State(true))

	stats := g.Compile()
	assert.Equal(t, 2, stats.Barriers)
	require.Len(t, g.standalone, 1)
	c := g.standalone[0]
	assert.Equal(t, 1, c.slot)
	assert.Equal(t, defaultState(g.resources[r], false, true), c.barrier.src)
	assert.Equal(t, 1, g.Resource(r).LastUsage, "tail barriers keep the resource until the frame ends")
	assert.Empty(t, g.passes[0].surrenders)
}

func TestStandaloneBarrierOnCulledResourceIsDropped(t *testing.T) {
	f := newFixture()
	g := f.graph(1)

	var r ResourceHandle
	g.AddPass("unused", func(b *Builder) {
		r = b.CreateBuffer(bufferDesc("unused"))
	}, nil)
	g.AddResourceBarrier(r, computeRead())

	stats := g.Compile()
	assert.Equal(t, 0, stats.Barriers)
	assert.True(t, g.standalone[0].dropped)

	_, err := g.Execute()
	require.NoError(t, err)
	assert.Equal(t, 0, f.dev.Allocations())
}

func TestUnbalancedMarkersAreFatal(t *testing.T) {
	f := newFixture()

	open := f.graph(1)
	open.BeginMarker("frame", math.ColourWhite)
	requireAssertion(t, core.ErrUnbalancedMarkers, func() { open.Compile() })

	closed := f.graph(2)
	closed.EndMarker()
	closed.BeginMarker("frame", math.ColourWhite)
	requireAssertion(t, core.ErrUnbalancedMarkers, func() { closed.Compile() })
}

func TestCompileTwiceIsFatal(t *testing.T) {
	g := newFixture().graph(1)
	g.Compile()
	requireAssertion(t, core.ErrAlreadyCompiled, func() { g.Compile() })
	requireAssertion(t, core.ErrDeclarationClosed, func() {
		g.AddPass("late", nil, nil)
	})
}

// TestRandomGraphsHoldInvariants checks, over generated graphs, that no
// live resource loses its producer, that side-effect passes survive, that
// consecutive transitions of a resource chain and that pooled memory is
// only shared by resources with disjoint lifetimes.
func TestRandomGraphsHoldInvariants(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			rng := mrand.New(mrand.NewSource(seed))
			f := newFixture()
			g := f.graph(uint64(seed))

			physical := make(map[ResourceHandle]uuid.UUID)
			record := func(ctx *Context) {
				for _, list := range [][]ResourceAccess{ctx.pass.creates, ctx.pass.writes, ctx.pass.reads} {
					for _, a := range list {
						physical[a.Handle] = ctx.Buffer(a.Handle).ID()
					}
				}
			}

			var handles []ResourceHandle
			for i := 0; i < 14; i++ {
				g.AddPass(fmt.Sprintf("p%d", i), func(b *Builder) {
					if rng.Intn(2) == 0 {
						b.SetIsComputePass()
					}
					if len(handles) > 0 {
						for k := rng.Intn(3); k > 0; k-- {
							b.ReadResource(handles[rng.Intn(len(handles))])
						}
						if rng.Intn(4) == 0 {
							b.WriteResource(handles[rng.Intn(len(handles))])
						}
					}
					for k := rng.Intn(3); k > 0; k-- {
						desc := bufferDesc(fmt.Sprintf("b%d", len(handles)))
						desc.ElementCount = uint32(64 << rng.Intn(2))
						handles = append(handles, b.CreateBuffer(desc))
					}
					if rng.Intn(5) == 0 {
						b.SetHasSideEffect()
					}
				}, record)
			}

			g.Compile()

			for _, p := range g.passes {
				if p.hasSideEffect {
					assert.False(t, p.isCulled, "side-effect pass %q culled", p.name)
				}
			}
			for i, n := range g.resources {
				if n.refCount > 0 && n.producer >= 0 {
					assert.False(t, g.passes[n.producer].isCulled, "live resource %d has culled producer", i)
				}
			}

			last := make(map[ResourceHandle]rhi.ResourceState)
			for _, p := range g.passes {
				seen := make(map[ResourceHandle]bool)
				for _, b := range p.barriers {
					require.False(t, seen[b.handle], "two barriers for %s in %q", b.handle, p.name)
					seen[b.handle] = true
					if prev, ok := last[b.handle]; ok {
						assert.Equal(t, prev, b.src, "barrier for %s in %q", b.handle, p.name)
					} else {
						assert.True(t, b.src.IsUndefined())
					}
					last[b.handle] = b.dst
				}
			}

			_, err := g.Execute()
			require.NoError(t, err)
			assert.Equal(t, 0, f.pool.Stats().Bound)

			byMemory := make(map[uuid.UUID][]ResourceInfo)
			for h, id := range physical {
				byMemory[id] = append(byMemory[id], g.Resource(h))
			}
			for _, infos := range byMemory {
				sort.Slice(infos, func(i, j int) bool { return infos[i].FirstUsage < infos[j].FirstUsage })
				for i := 1; i < len(infos); i++ {
					assert.Less(t, infos[i-1].LastUsage, infos[i].FirstUsage, "%q and %q overlap", infos[i-1].Name, infos[i].Name)
				}
			}
		})
	}
}
