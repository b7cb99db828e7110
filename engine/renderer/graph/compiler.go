package graph

import (
	"github.com/spaghettifunk/anima-framegraph/engine/containers"
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/math"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type CompileStats struct {
	Passes   int
	Culled   int
	Barriers int
	Elided   int
}

// Compile culls passes that contribute nothing to a side effect, then
// synthesises the transitions every live pass needs. The graph accepts no
// more declarations afterwards.
func (g *RenderGraph) Compile() CompileStats {
	core.Assertf(g.phase == phaseDeclaring, core.ErrAlreadyCompiled, "graph %s", g.id)

	g.validateMarkers()
	g.cull()
	stats := g.synthesise()
	stats.Passes = len(g.passes)

	g.phase = phaseCompiled
	g.compileStats = stats
	if core.DebugEnabled() {
		core.LogDebug("%s", g.Dump())
	}
	return stats
}

func (g *RenderGraph) CompileStats() CompileStats {
	return g.compileStats
}

func (g *RenderGraph) validateMarkers() {
	depth := 0
	for _, c := range g.standalone {
		switch c.kind {
		case standaloneBeginMarker:
			depth++
		case standaloneEndMarker:
			depth--
			core.Assertf(depth >= 0, core.ErrUnbalancedMarkers, "EndMarker before pass %d has no matching BeginMarker", c.slot)
		}
	}
	core.Assertf(depth == 0, core.ErrUnbalancedMarkers, "%d BeginMarker calls left open", depth)
}

func (g *RenderGraph) cull() {
	for _, p := range g.passes {
		p.refCount = p.outputs()
	}
	for _, n := range g.resources {
		n.refCount = 0
		n.visited = false
	}
	for _, p := range g.passes {
		for _, r := range p.reads {
			g.resources[r.Handle].refCount++
		}
	}

	worklist := containers.NewRingQueue[ResourceHandle](math.Max(len(g.resources), 1))
	for i, n := range g.resources {
		if n.refCount == 0 {
			_ = worklist.Enqueue(ResourceHandle(i))
		}
	}

	for !worklist.IsEmpty() {
		h, _ := worklist.Dequeue()
		n := g.resources[h]
		if n.isExternal || n.isGlobal || n.visited || len(n.writers) == 0 || n.extraction != nil {
			continue
		}
		n.visited = true
		g.releaseWriters(n, worklist)
	}
}

// releaseWriters walks the writers of an unreferenced resource from the
// last one back. Each writer loses its reference to the resource; an
// earlier writer only loses it once every later writer is culled.
func (g *RenderGraph) releaseWriters(n *resourceNode, worklist *containers.RingQueue[ResourceHandle]) {
	for i := len(n.writers) - 1; i >= 0; i-- {
		p := g.passes[n.writers[i]]
		if p.hasSideEffect || p.isCulled {
			return
		}
		p.refCount--
		if p.refCount > 0 {
			return
		}

		p.isCulled = true
		for _, r := range p.reads {
			rn := g.resources[r.Handle]
			rn.refCount--
			if rn.refCount == 0 {
				_ = worklist.Enqueue(r.Handle)
			}
		}
	}
}

type usage struct {
	handle  ResourceHandle
	state   rhi.ResourceState
	discard bool
}

// passUsages merges every use of a resource within p into one target
// state, in create, write, read order.
func (g *RenderGraph) passUsages(p *passNode) []usage {
	out := make([]usage, 0, len(p.creates)+len(p.writes)+len(p.reads))
	index := make(map[ResourceHandle]int, cap(out))

	add := func(a ResourceAccess, write, discard bool) {
		s := targetState(g.resources[a.Handle], a, p.isCompute, write)
		if i, ok := index[a.Handle]; ok {
			out[i].state = out[i].state.Merge(s)
			out[i].discard = out[i].discard || discard
			return
		}
		index[a.Handle] = len(out)
		out = append(out, usage{handle: a.Handle, state: s, discard: discard})
	}
	for _, a := range p.creates {
		add(a, true, true)
	}
	for _, a := range p.writes {
		add(a, true, false)
	}
	for _, a := range p.reads {
		add(a, false, false)
	}
	return out
}

// previousState returns the last recorded state of h. The first use of an
// external resource asks the state tracker; anything else starts undefined.
func (g *RenderGraph) previousState(h ResourceHandle, timeline map[ResourceHandle]rhi.ResourceState) (rhi.ResourceState, bool) {
	if s, ok := timeline[h]; ok {
		return s, true
	}
	n := g.resources[h]
	if n.isExternal {
		if s, ok := g.env.Tracker.State(n.external); ok {
			return s, true
		}
	}
	return rhi.StateUndefined, false
}

func (g *RenderGraph) synthesise() CompileStats {
	var stats CompileStats
	timeline := make(map[ResourceHandle]rhi.ResourceState, len(g.resources))

	next := 0
	for slot := 0; slot <= len(g.passes); slot++ {
		for ; next < len(g.standalone) && g.standalone[next].slot == slot; next++ {
			if g.planStandalone(&g.standalone[next], timeline) {
				stats.Barriers++
			}
		}
		if slot == len(g.passes) {
			break
		}

		p := g.passes[slot]
		if p.isCulled {
			stats.Culled++
			continue
		}
		for _, u := range g.passUsages(p) {
			n := g.resources[u.handle]
			if n.firstUsage < 0 {
				n.firstUsage = slot
			}
			n.lastUsage = slot

			prev, known := g.previousState(u.handle, timeline)
			if known && !u.discard && prev.Implies(u.state) {
				timeline[u.handle] = prev
				stats.Elided++
				continue
			}
			src := prev
			if u.discard {
				src = prev.Discarded()
			}
			p.barriers = append(p.barriers, plannedBarrier{
				handle:  u.handle,
				src:     src,
				dst:     u.state,
				discard: u.discard,
			})
			timeline[u.handle] = u.state
			stats.Barriers++
		}
	}

	for h, s := range timeline {
		n := g.resources[h]
		n.finalState = s
		n.tracked = true
	}
	for i, n := range g.resources {
		if n.lastUsage < 0 || n.lastUsage >= len(g.passes) {
			continue
		}
		if n.isExternal || n.isGlobal || n.kind == rhi.ResourceKindUniformBuffer {
			continue
		}
		p := g.passes[n.lastUsage]
		p.surrenders = append(p.surrenders, ResourceHandle(i))
	}
	return stats
}

// planStandalone back-fills the source of a standalone barrier and keeps
// its resource alive until the barrier has been replayed. It reports
// whether a barrier will be emitted.
func (g *RenderGraph) planStandalone(c *standaloneCommand, timeline map[ResourceHandle]rhi.ResourceState) bool {
	if c.kind != standaloneBarrier {
		return false
	}
	h := c.barrier.handle
	n := g.resources[h]
	if n.creator >= 0 && g.passes[n.creator].isCulled {
		c.dropped = true
		return false
	}

	prev, _ := g.previousState(h, timeline)
	c.barrier.src = prev
	c.barrier.dst = c.target
	timeline[h] = c.target

	if n.firstUsage < 0 {
		n.firstUsage = c.slot
	}
	if c.slot > n.lastUsage {
		n.lastUsage = c.slot
	}
	return true
}
