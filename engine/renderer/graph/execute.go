package graph

import (
	"fmt"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/math"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/transient"
)

type ExecuteStats struct {
	Barriers    int
	Markers     int
	Allocations int
	Reuses      int
}

type uniformUpload struct {
	handle ResourceHandle
	offset uint32
	data   []byte
}

/**
 * @brief Records the compiled graph into a command buffer, submits it and
 * waits for completion. A graph executes exactly once.
 * @return Statistics for the frame, or the RHI error that aborted it.
 */
func (g *RenderGraph) Execute() (ExecuteStats, error) {
	core.Assertf(g.phase != phaseDeclaring, core.ErrNotCompiled, "graph %s", g.id)
	core.Assertf(g.phase == phaseCompiled, core.ErrAlreadyExecuted, "graph %s", g.id)
	g.phase = phaseExecuting

	var stats ExecuteStats
	cb, err := g.env.Device.NewCommandBuffer()
	if err != nil {
		return stats, g.abort(fmt.Errorf("create command buffer: %w", err))
	}
	if err := cb.Begin(); err != nil {
		return stats, g.abort(fmt.Errorf("begin command buffer: %w", err))
	}

	next := 0
	for slot := 0; slot <= len(g.passes); slot++ {
		for ; next < len(g.standalone) && g.standalone[next].slot == slot; next++ {
			if err := g.replayStandalone(cb, &g.standalone[next], &stats); err != nil {
				return stats, g.abort(err)
			}
		}
		if slot == len(g.passes) {
			break
		}

		p := g.passes[slot]
		if !p.isCulled {
			if err := g.runPass(cb, p, &stats); err != nil {
				return stats, g.abort(err)
			}
		}
		g.surrender(p)
	}

	if err := g.flushUploads(); err != nil {
		return stats, g.abort(err)
	}
	if err := cb.End(); err != nil {
		return stats, g.abort(fmt.Errorf("end command buffer: %w", err))
	}
	if err := cb.Execute(); err != nil {
		return stats, g.abort(fmt.Errorf("submit frame %d: %w", g.env.Frame, err))
	}

	g.extract()
	g.writeBack()
	g.finalize()
	return stats, nil
}

func (g *RenderGraph) abort(err error) error {
	core.LogError("frame %d aborted: %s", g.env.Frame, err.Error())
	g.finalize()
	return err
}

func (g *RenderGraph) acquire(h ResourceHandle, stats *ExecuteStats) (rhi.Resource, transient.Acquisition, error) {
	if res, ok := g.physical[h]; ok {
		return res, transient.Acquisition{}, nil
	}

	n := g.resources[h]
	var (
		res rhi.Resource
		acq transient.Acquisition
		err error
	)
	pool := g.env.Pool
	switch n.kind {
	case rhi.ResourceKindImage:
		var img rhi.Image
		img, acq, err = pool.AcquireImage(g.env.Frame, uint32(h), n.image)
		res = img
	case rhi.ResourceKindBuffer:
		var buf rhi.Buffer
		buf, acq, err = pool.AcquireBuffer(g.env.Frame, uint32(h), n.buffer)
		res = buf
	case rhi.ResourceKindUniformBuffer:
		var ub rhi.UniformBuffer
		ub, acq, err = pool.AcquireUniformBuffer(g.env.Frame, uint32(h), n.uniform)
		res = ub
	}
	if err != nil {
		return nil, acq, fmt.Errorf("resource %s: %w", h, err)
	}

	g.physical[h] = res
	if acq.Allocated {
		stats.Allocations++
	}
	if acq.Reused {
		stats.Reuses++
	}
	return res, acq, nil
}

func (g *RenderGraph) makeBarrier(h ResourceHandle, res rhi.Resource, src, dst rhi.ResourceState) rhi.Barrier {
	if g.resources[h].isImage() {
		return rhi.Barrier{Image: res.(rhi.Image), Src: src, Dst: dst}
	}
	return rhi.Barrier{Buffer: res, Src: src, Dst: dst}
}

func (g *RenderGraph) replayStandalone(cb rhi.CommandBuffer, c *standaloneCommand, stats *ExecuteStats) error {
	switch c.kind {
	case standaloneBeginMarker:
		cb.BeginMarker(c.name, c.colour)
		stats.Markers++
	case standaloneEndMarker:
		cb.EndMarker()
	case standaloneBarrier:
		if c.dropped {
			return nil
		}
		res, acq, err := g.acquire(c.barrier.handle, stats)
		if err != nil {
			return err
		}
		src := c.barrier.src
		if acq.Reused && src.IsUndefined() && !acq.Prior.IsUndefined() {
			src = acq.Prior.Discarded()
		}
		cb.ResourceBarrier([]rhi.Barrier{g.makeBarrier(c.barrier.handle, res, src, c.barrier.dst)})
		stats.Barriers++
	}
	return nil
}

func (g *RenderGraph) runPass(cb rhi.CommandBuffer, p *passNode, stats *ExecuteStats) error {
	batch := make([]rhi.Barrier, 0, len(p.barriers))
	for _, b := range p.barriers {
		res, acq, err := g.acquire(b.handle, stats)
		if err != nil {
			return fmt.Errorf("pass %q: %w", p.name, err)
		}
		src := b.src
		// reused memory may still be in use by the previous occupant
		if acq.Reused && (b.discard || src.IsUndefined()) && !acq.Prior.IsUndefined() {
			src = acq.Prior.Discarded()
		}
		batch = append(batch, g.makeBarrier(b.handle, res, src, b.dst))
	}
	for _, list := range [][]ResourceAccess{p.creates, p.writes, p.reads} {
		for _, a := range list {
			if _, _, err := g.acquire(a.Handle, stats); err != nil {
				return fmt.Errorf("pass %q: %w", p.name, err)
			}
		}
	}

	if len(batch) > 0 {
		cb.ResourceBarrier(batch)
		stats.Barriers += len(batch)
	}

	if g.env.DebugMarkers {
		colour := math.ColourGreen
		if p.isCompute {
			colour = math.ColourBlue
		}
		cb.BeginMarker(p.name, colour)
		stats.Markers++
	}
	if p.execute != nil {
		p.execute(&Context{graph: g, pass: p, cb: cb})
	}
	if g.env.DebugMarkers {
		cb.EndMarker()
	}
	return nil
}

// surrender hands back the allocations whose last use was recorded in p.
func (g *RenderGraph) surrender(p *passNode) {
	for _, h := range p.surrenders {
		n := g.resources[h]
		if n.extraction != nil {
			continue
		}
		if _, ok := g.physical[h]; !ok {
			continue
		}
		g.env.Pool.SurrenderResource(g.env.Frame, uint32(h), n.hash, n.finalState)
		delete(g.physical, h)
	}
}

func (g *RenderGraph) flushUploads() error {
	for _, u := range g.uploads {
		res, ok := g.physical[u.handle]
		if !ok {
			continue
		}
		ub := res.(rhi.UniformBuffer)
		if err := ub.Write(u.offset, u.data); err != nil {
			return fmt.Errorf("upload %s: %w", u.handle, err)
		}
	}
	return nil
}

func (g *RenderGraph) extract() {
	for _, e := range g.extractions {
		n := g.resources[e.Handle]
		res, ok := g.physical[e.Handle]
		if !ok {
			core.LogWarn("extraction of %s %q: resource was never allocated", e.Handle, n.name())
			continue
		}
		if n.pooled() {
			if _, _, ok := g.env.Pool.Detach(g.env.Frame, uint32(e.Handle)); !ok {
				core.LogWarn("extraction of %s %q: not bound in the pool", e.Handle, n.name())
			}
		}
		switch r := res.(type) {
		case rhi.Image:
			e.Image = r
		case rhi.Buffer:
			e.Buffer = r
		}
		e.FinalState = n.finalState
	}
}

// writeBack records the final state of resources that outlive the frame.
func (g *RenderGraph) writeBack() {
	for h, n := range g.resources {
		if !n.tracked || (!n.isExternal && n.extraction == nil) {
			continue
		}
		res, ok := g.physical[ResourceHandle(h)]
		if !ok {
			continue
		}
		g.env.Tracker.SetState(res, n.finalState)
	}
}

func (g *RenderGraph) finalize() {
	for idx := range g.bindImages {
		g.env.Bindless.UnregisterImageView(idx)
	}
	for idx := range g.bindBuffers {
		g.env.Bindless.UnregisterBuffer(idx)
	}
	g.bindImages = make(map[uint32]struct{})
	g.bindBuffers = make(map[uint32]struct{})

	g.env.Pool.EndFrame(g.env.Frame)

	g.uploads = nil
	for _, p := range g.passes {
		p.execute = nil
		p.data = nil
	}
	g.phase = phaseDone
}
