package graph

import (
	"unsafe"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

// Builder declares the resources of the pass it is bound to. It is only
// valid inside the declare callback of AddPass.
type Builder struct {
	graph *RenderGraph
	pass  *passNode
}

func (b *Builder) assertOpen() {
	core.Assertf(b.pass != nil, core.ErrDeclarationClosed, "builder used outside its declare callback")
	b.graph.assertDeclaring()
}

func (b *Builder) create(n *resourceNode) ResourceHandle {
	h := b.graph.addNode(n)
	n.creator = b.pass.index
	n.producer = b.pass.index
	n.writers = append(n.writers, b.pass.index)
	b.pass.creates = append(b.pass.creates, ResourceAccess{Handle: h})
	return h
}

/**
 * @brief Creates a transient image owned by the current pass.
 * @param desc The image description. Zero extents or an undefined format are fatal.
 * @return The handle of the new resource.
 */
func (b *Builder) CreateImage(desc rhi.ImageDesc) ResourceHandle {
	b.assertOpen()
	return b.create(b.graph.newImage(desc))
}

/**
 * @brief Creates a transient storage buffer owned by the current pass.
 * @param desc The buffer description. Zero element size or count is fatal.
 * @return The handle of the new resource.
 */
func (b *Builder) CreateBuffer(desc rhi.BufferDesc) ResourceHandle {
	b.assertOpen()
	return b.create(b.graph.newBuffer(desc))
}

func (b *Builder) CreateUniformBuffer(desc rhi.UniformBufferDesc) ResourceHandle {
	b.assertOpen()
	return b.create(b.graph.newUniformBuffer(desc))
}

func (b *Builder) AddExternalImage(img rhi.Image) ResourceHandle {
	b.assertOpen()
	return b.graph.AddExternalImage(img)
}

func (b *Builder) AddExternalBuffer(buf rhi.Buffer) ResourceHandle {
	b.assertOpen()
	return b.graph.AddExternalBuffer(buf)
}

func forced(states []rhi.ForcedState) rhi.ForcedState {
	if len(states) == 0 {
		return rhi.ForcedStateNone
	}
	return states[0]
}

// ReadResource declares that the pass reads h, optionally in a forced state.
func (b *Builder) ReadResource(h ResourceHandle, state ...rhi.ForcedState) *Builder {
	b.assertOpen()
	b.graph.node(h)
	b.pass.reads = append(b.pass.reads, ResourceAccess{Handle: h, Forced: forced(state)})
	return b
}

// WriteResource declares that the pass writes h. The pass becomes the
// resource's producer. Writing a resource the pass created is a no-op.
func (b *Builder) WriteResource(h ResourceHandle, state ...rhi.ForcedState) *Builder {
	b.assertOpen()
	n := b.graph.node(h)
	if b.pass.created(h) {
		return b
	}
	if n.producer != b.pass.index {
		n.writers = append(n.writers, b.pass.index)
	}
	n.producer = b.pass.index
	b.pass.writes = append(b.pass.writes, ResourceAccess{Handle: h, Forced: forced(state)})
	return b
}

func (b *Builder) SetIsComputePass() *Builder {
	b.assertOpen()
	b.pass.isCompute = true
	return b
}

// SetHasSideEffect keeps the pass alive even if nothing reads its outputs.
func (b *Builder) SetHasSideEffect() *Builder {
	b.assertOpen()
	b.pass.hasSideEffect = true
	return b
}

func (g *RenderGraph) newPass(name string) (*passNode, *Builder) {
	g.assertDeclaring()
	p := &passNode{index: len(g.passes), name: name}
	g.passes = append(g.passes, p)
	return p, &Builder{graph: g, pass: p}
}

/**
 * @brief Adds a pass to the graph.
 * @param name The debug name, also used for the pass marker.
 * @param declare Called immediately with a builder bound to the new pass.
 * @param execute Stored and invoked by Execute with a live context.
 * @return The index of the pass.
 */
func (g *RenderGraph) AddPass(name string, declare func(*Builder), execute func(*Context)) int {
	p, b := g.newPass(name)
	if declare != nil {
		declare(b)
	}
	b.pass = nil
	p.execute = execute
	return p.index
}

// AddPassWithData adds a pass carrying a value of type T. The value is
// filled in by declare and handed to execute. Types larger than the
// graph's pass data capacity are fatal.
func AddPassWithData[T any](g *RenderGraph, name string, declare func(*Builder, *T), execute func(*Context, *T)) int {
	data := new(T)
	size := unsafe.Sizeof(*data)
	core.Assertf(size <= g.env.MaxPassDataSize, core.ErrPassDataTooLarge, "pass %q carries %d bytes, limit is %d", name, size, g.env.MaxPassDataSize)

	p, b := g.newPass(name)
	p.data = data
	if declare != nil {
		declare(b, data)
	}
	b.pass = nil
	if execute != nil {
		p.execute = func(ctx *Context) {
			execute(ctx, data)
		}
	}
	return p.index
}
