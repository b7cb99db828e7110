// Package graph implements the per-frame render graph: passes declare the
// virtual resources they create, write and read, the compiler culls unused
// work and synthesises the resource state transitions, and the execution
// engine records everything into a single command buffer.
package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/math"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/state"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/transient"
)

const DefaultMaxPassDataSize uintptr = 256

// Environment is what a graph borrows from the renderer for one frame.
// Device and Pool are required; a private tracker and bindless table are
// created when Tracker or Bindless are nil.
type Environment struct {
	Frame           uint64
	Device          rhi.Device
	Pool            *transient.System
	Tracker         rhi.StateTracker
	Bindless        rhi.BindlessManager
	MaxPassDataSize uintptr
	DebugMarkers    bool
}

type phase uint8

const (
	phaseDeclaring phase = iota
	phaseCompiled
	phaseExecuting
	phaseDone
)

type standaloneKind uint8

const (
	standaloneBarrier standaloneKind = iota
	standaloneBeginMarker
	standaloneEndMarker
)

// standaloneCommand is a barrier or marker attached to the slot before the
// pass with the same index; slot == len(passes) is the tail of the frame.
type standaloneCommand struct {
	kind    standaloneKind
	slot    int
	name    string
	colour  math.Vec4
	target  rhi.ResourceState
	barrier plannedBarrier
	dropped bool
}

type RenderGraph struct {
	id    uuid.UUID
	env   Environment
	phase phase

	resources  []*resourceNode
	passes     []*passNode
	standalone []standaloneCommand
	externals  map[uuid.UUID]ResourceHandle

	extractions []*Extraction
	physical    map[ResourceHandle]rhi.Resource
	uploads     []uniformUpload
	bindImages  map[uint32]struct{}
	bindBuffers map[uint32]struct{}

	compileStats CompileStats
}

func New(env Environment) *RenderGraph {
	core.Assertf(env.Device != nil, core.ErrUnknown, "render graph needs a device")
	core.Assertf(env.Pool != nil, core.ErrUnknown, "render graph needs a transient pool")
	if env.Tracker == nil {
		env.Tracker = state.NewTracker()
	}
	if env.Bindless == nil {
		env.Bindless = bindless.NewManager(bindless.DefaultCapacity)
	}
	if env.MaxPassDataSize == 0 {
		env.MaxPassDataSize = DefaultMaxPassDataSize
	}
	return &RenderGraph{
		id:          uuid.New(),
		env:         env,
		externals:   make(map[uuid.UUID]ResourceHandle),
		physical:    make(map[ResourceHandle]rhi.Resource),
		bindImages:  make(map[uint32]struct{}),
		bindBuffers: make(map[uint32]struct{}),
	}
}

func (g *RenderGraph) ID() uuid.UUID {
	return g.id
}

func (g *RenderGraph) Frame() uint64 {
	return g.env.Frame
}

func (g *RenderGraph) Compiled() bool {
	return g.phase >= phaseCompiled
}

func (g *RenderGraph) Executed() bool {
	return g.phase == phaseDone
}

func (g *RenderGraph) assertDeclaring() {
	core.Assertf(g.phase == phaseDeclaring, core.ErrDeclarationClosed, "graph %s", g.id)
}

func (g *RenderGraph) node(h ResourceHandle) *resourceNode {
	core.Assertf(int(h) < len(g.resources), core.ErrInvalidHandle, "handle %s, graph has %d resources", h, len(g.resources))
	return g.resources[h]
}

func (g *RenderGraph) addNode(n *resourceNode) ResourceHandle {
	n.creator = -1
	n.producer = -1
	n.firstUsage = -1
	n.lastUsage = -1
	h := ResourceHandle(len(g.resources))
	g.resources = append(g.resources, n)
	return h
}

func (g *RenderGraph) newImage(desc rhi.ImageDesc) *resourceNode {
	desc = desc.Normalized()
	if err := desc.Validate(); err != nil {
		core.Assertf(false, core.ErrInvalidDescriptor, "image %q: %s", desc.Name, err.Error())
	}
	return &resourceNode{kind: rhi.ResourceKindImage, image: desc, hash: desc.Hash()}
}

func (g *RenderGraph) newBuffer(desc rhi.BufferDesc) *resourceNode {
	if err := desc.Validate(); err != nil {
		core.Assertf(false, core.ErrInvalidDescriptor, "buffer %q: %s", desc.Name, err.Error())
	}
	return &resourceNode{kind: rhi.ResourceKindBuffer, buffer: desc, hash: desc.Hash()}
}

func (g *RenderGraph) newUniformBuffer(desc rhi.UniformBufferDesc) *resourceNode {
	if err := desc.Validate(); err != nil {
		core.Assertf(false, core.ErrInvalidDescriptor, "uniform buffer %q: %s", desc.Name, err.Error())
	}
	return &resourceNode{kind: rhi.ResourceKindUniformBuffer, uniform: desc, hash: desc.Hash()}
}

// CreateImage creates a global image that lives for the whole frame.
func (g *RenderGraph) CreateImage(desc rhi.ImageDesc) ResourceHandle {
	g.assertDeclaring()
	n := g.newImage(desc)
	n.isGlobal = true
	return g.addNode(n)
}

func (g *RenderGraph) CreateBuffer(desc rhi.BufferDesc) ResourceHandle {
	g.assertDeclaring()
	n := g.newBuffer(desc)
	n.isGlobal = true
	return g.addNode(n)
}

func (g *RenderGraph) CreateUniformBuffer(desc rhi.UniformBufferDesc) ResourceHandle {
	g.assertDeclaring()
	n := g.newUniformBuffer(desc)
	n.isGlobal = true
	return g.addNode(n)
}

// AddExternalImage imports an image owned outside the graph. Importing the
// same image again in this frame returns the first handle.
func (g *RenderGraph) AddExternalImage(img rhi.Image) ResourceHandle {
	g.assertDeclaring()
	if h, ok := g.externals[img.ID()]; ok {
		return h
	}
	desc := img.Desc().Normalized()
	n := &resourceNode{
		kind:       rhi.ResourceKindImage,
		image:      desc,
		hash:       desc.Hash(),
		isExternal: true,
		external:   img,
	}
	h := g.addNode(n)
	g.externals[img.ID()] = h
	g.physical[h] = img
	return h
}

// AddExternalBuffer is AddExternalImage for storage buffers.
func (g *RenderGraph) AddExternalBuffer(buf rhi.Buffer) ResourceHandle {
	g.assertDeclaring()
	if h, ok := g.externals[buf.ID()]; ok {
		return h
	}
	desc := buf.Desc()
	n := &resourceNode{
		kind:       rhi.ResourceKindBuffer,
		buffer:     desc,
		hash:       desc.Hash(),
		isExternal: true,
		external:   buf,
	}
	h := g.addNode(n)
	g.externals[buf.ID()] = h
	g.physical[h] = buf
	return h
}

// AddResourceBarrier transitions h to target between the passes added so
// far and the next one.
func (g *RenderGraph) AddResourceBarrier(h ResourceHandle, target rhi.ResourceState) {
	g.assertDeclaring()
	g.node(h)
	g.standalone = append(g.standalone, standaloneCommand{
		kind:    standaloneBarrier,
		slot:    len(g.passes),
		target:  target,
		barrier: plannedBarrier{handle: h},
	})
}

func (g *RenderGraph) BeginMarker(name string, colour math.Vec4) {
	g.assertDeclaring()
	g.standalone = append(g.standalone, standaloneCommand{
		kind:   standaloneBeginMarker,
		slot:   len(g.passes),
		name:   name,
		colour: colour,
	})
}

func (g *RenderGraph) EndMarker() {
	g.assertDeclaring()
	g.standalone = append(g.standalone, standaloneCommand{
		kind: standaloneEndMarker,
		slot: len(g.passes),
	})
}

// QueueImageExtraction keeps the image backing h alive past the frame. An
// extracted resource is consumed outside the graph, so its producer is never
// culled. The returned Extraction is filled in when Execute completes.
func (g *RenderGraph) QueueImageExtraction(h ResourceHandle) *Extraction {
	n := g.node(h)
	core.Assertf(n.isImage(), core.ErrInvalidHandle, "%s is not an image", h)
	return g.queueExtraction(h, n)
}

func (g *RenderGraph) QueueBufferExtraction(h ResourceHandle) *Extraction {
	n := g.node(h)
	core.Assertf(n.kind == rhi.ResourceKindBuffer, core.ErrInvalidHandle, "%s is not a storage buffer", h)
	return g.queueExtraction(h, n)
}

func (g *RenderGraph) queueExtraction(h ResourceHandle, n *resourceNode) *Extraction {
	g.assertDeclaring()
	if n.extraction != nil {
		return n.extraction
	}
	e := &Extraction{Handle: h, hash: n.hash, pooled: n.pooled(), frame: g.env.Frame}
	n.extraction = e
	g.extractions = append(g.extractions, e)
	return e
}

func (g *RenderGraph) ResourceCount() int {
	return len(g.resources)
}

func (g *RenderGraph) PassCount() int {
	return len(g.passes)
}

func (g *RenderGraph) Resource(h ResourceHandle) ResourceInfo {
	return g.node(h).info(h)
}

func (g *RenderGraph) Pass(index int) PassInfo {
	core.Assertf(index >= 0 && index < len(g.passes), core.ErrInvalidHandle, "pass %d", index)
	return g.passes[index].info()
}

// Dump describes the graph for debugging.
func (g *RenderGraph) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "render graph %s frame %d: %d passes, %d resources\n", g.id, g.env.Frame, len(g.passes), len(g.resources))
	for _, p := range g.passes {
		flags := ""
		if p.isCompute {
			flags += " compute"
		}
		if p.hasSideEffect {
			flags += " side-effect"
		}
		if p.isCulled {
			flags += " culled"
		}
		fmt.Fprintf(&sb, "  pass %d %q%s refs=%d barriers=%d\n", p.index, p.name, flags, p.refCount, len(p.barriers))
		for _, a := range p.creates {
			fmt.Fprintf(&sb, "    create %s %q\n", a.Handle, g.resources[a.Handle].name())
		}
		for _, a := range p.writes {
			fmt.Fprintf(&sb, "    write  %s %q %s\n", a.Handle, g.resources[a.Handle].name(), a.Forced)
		}
		for _, a := range p.reads {
			fmt.Fprintf(&sb, "    read   %s %q %s\n", a.Handle, g.resources[a.Handle].name(), a.Forced)
		}
	}
	for i, n := range g.resources {
		fmt.Fprintf(&sb, "  resource %s %q %s external=%t global=%t producer=%d usage=[%d,%d] refs=%d\n",
			ResourceHandle(i), n.name(), n.kind, n.isExternal, n.isGlobal, n.producer, n.firstUsage, n.lastUsage, n.refCount)
	}
	return sb.String()
}
