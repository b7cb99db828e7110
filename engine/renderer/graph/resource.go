package graph

import (
	"fmt"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

// ResourceHandle is an index into the resource registry of one graph. It is
// never reused within a frame and is meaningless once the graph is gone.
type ResourceHandle uint32

const InvalidHandle ResourceHandle = ^ResourceHandle(0)

func (h ResourceHandle) String() string {
	if h == InvalidHandle {
		return "invalid"
	}
	return fmt.Sprintf("r%d", uint32(h))
}

// resourceNode is one virtual resource of the frame. Producer, usage and
// reference fields are indices into the pass registry, -1 when unset.
type resourceNode struct {
	kind    rhi.ResourceKind
	image   rhi.ImageDesc
	buffer  rhi.BufferDesc
	uniform rhi.UniformBufferDesc
	hash    uint64

	isExternal bool
	isGlobal   bool
	external   rhi.Resource

	creator  int
	producer int
	// passes that created or wrote the resource, in declaration order
	writers    []int
	firstUsage int
	lastUsage  int
	refCount   int
	visited    bool

	// state after the last recorded transition
	finalState rhi.ResourceState
	tracked    bool

	extraction *Extraction
}

func (n *resourceNode) name() string {
	switch n.kind {
	case rhi.ResourceKindImage:
		return n.image.Name
	case rhi.ResourceKindBuffer:
		return n.buffer.Name
	case rhi.ResourceKindUniformBuffer:
		return n.uniform.Name
	}
	return ""
}

func (n *resourceNode) isImage() bool {
	return n.kind == rhi.ResourceKindImage
}

// pooled reports whether the node is backed by the transient pool.
func (n *resourceNode) pooled() bool {
	return !n.isExternal
}

// ResourceInfo is a read-only snapshot of a resource node.
type ResourceInfo struct {
	Handle     ResourceHandle
	Name       string
	Kind       rhi.ResourceKind
	Hash       uint64
	IsExternal bool
	IsGlobal   bool
	Producer   int
	FirstUsage int
	LastUsage  int
	RefCount   int
}

func (n *resourceNode) info(h ResourceHandle) ResourceInfo {
	return ResourceInfo{
		Handle:     h,
		Name:       n.name(),
		Kind:       n.kind,
		Hash:       n.hash,
		IsExternal: n.isExternal,
		IsGlobal:   n.isGlobal,
		Producer:   n.producer,
		FirstUsage: n.firstUsage,
		LastUsage:  n.lastUsage,
		RefCount:   n.refCount,
	}
}

// Extraction receives the physical backing of a resource once the frame
// has executed. A pooled resource stays out of the pool until it is handed
// back with renderer.Context.ReleaseExtraction.
type Extraction struct {
	Handle ResourceHandle
	Image  rhi.Image
	Buffer rhi.Buffer
	// FinalState is the state the resource was left in by the frame.
	FinalState rhi.ResourceState

	hash   uint64
	pooled bool
	frame  uint64
}

// Resource returns whichever physical resource was extracted, nil when
// the resource was never allocated.
func (e *Extraction) Resource() rhi.Resource {
	if e.Image != nil {
		return e.Image
	}
	if e.Buffer != nil {
		return e.Buffer
	}
	return nil
}

// Pooled reports whether the resource came from the transient pool and
// should be returned to it.
func (e *Extraction) Pooled() bool {
	return e.pooled
}

func (e *Extraction) Hash() uint64 {
	return e.hash
}

func (e *Extraction) Frame() uint64 {
	return e.frame
}
