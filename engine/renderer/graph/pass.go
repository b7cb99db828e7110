package graph

import (
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

// ResourceAccess pairs a handle with an optional forced state.
type ResourceAccess struct {
	Handle ResourceHandle
	Forced rhi.ForcedState
}

type passNode struct {
	index int
	name  string

	creates []ResourceAccess
	writes  []ResourceAccess
	reads   []ResourceAccess

	isCompute     bool
	hasSideEffect bool
	isCulled      bool
	refCount      int

	execute func(*Context)
	data    interface{}

	// barriers synthesised by the compiler, replayed before the pass
	barriers []plannedBarrier
	// resources whose last usage is this slot
	surrenders []ResourceHandle
}

type plannedBarrier struct {
	handle  ResourceHandle
	src     rhi.ResourceState
	dst     rhi.ResourceState
	discard bool
}

func (p *passNode) declares(h ResourceHandle) bool {
	for _, list := range [][]ResourceAccess{p.creates, p.writes, p.reads} {
		for _, a := range list {
			if a.Handle == h {
				return true
			}
		}
	}
	return false
}

func (p *passNode) created(h ResourceHandle) bool {
	for _, a := range p.creates {
		if a.Handle == h {
			return true
		}
	}
	return false
}

// outputs counts the distinct resources p creates or writes.
func (p *passNode) outputs() int {
	seen := make(map[ResourceHandle]struct{}, len(p.creates)+len(p.writes))
	for _, list := range [][]ResourceAccess{p.creates, p.writes} {
		for _, a := range list {
			seen[a.Handle] = struct{}{}
		}
	}
	return len(seen)
}

// PassInfo is a read-only snapshot of a pass node.
type PassInfo struct {
	Index         int
	Name          string
	Creates       []ResourceAccess
	Writes        []ResourceAccess
	Reads         []ResourceAccess
	IsCompute     bool
	HasSideEffect bool
	IsCulled      bool
	RefCount      int
	Barriers      int
}

func (p *passNode) info() PassInfo {
	return PassInfo{
		Index:         p.index,
		Name:          p.name,
		Creates:       append([]ResourceAccess(nil), p.creates...),
		Writes:        append([]ResourceAccess(nil), p.writes...),
		Reads:         append([]ResourceAccess(nil), p.reads...),
		IsCompute:     p.isCompute,
		HasSideEffect: p.hasSideEffect,
		IsCulled:      p.isCulled,
		RefCount:      p.refCount,
		Barriers:      len(p.barriers),
	}
}
