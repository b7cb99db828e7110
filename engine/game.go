package engine

import (
	"github.com/spaghettifunk/anima-framegraph/engine/renderer"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/graph"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine before FnInitialize runs.
	Renderer     *renderer.Context
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render declares the passes of one frame into g. The engine compiles and
// submits g once Render returns.
type Render func(g *graph.RenderGraph, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
