package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-framegraph/engine/config"
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool

	bus           *core.EventBus
	watcher       *config.Watcher
	renderer      *renderer.Context
	releaseDevice func()

	clock    *core.Clock
	lastTime float64

	// Submitted frames not yet waited on, oldest first.
	pending []*renderer.FrameTicket
	// First frame error seen by drainFrames.
	frameErr error
}

/**
 * @brief Boots the engine: loads the configuration, creates the device and
 * the renderer context. The game's callbacks run later, in Initialize.
 */
func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("engine needs a game with an application config")
	}
	if g.FnRender == nil {
		return nil, fmt.Errorf("game %q has no render function", g.ApplicationConfig.Name)
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		bus:          core.NewEventBus(),
		clock:        core.NewClock(),
	}

	cfg := config.Default()
	if path := g.ApplicationConfig.ConfigPath; path != "" {
		w, err := config.NewWatcher(path, e.bus)
		if err != nil {
			return nil, err
		}
		e.watcher = w
		loaded := *w.Current()
		cfg = &loaded
	}
	if g.ApplicationConfig.Name != "" {
		cfg.Renderer.ApplicationName = g.ApplicationConfig.Name
	}
	core.SetLogLevel(cfg.Log.Level)

	device, release, err := renderer.NewDevice(cfg.Renderer, cfg.Graph.DebugMarkers)
	if err != nil {
		e.closeWatcher()
		return nil, err
	}
	ctx, err := renderer.NewContext(device, cfg, e.bus)
	if err != nil {
		release()
		e.closeWatcher()
		return nil, err
	}
	e.renderer = ctx
	e.releaseDevice = release
	g.Renderer = ctx

	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Initialize() error {
	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_CONFIG_RELOADED, e, e.onEvent)

	g := e.gameInstance
	if g.FnInitialize != nil {
		if err := g.FnInitialize(); err != nil {
			return err
		}
	}
	if g.FnOnResize != nil {
		if err := g.FnOnResize(g.ApplicationConfig.Width, g.ApplicationConfig.Height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until Quit is called, MaxFrames is reached or a
// frame fails.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine run before initialization")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	app := e.gameInstance.ApplicationConfig
	var targetFrameSeconds float64
	if app.TargetFPS > 0 {
		targetFrameSeconds = 1.0 / app.TargetFPS
	}

	var frames uint64
	for e.isRunning.Load() {
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.frame(delta); err != nil {
			core.LogError("frame failed, shutting down: %s", err.Error())
			e.isRunning.Store(false)
			e.waitFrames()
			return err
		}
		frames++
		if app.MaxFrames > 0 && frames >= app.MaxFrames {
			e.isRunning.Store(false)
		}

		e.clock.Update()
		if remaining := targetFrameSeconds - (e.clock.Elapsed() - currentTime); remaining > 0 {
			time.Sleep(time.Duration(remaining * float64(time.Second)))
		}
		e.lastTime = currentTime
	}

	e.waitFrames()
	if e.frameErr != nil {
		return e.frameErr
	}
	m := e.renderer.Metrics()
	total := m.Total()
	core.LogInfo("ran %d frames: %d passes (%d culled), %d barriers (%d elided), %d allocations, %d reuses, %.2fms avg",
		frames, total.Passes, total.CulledPass, total.Barriers, total.Elided, total.Allocations, total.Reuses, m.FrameTime())
	return nil
}

func (e *Engine) frame(delta float64) error {
	g := e.gameInstance
	if g.FnUpdate != nil {
		if err := g.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	rg := e.renderer.NewGraph()
	if err := g.FnRender(rg, delta); err != nil {
		return fmt.Errorf("game render: %w", err)
	}
	ticket, err := e.renderer.Submit(rg)
	if err != nil {
		return err
	}
	e.pending = append(e.pending, ticket)
	return e.drainFrames()
}

// drainFrames drops completed tickets and reports the first failed frame.
func (e *Engine) drainFrames() error {
	kept := e.pending[:0]
	for _, t := range e.pending {
		select {
		case <-t.Done():
			if _, err := t.Wait(); err != nil && e.frameErr == nil {
				e.frameErr = fmt.Errorf("frame %d: %w", t.Frame(), err)
			}
		default:
			kept = append(kept, t)
		}
	}
	e.pending = kept
	return e.frameErr
}

func (e *Engine) waitFrames() {
	for _, t := range e.pending {
		if _, err := t.Wait(); err != nil && e.frameErr == nil {
			e.frameErr = fmt.Errorf("frame %d: %w", t.Frame(), err)
		}
	}
	e.pending = nil
}

// Quit asks the frame loop to stop after the current frame. Safe to call
// from any goroutine.
func (e *Engine) Quit() {
	e.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

// Bus returns the engine event bus.
func (e *Engine) Bus() *core.EventBus {
	return e.bus
}

func (e *Engine) Renderer() *renderer.Context {
	return e.renderer
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)
	e.waitFrames()

	if fn := e.gameInstance.FnShutdown; fn != nil {
		if err := fn(); err != nil {
			core.LogError("game shutdown: %s", err.Error())
		}
	}
	e.closeWatcher()
	err := e.renderer.Destroy()
	e.releaseDevice()
	if shutdownErr := e.bus.Shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

func (e *Engine) closeWatcher() {
	if e.watcher == nil {
		return
	}
	if err := e.watcher.Close(); err != nil {
		core.LogWarn("closing config watcher: %s", err.Error())
	}
	e.watcher = nil
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	case core.EVENT_CODE_CONFIG_RELOADED:
		if cfg, ok := data.Payload.(*config.Config); ok {
			e.renderer.ApplyConfig(cfg)
			core.LogInfo("configuration reloaded")
		}
	}
	return false
}
