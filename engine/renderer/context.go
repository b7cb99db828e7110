// Package renderer owns everything a frame graph borrows while it runs: the
// device, the transient pool, the state tracker, the bindless tables, the
// render thread and the deferred deletion queue.
package renderer

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-framegraph/engine/config"
	"github.com/spaghettifunk/anima-framegraph/engine/containers"
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/graph"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/state"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/transient"
	"github.com/spaghettifunk/anima-framegraph/engine/systems"
)

const deletionQueueSize = 256

type pendingDeletion struct {
	res   rhi.Resource
	frame uint64
}

/**
 * @brief The renderer context. Construction order is tracker, bindless
 * tables, transient pool, render thread; Destroy tears down in reverse.
 */
type Context struct {
	device   rhi.Device
	tracker  *state.Tracker
	bindless *bindless.Manager
	pool     *transient.System
	executor *systems.JobSystem
	metrics  *core.Metrics
	bus      *core.EventBus

	mu        sync.Mutex
	cfg       config.Config
	frame     uint64
	executed  uint64
	deletions *containers.RingQueue[pendingDeletion]
	destroyed bool

	inFlight chan struct{}
}

/**
 * @brief Creates a renderer context around device.
 * @param device The RHI device. Owned by the caller.
 * @param cfg The configuration. Defaults are used when nil.
 * @param bus Optional event bus notified after every executed frame.
 */
func NewContext(device rhi.Device, cfg *config.Config, bus *core.EventBus) (*Context, error) {
	if device == nil {
		return nil, fmt.Errorf("renderer context needs a device")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Context{
		device:    device,
		tracker:   state.NewTracker(),
		bindless:  bindless.NewManager(cfg.Renderer.BindlessCapacity),
		metrics:   core.NewMetrics(),
		bus:       bus,
		cfg:       *cfg,
		deletions: containers.NewRingQueue[pendingDeletion](deletionQueueSize),
		inFlight:  make(chan struct{}, cfg.Renderer.FramesInFlight),
	}
	c.pool = transient.NewSystem(device, transient.WithDestroyer(c.deferDestroy))

	js, err := systems.NewJobSystem(1, cfg.Renderer.ExecutorQueueSize)
	if err != nil {
		return nil, err
	}
	c.executor = js
	core.LogInfo("renderer context created (%d frames in flight)", cfg.Renderer.FramesInFlight)
	return c, nil
}

func (c *Context) Device() rhi.Device {
	return c.device
}

func (c *Context) Tracker() *state.Tracker {
	return c.tracker
}

func (c *Context) Bindless() *bindless.Manager {
	return c.bindless
}

func (c *Context) Pool() *transient.System {
	return c.pool
}

func (c *Context) Metrics() *core.Metrics {
	return c.metrics
}

func (c *Context) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ApplyConfig takes the settings that can change at runtime. Frames in
// flight, queue size and bindless capacity are fixed at construction.
func (c *Context) ApplyConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Log = cfg.Log
	c.cfg.Graph = cfg.Graph
	c.cfg.Transient = cfg.Transient
}

// Frame returns the number of graphs created so far.
func (c *Context) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// LastExecutedFrame returns the most recent frame that finished on the
// render thread. Extractions of frames up to it are filled in.
func (c *Context) LastExecutedFrame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

// NewGraph starts the declaration of the next frame.
func (c *Context) NewGraph() *graph.RenderGraph {
	c.mu.Lock()
	core.Assertf(!c.destroyed, core.ErrExecutorClosed, "renderer context destroyed")
	c.frame++
	frame := c.frame
	cfg := c.cfg
	c.mu.Unlock()

	return graph.New(graph.Environment{
		Frame:           frame,
		Device:          c.device,
		Pool:            c.pool,
		Tracker:         c.tracker,
		Bindless:        c.bindless,
		MaxPassDataSize: uintptr(cfg.Graph.MaxPassDataSize),
		DebugMarkers:    cfg.Graph.DebugMarkers,
	})
}

// FrameTicket tracks a graph handed to the render thread.
type FrameTicket struct {
	frame uint64
	done  chan struct{}
	stats graph.ExecuteStats
	err   error
}

func (t *FrameTicket) Frame() uint64 {
	return t.frame
}

func (t *FrameTicket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the frame has executed.
func (t *FrameTicket) Wait() (graph.ExecuteStats, error) {
	<-t.done
	return t.stats, t.err
}

/**
 * @brief Compiles g if needed and moves it to the render thread. The caller
 * must not touch g afterwards. Blocks while the maximum number of frames is
 * already in flight.
 */
func (c *Context) Submit(g *graph.RenderGraph) (*FrameTicket, error) {
	c.mu.Lock()
	destroyed := c.destroyed
	maxIdle := c.cfg.Transient.MaxIdleFrames
	c.mu.Unlock()
	if destroyed {
		return nil, core.ErrExecutorClosed
	}

	if !g.Compiled() {
		g.Compile()
	}
	compiled := g.CompileStats()

	ticket := &FrameTicket{frame: g.Frame(), done: make(chan struct{})}
	c.inFlight <- struct{}{}

	clock := core.NewClock()
	err := c.executor.Submit(systems.JobTask{
		Name:    fmt.Sprintf("frame %d", ticket.frame),
		JobType: systems.JOB_TYPE_GPU_RESOURCE,
		OnStart: func() error {
			clock.Start()
			stats, err := g.Execute()
			clock.Stop()
			ticket.stats = stats
			return err
		},
		OnComplete: func() {
			c.metrics.Update(clock.Elapsed(), core.FrameCounters{
				Passes:      compiled.Passes,
				CulledPass:  compiled.Culled,
				Barriers:    ticket.stats.Barriers,
				Elided:      compiled.Elided,
				Allocations: ticket.stats.Allocations,
				Reuses:      ticket.stats.Reuses,
			})
			c.endFrame(ticket.frame, maxIdle)
			if c.bus != nil {
				c.bus.Fire(core.EVENT_CODE_FRAME_EXECUTED, c, core.EventContext{U64: [2]uint64{ticket.frame}})
			}
		},
		OnFailure: func(err error) {
			ticket.err = err
		},
		OnCompletionCallback: func() {
			<-c.inFlight
			close(ticket.done)
		},
	})
	if err != nil {
		<-c.inFlight
		return nil, err
	}
	return ticket, nil
}

// endFrame trims the pool and destroys resources no frame in flight can
// still reference. Runs on the render thread. executed moves first so that
// allocations trimmed here are stamped with this frame.
func (c *Context) endFrame(frame uint64, maxIdle uint64) {
	c.mu.Lock()
	c.executed = frame
	c.mu.Unlock()

	c.pool.Trim(frame, maxIdle)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushDeletions(frame)
}

func (c *Context) deferDestroy(res rhi.Resource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Forget(res)
	if err := c.deletions.Enqueue(pendingDeletion{res: res, frame: c.executed}); err != nil {
		// queue is full, the oldest entries are safe to go first
		c.flushDeletions(^uint64(0))
		return c.deletions.Enqueue(pendingDeletion{res: res, frame: c.executed})
	}
	return nil
}

// flushDeletions destroys entries queued at least FramesInFlight frames
// before frame. Callers hold c.mu.
func (c *Context) flushDeletions(frame uint64) {
	latency := uint64(c.cfg.Renderer.FramesInFlight)
	for !c.deletions.IsEmpty() {
		next, _ := c.deletions.Peek()
		if frame != ^uint64(0) && next.frame+latency > frame {
			return
		}
		_, _ = c.deletions.Dequeue()
		if err := next.res.Destroy(); err != nil {
			core.LogWarn("deferred destroy failed: %s", err.Error())
		}
	}
}

// PendingDeletions returns the number of resources waiting to be destroyed.
func (c *Context) PendingDeletions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletions.Len()
}

// ReleaseExtraction hands an extracted resource back. Pooled resources
// return to the transient pool; external ones are left alone.
func (c *Context) ReleaseExtraction(e *graph.Extraction) {
	res := e.Resource()
	if res == nil || !e.Pooled() {
		return
	}
	c.tracker.Forget(res)
	c.pool.Return(res, e.Hash(), e.Frame())
}

/**
 * @brief Destroys the context. Waits for queued frames, then releases every
 * pooled allocation.
 */
func (c *Context) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.mu.Unlock()

	if err := c.executor.Shutdown(); err != nil {
		return err
	}
	err := c.pool.Destroy()

	c.mu.Lock()
	c.flushDeletions(^uint64(0))
	c.mu.Unlock()

	images, buffers := c.bindless.Live()
	if images+buffers > 0 {
		core.LogWarn("renderer destroyed with %d image and %d buffer bindless registrations", images, buffers)
	}
	core.LogInfo("renderer context destroyed")
	return err
}
