package core

import "sync"

const AVG_COUNT uint8 = 30

// FrameCounters are the per-frame numbers reported by the render graph.
type FrameCounters struct {
	Passes      int
	CulledPass  int
	Barriers    int
	Elided      int
	Allocations int
	Reuses      int
}

type Metrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	last  FrameCounters
	total FrameCounters
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Update records a finished frame. frameElapsedTime is in seconds.
func (m *Metrics) Update(frameElapsedTime float64, counters FrameCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++

	m.last = counters
	m.total.Passes += counters.Passes
	m.total.CulledPass += counters.CulledPass
	m.total.Barriers += counters.Barriers
	m.total.Elided += counters.Elided
	m.total.Allocations += counters.Allocations
	m.total.Reuses += counters.Reuses
}

func (m *Metrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

// Last returns the counters of the most recent frame.
func (m *Metrics) Last() FrameCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Total returns the counters accumulated since creation.
func (m *Metrics) Total() FrameCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
