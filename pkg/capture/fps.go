package capture

import (
	"sync"
	"time"
)

const fpsWindow = 30

// FPSMeter reports the capture rate observed over the last 30 captures.
type FPSMeter struct {
	mu    sync.Mutex
	times [fpsWindow]time.Time
	next  int
	count int
}

func (m *FPSMeter) Observe(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[m.next] = t
	m.next = (m.next + 1) % fpsWindow
	if m.count < fpsWindow {
		m.count++
	}
}

func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count < 2 {
		return 0
	}
	oldest := (m.next - m.count + fpsWindow) % fpsWindow
	newest := (m.next - 1 + fpsWindow) % fpsWindow
	span := m.times[newest].Sub(m.times[oldest]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(m.count-1) / span
}
