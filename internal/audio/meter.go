package audio

import (
	"context"
	"sync"
)

// Meter tracks the monotonically advancing "frames consumed by the
// segmenter" watermark used for cross-stage backpressure. The segment
// dispatcher advances it; the audio processor waits on it whenever the
// ring buffer has no head-room left.
type Meter struct {
	mu              sync.Mutex
	consumedSamples int64
	notify          chan struct{}
}

// NewMeter creates a Meter with its watermark at zero.
func NewMeter() *Meter {
	return &Meter{notify: make(chan struct{})}
}

// Advance moves the watermark forward to seconds (converted to samples at
// SampleRate) if that is further than the current value. Advancing never
// moves the watermark backward.
func (m *Meter) Advance(seconds float64) {
	s := int64(seconds * SampleRate)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s > m.consumedSamples {
		m.consumedSamples = s
		close(m.notify)
		m.notify = make(chan struct{})
	}
}

// ConsumedSamples returns the current watermark, in samples.
func (m *Meter) ConsumedSamples() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumedSamples
}

func (m *Meter) waitChan() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify
}

// WaitHeadroom blocks until capacity-(pushed-consumed) > 0, returning the
// resulting head-room in samples. It returns ctx.Err() if ctx is canceled
// first.
func (m *Meter) WaitHeadroom(ctx context.Context, pushed uint64, capacity int) (int, error) {
	for {
		consumed := m.ConsumedSamples()
		headroom := capacity - int(int64(pushed)-consumed)
		if headroom > 0 {
			return headroom, nil
		}
		ch := m.waitChan()
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
