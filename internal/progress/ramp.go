// Package progress produces progress values for engines that report none.
package progress

import (
	"sync"
	"time"
)

const (
	DefaultStep     = 5
	DefaultInterval = 200 * time.Millisecond
	DefaultCeiling  = 95
)

// Reporter drives progress for one session. Start begins emitting values
// through report and returns a stop function; stop is idempotent and returns
// without waiting for an in-flight report call.
type Reporter interface {
	Start(report func(percent int)) (stop func())
}

// Ramp advances by Step every Interval and holds at Ceiling until stopped.
type Ramp struct {
	Step     int
	Interval time.Duration
	Ceiling  int
}

func NewRamp(step int, interval time.Duration, ceiling int) *Ramp {
	if step <= 0 {
		step = DefaultStep
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ceiling <= 0 || ceiling >= 100 {
		ceiling = DefaultCeiling
	}
	return &Ramp{Step: step, Interval: interval, Ceiling: ceiling}
}

func (r *Ramp) Start(report func(percent int)) func() {
	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopCh) }) }

	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()

		current := 0
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
			}

			// stop may race with the tick; prefer stop.
			select {
			case <-stopCh:
				return
			default:
			}

			current += r.Step
			if current >= r.Ceiling {
				report(r.Ceiling)
				return
			}
			report(current)
		}
	}()

	return stop
}

// Manual is a Reporter driven by the caller. Tests use it to push exact
// values; an engine with real progress can feed it as well.
type Manual struct {
	mu      sync.Mutex
	report  func(int)
	stopped bool
	starts  int
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Start(report func(percent int)) func() {
	m.mu.Lock()
	m.report = report
	m.stopped = false
	m.starts++
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
	}
}

// Push delivers percent to the most recently started session. It reports
// false once that session has been stopped.
func (m *Manual) Push(percent int) bool {
	m.mu.Lock()
	report, stopped := m.report, m.stopped
	m.mu.Unlock()
	if report == nil || stopped {
		return false
	}
	report(percent)
	return true
}

// PushStale delivers percent even after stop, simulating a tick that was
// already in flight when the session resolved.
func (m *Manual) PushStale(percent int) {
	m.mu.Lock()
	report := m.report
	m.mu.Unlock()
	if report != nil {
		report(percent)
	}
}

func (m *Manual) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *Manual) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}
