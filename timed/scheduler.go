package timed

import (
	"sync"
	"time"
)

// =============================================================================
// SCHEDULER - Recurring callback capability
// =============================================================================

// Scheduler fires fn every interval until the returned Handle is stopped.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Handle
}

// Handle cancels a recurring callback. Stop blocks until an in-flight
// callback returns; after Stop returns fn is never called again. Stop must
// not be called from inside fn.
type Handle interface {
	Stop()
}

// =============================================================================
// TICKER SCHEDULER - Production implementation
// =============================================================================

// TickerScheduler runs each job on its own goroutine driven by a time.Ticker.
// Slow callbacks drop ticks rather than queueing them.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) Handle {
	h := &tickerHandle{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run(fn)
	return h
}

type tickerHandle struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (h *tickerHandle) run(fn func()) {
	defer h.wg.Done()
	for {
		select {
		case <-h.ticker.C:
			fn()
		case <-h.stop:
			return
		}
	}
}

func (h *tickerHandle) Stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.stop)
	})
	h.wg.Wait()
}

// =============================================================================
// MANUAL SCHEDULER - Deterministic implementation for tests and simulations
// =============================================================================

// ManualScheduler only fires callbacks when told to.
type ManualScheduler struct {
	mu   sync.Mutex
	jobs []*manualJob
}

type manualJob struct {
	interval time.Duration
	elapsed  time.Duration
	fn       func()
	sched    *ManualScheduler

	// fireMu is held while fn runs so Stop can wait for it.
	fireMu  sync.Mutex
	stopped bool
}

func (j *manualJob) fire() {
	j.fireMu.Lock()
	defer j.fireMu.Unlock()
	if !j.stopped {
		j.fn()
	}
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (m *ManualScheduler) Every(interval time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &manualJob{interval: interval, fn: fn, sched: m}
	m.jobs = append(m.jobs, job)
	return job
}

// Tick fires every live job once.
func (m *ManualScheduler) Tick() {
	m.mu.Lock()
	due := make([]*manualJob, len(m.jobs))
	copy(due, m.jobs)
	m.mu.Unlock()

	for _, j := range due {
		j.fire()
	}
}

// Advance moves simulated time forward and fires each job once per full
// interval that elapsed, carrying the remainder to the next call.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	var due []*manualJob
	for _, j := range m.jobs {
		j.elapsed += d
		for j.elapsed >= j.interval {
			j.elapsed -= j.interval
			due = append(due, j)
		}
	}
	m.mu.Unlock()

	for _, j := range due {
		j.fire()
	}
}

// Len returns the number of live jobs.
func (m *ManualScheduler) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (j *manualJob) Stop() {
	m := j.sched
	m.mu.Lock()
	for i, other := range m.jobs {
		if other == j {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	j.fireMu.Lock()
	j.stopped = true
	j.fireMu.Unlock()
}
