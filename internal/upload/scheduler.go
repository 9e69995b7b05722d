package upload

import (
	"sync"
	"time"
)

// retryScheduler owns the backoff timers of queued records. At most one timer
// is armed per record id, and an id is busy while its callback runs so sweeps
// leave it alone.
type retryScheduler struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
	busy   map[int64]int
	closed bool
	wg     sync.WaitGroup
}

func newRetryScheduler() *retryScheduler {
	return &retryScheduler{
		timers: make(map[int64]*time.Timer),
		busy:   make(map[int64]int),
	}
}

// Schedule arms fn to run for id after delay. It returns false when a timer is
// already armed for id or the scheduler is closed.
func (s *retryScheduler) Schedule(id int64, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, armed := s.timers[id]; armed {
		return false
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || s.timers[id] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.busy[id]++
		s.wg.Add(1)
		s.mu.Unlock()

		defer func() {
			s.release(id)
			s.wg.Done()
		}()
		fn()
	})
	s.timers[id] = timer
	return true
}

// Cancel disarms the timer for id, if any.
func (s *retryScheduler) Cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// begin claims id for an attempt outside the scheduler. It fails while a
// timer is armed or a callback for id is running.
func (s *retryScheduler) begin(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, armed := s.timers[id]; armed {
		return false
	}
	if s.busy[id] > 0 {
		return false
	}
	s.busy[id]++
	return true
}

func (s *retryScheduler) end(id int64) {
	s.release(id)
}

func (s *retryScheduler) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[id] <= 1 {
		delete(s.busy, id)
		return
	}
	s.busy[id]--
}

// Armed reports whether a timer is pending for id.
func (s *retryScheduler) Armed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Len returns the number of armed timers.
func (s *retryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close disarms every timer and waits for running callbacks.
func (s *retryScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
