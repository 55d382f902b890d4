package panel

import (
	"sync"
	"time"
)

// Tasks runs named deferred functions, keeping at most one pending per key.
// Scheduling a key again supersedes whatever was pending under it.
type Tasks struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewTasks() *Tasks {
	return &Tasks{timers: map[string]*time.Timer{}}
}

// Schedule runs f after d, cancelling any pending task under the same key.
func (self *Tasks) Schedule(key string, d time.Duration, f func()) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.stopped {
		return
	}
	if old, ok := self.timers[key]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		self.mu.Lock()
		// a fired timer may have been superseded while waiting on the lock
		current := self.timers[key] == timer && !self.stopped
		if current {
			delete(self.timers, key)
		}
		self.mu.Unlock()
		if current {
			f()
		}
	})
	self.timers[key] = timer
}

// Cancel drops any pending task under key.
func (self *Tasks) Cancel(key string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if timer, ok := self.timers[key]; ok {
		timer.Stop()
		delete(self.timers, key)
	}
}

// Stop cancels everything pending. The scheduler is finished afterwards.
func (self *Tasks) Stop() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.stopped = true
	for key, timer := range self.timers {
		timer.Stop()
		delete(self.timers, key)
	}
}
