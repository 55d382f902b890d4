package panel

import (
	"time"
)

// Observer receives what the monitor learns from the device.
type Observer interface {
	Transition(t Transition)
	ObserveStatus(st Status)
}

// Monitor polls the device status, reporting proximity edges rather than
// raw readings. The first successful read counts as an edge from unknown.
type Monitor struct {
	dev      Commander
	observer Observer
	interval time.Duration
	near     bool
	known    bool
	stop     chan struct{}
}

func NewMonitor(dev Commander, observer Observer, interval time.Duration) *Monitor {
	return &Monitor{
		dev:      dev,
		observer: observer,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (self *Monitor) Run() {
	ticker := time.NewTicker(self.interval)
	defer ticker.Stop()
	for {
		select {
		case <-self.stop:
			return
		case <-ticker.C:
			self.poll()
		}
	}
}

// poll reads the status once. A failed read is no new information, the
// cycle is skipped and the last known state retained.
func (self *Monitor) poll() {
	st, err := self.dev.Status()
	if err != nil {
		return
	}
	self.observer.ObserveStatus(st)
	self.observe(st.Proximity)
}

func (self *Monitor) observe(near bool) {
	if self.known && near == self.near {
		return
	}
	self.near = near
	self.known = true
	self.observer.Transition(Transition{Near: near, At: Clock()})
}

func (self *Monitor) Stop() {
	close(self.stop)
}
