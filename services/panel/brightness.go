package panel

import (
	"log"
	"math"
	"sync"
	"time"
)

// LuxSource provides the latest ambient light estimate.
type LuxSource interface {
	LatestLux() (float64, bool)
}

// Brightness reapplies an ambient light driven brightness level on a fixed
// cadence, skipping the command when the level is unchanged. While disabled
// the task keeps ticking but issues nothing.
type Brightness struct {
	dev      Commander
	source   LuxSource
	interval time.Duration
	min, max int
	stop     chan struct{}

	mu          sync.Mutex
	enabled     bool
	lastApplied int // -1 when unknown
}

func NewBrightness(dev Commander, source LuxSource, min, max int, interval time.Duration, enabled bool) *Brightness {
	return &Brightness{
		dev:         dev,
		source:      source,
		interval:    interval,
		min:         min,
		max:         max,
		enabled:     enabled,
		lastApplied: -1,
		stop:        make(chan struct{}),
	}
}

func (self *Brightness) Run() {
	ticker := time.NewTicker(self.interval)
	defer ticker.Stop()
	for {
		select {
		case <-self.stop:
			return
		case <-ticker.C:
			self.apply()
		}
	}
}

func (self *Brightness) apply() {
	self.mu.Lock()
	enabled := self.enabled
	last := self.lastApplied
	self.mu.Unlock()
	if !enabled {
		return
	}
	lux, ok := self.source.LatestLux()
	if !ok {
		return
	}
	target := self.Target(lux)
	if target == last {
		return
	}
	if err := self.dev.SetBrightness(target); err != nil {
		log.Println("Error setting brightness:", err)
		return
	}
	self.mu.Lock()
	self.lastApplied = target
	self.mu.Unlock()
}

// Target converts a lux estimate to a brightness level within the
// configured limits.
func (self *Brightness) Target(lux float64) int {
	return clamp(brightnessForLux(lux), self.min, self.max)
}

// SetEnabled toggles automatic brightness without tearing the task down.
func (self *Brightness) SetEnabled(enabled bool) {
	self.mu.Lock()
	self.enabled = enabled
	self.mu.Unlock()
}

func (self *Brightness) Enabled() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.enabled
}

// Invalidate forgets the last applied level, forcing a reapply on the next
// cycle. Called when the device link reconnects, as the device may have
// rebooted and lost the level.
func (self *Brightness) Invalidate() {
	self.mu.Lock()
	self.lastApplied = -1
	self.mu.Unlock()
}

func (self *Brightness) Stop() {
	close(self.stop)
}

// brightnessForLux maps ambient lux to a 0-255 brightness level, piecewise
// linear and weighted towards the dim end where the eye is most sensitive.
func brightnessForLux(lux float64) int {
	var level float64
	switch {
	case lux <= 0:
		level = 10
	case lux < 10:
		level = 10 + 2*lux
	case lux < 100:
		level = 30 + 0.78*(lux-10)
	case lux < 1000:
		level = 100 + 0.11*(lux-100)
	default:
		level = math.Min(255, 200+0.005*(lux-1000))
	}
	return int(math.Round(level))
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
