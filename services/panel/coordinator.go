package panel

import (
	"fmt"
	"log"
	"sync"
	"time"
)

var Clock = func() time.Time {
	return time.Now()
}

type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Transition is a proximity edge reported by the monitor.
type Transition struct {
	Near bool
	At   time.Time
}

// ProximityReading is one proximity observation from either source.
type ProximityReading struct {
	Near   bool
	At     time.Time
	Source Source
	// IdleTimeout overrides the idle window when positive.
	IdleTimeout time.Duration
}

// LightReading is one ambient light observation.
type LightReading struct {
	Lux    float64
	At     time.Time
	Source Source
}

// Notifier is told of presence edges and wake notifications as they happen.
type Notifier interface {
	PresenceChanged(near bool)
	WakeNotify()
}

// Snapshot is a copy of the merged presence state.
type Snapshot struct {
	Near          bool
	ScreenOn      bool
	Lux           float64
	LastProximity time.Time
	LastLight     time.Time
	IdleDeadline  *time.Time
	IdleTimeout   time.Duration
}

const (
	taskIdleSleep  = "idle-sleep"
	taskWakeRetry  = "wake-retry"
	taskWakeResend = "wake-resend"
)

// Coordinator merges proximity and light observations from the local poll
// and the companion push path into one presence state, and drives the wake
// and sleep decisions against the device. Decisions are made under the
// lock, device commands are always issued outside it, and the outcome is
// committed back under the lock.
type Coordinator struct {
	dev      Commander
	notifier Notifier
	tasks    *Tasks
	resend   time.Duration

	mu            sync.RWMutex
	near          bool
	screenOn      bool
	idleDeadline  *time.Time
	idleTimeout   time.Duration
	lux           float64
	lastProximity time.Time
	lastLight     time.Time
	reconciled    bool
	waking        bool
	sleeping      bool
	resendSeq     int
}

func NewCoordinator(dev Commander, notifier Notifier, idleTimeout, resend time.Duration) *Coordinator {
	return &Coordinator{
		dev:      dev,
		notifier: notifier,
		tasks:    NewTasks(),
		resend:   resend,
		// assume occupied and lit until the first real observation, so a
		// restart in front of the panel does not blank it
		near:        true,
		screenOn:    true,
		idleTimeout: idleTimeout,
	}
}

// Transition feeds a poll edge in, implementing the monitor observer.
func (self *Coordinator) Transition(t Transition) {
	self.ObserveProximity(ProximityReading{Near: t.Near, At: t.At, Source: SourcePoll})
}

// ObserveStatus reconciles the optimistic startup assumption against the
// first real status read. Later reads are no new information.
func (self *Coordinator) ObserveStatus(st Status) {
	self.mu.Lock()
	if !self.reconciled {
		self.reconciled = true
		self.screenOn = st.ScreenOn
	}
	self.mu.Unlock()
}

// syncDeadline arms or clears the idle deadline, which runs exactly while
// the screen is on with nobody near. An armed deadline is left alone, a
// repeated depart must not extend it. mu must be held.
func (self *Coordinator) syncDeadline(now time.Time) {
	want := !self.near && self.screenOn
	if want && self.idleDeadline == nil {
		deadline := now.Add(self.idleTimeout)
		self.idleDeadline = &deadline
		self.tasks.Schedule(taskIdleSleep, self.idleTimeout, self.checkIdle)
	} else if !want && self.idleDeadline != nil {
		self.idleDeadline = nil
		self.tasks.Cancel(taskIdleSleep)
	}
}

// ObserveProximity merges one proximity observation. The observation with
// the latest timestamp wins, a laggard from the other source is dropped.
func (self *Coordinator) ObserveProximity(r ProximityReading) {
	now := Clock()
	self.mu.Lock()
	if r.At.Before(self.lastProximity) {
		self.mu.Unlock()
		return
	}
	self.lastProximity = r.At
	if r.IdleTimeout > 0 {
		self.idleTimeout = r.IdleTimeout
	}

	edge := r.Near != self.near
	self.near = r.Near
	self.syncDeadline(now)
	wake, sleep := false, false
	if r.Near {
		if !self.screenOn && !self.waking {
			self.waking = true
			wake = true
		}
	} else if self.dueToSleep(now) {
		self.sleeping = true
		sleep = true
	}
	self.mu.Unlock()

	if edge && self.notifier != nil {
		self.notifier.PresenceChanged(r.Near)
		if r.Near {
			self.notifyWake()
		}
	}
	if wake {
		if err := self.wakeScreen(); err != nil {
			log.Println("Error waking screen:", err)
			self.tasks.Schedule(taskWakeRetry, self.resend, self.checkWake)
		}
	}
	if sleep {
		self.sleepScreen()
	}
}

// ObserveLight merges one light observation, latest timestamp wins.
func (self *Coordinator) ObserveLight(r LightReading) {
	self.mu.Lock()
	if r.At.Before(self.lastLight) {
		self.mu.Unlock()
		return
	}
	self.lastLight = r.At
	self.lux = r.Lux
	self.mu.Unlock()
}

// dueToSleep reports whether the idle deadline has passed. mu must be held.
func (self *Coordinator) dueToSleep(now time.Time) bool {
	return self.idleDeadline != nil && !now.Before(*self.idleDeadline) &&
		self.screenOn && !self.sleeping
}

// checkIdle runs when the idle deadline falls due, sleeping the screen if
// the conditions still hold.
func (self *Coordinator) checkIdle() {
	now := Clock()
	self.mu.Lock()
	sleep := self.dueToSleep(now)
	if sleep {
		self.sleeping = true
	}
	self.mu.Unlock()
	if sleep {
		self.sleepScreen()
	}
}

// checkWake retries waking after a failed attempt, if still warranted.
func (self *Coordinator) checkWake() {
	self.mu.Lock()
	wake := self.near && !self.screenOn && !self.waking
	if wake {
		self.waking = true
	}
	self.mu.Unlock()
	if wake {
		if err := self.wakeScreen(); err != nil {
			log.Println("Error waking screen:", err)
			self.tasks.Schedule(taskWakeRetry, self.resend, self.checkWake)
		}
	}
}

// wakeScreen wakes the device. On failure the screen state is left as it
// was, so a later observation retries.
func (self *Coordinator) wakeScreen() error {
	err := self.dev.Wake()
	now := Clock()
	self.mu.Lock()
	self.waking = false
	if err == nil {
		self.screenOn = true
		self.syncDeadline(now)
	}
	self.mu.Unlock()
	return err
}

// sleepScreen sleeps the device. On failure the idle deadline stays armed
// and the attempt is repeated shortly.
func (self *Coordinator) sleepScreen() {
	err := self.dev.Sleep()
	now := Clock()
	self.mu.Lock()
	self.sleeping = false
	if err == nil {
		self.screenOn = false
		self.syncDeadline(now)
	}
	self.mu.Unlock()
	if err != nil {
		log.Println("Error sleeping screen:", err)
		self.tasks.Schedule(taskIdleSleep, self.resend, self.checkIdle)
	}
}

// notifyWake tells subscribers the screen is waking, and repeats the
// notification shortly after, as waking can drop the connection it was
// delivered on. Every wake keeps its own resend, rapid edges must not
// swallow a pending repeat.
func (self *Coordinator) notifyWake() {
	self.notifier.WakeNotify()
	self.mu.Lock()
	self.resendSeq++
	key := fmt.Sprintf("%s.%d", taskWakeResend, self.resendSeq)
	self.mu.Unlock()
	self.tasks.Schedule(key, self.resend, self.notifier.WakeNotify)
}

// ManualWake wakes the screen on request. When nobody is near the idle
// window restarts, so the screen stays on for a full timeout.
func (self *Coordinator) ManualWake() error {
	now := Clock()
	self.mu.Lock()
	if !self.near && self.screenOn {
		deadline := now.Add(self.idleTimeout)
		self.idleDeadline = &deadline
		self.tasks.Schedule(taskIdleSleep, self.idleTimeout, self.checkIdle)
	}
	wake := !self.screenOn && !self.waking
	if wake {
		self.waking = true
	}
	self.mu.Unlock()
	if !wake {
		return nil
	}
	return self.wakeScreen()
}

// ManualSleep sleeps the screen on request.
func (self *Coordinator) ManualSleep() error {
	self.mu.Lock()
	self.tasks.Cancel(taskWakeRetry)
	sleep := self.screenOn && !self.sleeping
	if sleep {
		self.sleeping = true
	}
	self.mu.Unlock()
	if !sleep {
		return nil
	}
	err := self.dev.Sleep()
	now := Clock()
	self.mu.Lock()
	self.sleeping = false
	if err == nil {
		self.screenOn = false
		self.syncDeadline(now)
	}
	self.mu.Unlock()
	return err
}

// LatestLux returns the most recent light estimate, false when none yet.
func (self *Coordinator) LatestLux() (float64, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.lux, !self.lastLight.IsZero()
}

// Snapshot returns a copy of the merged presence state.
func (self *Coordinator) Snapshot() Snapshot {
	self.mu.RLock()
	defer self.mu.RUnlock()
	s := Snapshot{
		Near:          self.near,
		ScreenOn:      self.screenOn,
		Lux:           self.lux,
		LastProximity: self.lastProximity,
		LastLight:     self.lastLight,
		IdleTimeout:   self.idleTimeout,
	}
	if self.idleDeadline != nil {
		deadline := *self.idleDeadline
		s.IdleDeadline = &deadline
	}
	return s
}

func (self *Coordinator) Stop() {
	self.tasks.Stop()
}
