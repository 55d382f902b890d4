// Service to drive a wall mounted panel. Wakes the screen when someone
// approaches, sleeps it once they have been away past the idle timeout, and
// matches the backlight to ambient light. Proximity and light come from two
// places, the local status poll and pushes from the companion app, merged
// into one view.
package panel

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
	"github.com/tanodd/hearth/util"
)

// Service panel
type Service struct {
	Publisher   pubsub.Publisher
	device      string
	dev         Commander
	link        *Link
	coordinator *Coordinator
	brightness  *Brightness
	monitor     *Monitor
}

func (self *Service) ID() string {
	return "panel"
}

// busNotifier puts presence edges and wake notifications on the bus, where
// the api service fans them out to dashboard clients.
type busNotifier struct {
	device    string
	publisher pubsub.Publisher
}

func (self *busNotifier) PresenceChanged(near bool) {
	command := "far"
	if near {
		command = "near"
	}
	fields := pubsub.Fields{
		"device":  self.device,
		"source":  "panel",
		"command": command,
	}
	ev := pubsub.NewEvent("panel", fields)
	ev.SetRetained(true)
	self.publisher.Emit(ev)
}

func (self *busNotifier) WakeNotify() {
	fields := pubsub.Fields{
		"device":  self.device,
		"source":  "panel",
		"command": "wake",
	}
	ev := pubsub.NewEvent("panel", fields)
	self.publisher.Emit(ev)
}

func (self *Service) Initialize(em pubsub.Publisher) {
	conf := services.Config.Panel
	self.Publisher = em
	self.device = conf.Device

	timeout := conf.Timeout.Or(5 * time.Second)
	health := conf.Health.Or(10 * time.Second)
	idle := conf.Idle_Timeout.Or(60 * time.Second)
	resend := conf.Resend.Or(2 * time.Second)
	poll := conf.Poll.Or(500 * time.Millisecond)
	interval := conf.Brightness.Interval.Or(5 * time.Second)
	min, max := conf.Brightness.Min, conf.Brightness.Max
	if max == 0 {
		min, max = 10, 255
	}
	auto := true
	if conf.Brightness.Auto != nil {
		auto = *conf.Brightness.Auto
	}

	var brightness *Brightness
	link := NewLink(conf.Address, timeout, health, func() {
		// the device may have rebooted and lost its level
		brightness.Invalidate()
	})
	notifier := &busNotifier{device: conf.Device, publisher: em}
	coordinator := NewCoordinator(link, notifier, idle, resend)
	brightness = NewBrightness(link, coordinator, min, max, interval, auto)

	self.link = link
	self.dev = link
	self.coordinator = coordinator
	self.brightness = brightness
	self.monitor = NewMonitor(link, coordinator, poll)
}

// Run the service
func (self *Service) Run() error {
	self.Initialize(services.Publisher)
	self.link.Start()
	go self.monitor.Run()
	go self.brightness.Run()

	if listen := services.Config.Panel.Listen; listen != "" {
		api := NewAPI(self.coordinator, self.link, self.brightness)
		go func() {
			log.Println("Panel api listening on", listen)
			if err := http.ListenAndServe(listen, api.Router()); err != nil {
				log.Fatalln("Panel api:", err)
			}
		}()
	}

	ticker := util.NewScheduler(time.Duration(0), time.Minute)
	events := services.Subscriber.Subscribe(pubsub.Prefix("command"))
	for {
		select {
		case ev := <-events:
			self.handleCommand(ev)
		case tick := <-ticker.C:
			self.heartbeat(tick)
		}
	}
}

func (self *Service) handleCommand(ev *pubsub.Event) {
	if ev.Device() != self.device {
		return // command not for us
	}
	command := ev.Command()
	switch command {
	case "on", "wake":
		if err := self.coordinator.ManualWake(); err != nil {
			log.Println("Error waking screen:", err)
			return
		}
	case "off", "sleep":
		if err := self.coordinator.ManualSleep(); err != nil {
			log.Println("Error sleeping screen:", err)
			return
		}
	case "brightness":
		level := int(ev.IntField("level"))
		if err := self.dev.SetBrightness(level); err != nil {
			log.Println("Error setting brightness:", err)
			return
		}
	default:
		log.Println("Command not recognised:", command)
		return
	}
	log.Printf("Setting device %s to %s\n", self.device, command)
	fields := pubsub.Fields{
		"device":  self.device,
		"command": command,
	}
	ack := pubsub.NewEvent("ack", fields)
	self.Publisher.Emit(ack)
}

// heartbeat emits the panel state for datalogging and the dashboard.
func (self *Service) heartbeat(now time.Time) {
	snapshot := self.coordinator.Snapshot()
	fields := pubsub.Fields{
		"device":    self.device,
		"source":    "panel",
		"near":      snapshot.Near,
		"screen":    snapshot.ScreenOn,
		"lux":       snapshot.Lux,
		"connected": self.link.Connected(),
	}
	ev := pubsub.NewEvent("panel", fields)
	ev.SetRetained(true)
	self.Publisher.Emit(ev)
}

func (self *Service) ShortStatus(now time.Time) string {
	snapshot := self.coordinator.Snapshot()
	presence := "far"
	if snapshot.Near {
		presence = "near"
	}
	screen := "off"
	if snapshot.ScreenOn {
		screen = "on"
	}
	msg := fmt.Sprintf("Panel: %s, screen %s", presence, screen)
	if snapshot.IdleDeadline != nil {
		msg += fmt.Sprintf(", sleeping in %s", util.ShortDuration(snapshot.IdleDeadline.Sub(now)))
	}
	if self.link != nil && !self.link.Connected() {
		msg += ", disconnected"
	}
	return msg
}

func (self *Service) Json(now time.Time) interface{} {
	snapshot := self.coordinator.Snapshot()
	data := stateFields(snapshot)
	data["screenOn"] = snapshot.ScreenOn
	if self.link != nil {
		data["connected"] = self.link.Connected()
	}
	return data
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status":     self.queryStatus,
		"wake":       services.TextHandler(self.queryWake),
		"sleep":      services.TextHandler(self.querySleep),
		"brightness": services.TextHandler(self.queryBrightness),
		"help": services.StaticHandler("" +
			"status: get status\n" +
			"wake: wake the screen\n" +
			"sleep: sleep the screen\n" +
			"brightness level: set brightness\n"),
	}
}

func (self *Service) queryStatus(q services.Question) services.Answer {
	now := Clock()
	return services.Answer{
		Text: self.ShortStatus(now),
		Json: self.Json(now),
	}
}

func (self *Service) queryWake(q services.Question) string {
	if err := self.coordinator.ManualWake(); err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return "woken"
}

func (self *Service) querySleep(q services.Question) string {
	if err := self.coordinator.ManualSleep(); err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return "slept"
}

func (self *Service) queryBrightness(q services.Question) string {
	level, err := strconv.Atoi(strings.TrimSpace(q.Args))
	if err != nil || level < 0 || level > 255 {
		return "usage: brightness <0-255>"
	}
	if err := self.dev.SetBrightness(level); err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("brightness set to %d", level)
}
