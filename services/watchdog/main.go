// Package watchdog monitors devices to ensure they are still alive and
// emitting events. It watches a given list of device ids and sends an alert
// if an event has not been seen from a device in a configurable time period.
//
// Service heartbeats are monitored automatically, and hosts listed under
// pings are probed by ICMP echo, feeding their own recency entries.
package watchdog

import (
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
	"github.com/tanodd/hearth/util"
	"github.com/tatsushid/go-fastping"
)

const repeatInterval = 12 * time.Hour
const pingInterval = 20 * time.Second
const pingTimeout = 5 * time.Minute

type WatchdogDevice struct {
	Name        string
	Timeout     time.Duration
	Alerted     bool
	LastAlerted time.Time
	LastEvent   time.Time
}

type WatchdogDevices []*WatchdogDevice

func (self WatchdogDevices) Less(i, j int) bool {
	return self[i].LastEvent.Before(self[j].LastEvent)
}

func (self WatchdogDevices) Len() int {
	return len(self)
}

func (self WatchdogDevices) Swap(i, j int) {
	self[i], self[j] = self[j], self[i]
}

// Service watchdog
type Service struct {
	devices map[string]*WatchdogDevice
}

func (self *Service) ID() string {
	return "watchdog"
}

func deviceName(device string) string {
	if dev, ok := services.Config.Devices[device]; ok && dev.Name != "" {
		return dev.Name
	}
	return device
}

func (self *Service) sendAlert(name, state string, since time.Time) {
	log.Printf("Sending %s watchdog alert for: %s", state, name)
	ago := util.ShortDuration(time.Since(since))
	message := fmt.Sprintf("%s: %s since %s (%s ago)", state, name, since.Local().Format(time.Stamp), ago)
	target := services.Config.Watchdog.Alert
	if target == "" {
		return
	}
	services.SendAlert(message, target, "", 0)
}

func (self *Service) checkEvent(ev *pubsub.Event) {
	device := ev.Device()
	if device == "" {
		device = services.Config.LookupDeviceName(ev)
	}
	w := self.devices[device]
	if w == nil {
		if ev.Topic == "heartbeat" {
			// auto-monitor service heartbeats. Two missed is a problem
			self.devices[device] = &WatchdogDevice{
				Name:      fmt.Sprintf("Process %s", strings.TrimPrefix(device, "heartbeat.")),
				Timeout:   time.Second * 121,
				LastEvent: ev.Timestamp,
			}
		}
		return
	}

	// recovered?
	if w.Alerted {
		w.Alerted = false
		self.sendAlert(w.Name, "RECOVERED", w.LastEvent)
	}
	w.LastEvent = ev.Timestamp
}

func (self *Service) checkTimeouts() {
	timeouts := []string{}
	var lastEvent time.Time
	for _, w := range self.devices {
		if w.Alerted {
			// check if should repeat
			if time.Since(w.LastAlerted) > repeatInterval {
				timeouts = append(timeouts, w.Name)
				lastEvent = w.LastEvent
				w.LastAlerted = time.Now()
			}
		} else if time.Since(w.LastEvent) > w.Timeout {
			// first alert
			timeouts = append(timeouts, w.Name)
			lastEvent = w.LastEvent
			w.Alerted = true
			w.LastAlerted = time.Now()
		}
	}

	// send a single alert for multiple devices
	if len(timeouts) > 0 {
		self.sendAlert(strings.Join(timeouts, ", "), "PROBLEM", lastEvent)
	}
}

// ping probes the configured hosts, emitting an event for each response. The
// events route back through the bus to touch the ping entries.
func (self *Service) ping() {
	lookup := map[string]string{}
	pinger := fastping.NewPinger()
	for _, host := range services.Config.Watchdog.Pings {
		addr, err := net.ResolveIPAddr("ip4:icmp", host)
		if err != nil {
			log.Printf("Failed to resolve %s, not pinging: %s", host, err)
			continue
		}
		lookup[addr.String()] = "ping." + host
		pinger.AddIPAddr(addr)
	}
	if len(lookup) == 0 {
		return
	}
	pinger.MaxRTT = pingInterval
	pinger.OnRecv = func(addr *net.IPAddr, rtt time.Duration) {
		fields := pubsub.Fields{
			"device": lookup[addr.String()],
			"tdiff":  rtt.Seconds(),
		}
		services.Publisher.Emit(pubsub.NewEvent("ping", fields))
	}
	pinger.RunLoop()
}

func (self *Service) Run() error {
	self.devices = map[string]*WatchdogDevice{}
	now := time.Now()
	for device, timeout := range services.Config.Watchdog.Devices {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			log.Printf("Failed to parse timeout %s for %s", timeout, device)
			continue
		}
		// grace period for the first event
		self.devices[device] = &WatchdogDevice{
			Name:      deviceName(device),
			Timeout:   duration,
			LastEvent: now,
		}
	}
	for _, host := range services.Config.Watchdog.Pings {
		self.devices["ping."+host] = &WatchdogDevice{
			Name:      fmt.Sprintf("Ping %s", host),
			Timeout:   pingTimeout,
			LastEvent: now,
		}
	}

	go self.ping()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	events := services.Subscriber.Subscribe(pubsub.All())
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			self.checkEvent(ev)
		case <-ticker.C:
			self.checkTimeouts()
		}
	}
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: get status\n"),
	}
}

func (self *Service) queryStatus(q services.Question) string {
	var out string
	var list WatchdogDevices
	for _, device := range self.devices {
		list = append(list, device)
	}
	// return oldest last
	sort.Sort(sort.Reverse(list))

	now := time.Now()
	for _, w := range list {
		problem := ""
		if w.Alerted {
			problem = "PROBLEM"
		}
		ago := util.ShortDuration(now.Sub(w.LastEvent))
		out += fmt.Sprintf("- %-6s %s %s\n", ago, w.Name, problem)
	}
	return out
}
