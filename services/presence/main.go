// Package presence tracks who is home by watching for their phones on the
// network.
//
// People are detected passively, by sniffing traffic from a known MAC, and
// actively, by ICMP ping probes. A configured trigger device, typically the
// front door sensor, prompts an immediate round of probes so comings and
// goings show up quickly.
package presence

import (
	"bufio"
	"io"
	"log"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
	"github.com/tatsushid/go-fastping"
)

const interval = 30 * time.Second

// Service presence
type Service struct {
}

func (self *Service) ID() string {
	return "presence"
}

func emit(device string, state bool) {
	command := "off"
	if state {
		command = "on"
	}
	fields := pubsub.Fields{
		"device":  device,
		"command": command,
	}
	ev := pubsub.NewEvent("presence", fields)
	services.Publisher.Emit(ev)
}

// A Checker looks for signs of life from a person's device. Passive checkers
// feed the alive channel of their own accord, active ones probe on Ping.
type Checker interface {
	Start(alive chan bool)
	Ping()
}

// NewChecker builds a checker from its configuration, eg "ping:192.168.1.21"
// or "sniff:08:ae:d6:6c:a5:1c".
func NewChecker(conf string) Checker {
	kind, arg, ok := strings.Cut(conf, ":")
	if !ok {
		return nil
	}
	switch kind {
	case "ping":
		return NewPinger(arg)
	case "sniff":
		return NewSniffer(arg)
	}
	return nil
}

// Sniffer passively watches for network traffic from a MAC address.
type Sniffer struct {
	mac string
}

func NewSniffer(mac string) Checker {
	return &Sniffer{mac: mac}
}

func (self *Sniffer) run(alive chan bool) {
	cmd := exec.Command("sudo", "tcpdump", "-p", "-n", "-l", "ether", "host", self.mac)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("Failed to start tcpdump: %s", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Printf("Failed to start tcpdump: %s", err)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to start tcpdump: %s", err)
		return
	}
	log.Printf("Sniffing mac %s (passive)", self.mac)

	// discard stderr
	go io.Copy(io.Discard, stderr)

	// any line of output is a sign of life
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		alive <- true
	}
	if err := scanner.Err(); err != nil {
		log.Printf("tcpdump failed: %s", err)
	}
}

func (self *Sniffer) Start(alive chan bool) {
	go self.run(alive)
}

func (self *Sniffer) Ping() {
	// noop
}

// Pinger actively probes a host by ICMP echo when asked.
type Pinger struct {
	host    string
	control *sync.Cond
}

func NewPinger(host string) Checker {
	return &Pinger{host: host, control: sync.NewCond(&sync.Mutex{})}
}

func (self *Pinger) run(alive chan bool) {
	addr, err := net.ResolveIPAddr("ip4:icmp", self.host)
	if err != nil {
		log.Printf("Failed to resolve %s, not pinging: %s", self.host, err)
		return
	}
	pinger := fastping.NewPinger()
	pinger.AddIPAddr(addr)
	pinger.MaxRTT = time.Second * 4
	pinger.OnRecv = func(addr *net.IPAddr, rtt time.Duration) {
		alive <- true
	}

	for {
		// wait for a probe
		self.control.L.Lock()
		self.control.Wait()
		self.control.L.Unlock()

		if err := pinger.Run(); err != nil {
			log.Printf("ping %s failed: %s", self.host, err)
		}
	}
}

func (self *Pinger) Start(alive chan bool) {
	go self.run(alive)
}

func (self *Pinger) Ping() {
	self.control.Signal()
}

// Watchdog tracks one person. Any sign of life marks them home immediately;
// away takes two silent intervals, with active probes in between, so a phone
// dozing through one probe does not flap.
type Watchdog struct {
	device   string
	checkers []Checker
	interval time.Duration
	probe    chan bool
	stop     chan bool
}

func NewWatchdog(device string, checkers []Checker) *Watchdog {
	return &Watchdog{
		device:   device,
		checkers: checkers,
		interval: interval,
		probe:    make(chan bool, 1),
		stop:     make(chan bool),
	}
}

// Probe requests an immediate round of active checks.
func (self *Watchdog) Probe() {
	select {
	case self.probe <- true:
	default:
	}
}

func (self *Watchdog) Stop() {
	close(self.stop)
}

func (self *Watchdog) ping() {
	for _, checker := range self.checkers {
		checker.Ping()
	}
}

func (self *Watchdog) watcher() {
	alive := make(chan bool)
	for _, checker := range self.checkers {
		checker.Start(alive)
	}

	home := false
	responded := false
	active := false
	ticker := time.NewTicker(self.interval)
	defer ticker.Stop()
	for {
		select {
		case <-alive:
			responded = true
			active = false
			if !home {
				log.Printf("%s home", self.device)
				home = true
				emit(self.device, home)
			}
		case <-self.stop:
			return
		case <-self.probe:
			self.ping()
		case <-ticker.C:
			if !responded {
				// passive checkers went quiet, probe actively
				self.ping()
				if !active {
					active = true
				} else {
					// active probes exhausted too
					if home {
						log.Printf("%s away", self.device)
						home = false
						emit(self.device, home)
					}
				}
			}
			responded = false
		}
	}
}

func (self *Service) Run() error {
	people := map[string]bool{}
	var watchdogs []*Watchdog
	for device, checks := range services.Config.Presence.People {
		people[device] = true
		var checkers []Checker
		for _, conf := range checks {
			checker := NewChecker(conf)
			if checker == nil {
				log.Printf("Error: misconfigured '%s'", conf)
				continue
			}
			checkers = append(checkers, checker)
		}
		watchdog := NewWatchdog(device, checkers)
		watchdogs = append(watchdogs, watchdog)
		go watchdog.watcher()
	}

	trigger := services.Config.Presence.Trigger
	for ev := range services.Subscriber.Subscribe(pubsub.All()) {
		switch {
		case strings.HasPrefix(ev.Topic, "command") && people[ev.Device()]:
			// manual override, eg marking a guest in
			emit(ev.Device(), ev.Command() == "on")
		case trigger != "" && ev.Device() == trigger && !strings.HasPrefix(ev.Topic, "command"):
			// the door moved, see who is about
			for _, watchdog := range watchdogs {
				watchdog.Probe()
			}
		}
	}
	return nil
}
