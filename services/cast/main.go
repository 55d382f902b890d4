// Package cast follows Google Chromecast players on the network.
//
// Playback started and stopped events reach the bus as on/off commands, so an
// automaton can dim the living room lights when a film starts and restore
// them when it finishes.
package cast

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/barnybug/go-cast"
	"github.com/barnybug/go-cast/discovery"
	"github.com/barnybug/go-cast/events"
	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
)

// Service cast
type Service struct {
	mutex   sync.Mutex
	online  map[string]bool
	ignored map[string]bool
}

// ID of the service
func (self *Service) ID() string {
	return "cast"
}

// castPlayers maps chromecast network names to configured devices. An empty
// players list adopts every device with a cast source.
func castPlayers() map[string]string {
	players := map[string]string{}
	if len(services.Config.Cast.Players) == 0 {
		for device := range services.Config.Devices {
			if name, ok := services.Config.LookupDeviceProtocol(device, "cast"); ok {
				players[name] = device
			}
		}
		return players
	}
	for _, device := range services.Config.Cast.Players {
		if name, ok := services.Config.LookupDeviceProtocol(device, "cast"); ok {
			players[name] = device
		} else {
			log.Printf("Player %s has no cast source, skipping", device)
		}
	}
	return players
}

// translate maps chromecast app activity to bus events.
func translate(device string, event interface{}) *pubsub.Event {
	switch data := event.(type) {
	case events.AppStarted:
		fields := pubsub.Fields{
			"device":  device,
			"command": "on",
			"app":     data.DisplayName,
		}
		return pubsub.NewEvent("cast", fields)
	case events.AppStopped:
		fields := pubsub.Fields{
			"device":  device,
			"command": "off",
		}
		return pubsub.NewEvent("cast", fields)
	}
	return nil
}

func (self *Service) setOnline(name string, value bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.online[name] = value
}

func (self *Service) forget(name string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.online, name)
}

func (self *Service) tracked(name string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	_, ok := self.online[name]
	return ok
}

func (self *Service) watch(ctx context.Context, client *cast.Client, device string) {
	for {
		event := <-client.Events
		switch data := event.(type) {
		case events.Connected:
			log.Printf("%s: connected", client.Name())
			self.setOnline(client.Name(), true)
		case events.Disconnected:
			log.Printf("%s: disconnected, reconnecting...", client.Name())
			client.Close()
			self.setOnline(client.Name(), false)
			// try to reconnect - rediscovery picks the device up again if
			// this fails
			if err := client.Connect(ctx); err != nil {
				log.Printf("Failed to reconnect to %s, removing: %s", client.Name(), err)
				self.forget(client.Name())
				return
			}
		case events.AppStarted:
			log.Printf("%s: app started: %s (%s)", client.Name(), data.DisplayName, data.AppID)
			services.Publisher.Emit(translate(device, event))
		case events.AppStopped:
			log.Printf("%s: app stopped: %s (%s)", client.Name(), data.DisplayName, data.AppID)
			services.Publisher.Emit(translate(device, event))
		default:
			// ignored
		}
	}
}

func (self *Service) adopt(ctx context.Context, discover *discovery.Service) {
	for client := range discover.Found() {
		name := client.Name()
		device, ok := castPlayers()[name]
		if !ok {
			self.ignore(name)
			continue
		}
		if self.tracked(name) {
			// rediscovered on rescan
			continue
		}
		log.Printf("New client discovered: %s", client)
		if err := client.Connect(ctx); err != nil {
			log.Printf("Failed to connect to %s: %s", name, err)
			continue
		}
		self.setOnline(name, false)
		go self.watch(ctx, client, device)
	}
	log.Println("Discovery finished")
}

func (self *Service) ignore(name string) {
	if !self.ignored[name] {
		self.ignored[name] = true
		log.Printf("Ignoring unconfigured cast device: %s", name)
	}
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: get cast device status\n"),
	}
}

func (self *Service) queryStatus(q services.Question) string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	var out string
	lines := []string{}
	for name, device := range castPlayers() {
		state := "offline"
		if self.online[name] {
			state = "online"
		}
		if dev, ok := services.Config.Devices[device]; ok && dev.Name != "" {
			device = dev.Name
		}
		lines = append(lines, fmt.Sprintf("%s: %s\n", device, state))
	}
	sort.Strings(lines)
	for _, line := range lines {
		out += line
	}
	return out
}

// Run the service
func (self *Service) Run() error {
	self.online = map[string]bool{}
	self.ignored = map[string]bool{}
	ctx := context.Background()
	discover := discovery.NewService(ctx)
	go self.adopt(ctx, discover)
	discover.Run(ctx, time.Second*300)
	return nil
}
