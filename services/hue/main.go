// Service to communicate with Philips Hue lights.
//
// Commands for devices with a hue.N source are applied through the bridge,
// and light state is polled so manual changes (the physical switch, the Hue
// app) still reach the rest of the hub.
package hue

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/amimof/huego"
	"github.com/pkg/errors"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
)

// bridgeAPI is the part of the huego client the service uses.
type bridgeAPI interface {
	GetLights() ([]huego.Light, error)
	GetSensors() ([]huego.Sensor, error)
	SetLightState(id int, state huego.State) (*huego.Response, error)
	CreateUser(name string) (string, error)
}

// Service hue
type Service struct {
	bridge      bridgeAPI
	lights      map[string]huego.Light
	lightlevels map[int]float64
	announced   map[string]bool
}

func (self *Service) ID() string {
	return "hue"
}

func briFromLevel(level int64) uint8 {
	if level < 1 {
		level = 1
	} else if level > 100 {
		level = 100
	}
	return uint8(level * 254 / 100)
}

func levelFromBri(bri uint8) int {
	return int(bri) * 100 / 254
}

// hue measures colour temperature in mireds, the hub speaks kelvin
func miredFromKelvin(kelvin int64) uint16 {
	if kelvin < 2000 {
		kelvin = 2000
	} else if kelvin > 6500 {
		kelvin = 6500
	}
	return uint16(1000000 / kelvin)
}

func kelvinFromMired(ct uint16) int {
	return 1000000 / int(ct)
}

// hueDevices maps bridge light ids back to device ids.
func hueDevices() map[string]string {
	ret := map[string]string{}
	for id := range services.Config.Devices {
		if pid, ok := services.Config.LookupDeviceProtocol(id, "hue"); ok {
			ret[pid] = id
		}
	}
	return ret
}

func (self *Service) stateFor(cached huego.State, ev *pubsub.Event) (huego.State, bool) {
	state := huego.State{TransitionTime: 4}
	if _, ok := ev.Fields["duration"]; ok {
		// duration is in ms, hue transition times are 100ms steps
		state.TransitionTime = uint16(ev.IntField("duration") / 100)
	}
	switch ev.Command() {
	case "on":
		state.On = true
		if level := ev.IntField("level"); level != 0 {
			state.Bri = briFromLevel(level)
		}
		if temp := ev.IntField("temp"); temp != 0 {
			state.Ct = miredFromKelvin(temp)
		}
	case "off":
		state.On = false
	case "dim":
		state.On = true
		state.Bri = briFromLevel(ev.IntField("level"))
	case "flux":
		if !cached.On {
			// flux drifts lights that are lit, it never wakes them
			return state, false
		}
		state.On = true
		state.Bri = briFromLevel(ev.IntField("level"))
		state.Ct = miredFromKelvin(ev.IntField("temp"))
	default:
		log.Println("Command not recognised:", ev.Command())
		return state, false
	}
	return state, true
}

func (self *Service) handleCommand(ev *pubsub.Event) {
	dev := ev.Device()
	pid, ok := services.Config.LookupDeviceProtocol(dev, "hue")
	if !ok {
		return // command not for us
	}
	light, ok := self.lights[pid]
	if !ok {
		log.Println("Device not recognised:", dev)
		return
	}
	state, apply := self.stateFor(*light.State, ev)
	if !apply {
		return
	}
	if _, err := self.bridge.SetLightState(light.ID, state); err != nil {
		log.Printf("Error commanding %s: %s", dev, err)
		return
	}
	log.Printf("Setting device %s to %s\n", dev, ev.Command())
	light.State.On = state.On
	if state.Bri != 0 {
		light.State.Bri = state.Bri
	}
	if state.Ct != 0 {
		light.State.Ct = state.Ct
	}
	self.lights[pid] = light
	fields := pubsub.Fields{
		"device":  dev,
		"command": ev.Command(),
		"level":   levelFromBri(light.State.Bri),
	}
	if light.State.Ct > 0 {
		fields["temp"] = kelvinFromMired(light.State.Ct)
	}
	services.Publisher.Emit(pubsub.NewEvent("ack", fields))
}

func statesEqual(a, b huego.State) bool {
	return a.On == b.On && a.Bri == b.Bri && a.Ct == b.Ct && a.Reachable == b.Reachable
}

func (self *Service) emitState(dev string, state huego.State) {
	onoff := "off"
	if state.On {
		onoff = "on"
	}
	fields := pubsub.Fields{
		"device":    dev,
		"state":     onoff,
		"level":     levelFromBri(state.Bri),
		"reachable": state.Reachable,
	}
	if state.Ct > 0 {
		fields["temp"] = kelvinFromMired(state.Ct)
	}
	ev := pubsub.NewEvent("light", fields)
	ev.SetRetained(true)
	services.Publisher.Emit(ev)
}

func (self *Service) poll() {
	lights, err := self.bridge.GetLights()
	if err != nil {
		log.Println("Retrieving lights failed:", err)
		return
	}
	devices := hueDevices()
	for i := range lights {
		light := lights[i]
		pid := strconv.Itoa(light.ID)
		dev, ok := devices[pid]
		if !ok {
			if !self.announced[pid] {
				self.announced[pid] = true
				log.Printf("New hue light discovered: %s %q (add a device with source hue.%s)", pid, light.Name, pid)
			}
			continue
		}
		previous, seen := self.lights[pid]
		self.lights[pid] = light
		if seen && statesEqual(*previous.State, *light.State) {
			continue
		}
		self.emitState(dev, *light.State)
	}
	self.pollSensors()
}

// pollSensors reads ambient light levels from any hue motion sensors. These
// are logged for reference, the panel has its own light sensor.
func (self *Service) pollSensors() {
	sensors, err := self.bridge.GetSensors()
	if err != nil {
		log.Println("Retrieving sensors failed:", err)
		return
	}
	for _, sensor := range sensors {
		if sensor.Type != "ZLLLightLevel" {
			continue
		}
		level, ok := sensor.State["lightlevel"].(float64)
		if !ok || self.lightlevels[sensor.ID] == level {
			continue
		}
		self.lightlevels[sensor.ID] = level
		// lightlevel is 10000 log10(lux)+1
		lux := math.Pow(10, (level-1)/10000)
		log.Printf("%s light level: %.0f lux", sensor.Name, lux)
	}
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"pair":   services.TextHandler(self.queryPair),
		"help": services.StaticHandler("" +
			"status: get light status\n" +
			"pair: create a bridge user (press the link button first)\n"),
	}
}

func (self *Service) queryStatus(q services.Question) string {
	devices := hueDevices()
	var pids []string
	for pid := range self.lights {
		pids = append(pids, pid)
	}
	sort.Strings(pids)
	var out string
	for _, pid := range pids {
		light := self.lights[pid]
		state := "off"
		if light.State.On {
			state = "on"
		}
		if !light.State.Reachable {
			state = "unreachable"
		}
		name := light.Name
		if id, ok := devices[pid]; ok {
			name = id
			if dev, ok := services.Config.Devices[id]; ok && dev.Name != "" {
				name = dev.Name
			}
		}
		out += fmt.Sprintf("%s: %s level %d%%\n", name, state, levelFromBri(light.State.Bri))
	}
	return out
}

func (self *Service) queryPair(q services.Question) string {
	user, err := self.bridge.CreateUser("hearth")
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("paired, set hue user to: %s", user)
}

func (self *Service) setup() error {
	conf := services.Config.Hue
	host := conf.Host
	if host == "" {
		bridge, err := huego.Discover()
		if err != nil {
			return errors.Wrap(err, "discovering bridge")
		}
		host = bridge.Host
		log.Println("Discovered bridge:", host)
	}
	self.bridge = huego.New(host, conf.User)
	return nil
}

// Run the service
func (self *Service) Run() error {
	self.lights = map[string]huego.Light{}
	self.lightlevels = map[int]float64{}
	self.announced = map[string]bool{}
	if err := self.setup(); err != nil {
		return err
	}
	self.poll()

	ticker := time.NewTicker(services.Config.Hue.Interval.Or(30 * time.Second))
	commands := services.Subscriber.Subscribe(pubsub.Prefix("command"))
	for {
		select {
		case ev := <-commands:
			self.handleCommand(ev)
		case <-ticker.C:
			self.poll()
		}
	}
}
