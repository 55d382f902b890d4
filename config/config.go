package config

import (
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/util"

	"gopkg.in/yaml.v2"
)

type DeviceConf struct {
	Id       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Group    string   `json:"group"`
	Location string   `json:"location"`
	Source   string   `json:"source"`
	Caps     []string `json:"caps"`
	Aliases  []string `json:"aliases"`
	Cap      map[string]bool `json:"-"`
}

func (self DeviceConf) IsSwitchable() bool {
	return self.Cap["switch"] || self.Cap["light"] || self.Cap["dimmer"]
}

// SourceId returns the protocol specific part of the device source.
func (self DeviceConf) SourceId() string {
	ps := strings.SplitN(self.Source, ".", 2)
	if len(ps) == 2 {
		return ps[1]
	}
	return self.Source
}

type Duration struct {
	Duration time.Duration
}

func (self *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	value, err := time.ParseDuration(s)
	if err != nil {
		// longer units (days, weeks)
		value, err = util.ParseDuration(s)
	}
	if err != nil {
		return err
	}
	self.Duration = value
	return nil
}

// Or returns the configured duration, or def when absent.
func (self *Duration) Or(def time.Duration) time.Duration {
	if self == nil || self.Duration == 0 {
		return def
	}
	return self.Duration
}

type AutomataConf struct {
	Restore *Duration
}

type CastConf struct {
	Players []string
}

type DataloggerConf struct {
	Path   string
	Topics []string
	Keep   *Duration
}

type EarthConf struct {
	Latitude  float64
	Longitude float64
}

type HueConf struct {
	Host     string
	User     string
	Interval *Duration
}

type PanelBrightnessConf struct {
	Auto     *bool
	Min      int
	Max      int
	Interval *Duration
}

type PanelConf struct {
	Device       string
	Address      string
	Listen       string
	Idle_Timeout *Duration
	Poll         *Duration
	Resend       *Duration
	Health       *Duration
	Timeout      *Duration
	Brightness   PanelBrightnessConf
}

type PresenceConf struct {
	Trigger string
	People  map[string][]string
}

type TelegramConf struct {
	Token   string
	Chat_id int64
}

type WatchdogConf struct {
	Alert   string
	Devices map[string]string
	Pings   []string
}

// Configuration structure
type Config struct {
	// yaml fields
	Devices    map[string]DeviceConf
	Protocols  map[string]map[string]string
	Automata   AutomataConf
	Cast       CastConf
	Datalogger DataloggerConf
	Earth      EarthConf
	Hue        HueConf
	Panel      PanelConf
	Presence   PresenceConf
	Telegram   TelegramConf
	Watchdog   WatchdogConf
}

// Open configuration from a reader.
func OpenReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return OpenRaw(data)
}

// Open configuration from []byte.
func OpenRaw(data []byte) (*Config, error) {
	self := &Config{}
	err := yaml.Unmarshal(data, self)
	if err != nil {
		return nil, err
	}

	for id, device := range self.Devices {
		device.Id = id
		if len(device.Caps) == 0 {
			major := strings.Split(id, ".")[0]
			device.Caps = []string{major}
		}
		device.Type = device.Caps[0]
		device.Cap = map[string]bool{}
		for _, c := range device.Caps {
			device.Cap[c] = true
		}
		self.Devices[id] = device
	}

	return self, nil
}

// Must panics if opening configuration failed.
func Must(config *Config, err error) *Config {
	if err != nil {
		panic(err)
	}
	return config
}

// LookupDeviceName resolves the device name for an event by its source,
// falling back to topic.source.
func (self *Config) LookupDeviceName(ev *pubsub.Event) string {
	source := ev.Source()
	topic := ev.Topic
	if name, ok := self.Protocols[topic][source]; ok {
		return name
	}
	return topic + "." + source
}

func (self *Config) AddDeviceToEvent(ev *pubsub.Event) {
	if ev.Device() == "" {
		ev.SetField("device", self.LookupDeviceName(ev))
	}
}

// Find the identifier for a device under the given protocol
func (self *Config) LookupDeviceProtocol(matchName string, protocol string) (string, bool) {
	if device, ok := self.Devices[matchName]; ok && device.Source != "" {
		ps := strings.SplitN(device.Source, ".", 2)
		if len(ps) == 2 && ps[0] == protocol {
			return ps[1], true
		}
	}
	for id, name := range self.Protocols[protocol] {
		if name == matchName {
			return id, true
		}
	}
	return "", false
}

// helpers

// Resolve a file under the .config/hearth directory.
func ConfigPath(p string) string {
	config := os.Getenv("XDG_CONFIG_HOME")
	if config == "" {
		config = path.Join(os.Getenv("HOME"), ".config")
	}
	return path.Join(config, "hearth", p)
}
