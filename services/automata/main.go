// Service for state machine based automation of behaviour. A whole variety of
// behaviour can be achieved by linking together triggering events and actions.
//
// This is the glue that links the hub's input and output services together in
// smart ways.
//
// Some examples:
//
// - switch the hall light on when the panel wakes after dark
//
// - alert via telegram when the garden temperature drops below freezing
//
// - turn everything off when the last person leaves the house
//
// The automata are held as yaml in the store under hearth/config/automata,
// editable live through:
//
// http://localhost:8723/config?path=hearth/config/automata
//
// For more details on the state machine format, see:
//
// http://godoc.org/github.com/barnybug/gofsm
package automata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/barnybug/gofsm"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
	"github.com/tanodd/hearth/util"
)

// Service automata
type Service struct {
	timers        map[string]*time.Timer
	configUpdated chan bool
}

// the running automata, shared with the State() expression function
var automata *gofsm.Automata

// ID of the service
func (self *Service) ID() string {
	return "automata"
}

type EventWrapper struct {
	event  *pubsub.Event
	params map[string]interface{}
}

func NewEventWrapper(ev *pubsub.Event) EventWrapper {
	params := map[string]interface{}{
		"topic": ev.Topic,
	}
	for k, v := range ev.Fields {
		params[k] = v
	}
	if device, ok := ev.Fields["device"].(string); ok {
		params["type"] = strings.Split(device, ".")[0]
	}
	return EventWrapper{event: ev, params: params}
}

var functions = map[string]govaluate.ExpressionFunction{
	"State": func(args ...interface{}) (interface{}, error) {
		if automata == nil || len(args) != 1 {
			return "", nil
		}
		name, ok := args[0].(string)
		if !ok {
			return "", nil
		}
		if aut, ok := automata.Automaton[name]; ok {
			return aut.State.Name, nil
		}
		return "", nil
	},
}

// compiled expressions, cached by source. nil marks an expression that failed
// to parse so it is only reported once.
var exprCache = map[string]*govaluate.EvaluableExpression{}

func (self EventWrapper) Match(when string) bool {
	expr, cached := exprCache[when]
	if !cached {
		var err error
		expr, err = govaluate.NewEvaluableExpressionWithFunctions(when, functions)
		if err != nil {
			log.Printf("Error parsing expression %q: %s", when, err)
			expr = nil
		}
		exprCache[when] = expr
	}
	if expr == nil {
		return false
	}
	result, err := expr.Evaluate(self.params)
	if err != nil {
		// missing parameters are routine, not every event carries every field
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

func (self EventWrapper) String() string {
	s := self.event.Device()
	if s == "" {
		s = services.Config.LookupDeviceName(self.event)
	}
	if self.event.Command() != "" {
		s += fmt.Sprintf(" command=%s", self.event.Command())
	} else if self.event.State() != "" {
		s += fmt.Sprintf(" state=%s", self.event.State())
	}
	return s
}

type EventAction struct {
	service *Service
	event   *pubsub.Event
	change  gofsm.Change
}

func (self *Service) ConfigUpdated(path string) {
	if path != "hearth/config/automata" {
		return
	}
	// trigger reload in main loop, dropped if a reload is already queued
	select {
	case self.configUpdated <- true:
	default:
	}
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"switch": services.TextHandler(self.querySwitch),
		"help": services.StaticHandler("" +
			"status: get status\n" +
			"switch device on|off: switch device\n"),
	}
}

func (self *Service) queryStatus(q services.Question) string {
	var out string
	now := time.Now()
	var keys []string
	for k := range automata.Automaton {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	group := ""
	for _, k := range keys {
		if strings.Split(k, ".")[0] != group {
			group = strings.Split(k, ".")[0]
			out += group + "\n"
		}
		device := k
		if dev, ok := services.Config.Devices[k]; ok {
			device = dev.Name
		}
		aut := automata.Automaton[k]
		du := util.ShortDuration(now.Sub(aut.Since))
		out += fmt.Sprintf("- %s: %s for %s\n", device, aut.State.Name, du)
	}
	return out
}

func (self *Service) querySwitch(q services.Question) string {
	if q.Args == "" {
		// return a list of the devices
		devices := []string{}
		for dev := range services.Config.Devices {
			devices = append(devices, dev)
		}
		sort.Strings(devices)
		return strings.Join(devices, ", ")
	}
	args := strings.Split(q.Args, " ")
	name := args[0]
	cmd, fields := util.ParseArgs(args[1:])
	if cmd == "" {
		cmd = "on"
	}

	matches := services.MatchDevices(name)
	if len(matches) == 0 {
		return fmt.Sprintf("device %s not found", name)
	}
	if len(matches) > 1 {
		return fmt.Sprintf("device %s is ambiguous", strings.Join(matches, ", "))
	}

	ev := pubsub.NewCommand(matches[0], cmd)
	for field, value := range fields {
		ev.SetField(field, value)
	}
	services.Publisher.Emit(ev)
	return fmt.Sprintf("Switched %s %s", matches[0], cmd)
}

func (self *Service) PersistStore(auto *gofsm.Automata, automaton string) {
	state := auto.Persist()
	v := state[automaton]
	key := "hearth/state/automata/" + automaton
	value, _ := json.Marshal(v)
	err := services.Stor.Set(key, string(value))
	if err != nil {
		log.Println("Persisting automata state to store failed:", err)
	}
}

func (self *Service) RestoreStore(auto *gofsm.Automata) {
	window := services.Config.Automata.Restore.Or(0)
	p := gofsm.AutomataState{}
	for name := range auto.Automaton {
		key := "hearth/state/automata/" + name
		value, err := services.Stor.Get(key)
		if err != nil {
			// nothing persisted yet, stay in the start state
			continue
		}
		var ps gofsm.AutomatonState
		if err := json.Unmarshal([]byte(value), &ps); err != nil {
			log.Println("Restoring automata state from store failed:", err)
			continue
		}
		if window > 0 && time.Since(ps.Since) > window {
			// too stale to trust, stay in the start state
			continue
		}
		p[name] = ps
	}
	auto.Restore(p)
}

func loadAutomata() (*gofsm.Automata, error) {
	data, err := services.Stor.Get("hearth/config/automata")
	if err != nil {
		return nil, err
	}
	tmpl := template.New("Automata")
	tmpl, err = tmpl.Parse(data)
	if err != nil {
		return nil, err
	}
	context := map[string]interface{}{
		"devices": services.Config.Devices,
	}

	wr := new(bytes.Buffer)
	err = tmpl.Execute(wr, context)
	if err != nil {
		return nil, err
	}
	return gofsm.Load(wr.Bytes())
}

func ignoreTopic(topic string) bool {
	switch topic {
	case "alert", "query", "config":
		return true
	case "time", "earth":
		// generated internally, skip the bus copies
		return true
	}
	return strings.HasPrefix(topic, "_")
}

func sunEventMessage(name string) *pubsub.Event {
	return pubsub.NewEvent("earth", pubsub.Fields{"device": "earth", "command": name})
}

// Run the service
func (self *Service) Run() error {
	self.timers = map[string]*time.Timer{}
	self.configUpdated = make(chan bool, 2)
	var err error
	automata, err = loadAutomata()
	if err != nil {
		return err
	}

	// persistence can take a while and delay the workflow, so run in background
	chanPersist := make(chan string, 32)
	go func() {
		for automaton := range chanPersist {
			self.PersistStore(automata, automaton)
		}
	}()

	self.RestoreStore(automata)
	log.Printf("Initial states:\n%s", automata)

	// clock driven rules
	ticker := util.NewScheduler(0, time.Minute)
	var sun <-chan sunEvent
	if services.Config.Earth.Latitude != 0 || services.Config.Earth.Longitude != 0 {
		loc := Location{
			Latitude:  services.Config.Earth.Latitude,
			Longitude: services.Config.Earth.Longitude,
		}
		sun = sunEvents(loc)
		// replay the last sun event so daylight rules start in the right phase
		_, name := previousEvent(loc, time.Now())
		automata.Process(NewEventWrapper(sunEventMessage(name)))
	}

	events := services.Subscriber.Subscribe(pubsub.All())
	for {
		select {
		case ev := <-events:
			if ignoreTopic(ev.Topic) {
				continue
			}
			automata.Process(NewEventWrapper(ev))

		case tick := <-ticker.C:
			ev := pubsub.NewEvent("time",
				pubsub.Fields{"device": "time", "hhmm": tick.Format("1504")})
			automata.Process(NewEventWrapper(ev))

		case tev := <-sun:
			ev := sunEventMessage(tev.Name)
			services.Publisher.Emit(ev)
			automata.Process(NewEventWrapper(ev))

		case change := <-automata.Changes:
			trigger := change.Trigger.(EventWrapper)
			s := fmt.Sprintf("%-17s %s->%s", "["+change.Automaton+"]", change.Old, change.New)
			log.Printf("%-40s (event: %s)", s, trigger)
			chanPersist <- change.Automaton
			if !strings.Contains(change.Automaton, ".") {
				continue
			}
			// republish the change as an event
			topic := strings.Split(change.Automaton, ".")[0]
			fields := pubsub.Fields{
				"device":  change.Automaton,
				"state":   change.New,
				"trigger": trigger.String(),
			}
			services.Publisher.Emit(pubsub.NewEvent(topic, fields))

		case action := <-automata.Actions:
			wrapper := action.Trigger.(EventWrapper)
			ea := EventAction{self, wrapper.event, action.Change}
			if err := DynamicCall(ea, action.Name); err != nil {
				log.Println("Error:", err)
			}

		case <-self.configUpdated:
			// live reload the automata
			log.Println("Automata config updated, reloading")
			updated, err := loadAutomata()
			if err != nil {
				log.Println("Failed to reload automata:", err)
				continue
			}
			self.RestoreStore(updated)
			automata = updated
			log.Println("Automata reloaded successfully")
		}
	}
}

func (self EventAction) substitute(msg string) string {
	device := self.event.Device()
	if device == "" {
		device = services.Config.LookupDeviceName(self.event)
	}
	name := device
	if conf, ok := services.Config.Devices[device]; ok && conf.Name != "" {
		name = conf.Name
	}
	now := time.Now()
	vals := map[string]string{
		"device":    device,
		"name":      name,
		"state":     self.change.New,
		"duration":  util.FriendlyDuration(self.change.Duration),
		"timestamp": now.Format(time.Kitchen),
	}

	return Substitute(msg, vals)
}

func (self EventAction) Alert(message string, target string) {
	message = self.substitute(message)
	log.Printf("Alert (%s): %s", target, message)
	services.SendAlert(message, target, "", 0)
}

func (self EventAction) Telegram(message string) {
	self.Alert(message, "telegram")
}

func (self EventAction) Script(cmd string) {
	log.Println("Script:", cmd)
	// run exec non-blocking
	go func() {
		cmd = util.ExpandUser(cmd)
		_, err := exec.Command(cmd).Output()
		if err != nil {
			log.Printf("Exec %s: %s", cmd, err)
		}
	}()
}

func command(device string, cmd string) {
	ev := pubsub.NewCommand(device, cmd)
	services.Publisher.Emit(ev)
}

func (self EventAction) Switch(device string, state bool) {
	on := "off"
	if state {
		on = "on"
	}
	log.Printf("Switching %s %s", device, on)
	command(device, on)
}

func (self EventAction) Command(device string, cmd string) {
	log.Printf("Sending %s to %s", cmd, device)
	command(device, cmd)
}

func (self EventAction) Dim(device string, level int64) {
	log.Printf("Dimming %s to %d", device, level)
	ev := pubsub.NewCommand(device, "dim")
	ev.SetField("level", level)
	services.Publisher.Emit(ev)
}

func (self EventAction) Flux(device string, params ...string) {
	args := make([]interface{}, len(params))
	for i, s := range params {
		args[i] = s
	}
	p, err := fluxParse(args)
	if err != nil {
		log.Println("Flux:", err)
		return
	}
	services.Publisher.Emit(fluxCommand(p, device))
}

func (self EventAction) StartTimer(name string, d int64) {
	duration := time.Duration(d) * time.Second
	if timer, ok := self.service.timers[name]; ok {
		// cancel any existing
		timer.Stop()
	}

	timer := time.AfterFunc(duration, func() {
		// emit timer event
		fields := pubsub.Fields{
			"device":  "timer." + name,
			"command": "on",
		}
		ev := pubsub.NewEvent("timer", fields)
		services.Publisher.Emit(ev)
	})
	self.service.timers[name] = timer
}

func (self EventAction) StopTimer(name string) {
	if timer, ok := self.service.timers[name]; ok {
		timer.Stop()
		delete(self.service.timers, name)
	}
}
