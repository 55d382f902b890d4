// Package datalogger keeps a history of bus events in sqlite.
//
// Events are appended to a table as they arrive, optionally filtered by
// topic, and trimmed to a retention window so the database does not grow
// without bound.
package datalogger

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tanodd/hearth/config"
	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
	"github.com/tanodd/hearth/util"
)

// Service datalogger
type Service struct {
	mutex    sync.Mutex
	recorder *Recorder
	path     string
}

// ID of the service
func (self *Service) ID() string {
	return "datalogger"
}

func (self *Service) ConfigUpdated(path string) {
	if path != "hearth/config" {
		return
	}
	self.reopen()
}

func (self *Service) reopen() {
	path := util.ExpandUser(services.Config.Datalogger.Path)
	if path == "" {
		path = config.ConfigPath("datalogger.db")
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if path == self.path && self.recorder != nil {
		return
	}
	if self.recorder != nil {
		self.recorder.Close()
		self.recorder = nil
	}
	recorder, err := NewRecorder(path)
	if err != nil {
		log.Printf("Couldn't open %s: %s", path, err)
		return
	}
	log.Printf("Logging events to %s", path)
	self.path = path
	self.recorder = recorder
}

// relevant filters which topics are logged. Internal topics are always
// skipped.
func relevant(topic string) bool {
	if strings.HasPrefix(topic, "_") {
		return false
	}
	topics := services.Config.Datalogger.Topics
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

func (self *Service) append(ev *pubsub.Event) {
	if !relevant(ev.Topic) {
		return
	}
	if ev.Source() != "" {
		// resolve protocol sources to device names
		services.Config.AddDeviceToEvent(ev)
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.recorder == nil {
		return
	}
	if err := self.recorder.Append(ev); err != nil {
		log.Printf("Couldn't log event: %s", err)
	}
}

func (self *Service) trim() {
	keep := services.Config.Datalogger.Keep
	if keep == nil {
		return
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.recorder == nil {
		return
	}
	if err := self.recorder.Trim(keep.Duration); err != nil {
		log.Printf("Couldn't trim old events: %s", err)
	}
}

func summary(ev *pubsub.Event) string {
	subject := ev.Device()
	if subject == "" {
		subject = ev.Topic
	}
	switch {
	case ev.Command() != "":
		return fmt.Sprintf("%s %s", subject, ev.Command())
	case ev.State() != "":
		return fmt.Sprintf("%s %s", subject, ev.State())
	}

	// measurement events, show the readings
	values := map[string]interface{}{}
	for field, value := range ev.Fields {
		if field == "device" || field == "source" {
			continue
		}
		values[field] = value
	}
	for _, field := range util.SortedKeys(values) {
		subject += fmt.Sprintf(" %s=%v", field, values[field])
	}
	return subject
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"recent": services.TextHandler(self.queryRecent),
		"status": services.TextHandler(self.queryStatus),
		"help": services.StaticHandler("" +
			"recent [device]: latest logged events\n" +
			"status: logged event count\n"),
	}
}

func (self *Service) queryRecent(q services.Question) string {
	device := strings.TrimSpace(q.Args)
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.recorder == nil {
		return "not logging"
	}
	events, err := self.recorder.Recent(device, 10)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if len(events) == 0 {
		return "no events"
	}
	var out string
	for _, ev := range events {
		out += fmt.Sprintf("%s %s\n", ev.Timestamp.Format(timeFormat), summary(ev))
	}
	return out
}

func (self *Service) queryStatus(q services.Question) string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.recorder == nil {
		return "not logging"
	}
	count, err := self.recorder.Count()
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%d events in %s", count, self.path)
}

func (self *Service) Run() error {
	self.reopen()
	self.trim()
	ticker := util.NewScheduler(0, time.Hour)
	events := services.Subscriber.Subscribe(pubsub.All())
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			self.append(ev)
		case <-ticker.C:
			self.trim()
		}
	}
}
