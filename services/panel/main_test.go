package panel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/pubsub/dummy"
	"github.com/tanodd/hearth/services"
)

func testService() (*Service, *fakeDevice, *dummy.Publisher) {
	em := &dummy.Publisher{}
	dev := &fakeDevice{}
	service := &Service{
		Publisher:   em,
		device:      "panel.hall",
		dev:         dev,
		coordinator: NewCoordinator(dev, &fakeNotifier{}, time.Minute, time.Hour),
	}
	return service, dev, em
}

func TestHandleCommand(t *testing.T) {
	service, dev, em := testService()
	defer service.coordinator.Stop()
	atTime(t0)
	service.coordinator.ObserveStatus(Status{ScreenOn: false})

	service.handleCommand(pubsub.NewCommand("panel.hall", "wake"))
	wakes, _ := dev.counts()
	assert.Equal(t, 1, wakes)
	if assert.Equal(t, 1, len(em.Events)) {
		assert.Equal(t, "ack", em.Events[0].Topic)
		assert.Equal(t, "panel.hall", em.Events[0].Device())
		assert.Equal(t, "wake", em.Events[0].Command())
	}

	// not our device
	service.handleCommand(pubsub.NewCommand("light.kitchen", "on"))
	wakes, _ = dev.counts()
	assert.Equal(t, 1, wakes)
	assert.Equal(t, 1, len(em.Events))

	service.handleCommand(pubsub.NewCommand("panel.hall", "sleep"))
	_, sleeps := dev.counts()
	assert.Equal(t, 1, sleeps)

	ev := pubsub.NewCommand("panel.hall", "brightness")
	ev.SetField("level", float64(150))
	service.handleCommand(ev)
	assert.Equal(t, []int{150}, dev.levelList())

	service.handleCommand(pubsub.NewCommand("panel.hall", "explode"))
	assert.Equal(t, 3, len(em.Events))
}

func TestHeartbeat(t *testing.T) {
	service, _, em := testService()
	defer service.coordinator.Stop()
	service.link = NewLink("", time.Second, time.Hour, nil)
	atTime(t0)

	service.heartbeat(t0)
	if assert.Equal(t, 1, len(em.Events)) {
		ev := em.Events[0]
		assert.Equal(t, "panel", ev.Topic)
		assert.Equal(t, "panel.hall", ev.Device())
		assert.Equal(t, true, ev.Fields["screen"])
		assert.Equal(t, false, ev.Fields["connected"])
		assert.True(t, ev.Retained)
	}
}

func TestQueryStatus(t *testing.T) {
	service, _, _ := testService()
	defer service.coordinator.Stop()
	atTime(t0)
	service.coordinator.ObserveProximity(ProximityReading{Near: false, At: t0, Source: SourcePoll})

	answer := service.queryStatus(services.Question{Verb: "status"})
	assert.Equal(t, "Panel: far, screen on, sleeping in 1m", answer.Text)
	data := answer.Json.(map[string]interface{})
	assert.Equal(t, false, data["near"])
	assert.Equal(t, true, data["screenOn"])
}

func TestQueryWakeSleep(t *testing.T) {
	service, dev, _ := testService()
	defer service.coordinator.Stop()
	atTime(t0)
	service.coordinator.ObserveStatus(Status{ScreenOn: false})

	assert.Equal(t, "woken", service.queryWake(services.Question{Verb: "wake"}))
	wakes, _ := dev.counts()
	assert.Equal(t, 1, wakes)

	assert.Equal(t, "slept", service.querySleep(services.Question{Verb: "sleep"}))
	_, sleeps := dev.counts()
	assert.Equal(t, 1, sleeps)
}

func TestQueryBrightness(t *testing.T) {
	service, dev, _ := testService()
	defer service.coordinator.Stop()

	assert.Equal(t, "usage: brightness <0-255>", service.queryBrightness(services.Question{Verb: "brightness", Args: "banana"}))
	assert.Equal(t, "usage: brightness <0-255>", service.queryBrightness(services.Question{Verb: "brightness", Args: "300"}))
	assert.Equal(t, "brightness set to 128", service.queryBrightness(services.Question{Verb: "brightness", Args: "128"}))
	assert.Equal(t, []int{128}, dev.levelList())
}

func TestBusNotifier(t *testing.T) {
	em := &dummy.Publisher{}
	n := &busNotifier{device: "panel.hall", publisher: em}
	n.PresenceChanged(true)
	n.PresenceChanged(false)
	n.WakeNotify()
	if assert.Equal(t, 3, len(em.Events)) {
		assert.Equal(t, "panel", em.Events[0].Topic)
		assert.Equal(t, "near", em.Events[0].Command())
		assert.True(t, em.Events[0].Retained)
		assert.Equal(t, "far", em.Events[1].Command())
		assert.Equal(t, "wake", em.Events[2].Command())
		assert.False(t, em.Events[2].Retained)
	}
}

func Example_interfaces() {
	var _ services.Service = (*Service)(nil)
	var _ services.Queryable = (*Service)(nil)
	// Output:
}
