package datalogger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanodd/hearth/config"
	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/pubsub/dummy"
	"github.com/tanodd/hearth/services"
)

func Example_interfaces() {
	var _ services.Service = (*Service)(nil)
	var _ services.Queryable = (*Service)(nil)
	var _ services.Configured = (*Service)(nil)
	// Output:
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	recorder, err := NewRecorder(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })
	return recorder
}

func TestAppendRecent(t *testing.T) {
	recorder := newTestRecorder(t)

	ev := pubsub.NewEvent("light", pubsub.Fields{"device": "light.kitchen", "command": "on"})
	require.NoError(t, recorder.Append(ev))
	ev = pubsub.NewEvent("temp", pubsub.Fields{"device": "temp.garden", "temp": 17.5})
	require.NoError(t, recorder.Append(ev))

	// newest first
	events, err := recorder.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "temp.garden", events[0].Device())
	assert.Equal(t, "light.kitchen", events[1].Device())
	assert.Equal(t, "light", events[1].Topic)
	assert.Equal(t, "on", events[1].Command())

	events, err = recorder.Recent("light.kitchen", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "light.kitchen", events[0].Device())
}

func TestCount(t *testing.T) {
	recorder := newTestRecorder(t)

	count, err := recorder.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	require.NoError(t, recorder.Append(pubsub.NewEvent("light", nil)))
	count, err = recorder.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestTrim(t *testing.T) {
	recorder := newTestRecorder(t)

	stale := time.Now().UTC().Add(-48 * time.Hour).Format(pubsub.TimeFormat)
	old := pubsub.NewEvent("temp", pubsub.Fields{"device": "temp.garden", "timestamp": stale})
	require.NoError(t, recorder.Append(old))
	require.NoError(t, recorder.Append(pubsub.NewEvent("temp", pubsub.Fields{"device": "temp.garden"})))

	require.NoError(t, recorder.Trim(24*time.Hour))

	count, err := recorder.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRelevant(t *testing.T) {
	services.Config = config.ExampleConfig
	assert.True(t, relevant("temp"))
	assert.False(t, relevant("_log"))

	conf, err := config.OpenRaw([]byte("datalogger:\n  topics: [temp, light]\n"))
	require.NoError(t, err)
	services.Config = conf
	assert.True(t, relevant("temp"))
	assert.False(t, relevant("command"))
	assert.False(t, relevant("_log"))
}

func TestSummary(t *testing.T) {
	ev := pubsub.NewEvent("light", pubsub.Fields{"device": "light.kitchen", "command": "on"})
	assert.Equal(t, "light.kitchen on", summary(ev))

	ev = pubsub.NewEvent("presence", pubsub.Fields{"device": "person.tano", "state": "home"})
	assert.Equal(t, "person.tano home", summary(ev))

	// readings shown in stable order
	ev = pubsub.NewEvent("temp", pubsub.Fields{"source": "garden", "temp": 10.5, "humidity": 61.0})
	assert.Equal(t, "temp humidity=61 temp=10.5", summary(ev))
}

func TestConfigUpdated(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.db")
	conf, err := config.OpenRaw([]byte("datalogger:\n  path: " + first + "\n"))
	require.NoError(t, err)
	services.Config = conf

	service := &Service{}
	service.ConfigUpdated("hearth/config")
	require.NotNil(t, service.recorder)
	assert.Equal(t, first, service.path)

	// other config paths are not ours
	service.ConfigUpdated("hearth/config/automata")
	assert.Equal(t, first, service.path)

	second := filepath.Join(dir, "b.db")
	conf, err = config.OpenRaw([]byte("datalogger:\n  path: " + second + "\n"))
	require.NoError(t, err)
	services.Config = conf
	service.ConfigUpdated("hearth/config")
	assert.Equal(t, second, service.path)
	service.recorder.Close()
}

func TestRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	conf, err := config.OpenRaw([]byte("datalogger:\n  path: " + path + "\n  topics: [light]\n"))
	require.NoError(t, err)
	services.Config = conf
	sub := &dummy.Subscriber{}
	services.Subscriber = sub
	sub.Events = []*pubsub.Event{
		pubsub.NewEvent("light", pubsub.Fields{"device": "light.kitchen", "command": "on"}),
		pubsub.NewEvent("query", pubsub.Fields{"query": "status"}),
	}

	service := &Service{}
	require.NoError(t, service.Run())

	status := service.queryStatus(services.Question{Verb: "status"})
	assert.Equal(t, "1 events in "+path, status)

	recent := service.queryRecent(services.Question{Verb: "recent"})
	assert.Contains(t, recent, "light.kitchen on")

	recent = service.queryRecent(services.Question{Verb: "recent", Args: "temp.garden"})
	assert.Equal(t, "no events", recent)

	service.recorder.Close()
}
