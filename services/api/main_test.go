package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanodd/hearth/config"
	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/pubsub/dummy"
	"github.com/tanodd/hearth/services"
)

func Example_interfaces() {
	var _ services.Service = (*Service)(nil)
	// Output:
}

func ExampleIndex() {
	rec := httptest.NewRecorder()
	r := http.Request{}
	apiIndex(rec, &r)
	fmt.Println(rec.Body)
	// Output:
	// <html>Hearth is listening</html>
}

func Example_devicesSingle() {
	services.Stor = services.NewMockStore()
	services.Config = config.ExampleConfig
	rec := httptest.NewRecorder()
	r := http.Request{}
	apiDevicesSingle(rec, &r, map[string]string{"device": "light.kitchen"})
	fmt.Println(rec.Body)
	// Output:
	// {"id":"light.kitchen","name":"Kitchen","type":"light","group":"downstairs","location":"Kitchen","source":"hue.1","caps":["light"],"aliases":null,"state":null}
}

func Example_devicesSingleNotFound() {
	services.Config = config.ExampleConfig
	rec := httptest.NewRecorder()
	r := http.Request{}
	apiDevicesSingle(rec, &r, map[string]string{"device": "abc"})
	fmt.Println(rec.Body)
	// Output:
	// not found: abc
}

func TestDevices(t *testing.T) {
	services.Config = config.ExampleConfig
	services.Stor = services.NewMockStore()
	ev := pubsub.NewEvent("temp", pubsub.Fields{"source": "garden", "temp": 10.4})
	services.Stor.Set("hearth/state/devices/temp.garden", ev.String())

	rec := httptest.NewRecorder()
	r := http.Request{}
	apiDevices(rec, &r)

	var ret map[string]struct {
		Name  string                 `json:"name"`
		State map[string]interface{} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	assert.Len(t, ret, len(config.ExampleConfig.Devices))
	garden := ret["temp.garden"]
	assert.Equal(t, "Garden temperature", garden.Name)
	require.NotNil(t, garden.State)
	assert.Equal(t, 10.4, garden.State["temp"])
	assert.Nil(t, ret["light.kitchen"].State)
}

func TestDevicesControl(t *testing.T) {
	services.Config = config.ExampleConfig
	pub := &dummy.Publisher{}
	services.Publisher = pub

	rec := httptest.NewRecorder()
	uri, _ := url.Parse("http://example.com/devices/control?id=light.kitchen&command=dim&level=50")
	r := http.Request{URL: uri}
	apiDevicesControl(rec, &r)

	assert.Equal(t, "true\n", rec.Body.String())
	require.Len(t, pub.Events, 1)
	ev := pub.Events[0]
	assert.Equal(t, "command/light.kitchen", ev.Topic)
	assert.Equal(t, "dim", ev.Command())
	assert.Equal(t, 50.0, ev.Fields["level"])
}

func TestDevicesControlSwitch(t *testing.T) {
	services.Config = config.ExampleConfig
	pub := &dummy.Publisher{}
	services.Publisher = pub

	rec := httptest.NewRecorder()
	uri, _ := url.Parse("http://example.com/devices/control?id=light.kitchen&control=1")
	r := http.Request{URL: uri}
	apiDevicesControl(rec, &r)

	require.Len(t, pub.Events, 1)
	assert.Equal(t, "on", pub.Events[0].Command())
}

func TestDevicesControlUnknown(t *testing.T) {
	services.Config = config.ExampleConfig
	pub := &dummy.Publisher{}
	services.Publisher = pub

	rec := httptest.NewRecorder()
	uri, _ := url.Parse("http://example.com/devices/control?id=abc")
	r := http.Request{URL: uri}
	apiDevicesControl(rec, &r)

	assert.Equal(t, 404, rec.Code)
	assert.Empty(t, pub.Events)
}

func TestQueryProxy(t *testing.T) {
	pub := &dummy.Publisher{}
	services.Publisher = pub
	services.Subscriber = &dummy.Subscriber{}

	rec := httptest.NewRecorder()
	uri, _ := url.Parse("http://example.com/query/panel/status")
	r := http.Request{URL: uri}
	apiQuery(rec, &r)

	require.Len(t, pub.Events, 1)
	ev := pub.Events[0]
	assert.Equal(t, "query", ev.Topic)
	assert.Equal(t, "panel/status", ev.StringField("query"))
	assert.Contains(t, ev.StringField("reply_to"), "_rpc.")
}

func TestEventsFeed(t *testing.T) {
	services.Config = config.ExampleConfig
	wake := pubsub.NewEvent("panel", pubsub.Fields{"device": "panel.hall", "source": "panel", "command": "wake"})
	temp := pubsub.NewEvent("temp", pubsub.Fields{"source": "garden", "temp": 10.5})
	services.Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{wake, temp}}

	rec := httptest.NewRecorder()
	uri, _ := url.Parse("http://example.com/events/feed?topics=panel")
	r := http.Request{URL: uri}
	apiEventsFeed(rec, &r)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\r\n")
	require.Len(t, lines, 1)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &msg))
	assert.Equal(t, "panel", msg["topic"])
	assert.Equal(t, "panel.hall", msg["device"])
	assert.Equal(t, "wake", msg["command"])
}

func TestEventsFeedAll(t *testing.T) {
	services.Config = config.ExampleConfig
	wake := pubsub.NewEvent("panel", pubsub.Fields{"device": "panel.hall", "source": "panel", "command": "wake"})
	temp := pubsub.NewEvent("temp", pubsub.Fields{"source": "garden", "temp": 10.5})
	services.Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{wake, temp}}

	rec := httptest.NewRecorder()
	uri, _ := url.Parse("http://example.com/events/feed")
	r := http.Request{URL: uri}
	apiEventsFeed(rec, &r)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\r\n")
	require.Len(t, lines, 2)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &msg))
	// device resolved for events lacking one
	assert.Equal(t, "temp.garden", msg["device"])
}

func TestEventsWs(t *testing.T) {
	services.Config = config.ExampleConfig
	wake := pubsub.NewEvent("panel", pubsub.Fields{"device": "panel.hall", "source": "panel", "command": "wake"})
	services.Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{wake}}

	server := httptest.NewServer(router())
	defer server.Close()

	addr := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws?topics=panel"
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "panel", msg["topic"])
	assert.Equal(t, "panel.hall", msg["device"])
	assert.Equal(t, "wake", msg["command"])
}

func TestConfigEndpoint(t *testing.T) {
	store := services.NewMockStore()
	services.Stor = store
	store.Set("hearth/config", "devices:\n")
	pub := &dummy.Publisher{}
	services.Publisher = pub
	uri, _ := url.Parse("http://example.com/config?path=hearth/config")

	rec := httptest.NewRecorder()
	r := http.Request{URL: uri, Method: "GET"}
	apiConfig(rec, &r)
	assert.Equal(t, "devices:\n", rec.Body.String())

	rec = httptest.NewRecorder()
	r = http.Request{URL: uri, Method: "POST", Body: io.NopCloser(strings.NewReader("devices: {}\n"))}
	apiConfig(rec, &r)
	value, err := store.Get("hearth/config")
	require.NoError(t, err)
	assert.Equal(t, "devices: {}\n", value)
	require.Len(t, pub.Events, 1)
	// the main config is redistributed in full, retained
	assert.Equal(t, "config", pub.Events[0].Topic)
	assert.Equal(t, "devices: {}\n", pub.Events[0].StringField("config"))
	assert.True(t, pub.Events[0].Retained)

	// posting unchanged content does not reemit
	rec = httptest.NewRecorder()
	r = http.Request{URL: uri, Method: "POST", Body: io.NopCloser(strings.NewReader("devices: {}\n"))}
	apiConfig(rec, &r)
	assert.Len(t, pub.Events, 1)
}

func TestConfigEndpointSubconfig(t *testing.T) {
	store := services.NewMockStore()
	services.Stor = store
	store.Set("hearth/config/automata", "")
	pub := &dummy.Publisher{}
	services.Publisher = pub

	uri, _ := url.Parse("http://example.com/config?path=hearth/config/automata")
	rec := httptest.NewRecorder()
	r := http.Request{URL: uri, Method: "POST", Body: io.NopCloser(strings.NewReader("automata:\n"))}
	apiConfig(rec, &r)

	value, err := store.Get("hearth/config/automata")
	require.NoError(t, err)
	assert.Equal(t, "automata:\n", value)
	require.Len(t, pub.Events, 1)
	// subconfigs are notified by path, services reread the store
	assert.Equal(t, "hearth/config/automata", pub.Events[0].StringField("path"))
}

func TestRecordEvents(t *testing.T) {
	services.Config = config.ExampleConfig
	store := services.NewMockStore()
	services.Stor = store
	temp := pubsub.NewEvent("temp", pubsub.Fields{"source": "garden", "temp": 10.5})
	rpc := pubsub.NewEvent("query", pubsub.Fields{"query": "status"})
	services.Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{temp, rpc}}

	recordEvents()

	value, err := store.Get("hearth/state/devices/temp.garden")
	require.NoError(t, err)
	assert.Contains(t, value, `"temp":10.5`)
	// bus plumbing is not recorded
	nodes, _ := store.GetRecursive("hearth/state/devices")
	assert.Len(t, nodes, 1)
}

func TestCORSPreflight(t *testing.T) {
	handler := CORSHandler{Handler: http.NotFoundHandler()}
	handler.SupportsCredentials = true
	handler.AllowHeaders = func(headers []string) bool {
		for _, header := range headers {
			if header != "accept" && header != "authorization" {
				return false
			}
		}
		return true
	}

	rec := httptest.NewRecorder()
	r, _ := http.NewRequest("OPTIONS", "http://example.com/devices", nil)
	r.Header.Set("Origin", "http://dash.local")
	r.Header.Set("Access-Control-Request-Method", "GET")
	r.Header.Set("Access-Control-Request-Headers", "Accept, Authorization")
	handler.ServeHTTP(rec, r)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "accept, authorization", rec.Header().Get("Access-Control-Allow-Headers"))

	rec = httptest.NewRecorder()
	r.Header.Set("Access-Control-Request-Headers", "X-Custom")
	handler.ServeHTTP(rec, r)
	assert.Equal(t, 403, rec.Code)
}
