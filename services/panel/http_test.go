package panel

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	dev         *fakeDevice
	notifier    *fakeNotifier
	coordinator *Coordinator
	link        *Link
	brightness  *Brightness
	server      *httptest.Server
}

func newApiFixture(t *testing.T, link *Link) *apiFixture {
	dev := &fakeDevice{}
	notifier := &fakeNotifier{}
	coordinator := NewCoordinator(dev, notifier, time.Minute, 5*time.Millisecond)
	if link == nil {
		link = NewLink("", time.Second, time.Hour, nil)
	}
	brightness := NewBrightness(dev, coordinator, 10, 255, time.Minute, true)
	api := NewAPI(coordinator, link, brightness)
	server := httptest.NewServer(api.Router())
	t.Cleanup(server.Close)
	t.Cleanup(coordinator.Stop)
	return &apiFixture{
		dev:         dev,
		notifier:    notifier,
		coordinator: coordinator,
		link:        link,
		brightness:  brightness,
		server:      server,
	}
}

func postJSON(t *testing.T, url, body string) (int, map[string]interface{}) {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var data map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&data)
	return resp.StatusCode, data
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var data map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	return resp.StatusCode, data
}

func TestApiProximityScenario(t *testing.T) {
	f := newApiFixture(t, nil)
	atTime(t0)
	f.coordinator.ObserveStatus(Status{ScreenOn: false})
	f.coordinator.ObserveProximity(ProximityReading{Near: false, At: t0, Source: SourcePoll})

	atTime(t0.Add(time.Second))
	code, data := postJSON(t, f.server.URL+"/presence/proximity", `{"near": true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data["success"])

	wakes, _ := f.dev.counts()
	assert.Equal(t, 1, wakes)
	assert.True(t, f.coordinator.Snapshot().ScreenOn)
	// notified on the edge, and once more shortly after
	assert.Eventually(t, func() bool { return f.notifier.wakeCount() == 2 }, time.Second, time.Millisecond)
}

func TestApiProximityValidation(t *testing.T) {
	f := newApiFixture(t, nil)
	code, data := postJSON(t, f.server.URL+"/presence/proximity", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, data["success"])
	code, _ = postJSON(t, f.server.URL+"/presence/proximity", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApiProximityTimeoutOverride(t *testing.T) {
	f := newApiFixture(t, nil)
	atTime(t0)
	code, _ := postJSON(t, f.server.URL+"/presence/proximity", `{"near": false, "idleTimeoutSeconds": 30}`)
	assert.Equal(t, http.StatusOK, code)
	snapshot := f.coordinator.Snapshot()
	assert.Equal(t, 30*time.Second, snapshot.IdleTimeout)
	if assert.NotNil(t, snapshot.IdleDeadline) {
		assert.Equal(t, t0.Add(30*time.Second), *snapshot.IdleDeadline)
	}
}

func TestApiLight(t *testing.T) {
	f := newApiFixture(t, nil)
	atTime(t0)
	code, data := postJSON(t, f.server.URL+"/presence/light", `{"lux": 100}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data["success"])
	// the suggested level for the companion app to apply locally
	assert.Equal(t, float64(100), data["brightness"])

	lux, ok := f.coordinator.LatestLux()
	assert.True(t, ok)
	assert.Equal(t, float64(100), lux)

	code, _ = postJSON(t, f.server.URL+"/presence/light", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApiState(t *testing.T) {
	f := newApiFixture(t, nil)
	atTime(t0)
	f.coordinator.ObserveProximity(ProximityReading{Near: false, At: t0, Source: SourcePush})
	f.coordinator.ObserveLight(LightReading{Lux: 55, At: t0, Source: SourcePush})

	code, data := getJSON(t, f.server.URL+"/presence/state")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data["near"])
	assert.Equal(t, float64(55), data["lux"])
	assert.Equal(t, t0.Format(time.RFC3339), data["lastProximityAt"])
	assert.Equal(t, t0.Format(time.RFC3339), data["lastLightAt"])
	assert.Equal(t, t0.Add(time.Minute).Format(time.RFC3339), data["idleDeadline"])
	assert.Equal(t, float64(60), data["idleTimeoutSeconds"])
}

func TestApiWakeSleep(t *testing.T) {
	f := newApiFixture(t, nil)
	atTime(t0)
	f.coordinator.ObserveStatus(Status{ScreenOn: false})

	code, data := postJSON(t, f.server.URL+"/device/screen/wake", ``)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data["success"])
	wakes, _ := f.dev.counts()
	assert.Equal(t, 1, wakes)

	code, _ = postJSON(t, f.server.URL+"/device/screen/sleep", ``)
	assert.Equal(t, http.StatusOK, code)
	_, sleeps := f.dev.counts()
	assert.Equal(t, 1, sleeps)
}

func TestApiWakeFailure(t *testing.T) {
	f := newApiFixture(t, nil)
	atTime(t0)
	f.coordinator.ObserveStatus(Status{ScreenOn: false})
	f.dev.setErr(errors.New("timeout"))

	code, data := postJSON(t, f.server.URL+"/device/screen/wake", ``)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, data["success"])
	assert.Contains(t, data["error"], "timeout")
}

func TestApiBrightness(t *testing.T) {
	server := newFakePanel(t)
	defer server.close()
	link := NewLink(server.addr(), time.Second, time.Hour, nil)
	link.Start()
	defer link.Stop()
	f := newApiFixture(t, link)

	code, data := postJSON(t, f.server.URL+"/device/brightness", `{"brightness": 128}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data["success"])
	st, err := link.Status()
	assert.NoError(t, err)
	assert.Equal(t, 128, st.Brightness)

	code, _ = postJSON(t, f.server.URL+"/device/brightness", `{"brightness": 300}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = postJSON(t, f.server.URL+"/device/brightness", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApiBrightnessNotConnected(t *testing.T) {
	f := newApiFixture(t, nil)
	code, data := postJSON(t, f.server.URL+"/device/brightness", `{"brightness": 128}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, data["success"])
}

func TestApiAutoBrightness(t *testing.T) {
	f := newApiFixture(t, nil)
	code, data := postJSON(t, f.server.URL+"/device/autoBrightness", `{"enabled": false}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data["enabled"])
	assert.False(t, f.brightness.Enabled())

	code, _ = postJSON(t, f.server.URL+"/device/autoBrightness", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApiDeviceStatus(t *testing.T) {
	server := newFakePanel(t)
	defer server.close()
	server.mu.Lock()
	server.status = Status{ScreenOn: true, Brightness: 42, BatteryLevel: 87, BatteryCharging: true, ScreenTimeout: 30}
	server.mu.Unlock()
	link := NewLink(server.addr(), time.Second, time.Hour, nil)
	link.Start()
	defer link.Stop()
	f := newApiFixture(t, link)

	code, data := getJSON(t, f.server.URL+"/device/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data["connected"])
	assert.Equal(t, true, data["screenOn"])
	assert.Equal(t, float64(42), data["brightness"])
	assert.Equal(t, float64(87), data["batteryLevel"])
	assert.Equal(t, true, data["batteryCharging"])
	assert.Equal(t, float64(30), data["screenTimeout"])
}

func TestApiDeviceStatusDisconnected(t *testing.T) {
	f := newApiFixture(t, nil)
	code, data := getJSON(t, f.server.URL+"/device/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data["connected"])
	// the controller view of the screen is still reported
	assert.Equal(t, true, data["screenOn"])
}

func TestApiSetAddress(t *testing.T) {
	first := newFakePanel(t)
	defer first.close()
	second := newFakePanel(t)
	defer second.close()
	link := NewLink(first.addr(), time.Second, time.Hour, nil)
	link.Start()
	defer link.Stop()
	f := newApiFixture(t, link)

	_, portStr, err := net.SplitHostPort(second.addr())
	require.NoError(t, err)

	code, data := postJSON(t, f.server.URL+"/device/link/address", fmt.Sprintf(`{"port": %s}`, portStr))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, second.addr(), link.Address())
	assert.NoError(t, link.Wake())
	assert.Equal(t, 1, second.wakeCount())

	// out of range ports are a configuration error
	code, _ = postJSON(t, f.server.URL+"/device/link/address", `{"port": 0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = postJSON(t, f.server.URL+"/device/link/address", `{"port": 70000}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = postJSON(t, f.server.URL+"/device/link/address", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	// a dead port is a connection error, the session stays put
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, deadPort, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	code, data = postJSON(t, f.server.URL+"/device/link/address", fmt.Sprintf(`{"port": %s}`, deadPort))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, data["success"])
	assert.Equal(t, second.addr(), link.Address())
}

func TestApiSetAddressNoHost(t *testing.T) {
	f := newApiFixture(t, nil)
	code, _ := postJSON(t, f.server.URL+"/device/link/address", `{"port": 8424}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
