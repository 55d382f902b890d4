package panel

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// API serves the companion app push endpoints and the dashboard control
// endpoints.
type API struct {
	coordinator *Coordinator
	link        *Link
	brightness  *Brightness
}

func NewAPI(coordinator *Coordinator, link *Link, brightness *Brightness) *API {
	return &API{coordinator: coordinator, link: link, brightness: brightness}
}

func (self *API) Router() http.Handler {
	router := mux.NewRouter()
	router.Path("/presence/proximity").Methods("POST").HandlerFunc(self.postProximity)
	router.Path("/presence/light").Methods("POST").HandlerFunc(self.postLight)
	router.Path("/presence/state").Methods("GET").HandlerFunc(self.getState)
	router.Path("/device/status").Methods("GET").HandlerFunc(self.getStatus)
	router.Path("/device/screen/wake").Methods("POST").HandlerFunc(self.postWake)
	router.Path("/device/screen/sleep").Methods("POST").HandlerFunc(self.postSleep)
	router.Path("/device/brightness").Methods("POST").HandlerFunc(self.postBrightness)
	router.Path("/device/autoBrightness").Methods("POST").HandlerFunc(self.postAutoBrightness)
	router.Path("/device/link/address").Methods("POST").HandlerFunc(self.postAddress)
	return router
}

func jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": err.Error()})
}

func (self *API) postProximity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Near               *bool `json:"near"`
		IdleTimeoutSeconds int   `json:"idleTimeoutSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Near == nil {
		jsonError(w, http.StatusBadRequest, errors.New("near required"))
		return
	}
	self.coordinator.ObserveProximity(ProximityReading{
		Near:        *body.Near,
		At:          Clock(),
		Source:      SourcePush,
		IdleTimeout: time.Duration(body.IdleTimeoutSeconds) * time.Second,
	})
	jsonResponse(w, map[string]interface{}{"success": true})
}

func (self *API) postLight(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lux *float64 `json:"lux"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Lux == nil {
		jsonError(w, http.StatusBadRequest, errors.New("lux required"))
		return
	}
	self.coordinator.ObserveLight(LightReading{
		Lux:    *body.Lux,
		At:     Clock(),
		Source: SourcePush,
	})
	jsonResponse(w, map[string]interface{}{
		"success":    true,
		"brightness": self.brightness.Target(*body.Lux),
	})
}

func (self *API) getState(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, stateFields(self.coordinator.Snapshot()))
}

func stateFields(s Snapshot) map[string]interface{} {
	var deadline interface{}
	if s.IdleDeadline != nil {
		deadline = s.IdleDeadline.Format(time.RFC3339)
	}
	return map[string]interface{}{
		"near":               s.Near,
		"lux":                s.Lux,
		"lastProximityAt":    timeField(s.LastProximity),
		"lastLightAt":        timeField(s.LastLight),
		"idleDeadline":       deadline,
		"idleTimeoutSeconds": int(s.IdleTimeout.Seconds()),
	}
}

func timeField(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func (self *API) getStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := self.coordinator.Snapshot()
	connected := false
	fields := map[string]interface{}{
		"screenOn": snapshot.ScreenOn,
	}
	if self.link.Connected() {
		if st, err := self.link.Status(); err == nil {
			connected = true
			fields["screenOn"] = st.ScreenOn
			fields["brightness"] = st.Brightness
			fields["batteryLevel"] = st.BatteryLevel
			fields["batteryCharging"] = st.BatteryCharging
			fields["screenTimeout"] = st.ScreenTimeout
		}
	}
	fields["connected"] = connected
	if !connected {
		if err := self.link.LastError(); err != nil {
			fields["error"] = err.Error()
		}
	}
	jsonResponse(w, fields)
}

func (self *API) postWake(w http.ResponseWriter, r *http.Request) {
	if err := self.coordinator.ManualWake(); err != nil {
		jsonError(w, http.StatusInternalServerError, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"success": true})
}

func (self *API) postSleep(w http.ResponseWriter, r *http.Request) {
	if err := self.coordinator.ManualSleep(); err != nil {
		jsonError(w, http.StatusInternalServerError, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"success": true})
}

func (self *API) postBrightness(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Brightness *int `json:"brightness"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Brightness == nil {
		jsonError(w, http.StatusBadRequest, errors.New("brightness required"))
		return
	}
	value := *body.Brightness
	if value < 0 || value > 255 {
		jsonError(w, http.StatusBadRequest, errors.New("brightness out of range"))
		return
	}
	if err := self.link.SetBrightness(value); err != nil {
		jsonError(w, http.StatusInternalServerError, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"success": true, "brightness": value})
}

func (self *API) postAutoBrightness(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		jsonError(w, http.StatusBadRequest, errors.New("enabled required"))
		return
	}
	self.brightness.SetEnabled(*body.Enabled)
	jsonResponse(w, map[string]interface{}{"success": true, "enabled": *body.Enabled})
}

// postAddress repoints the device link when the companion app reports a
// new control port, keeping the configured host.
func (self *API) postAddress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Port *int `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Port == nil {
		jsonError(w, http.StatusBadRequest, errors.New("port required"))
		return
	}
	if *body.Port < 1 || *body.Port > 65535 {
		jsonError(w, http.StatusBadRequest, errors.New("port out of range"))
		return
	}
	host, _, err := net.SplitHostPort(self.link.Address())
	if err != nil || host == "" {
		jsonError(w, http.StatusBadRequest, errors.New("no device host configured"))
		return
	}
	address := net.JoinHostPort(host, strconv.Itoa(*body.Port))
	if err := self.link.SetAddress(address); err != nil {
		if errors.Cause(err) == ErrBadAddress {
			jsonError(w, http.StatusBadRequest, err)
		} else {
			jsonError(w, http.StatusInternalServerError, err)
		}
		return
	}
	jsonResponse(w, map[string]interface{}{"success": true, "address": address})
}
