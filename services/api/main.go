// Package api is a service providing an HTTP REST API to access hearth and
// control devices.
//
// The endpoints supported are:
//
// http://localhost:8723/query/{service}/{verb}?q=args - query a service, e.g. http://localhost:8723/query/panel/status
//
// http://localhost:8723/devices - list of devices with their last state
//
// http://localhost:8723/devices/{device} - a single device
//
// http://localhost:8723/devices/events - map of device to last event
//
// http://localhost:8723/devices/control?id=device&command=on - control a device
//
// http://localhost:8723/events/feed - continuous live stream of events (line delimited)
//
// http://localhost:8723/events/ws - websocket stream of events
//
// http://localhost:8723/config?path=hearth/config - GET configuration or POST to update configuration
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/tanodd/hearth/config"
	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
	"github.com/tanodd/hearth/util"
)

// Service api
type Service struct {
}

// ID of the service
func (service *Service) ID() string {
	return "api"
}

func errorResponse(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), 500)
}

func apiIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "text/html")
	fmt.Fprintf(w, "<html>Hearth is listening</html>")
}

func jsonResponse(w http.ResponseWriter, obj interface{}) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	err := enc.Encode(obj)
	if err != nil {
		errorResponse(w, err)
	}
}

func query(endpoint string, q string, w http.ResponseWriter) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")

	ch := services.QueryChannel(strings.TrimSpace(endpoint+" "+q), 500*time.Millisecond)

	for ev := range ch {
		fmt.Fprintf(w, ev.String()+"\r\n")
		w.(http.Flusher).Flush()
	}
}

func apiQuery(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path[len("/query/"):]
	q := r.URL.Query().Get("q")
	query(endpoint, q, w)
}

type deviceAndState struct {
	config.DeviceConf
	State interface{} `json:"state"`
}

func getDevicesState() map[string]interface{} {
	ret := make(map[string]interface{})
	nodes, _ := services.Stor.GetRecursive("hearth/state/devices")
	for _, node := range nodes {
		ev := pubsub.Parse(node.Value, "")
		if ev == nil {
			continue
		}
		name := node.Key[strings.LastIndex(node.Key, "/")+1:]
		ret[name] = ev.Map()
	}
	return ret
}

func apiDevices(w http.ResponseWriter, r *http.Request) {
	ret := make(map[string]deviceAndState)
	state := getDevicesState()

	for name, dev := range services.Config.Devices {
		ret[name] = deviceAndState{dev, state[name]}
	}

	jsonResponse(w, ret)
}

func apiDevicesSingle(w http.ResponseWriter, r *http.Request, params map[string]string) {
	name := params["device"]
	dev, ok := services.Config.Devices[name]
	if !ok {
		http.Error(w, "not found: "+name, 404)
		return
	}
	state := getDevicesState()
	jsonResponse(w, deviceAndState{dev, state[name]})
}

func apiDevicesEvents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, getDevicesState())
}

func apiDevicesControl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	device := q.Get("id")
	if _, ok := services.Config.Devices[device]; !ok {
		http.Error(w, "not found: "+device, 404)
		return
	}
	command := q.Get("command")
	if command == "" {
		// on/off switch control
		if q.Get("control") == "1" {
			command = "on"
		} else {
			command = "off"
		}
	}
	ev := pubsub.NewCommand(device, command)
	for key, values := range q {
		if key == "id" || key == "command" || key == "control" {
			continue
		}
		ev.SetField(key, util.ParseArg(values[0]))
	}
	services.Publisher.Emit(ev)
	jsonResponse(w, true)
}

// subscription opens a bus channel, limited to a comma separated topic list
// when given.
func subscription(topics string) <-chan *pubsub.Event {
	if topics == "" {
		return services.Subscriber.Subscribe(pubsub.All())
	}
	var matchers []pubsub.Topic
	for _, topic := range strings.Split(topics, ",") {
		matchers = append(matchers, pubsub.Prefix(topic))
	}
	return services.Subscriber.Subscribe(matchers...)
}

// eventPayload returns the event as a json friendly map, with the device
// name resolved for events that lack one.
func eventPayload(ev *pubsub.Event) map[string]interface{} {
	data := ev.Map()
	if _, ok := data["device"]; !ok {
		data["device"] = services.Config.LookupDeviceName(ev)
	}
	return data
}

func apiEventsFeed(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query().Get("topics")
	w.Header().Add("Content-Type", "application/json; boundary=NL")

	ch := subscription(topics)
	defer services.Subscriber.Close(ch)

	encoder := json.NewEncoder(w)
	for ev := range ch {
		err := encoder.Encode(eventPayload(ev))
		if err != nil {
			break
		}
		w.Write([]byte("\r\n")) // separator
		w.(http.Flusher).Flush()
	}
}

func apiConfig(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		errorResponse(w, errors.New("path parameter required"))
		return
	}

	// retrieve key from store
	value, err := services.Stor.Get(path)
	if err != nil {
		errorResponse(w, err)
		return
	}

	if r.Method == "GET" {
		w.Header().Add("Content-Type", "application/yaml; charset=utf-8")
		w.Write([]byte(value))
	} else if r.Method == "POST" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			errorResponse(w, err)
			return
		}

		sout := string(data)
		if sout != value {
			// set store
			services.Stor.Set(path, sout)
			var ev *pubsub.Event
			if path == "hearth/config" {
				// the main config is distributed by retained event
				ev = pubsub.NewEvent("config", pubsub.Fields{"config": sout})
				ev.SetRetained(true)
			} else {
				ev = pubsub.NewEvent("config", pubsub.Fields{"path": path})
			}
			services.Publisher.Emit(ev)
			log.Printf("%s changed, emitted config event", path)
		}
	}
}

func router() *mux.Router {
	router := mux.NewRouter()
	router.Path("/").HandlerFunc(apiIndex)
	router.PathPrefix("/query/").HandlerFunc(apiQuery)
	router.Path("/devices").HandlerFunc(apiDevices)
	router.Path("/devices/events").HandlerFunc(apiDevicesEvents)
	router.Path("/devices/control").HandlerFunc(apiDevicesControl)
	router.Path("/devices/{device}").HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			apiDevicesSingle(w, r, mux.Vars(r))
		})
	router.Path("/events/feed").HandlerFunc(apiEventsFeed)
	router.Path("/events/ws").HandlerFunc(apiEventsWs)
	router.Path("/config").HandlerFunc(apiConfig)
	return router
}

type loggingHandler struct {
	Handler http.Handler
}

func (service loggingHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Printf("%s %s\n", req.Method, req.RequestURI)
	service.Handler.ServeHTTP(w, req)
}

func httpEndpoint() error {
	// not using handlers.LoggingHandler as it prevents ResponseWriter.Flush
	// being accessed
	var handler http.Handler = router()
	handler = loggingHandler{Handler: handler}
	// Allow CORS+http auth (so the api can be placed behind http auth)
	corsHandler := CORSHandler{Handler: handler}
	corsHandler.SupportsCredentials = true
	corsHandler.AllowHeaders = func(headers []string) bool {
		for _, header := range headers {
			if header != "accept" && header != "authorization" && header != "content-type" {
				return false
			}
		}
		return true
	}
	http.Handle("/", corsHandler)
	addr := ":8723"
	log.Println("Listening on " + addr)
	return http.ListenAndServe(addr, nil)
}

// deviceEvent separates device state from bus plumbing.
func deviceEvent(ev *pubsub.Event) bool {
	switch {
	case ev.Topic == "query" || ev.Topic == "alert" || ev.Topic == "config":
		return false
	case strings.HasPrefix(ev.Topic, "_rpc"):
		return false
	case strings.HasPrefix(ev.Topic, "command"):
		return false
	}
	return true
}

func recordEvents() {
	for ev := range services.Subscriber.Subscribe(pubsub.All()) {
		if !deviceEvent(ev) {
			continue
		}
		// record to store
		device := ev.Device()
		if device == "" {
			device = services.Config.LookupDeviceName(ev)
		}
		key := "hearth/state/devices/" + device
		services.Stor.Set(key, ev.String())
	}
}

// Run the service
func (service *Service) Run() error {
	go recordEvents()
	return httpEndpoint()
}
