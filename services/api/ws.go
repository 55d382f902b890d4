package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tanodd/hearth/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// dashboards are served from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// apiEventsWs streams events to a websocket client, one json message per
// event. ?topics=a,b limits the stream the same way as the feed.
func apiEventsWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Websocket upgrade failed:", err)
		return
	}
	defer conn.Close()

	ch := subscription(r.URL.Query().Get("topics"))
	defer services.Subscriber.Close(ch)

	closed := make(chan struct{})
	go func() {
		// reads only serve to notice the client going away
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(eventPayload(ev)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
