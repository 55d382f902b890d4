package mqtt

import (
	"log"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/tanodd/hearth/pubsub"
)

// Publisher for mqtt
type Publisher struct {
	broker string
	client MQTT.Client
}

// ID of Publisher
func (pub *Publisher) ID() string {
	return "mqtt: " + pub.broker
}

// Emit an event
func (pub *Publisher) Emit(ev *pubsub.Event) {
	// put all topics under hearth/
	topic := Prefix + ev.Topic
	token := pub.client.Publish(topic, 1, ev.Retained, ev.Bytes())
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Println("Error publishing:", err)
			return
		}
		ev.Published.Set()
	}()
}

// Close the connection
func (pub *Publisher) Close() {
	pub.client.Disconnect(250)
}
