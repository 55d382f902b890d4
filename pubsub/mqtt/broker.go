package mqtt

import (
	"fmt"
	"log"
	"os"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/tanodd/hearth/pubsub"
)

// Prefix namespacing all mqtt topics.
const Prefix = "hearth/"

type Broker struct {
	broker     string
	client     MQTT.Client
	subscriber *Subscriber
}

func NewBroker(broker string, name string) *Broker {
	// generate a client id unique to this service and host
	hostname, _ := os.Hostname()
	pid := os.Getpid()
	clientId := fmt.Sprintf("hearth/%s-%s-%d", name, hostname, pid)

	self := &Broker{broker: broker}
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientId)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(self.connectHandler)
	opts.SetConnectionLostHandler(self.connectionLostHandler)
	opts.SetDefaultPublishHandler(self.publishHandler)

	self.client = MQTT.NewClient(opts)
	if token := self.client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln("Couldn't connect to mqtt:", token.Error())
	}
	return self
}

func (self *Broker) Id() string {
	return "mqtt: " + self.broker
}

func (self *Broker) connectHandler(client MQTT.Client) {
	if self.subscriber != nil {
		self.subscriber.connectHandler(client)
	}
}

func (self *Broker) connectionLostHandler(client MQTT.Client, err error) {
	log.Println("Lost mqtt connection:", err)
}

func (self *Broker) publishHandler(client MQTT.Client, msg MQTT.Message) {
	if self.subscriber != nil {
		self.subscriber.publishHandler(client, msg)
	}
}

func (self *Broker) Subscriber() pubsub.Subscriber {
	if self.subscriber == nil {
		self.subscriber = NewSubscriber(self, false)
	}
	return self.subscriber
}

func (self *Broker) Publisher() *Publisher {
	return &Publisher{broker: self.broker, client: self.client}
}
