package mqtt

import (
	"log"
	"strings"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/tanodd/hearth/pubsub"
)

const qos = 1

// subscription fans bus events matching a set of topics onto a channel.
type subscription struct {
	C        chan *pubsub.Event
	matchers []pubsub.Topic
}

// deliver sends event to the subscription if any matcher selects it.
func (sub *subscription) deliver(event *pubsub.Event) {
	for _, m := range sub.matchers {
		if m.Match(event.Topic) {
			sub.C <- event
			return
		}
	}
}

// Subscriber dispatches incoming mqtt messages onto per-subscription
// channels, reference counting the underlying mqtt patterns so each is
// released when the last listener goes.
type Subscriber struct {
	broker        *Broker
	subscriptions []subscription
	mu            sync.Mutex
	refs          map[string]int
	refsMu        sync.RWMutex
	persist       bool
}

func NewSubscriber(broker *Broker, persist bool) *Subscriber {
	return &Subscriber{broker: broker, refs: map[string]int{}, persist: persist}
}

func (self *Subscriber) ID() string {
	return self.broker.Id()
}

func (self *Subscriber) publishHandler(client MQTT.Client, msg MQTT.Message) {
	topic := strings.TrimPrefix(msg.Topic(), Prefix)
	event := pubsub.Parse(string(msg.Payload()), topic)
	if event == nil {
		return
	}
	event.SetRetained(msg.Retained())
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, sub := range self.subscriptions {
		sub.deliver(event)
	}
}

func (self *Subscriber) connectHandler(client MQTT.Client) {
	if self.persist {
		return // unnecessary on persistent connections
	}
	// (re)subscribe when (re)connected
	subs := map[string]byte{}
	self.refsMu.RLock()
	for pattern := range self.refs {
		subs[pattern] = qos
	}
	self.refsMu.RUnlock()

	if len(subs) == 0 {
		return
	}
	log.Println("Connected, subscribing:", subs)
	self.subscribeAll(subs)
}

func (self *Subscriber) subscribeAll(subs map[string]byte) {
	// nil handler: messages arrive through the default handler
	if token := self.broker.client.SubscribeMultiple(subs, nil); token.Wait() && token.Error() != nil {
		log.Println("Error subscribing:", token.Error())
	}
}

// release drops one reference to an mqtt pattern, unsubscribing on the last.
func (self *Subscriber) release(pattern string) {
	self.refsMu.Lock()
	self.refs[pattern] -= 1
	remaining := self.refs[pattern]
	if remaining <= 0 {
		delete(self.refs, pattern)
	}
	self.refsMu.Unlock()

	if remaining <= 0 {
		if token := self.broker.client.Unsubscribe(pattern); token.Wait() && token.Error() != nil {
			log.Println("Error unsubscribing:", token.Error())
		}
	}
}

// mqttTopic maps a bus matcher onto an mqtt subscription pattern.
func mqttTopic(topic pubsub.Topic) string {
	switch topic := topic.(type) {
	case *pubsub.AllTopic:
		return Prefix + "#"
	case *pubsub.ExactTopic:
		return Prefix + topic.Exact
	case *pubsub.PrefixTopic:
		// '#' also matches the parent level itself
		return Prefix + topic.Prefix + "/#"
	default:
		log.Panicln("Topic type unsupported")
	}
	return ""
}

func (self *Subscriber) Subscribe(topics ...pubsub.Topic) <-chan *pubsub.Event {
	// take references, noting patterns not yet subscribed
	subs := map[string]byte{}
	self.refsMu.Lock()
	for _, topic := range topics {
		pattern := mqttTopic(topic)
		if self.refs[pattern] == 0 {
			subs[pattern] = qos
		}
		self.refs[pattern] += 1
	}
	self.refsMu.Unlock()

	sub := subscription{
		C:        make(chan *pubsub.Event, 16),
		matchers: topics,
	}
	self.mu.Lock()
	self.subscriptions = append(self.subscriptions, sub)
	self.mu.Unlock()

	if len(subs) > 0 {
		self.subscribeAll(subs)
	}
	return sub.C
}

func (self *Subscriber) Close(channel <-chan *pubsub.Event) {
	var closing *subscription
	var keep []subscription
	self.mu.Lock()
	for _, sub := range self.subscriptions {
		if channel == sub.C {
			s := sub
			closing = &s
		} else {
			keep = append(keep, sub)
		}
	}
	self.subscriptions = keep
	self.mu.Unlock()

	if closing == nil {
		return
	}
	for _, m := range closing.matchers {
		self.release(mqttTopic(m))
	}
	close(closing.C)
}
