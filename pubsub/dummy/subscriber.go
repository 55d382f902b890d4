package dummy

import "github.com/tanodd/hearth/pubsub"

// Subscriber replays canned events to each subscription, then closes the
// channel so service run loops fall out naturally under test.
type Subscriber struct {
	subscriptions []pubsub.Topic
	Events        []*pubsub.Event
}

func (sub *Subscriber) ID() string {
	return "dummy"
}

func (sub *Subscriber) matches(ev *pubsub.Event) bool {
	for _, topic := range sub.subscriptions {
		if topic.Match(ev.Topic) {
			return true
		}
	}
	return false
}

func (sub *Subscriber) Subscribe(topics ...pubsub.Topic) <-chan *pubsub.Event {
	sub.subscriptions = append(sub.subscriptions, topics...)
	var replay []*pubsub.Event
	for _, ev := range sub.Events {
		if sub.matches(ev) {
			replay = append(replay, ev)
		}
	}

	ch := make(chan *pubsub.Event)
	go func() {
		for _, ev := range replay {
			ch <- ev
		}
		close(ch)
	}()
	return ch
}

func (sub *Subscriber) Close(<-chan *pubsub.Event) {
}
