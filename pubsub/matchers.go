package pubsub

import "strings"

// Topics form a slash-separated hierarchy ("command/light.kitchen",
// "alert"). Matchers select the slice of the bus a subscriber sees.

// ExactTopic matches a single topic.
type ExactTopic struct {
	Exact string
}

func Exact(topic string) *ExactTopic {
	return &ExactTopic{Exact: topic}
}

func (t *ExactTopic) Match(topic string) bool {
	return topic == t.Exact
}

// PrefixTopic matches a topic and everything below it in the hierarchy,
// so "command" takes in "command/panel.hall" but not "commands".
type PrefixTopic struct {
	Prefix string
}

func Prefix(topic string) *PrefixTopic {
	return &PrefixTopic{Prefix: topic}
}

func (t *PrefixTopic) Match(topic string) bool {
	if !strings.HasPrefix(topic, t.Prefix) {
		return false
	}
	rest := topic[len(t.Prefix):]
	return rest == "" || rest[0] == '/'
}

// AllTopic matches the whole bus.
type AllTopic struct{}

func All() *AllTopic {
	return &AllTopic{}
}

func (t *AllTopic) Match(string) bool {
	return true
}
