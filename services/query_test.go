package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/pubsub/dummy"
)

type queryService struct {
	handlers QueryHandlers
}

func (service *queryService) ID() string {
	return "panel"
}

func (service *queryService) Run() error {
	return nil
}

func (service *queryService) QueryHandlers() QueryHandlers {
	return service.handlers
}

// runQuery wires up a Queryable service, replays a single query through
// the bus and returns what got published.
func runQuery(query string) *dummy.Publisher {
	Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{
		pubsub.NewEvent("query", pubsub.Fields{
			"query":  query,
			"source": "telegram",
			"remote": "42",
		}),
	}}
	pub := &dummy.Publisher{}
	Publisher = pub
	enabled = []Service{&queryService{QueryHandlers{
		"help":   StaticHandler("panel: status wake sleep"),
		"status": TextHandler(func(q Question) string { return "far, screen on" }),
	}}}
	QuerySubscriber()
	return pub
}

func TestQueryBroadcast(t *testing.T) {
	pub := runQuery("help")
	require.Len(t, pub.Events, 1)
	ev := pub.Events[0]
	assert.Equal(t, "alert", ev.Topic)
	assert.Equal(t, "panel: status wake sleep", ev.StringField("message"))
	assert.Equal(t, "panel", ev.StringField("source"))
	assert.Equal(t, "telegram", ev.StringField("target"))
	assert.Equal(t, "42", ev.StringField("remote"))
}

func TestQueryAddressed(t *testing.T) {
	pub := runQuery("panel/status")
	require.Len(t, pub.Events, 1)
	assert.Equal(t, "far, screen on", pub.Events[0].StringField("message"))
}

func TestQueryAddressedElsewhere(t *testing.T) {
	pub := runQuery("hue/status")
	assert.Empty(t, pub.Events)
}

func TestQueryUnknownVerb(t *testing.T) {
	pub := runQuery("bogus")
	assert.Empty(t, pub.Events)
}
