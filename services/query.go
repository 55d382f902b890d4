package services

import (
	"strings"

	"github.com/tanodd/hearth/pubsub"
)

// Question is a parsed query from the bus: a verb ("status"), the rest of
// the line as Args, and who asked.
type Question struct {
	Verb string
	Args string
	From string
}

// Answer carries a reply as text, structured json, or both.
type Answer struct {
	Text string
	Json interface{}
}

type QueryHandler func(q Question) Answer

type QueryHandlers map[string]QueryHandler

// Queryable services answer questions addressed to them over the bus.
type Queryable interface {
	ID() string
	QueryHandlers() QueryHandlers
}

// TextHandler adapts a plain string function to a QueryHandler.
func TextHandler(fn func(q Question) string) QueryHandler {
	return func(q Question) Answer {
		return Answer{Text: fn(q)}
	}
}

// StaticHandler answers with a fixed string, handy for "help".
func StaticHandler(msg string) QueryHandler {
	return func(Question) Answer {
		return Answer{Text: msg}
	}
}

func sendAnswer(request *pubsub.Event, source string, answer Answer) {
	fields := pubsub.Fields{
		"source": source,
		"target": request.StringField("source"),
	}
	if answer.Text != "" {
		fields["message"] = answer.Text
	}
	if answer.Json != nil {
		fields["json"] = answer.Json
	}
	if remote := request.StringField("remote"); remote != "" {
		fields["remote"] = remote
	}

	topic := "alert"
	if reply_to := request.StringField("reply_to"); reply_to != "" {
		topic = reply_to
	}
	Publisher.Emit(pubsub.NewEvent(topic, fields))
}

// parseQuestion splits a query like "panel/status verbose" into the
// addressed service (blank for broadcast), the verb and its arguments.
func parseQuestion(ev *pubsub.Event) (limit string, q Question) {
	first, args, _ := strings.Cut(ev.StringField("query"), " ")
	first = strings.ToLower(first)
	if i := strings.Index(first, "/"); i != -1 {
		limit, first = first[:i], first[i+1:]
	}
	q = Question{
		Verb: first,
		Args: args,
		From: ev.StringField("source") + ":" + ev.StringField("remote"),
	}
	return
}

func handleQuery(ev *pubsub.Event, queryables []Queryable) {
	limit, q := parseQuestion(ev)
	for _, service := range queryables {
		if limit != "" && limit != service.ID() {
			continue
		}
		if handler, ok := service.QueryHandlers()[q.Verb]; ok {
			sendAnswer(ev, service.ID(), handler(q))
		}
	}
}

// QuerySubscriber answers queries on the bus from the enabled Queryable
// services, until the subscription closes.
func QuerySubscriber() {
	var queryables []Queryable
	for _, service := range enabled {
		if qs, ok := service.(Queryable); ok {
			queryables = append(queryables, qs)
		}
	}
	if len(queryables) == 0 {
		// nothing to answer with
		return
	}

	for ev := range Subscriber.Subscribe(pubsub.Exact("query")) {
		handleQuery(ev, queryables)
	}
}
