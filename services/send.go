package services

import "github.com/tanodd/hearth/pubsub"

// SendAlert emits an alert for the notification services to deliver.
// target selects the deliverer ("telegram"). A non-empty subtopic tags
// repeatable alerts so the receiver can rate limit them to interval.
func SendAlert(message string, target string, subtopic string, interval int64) {
	ev := pubsub.NewEvent("alert", pubsub.Fields{
		"message": message,
		"target":  target,
	})
	if subtopic != "" {
		ev.SetField("subtopic", subtopic)
		ev.SetField("interval", interval)
	}
	Publisher.Emit(ev)
}

// SendQuery emits a query on behalf of source. Answers arrive on the
// reply_to topic, or the alert topic when blank, echoing remote so the
// caller can correlate them.
func SendQuery(query, source, remote, reply_to string) {
	ev := pubsub.NewEvent("query", pubsub.Fields{
		"source":   source,
		"query":    query,
		"remote":   remote,
		"reply_to": reply_to,
	})
	Publisher.Emit(ev)
}
