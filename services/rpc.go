package services

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/tanodd/hearth/pubsub"
)

// QueryChannel queries over the bus with `query`, returning a channel of
// answers that closes after `timeout`.
func QueryChannel(query string, timeout time.Duration) <-chan *pubsub.Event {
	reply_to := fmt.Sprintf("_rpc.%d", rand.Int())
	ch := Subscriber.Subscribe(pubsub.Exact(reply_to))

	SendQuery(query, "rpc", "", reply_to)

	// close the listener after timeout
	go func() {
		time.Sleep(timeout)
		Subscriber.Close(ch)
	}()

	return ch
}
