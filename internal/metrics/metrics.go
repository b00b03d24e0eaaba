// Package metrics holds the relay's Prometheus counters.
package metrics

import (
	"fmt"
	"net/http"

	vm "github.com/VictoriaMetrics/metrics"
)

// Message outcomes on the main queue.
const (
	OutcomeAcked        = "acked"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Send results at the push provider boundary.
const (
	SendSuccess    = "success"
	SendFailure    = "failure"
	SendSuppressed = "suppressed"
)

var (
	ConnectionAttempts = vm.NewCounter(`relay_broker_connection_attempts_total`)
	RepublishFailures  = vm.NewCounter(`relay_republish_failures_total`)
)

// MessageProcessed counts one delivery by its final outcome.
func MessageProcessed(outcome string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`relay_messages_total{outcome=%q}`, outcome)).Inc()
}

// NotificationSent counts one provider send by result.
func NotificationSent(result string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`relay_notifications_total{result=%q}`, result)).Inc()
}

// Handler writes every registered metric in Prometheus text format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		vm.WritePrometheus(w, true)
	})
}
