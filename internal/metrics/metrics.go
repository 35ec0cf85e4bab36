package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for a Cast remote-control session.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry          *prometheus.Registry
	messagesSent      *prometheus.CounterVec
	repliesDispatched prometheus.Counter
	messagesDropped   prometheus.Counter
	handlerErrors     prometheus.Counter
	statusUpdates     prometheus.Counter
	listenerPanics    prometheus.Counter
	httpRequests      *prometheus.CounterVec
}

// New creates and registers the session metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	messagesSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcast_messages_sent_total",
		Help: "Total number of messages sent to the receiver, by namespace",
	}, []string{"namespace"})
	repliesDispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexcast_replies_dispatched_total",
		Help: "Total number of replies delivered to a correlated reply handler",
	})
	messagesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexcast_messages_dropped_total",
		Help: "Total number of inbound messages with no handler for their namespace",
	})
	handlerErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexcast_handler_errors_total",
		Help: "Total number of inbound messages whose handler returned an error",
	})
	statusUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexcast_status_updates_total",
		Help: "Total number of media status replies reconciled into local state",
	})
	listenerPanics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexcast_listener_panics_total",
		Help: "Total number of status listeners that panicked during notification",
	})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcast_http_requests_total",
		Help: "Total number of HTTP control API requests, by method and status code",
	}, []string{"method", "code"})

	registry.MustRegister(
		messagesSent,
		repliesDispatched,
		messagesDropped,
		handlerErrors,
		statusUpdates,
		listenerPanics,
		httpRequests,
	)

	return &Metrics{
		registry:          registry,
		messagesSent:      messagesSent,
		repliesDispatched: repliesDispatched,
		messagesDropped:   messagesDropped,
		handlerErrors:     handlerErrors,
		statusUpdates:     statusUpdates,
		listenerPanics:    listenerPanics,
		httpRequests:      httpRequests,
	}
}

func (m *Metrics) IncMessagesSent(namespace string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(namespace).Inc()
}

func (m *Metrics) IncRepliesDispatched() {
	if m == nil {
		return
	}
	m.repliesDispatched.Inc()
}

func (m *Metrics) IncMessagesDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
}

func (m *Metrics) IncHandlerErrors() {
	if m == nil {
		return
	}
	m.handlerErrors.Inc()
}

func (m *Metrics) IncStatusUpdates() {
	if m == nil {
		return
	}
	m.statusUpdates.Inc()
}

func (m *Metrics) IncListenerPanics() {
	if m == nil {
		return
	}
	m.listenerPanics.Inc()
}

func (m *Metrics) ObserveHTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler returns an http.Handler that serves the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
