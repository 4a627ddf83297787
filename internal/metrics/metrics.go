package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Dispatches         *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	ModelFallbacks     *prometheus.CounterVec
	ConversationWrites *prometheus.CounterVec
	RateLimited        prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(
			global.Dispatches,
			global.DispatchDuration,
			global.ModelFallbacks,
			global.ConversationWrites,
			global.RateLimited,
			global.HTTPRequests,
		)
	})
	return global
}

// New builds an unregistered set, for tests and custom registries.
func New() *Metrics {
	return &Metrics{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatmux",
			Name:      "dispatch_total",
			Help:      "Provider dispatches by provider and outcome",
		}, []string{"provider", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatmux",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a provider round trip",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		ModelFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatmux",
			Name:      "model_fallback_total",
			Help:      "Dispatches where the selected model was replaced by the provider default",
		}, []string{"provider"}),
		ConversationWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatmux",
			Name:      "conversation_writes_total",
			Help:      "Conversation store writes by operation",
		}, []string{"op"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatmux",
			Name:      "rate_limited_total",
			Help:      "Chat submissions rejected by the rate limiter",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatmux",
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status",
		}, []string{"route", "status"}),
	}
}
