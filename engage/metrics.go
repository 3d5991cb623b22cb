package engage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("moltagent")

var engagementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltagent_engagements_total",
	Help: "Number of posts and comments written (including dry-run)",
}, []string{"kind", "mode"})

var opportunitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltagent_opportunities_total",
	Help: "Number of candidate threads evaluated, by outcome",
}, []string{"action"})

var policyDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltagent_policy_denials_total",
	Help: "Number of writes refused by a policy gate",
}, []string{"gate"})

var cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "moltagent_cycle_duration_seconds",
	Help:    "Duration of one engagement cycle",
	Buckets: prometheus.ExponentialBuckets(1, 2, 10),
})
