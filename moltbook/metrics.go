package moltbook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltagent_api_requests_total",
	Help: "Number of Moltbook API requests, by operation and outcome",
}, []string{"op", "status"})
