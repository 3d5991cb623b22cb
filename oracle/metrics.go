package oracle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var oracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltagent_oracle_requests_total",
	Help: "Number of language model calls, by model and outcome",
}, []string{"model", "status"})
