package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commitFanouts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "coordinator_commits_total",
	Help: "the number of transactions committed through the change coordinator",
})
