package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var degradedCoordinators = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "lumen",
	Subsystem: "coordinator",
	Name:      "degraded",
	Help:      "Loaded entries whose coordinator has crossed its failure threshold, as of the last health sweep.",
})
