package supervisor

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	up       *prometheus.GaugeVec
	restarts *prometheus.CounterVec
	exits    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stackinit_child_up",
			Help: "Whether a supervised process is currently running.",
		}, []string{"program"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackinit_child_restarts_total",
			Help: "Number of times a supervised process was restarted.",
		}, []string{"program"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackinit_child_exits_total",
			Help: "Number of times a supervised process exited.",
		}, []string{"program"}),
	}
	if reg != nil {
		reg.MustRegister(m.up, m.restarts, m.exits)
	}
	return m
}
