package powermanager

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Prometheus gauges the Manager updates on every evaluate
// phase. A Manager registers these against the registerer passed to New;
// callers not wanting Prometheus wiring can pass prometheus.NewRegistry().
type metrics struct {
	nodePowerMW   *prometheus.GaugeVec
	nodeDuty      *prometheus.GaugeVec
	totalPowerMW  prometheus.Gauge
	budgetMW      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metrics{
		nodePowerMW: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dcmesh",
			Subsystem: "powermanager",
			Name:      "node_power_mw",
			Help:      "Last measured power draw per node, in milliwatts.",
		}, []string{"node_id"}),
		nodeDuty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dcmesh",
			Subsystem: "powermanager",
			Name:      "node_commanded_duty_percent",
			Help:      "Last commanded PWM duty percent per node.",
		}, []string{"node_id"}),
		totalPowerMW: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dcmesh",
			Subsystem: "powermanager",
			Name:      "total_power_mw",
			Help:      "Aggregate power draw across responsive nodes, in milliwatts.",
		}),
		budgetMW: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dcmesh",
			Subsystem: "powermanager",
			Name:      "budget_mw",
			Help:      "Current power budget, 90% of the configured threshold.",
		}),
	}

	reg.MustRegister(m.nodePowerMW, m.nodeDuty, m.totalPowerMW, m.budgetMW)
	return m
}
