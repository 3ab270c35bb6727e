package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradesim/internal/schema"
)

const namespace = "tradesim"

var (
	eventsDesc     = prometheus.NewDesc(namespace+"_events_total", "Events published on the bus.", []string{"type"}, nil)
	riskDesc       = prometheus.NewDesc(namespace+"_risk_decisions_total", "Pre-trade risk decisions by reason.", []string{"reason"}, nil)
	faultsDesc     = prometheus.NewDesc(namespace+"_subsystem_faults_total", "Recovered panics per tick phase.", []string{"phase"}, nil)
	dropsDesc      = prometheus.NewDesc(namespace+"_queue_drops_total", "Events dropped on a full bus.", nil, nil)
	ticksDesc      = prometheus.NewDesc(namespace+"_ticks_total", "Engine steps executed.", nil, nil)
	tickAvgDesc    = prometheus.NewDesc(namespace+"_tick_duration_avg_seconds", "Average wall time of one step.", nil, nil)
	tickMaxDesc    = prometheus.NewDesc(namespace+"_tick_duration_max_seconds", "Slowest step.", nil, nil)
	orderFlowDesc  = prometheus.NewDesc(namespace+"_order_flow_avg_seconds", "Average virtual time from submission to fill.", nil, nil)
	riskLatencyDes = prometheus.NewDesc(namespace+"_risk_eval_avg_seconds", "Average risk evaluation time.", nil, nil)
)

// Collector exposes Metrics to a prometheus registry.
type Collector struct {
	m *Metrics
}

// NewCollector wraps metrics for prometheus.
func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{eventsDesc, riskDesc, faultsDesc, dropsDesc, ticksDesc, tickAvgDesc, tickMaxDesc, orderFlowDesc, riskLatencyDes} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	for t, v := range s.EventCounts {
		ch <- prometheus.MustNewConstMetric(eventsDesc, prometheus.CounterValue, float64(v), t.String())
	}
	for r, v := range s.RiskReasonCounts {
		ch <- prometheus.MustNewConstMetric(riskDesc, prometheus.CounterValue, float64(v), r.String())
	}
	for phase, v := range s.Faults {
		ch <- prometheus.MustNewConstMetric(faultsDesc, prometheus.CounterValue, float64(v), phase)
	}
	ch <- prometheus.MustNewConstMetric(dropsDesc, prometheus.CounterValue, float64(s.QueueDrops))
	ch <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(s.Ticks))
	ch <- prometheus.MustNewConstMetric(tickAvgDesc, prometheus.GaugeValue, s.TickLatency.Avg.Seconds())
	ch <- prometheus.MustNewConstMetric(tickMaxDesc, prometheus.GaugeValue, s.TickLatency.Max.Seconds())
	ch <- prometheus.MustNewConstMetric(orderFlowDesc, prometheus.GaugeValue, s.OrderFlowLatency.Avg.Seconds())
	ch <- prometheus.MustNewConstMetric(riskLatencyDes, prometheus.GaugeValue, s.RiskEvalLatency.Avg.Seconds())
}

// Register installs the metrics collector and the account gauges.
func Register(reg prometheus.Registerer, m *Metrics, portfolio func() schema.Portfolio) error {
	if err := reg.Register(NewCollector(m)); err != nil {
		return err
	}
	if portfolio == nil {
		return nil
	}
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "equity",
		Help:      "Portfolio equity.",
	}, func() float64 { return portfolio().Equity.InexactFloat64() })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cash",
		Help:      "Portfolio cash.",
	}, func() float64 { return portfolio().Cash.InexactFloat64() })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "margin_used",
		Help:      "Margin held by open leveraged positions.",
	}, func() float64 { return portfolio().MarginUsed.InexactFloat64() })
	return nil
}
