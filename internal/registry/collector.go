package registry

import (
	"github.com/l1jgo/realmd/internal/realm"
	"github.com/prometheus/client_golang/prometheus"
)

var worldsDesc = prometheus.NewDesc(
	"realmd_registry_worlds",
	"Known worlds by advertised state.",
	[]string{"state"}, nil,
)

// Collector exports the registry's per-state world counts at scrape time.
type Collector struct {
	reg *Registry
}

func NewCollector(reg *Registry) *Collector {
	return &Collector{reg: reg}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- worldsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counts := map[realm.WorldState]int{realm.Offline: 0, realm.Closed: 0, realm.Available: 0}
	for _, w := range c.reg.GetAll() {
		counts[w.State]++
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(worldsDesc, prometheus.GaugeValue, float64(n), state.String())
	}
}
