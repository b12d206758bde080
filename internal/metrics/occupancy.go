// Package metrics exposes lot state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"smart-parking/internal/parking"
)

// OccupancySource is the read side of the engine the collector scrapes.
type OccupancySource interface {
	Zones() []string
	Occupancy(zone string) parking.OccupancySnapshot
	ActiveSessions() []parking.Session
}

// OccupancyCollector derives occupancy gauges from the registry at scrape
// time. Nothing is cached between scrapes.
type OccupancyCollector struct {
	source OccupancySource

	ratio    *prometheus.Desc
	occupied *prometheus.Desc
	capacity *prometheus.Desc
	sessions *prometheus.Desc
}

func NewOccupancyCollector(source OccupancySource) *OccupancyCollector {
	return &OccupancyCollector{
		source: source,
		ratio: prometheus.NewDesc("parking_occupancy_ratio",
			"Claimed slots over in-service slots, per zone and for the whole lot.",
			[]string{"zone"}, nil),
		occupied: prometheus.NewDesc("parking_slots_occupied",
			"Slots currently reserved or occupied.",
			[]string{"zone"}, nil),
		capacity: prometheus.NewDesc("parking_slots_capacity",
			"Slots in service.",
			[]string{"zone"}, nil),
		sessions: prometheus.NewDesc("parking_sessions_active",
			"Active parking sessions.",
			nil, nil),
	}
}

func (c *OccupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ratio
	ch <- c.occupied
	ch <- c.capacity
	ch <- c.sessions
}

func (c *OccupancyCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectScope(ch, "")
	for _, zone := range c.source.Zones() {
		c.collectScope(ch, zone)
	}
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(len(c.source.ActiveSessions())))
}

func (c *OccupancyCollector) collectScope(ch chan<- prometheus.Metric, zone string) {
	snap := c.source.Occupancy(zone)
	ch <- prometheus.MustNewConstMetric(c.ratio, prometheus.GaugeValue, snap.Ratio, snap.Scope)
	ch <- prometheus.MustNewConstMetric(c.occupied, prometheus.GaugeValue, float64(snap.Occupied), snap.Scope)
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(snap.Capacity), snap.Scope)
}
