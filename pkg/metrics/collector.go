// Package metrics aggregates client-side wire statistics and exposes them
// as a prometheus.Collector.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts traffic and protocol events across the lifetime of a
// client. All counters are monotonic; rates are derived by the scraper.
type Collector struct {
	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	publishes  atomic.Int64
	deliveries atomic.Int64
	returns    atomic.Int64

	confirmAcks  atomic.Int64
	confirmNacks atomic.Int64

	channelCloses      atomic.Int64
	connectionFailures atomic.Int64

	descBytesIn            *prometheus.Desc
	descBytesOut           *prometheus.Desc
	descPublishes          *prometheus.Desc
	descDeliveries         *prometheus.Desc
	descReturns            *prometheus.Desc
	descConfirmAcks        *prometheus.Desc
	descConfirmNacks       *prometheus.Desc
	descChannelCloses      *prometheus.Desc
	descConnectionFailures *prometheus.Desc
}

func NewCollector() *Collector {
	return &Collector{
		descBytesIn: prometheus.NewDesc("otterwire_bytes_in_total",
			"Bytes read from the broker.", nil, nil),
		descBytesOut: prometheus.NewDesc("otterwire_bytes_out_total",
			"Bytes written to the broker.", nil, nil),
		descPublishes: prometheus.NewDesc("otterwire_publishes_total",
			"Messages published.", nil, nil),
		descDeliveries: prometheus.NewDesc("otterwire_deliveries_total",
			"Messages delivered to consumers.", nil, nil),
		descReturns: prometheus.NewDesc("otterwire_returns_total",
			"Unroutable mandatory messages returned by the broker.", nil, nil),
		descConfirmAcks: prometheus.NewDesc("otterwire_confirm_acks_total",
			"Publisher confirms acknowledged.", nil, nil),
		descConfirmNacks: prometheus.NewDesc("otterwire_confirm_nacks_total",
			"Publisher confirms rejected.", nil, nil),
		descChannelCloses: prometheus.NewDesc("otterwire_channel_closes_total",
			"Channels closed, by either peer.", nil, nil),
		descConnectionFailures: prometheus.NewDesc("otterwire_connection_failures_total",
			"Connections lost to protocol faults or heartbeat timeouts.", nil, nil),
	}
}

func (c *Collector) AddBytesIn(n int)       { c.bytesIn.Add(int64(n)) }
func (c *Collector) AddBytesOut(n int)      { c.bytesOut.Add(int64(n)) }
func (c *Collector) IncPublishes()          { c.publishes.Add(1) }
func (c *Collector) IncDeliveries()         { c.deliveries.Add(1) }
func (c *Collector) IncReturns()            { c.returns.Add(1) }
func (c *Collector) IncConfirmAcks()        { c.confirmAcks.Add(1) }
func (c *Collector) IncConfirmNacks()       { c.confirmNacks.Add(1) }
func (c *Collector) IncChannelCloses()      { c.channelCloses.Add(1) }
func (c *Collector) IncConnectionFailures() { c.connectionFailures.Add(1) }

// Stats is a point-in-time snapshot for the JSON stats endpoint.
type Stats struct {
	BytesIn            int64 `json:"bytes_in"`
	BytesOut           int64 `json:"bytes_out"`
	Publishes          int64 `json:"publishes"`
	Deliveries         int64 `json:"deliveries"`
	Returns            int64 `json:"returns"`
	ConfirmAcks        int64 `json:"confirm_acks"`
	ConfirmNacks       int64 `json:"confirm_nacks"`
	ChannelCloses      int64 `json:"channel_closes"`
	ConnectionFailures int64 `json:"connection_failures"`
}

func (c *Collector) Snapshot() Stats {
	return Stats{
		BytesIn:            c.bytesIn.Load(),
		BytesOut:           c.bytesOut.Load(),
		Publishes:          c.publishes.Load(),
		Deliveries:         c.deliveries.Load(),
		Returns:            c.returns.Load(),
		ConfirmAcks:        c.confirmAcks.Load(),
		ConfirmNacks:       c.confirmNacks.Load(),
		ChannelCloses:      c.channelCloses.Load(),
		ConnectionFailures: c.connectionFailures.Load(),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descBytesIn
	ch <- c.descBytesOut
	ch <- c.descPublishes
	ch <- c.descDeliveries
	ch <- c.descReturns
	ch <- c.descConfirmAcks
	ch <- c.descConfirmNacks
	ch <- c.descChannelCloses
	ch <- c.descConnectionFailures
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	counter(c.descBytesIn, c.bytesIn.Load())
	counter(c.descBytesOut, c.bytesOut.Load())
	counter(c.descPublishes, c.publishes.Load())
	counter(c.descDeliveries, c.deliveries.Load())
	counter(c.descReturns, c.returns.Load())
	counter(c.descConfirmAcks, c.confirmAcks.Load())
	counter(c.descConfirmNacks, c.confirmNacks.Load())
	counter(c.descChannelCloses, c.channelCloses.Load())
	counter(c.descConnectionFailures, c.connectionFailures.Load())
}
