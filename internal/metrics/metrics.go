// Package metrics implements pseudotcp.Recorder on top of Prometheus,
// exposing per-engine counters and gauges the way m-lab/tcp-info exposes
// kernel tcp_info fields -- except these are sourced straight from the
// engine's own state, since pseudotcp has no kernel counterpart to poll.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nullbridge/pseudotcp/seqnum"
)

var (
	retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pseudotcp_retransmits_total",
		Help: "Number of segments retransmitted after the RTO timer expired.",
	})

	fastRetransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pseudotcp_fast_retransmits_total",
		Help: "Number of segments retransmitted on the third duplicate ack.",
	})

	rtoEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pseudotcp_rto_events_total",
		Help: "Number of times the retransmission timeout estimate was updated.",
	})

	congestionWindow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pseudotcp_congestion_window_bytes",
		Help: "Current congestion window, in bytes.",
	})

	slowStartThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pseudotcp_slow_start_threshold_bytes",
		Help: "Current slow start threshold, in bytes.",
	})

	bytesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pseudotcp_bytes_in_flight",
		Help: "Bytes sent but not yet acknowledged.",
	})

	largestAcked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pseudotcp_largest_acked",
		Help: "Highest sequence number ever acknowledged. Observability only.",
	})

	smoothedRTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "pseudotcp_srtt_seconds",
		Help: "Smoothed round trip time estimate, per RFC 6298.",
		Buckets: []float64{
			0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
		},
	})
)

// Recorder implements pseudotcp.Recorder by updating package-level
// Prometheus collectors. It is stateless and safe to share across every
// Conn in a process, since a process-wide /metrics endpoint aggregates
// across connections the way m-lab/tcp-info does.
type Recorder struct{}

// New returns a Recorder that reports into the default Prometheus
// registry via promauto.
func New() Recorder { return Recorder{} }

func (Recorder) ObserveRetransmit()     { retransmits.Inc() }
func (Recorder) ObserveFastRetransmit() { fastRetransmits.Inc() }
func (Recorder) ObserveRTO()            { rtoEvents.Inc() }

func (Recorder) ObserveCongestionWindow(bytes int)   { congestionWindow.Set(float64(bytes)) }
func (Recorder) ObserveSlowStartThreshold(bytes int) { slowStartThreshold.Set(float64(bytes)) }
func (Recorder) ObserveBytesInFlight(bytes int)      { bytesInFlight.Set(float64(bytes)) }

func (Recorder) ObserveSRTT(d time.Duration) { smoothedRTT.Observe(d.Seconds()) }

func (Recorder) ObserveLargestAcked(v seqnum.Value) { largestAcked.Set(float64(uint32(v))) }
