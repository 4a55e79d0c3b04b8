package pseudotcp

import (
	"time"

	"github.com/nullbridge/pseudotcp/seqnum"
)

// Recorder receives observability events from a Conn. It exists so the core
// engine never imports a metrics library directly; internal/metrics
// implements it on top of Prometheus, the way stack.Stack keeps transport
// implementations decoupled from any particular wire protocol.
//
// Every method must return quickly; it is called synchronously from the
// engine's hot paths.
type Recorder interface {
	ObserveRetransmit()
	ObserveFastRetransmit()
	ObserveRTO()
	ObserveCongestionWindow(bytes int)
	ObserveSlowStartThreshold(bytes int)
	ObserveSRTT(d time.Duration)
	ObserveBytesInFlight(bytes int)
	// ObserveLargestAcked reports the highest sequence number ever
	// acknowledged. Kept for observability only, per the teacher's
	// untouched `m_largest` field; nothing in the engine consults it.
	ObserveLargestAcked(v seqnum.Value)
}

// noopRecorder discards all events. It is the default when a Conn is
// constructed without an explicit Recorder.
type noopRecorder struct{}

func (noopRecorder) ObserveRetransmit()                       {}
func (noopRecorder) ObserveFastRetransmit()                   {}
func (noopRecorder) ObserveRTO()                               {}
func (noopRecorder) ObserveCongestionWindow(int)               {}
func (noopRecorder) ObserveSlowStartThreshold(int)             {}
func (noopRecorder) ObserveSRTT(time.Duration)                 {}
func (noopRecorder) ObserveBytesInFlight(int)                  {}
func (noopRecorder) ObserveLargestAcked(seqnum.Value)          {}
