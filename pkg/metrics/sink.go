package metrics

import "github.com/mnohosten/repcrec/pkg/events"

// EventSink adapts a Collector to an events.Sink so it can be registered
// on an events.Logger with AddSink and update its counters from the
// live event stream rather than from ad hoc call sites scattered across
// pkg/txnmgr.
type EventSink struct {
	collector *Collector
}

// NewEventSink wraps collector as an events.Sink.
func NewEventSink(collector *Collector) *EventSink {
	return &EventSink{collector: collector}
}

// Notify implements events.Sink. Read-only snapshot reads are logged as the
// same read-response event as locked reads, so both are counted by
// RecordRead; RecordRonly and RecordWaitTicks are not fed from the event
// stream.
func (s *EventSink) Notify(e events.Event) {
	switch e.Kind {
	case events.KindBegin, events.KindBeginReadOnly:
		s.collector.RecordTransactionStart()
	case events.KindReadResponse:
		s.collector.RecordRead()
	case events.KindWriteResponse:
		s.collector.RecordWrite()
	case events.KindCommit:
		s.collector.RecordCommit()
	case events.KindDeadlockAbort:
		s.collector.RecordDeadlockAbort()
	case events.KindSiteFailureAbort:
		s.collector.RecordSiteFailureAbort()
	case events.KindSiteFail:
		s.collector.RecordSiteFailed()
	case events.KindSiteRecover:
		s.collector.RecordSiteRecovered()
	}
}

var _ events.Sink = (*EventSink)(nil)
