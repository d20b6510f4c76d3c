package sink

import (
	"io"
	"log"

	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

// Sink persists one run record. Implementations are append-only: a record,
// once written, is never updated or deleted.
type Sink interface {
	Record(rec sample.RunRecord) error
}

// FailureRecorder counts persistence failures for telemetry.
type FailureRecorder interface {
	IncRecordFailures()
}

// Multi fans a record out to every sink. A failing sink is logged and
// counted but never stops the remaining sinks or the caller: scheduling
// progress outranks persistence completeness.
type Multi struct {
	sinks   []Sink
	logger  *log.Logger
	metrics FailureRecorder
}

func NewMulti(logger *log.Logger, metrics FailureRecorder, sinks ...Sink) *Multi {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sinks: out, logger: logger, metrics: metrics}
}

func (m *Multi) Record(rec sample.RunRecord) error {
	for _, s := range m.sinks {
		if err := s.Record(rec); err != nil {
			m.logger.Printf("sink write failed (url=%s kind=%s): %v", rec.URL, rec.Kind, err)
			if m.metrics != nil {
				m.metrics.IncRecordFailures()
			}
		}
	}
	return nil
}
