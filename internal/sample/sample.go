package sample

import "time"

// AttemptsPerURL is the fixed number of audit attempts collected per URL
// before aggregation. It is the aggregation sample size, not a retry count.
const AttemptsPerURL = 3

// MetricSample is the condensed metric set of one completed audit.
// Times are seconds, scores are in [0,1], byte weight is bytes.
// A sample is immutable once produced.
type MetricSample struct {
	Performance          float64 `json:"performance"`
	FirstContentfulPaint Timed   `json:"first_contentful_paint"`
	FirstMeaningfulPaint Timed   `json:"first_meaningful_paint"`
	SpeedIndex           Timed   `json:"speed_index"`
	Interactive          Timed   `json:"interactive"`
	FirstCPUIdle         Timed   `json:"first_cpu_idle"`
	TotalByteWeight      float64 `json:"total_byte_weight"`
}

// Timed pairs a metric's measured time in seconds with its Lighthouse score.
type Timed struct {
	Seconds float64 `json:"seconds"`
	Score   float64 `json:"score"`
}

// Kind labels a persisted record.
type Kind string

const (
	// KindPartial is one successful audit attempt out of a URL's batch.
	KindPartial Kind = "partial"
	// KindAggregate is the geometric mean over a URL's successful attempts.
	KindAggregate Kind = "aggregate"
	// KindError marks a URL whose attempts all failed; it carries no sample.
	KindError Kind = "error"
)

// RunRecord is the unit handed to sinks. Error records leave Sample zeroed.
type RunRecord struct {
	URL       string       `json:"url"`
	Kind      Kind         `json:"kind"`
	RunID     string       `json:"run_id,omitempty"`
	Timestamp time.Time    `json:"ts"`
	Sample    MetricSample `json:"sample,omitempty"`
}
