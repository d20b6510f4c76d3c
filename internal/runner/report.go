package runner

import (
	"encoding/json"
	"fmt"

	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

// report mirrors the slice of the audit engine's JSON output the agent
// consumes. Timing numericValues are milliseconds, byte weight is bytes.
type report struct {
	Categories struct {
		Performance struct {
			Score *float64 `json:"score"`
		} `json:"performance"`
	} `json:"categories"`
	Audits map[string]reportAudit `json:"audits"`
}

type reportAudit struct {
	Score        *float64 `json:"score"`
	NumericValue *float64 `json:"numericValue"`
}

// ParseReport condenses a raw engine report into a MetricSample.
func ParseReport(raw []byte) (sample.MetricSample, error) {
	var rep report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return sample.MetricSample{}, fmt.Errorf("parse report: %w", err)
	}
	if rep.Categories.Performance.Score == nil {
		return sample.MetricSample{}, fmt.Errorf("report has no performance score")
	}

	s := sample.MetricSample{
		Performance:          *rep.Categories.Performance.Score,
		FirstContentfulPaint: rep.timed("first-contentful-paint"),
		FirstMeaningfulPaint: rep.timed("first-meaningful-paint"),
		SpeedIndex:           rep.timed("speed-index"),
		Interactive:          rep.timed("interactive"),
		FirstCPUIdle:         rep.timed("first-cpu-idle"),
	}
	if a, ok := rep.Audits["total-byte-weight"]; ok && a.NumericValue != nil {
		s.TotalByteWeight = *a.NumericValue
	}
	return s, nil
}

// timed reads one timing audit, converting milliseconds to seconds.
// A missing audit yields zeros rather than an error: engine versions differ
// in which audits they emit.
func (r report) timed(name string) sample.Timed {
	a, ok := r.Audits[name]
	if !ok {
		return sample.Timed{}
	}
	var t sample.Timed
	if a.NumericValue != nil {
		t.Seconds = *a.NumericValue / 1000
	}
	if a.Score != nil {
		t.Score = *a.Score
	}
	return t
}
