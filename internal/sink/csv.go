package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

var csvHeader = []string{
	"url", "kind", "performance",
	"first_contentful_paint_s", "first_meaningful_paint_s", "speed_index_s",
	"first_cpu_idle_s", "interactive_s", "total_byte_weight",
}

// Kind markers used in the persisted column, fixed wire values.
const (
	markerPartial   = "PARTIAL"
	markerAggregate = "GMEAN"
	markerError     = "ERROR"
)

// CSVSink appends run records to a single CSV file. The header is written
// once, when the sink creates or first extends an empty file.
type CSVSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func OpenCSV(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("ensure output dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open output %q: %w", path, err)
	}
	s := &CSVSink{file: file, w: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat output %q: %w", path, err)
	}
	if info.Size() == 0 {
		if err := s.w.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return s, nil
}

func (s *CSVSink) Record(rec sample.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Write(csvRow(rec)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.file.Close()
}

func csvRow(rec sample.RunRecord) []string {
	kind := markerError
	switch rec.Kind {
	case sample.KindPartial:
		kind = markerPartial
	case sample.KindAggregate:
		kind = markerAggregate
	}
	if rec.Kind == sample.KindError {
		// Error rows carry no metrics, only the URL and the marker.
		return []string{rec.URL, kind, "", "", "", "", "", "", ""}
	}
	m := rec.Sample
	return []string{
		rec.URL,
		kind,
		fmt.Sprintf("%.3f", m.Performance),
		fmt.Sprintf("%.3f", m.FirstContentfulPaint.Seconds),
		fmt.Sprintf("%.3f", m.FirstMeaningfulPaint.Seconds),
		fmt.Sprintf("%.3f", m.SpeedIndex.Seconds),
		fmt.Sprintf("%.3f", m.FirstCPUIdle.Seconds),
		fmt.Sprintf("%.3f", m.Interactive.Seconds),
		fmt.Sprintf("%.0f", m.TotalByteWeight),
	}
}
