package sink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

func TestBoltSinkRoundTrip(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer s.Close()

	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	for i, url := range []string{"https://a.example/", "https://b.example/", "https://a.example/"} {
		rec := testRecord(sample.KindPartial)
		rec.URL = url
		rec.RunID = ""
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := s.Record(rec); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	all, err := s.List("", 0)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if !all[0].Timestamp.After(all[1].Timestamp) {
		t.Fatalf("expected newest first, got %v then %v", all[0].Timestamp, all[1].Timestamp)
	}

	forA, err := s.List("https://a.example/", 0)
	if err != nil {
		t.Fatalf("List url: %v", err)
	}
	if len(forA) != 2 {
		t.Fatalf("expected 2 records for a.example, got %d", len(forA))
	}

	limited, err := s.List("", 1)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 record, got %d", len(limited))
	}
	if limited[0].Sample.Performance != 0.9 {
		t.Fatalf("sample did not survive round trip: %v", limited[0].Sample.Performance)
	}
}

func TestBoltSinkDistinctKeysSameTimestamp(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer s.Close()

	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"run-1", "run-2"} {
		rec := testRecord(sample.KindPartial)
		rec.RunID = id
		rec.Timestamp = ts
		if err := s.Record(rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := s.List("", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("same-timestamp records collided, got %d", len(all))
	}
}
