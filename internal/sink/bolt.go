package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

const bucketRecords = "records"

// BoltSink keeps the full record history in a bbolt database for later
// inspection. Keys sort chronologically: RFC3339Nano timestamp plus the
// run ID (or kind for records without one) to stay unique.
type BoltSink struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltSink, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db %q: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRecords))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history db: %w", err)
	}
	return &BoltSink{db: db}, nil
}

func (s *BoltSink) Record(rec sample.RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords))
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return b.Put([]byte(recordKey(rec)), data)
	})
}

// List returns up to limit records for a URL, newest first. An empty URL
// matches everything.
func (s *BoltSink) List(url string, limit int) ([]sample.RunRecord, error) {
	var out []sample.RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRecords)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec sample.RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if url != "" && rec.URL != url {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltSink) Close() error {
	return s.db.Close()
}

func recordKey(rec sample.RunRecord) string {
	suffix := rec.RunID
	if suffix == "" {
		suffix = string(rec.Kind)
	}
	return rec.Timestamp.UTC().Format(time.RFC3339Nano) + "/" + suffix
}
