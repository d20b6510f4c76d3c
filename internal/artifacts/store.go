package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const reportSuffix = ".report.json"

// Store persists raw audit reports on disk, one file per run ID. It is the
// side channel behind the keep-artifacts flag; records in the sinks refer
// back to these files through the run ID.
type Store struct {
	dir string
	now func() time.Time
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure artifact dir %q: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Save writes one raw report keyed by its run ID and returns the path.
func (s *Store) Save(runID string, raw []byte) (string, error) {
	if strings.ContainsAny(runID, "/\\") || runID == "" {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	path := filepath.Join(s.dir, runID+reportSuffix)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("write artifact %q: %w", path, err)
	}
	return path, nil
}

// Prune removes reports older than maxAge and returns how many were removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read artifact dir %q: %w", s.dir, err)
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), reportSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// RunJanitor prunes on a fixed cadence until the context is cancelled.
func (s *Store) RunJanitor(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = s.Prune(maxAge)
		}
	}
}
