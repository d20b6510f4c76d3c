package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

const (
	defaultCommand        = "lighthouse"
	defaultAttemptTimeout = 2 * time.Minute
)

// RunMeta carries per-attempt bookkeeping alongside the parsed sample: a
// stable run identifier and the raw report bytes for the artifact store.
type RunMeta struct {
	RunID string
	Raw   []byte
}

// Runner produces one audit sample per invocation. A failed attempt is
// non-fatal to the batch; callers tolerate fewer successes than attempts.
type Runner interface {
	RunOnce(ctx context.Context, url string) (sample.MetricSample, RunMeta, error)
}

// Config controls how the audit engine process is launched.
type Config struct {
	// Command is the audit engine binary, "lighthouse" when empty.
	Command string
	// ExtraArgs are appended after the built-in flags.
	ExtraArgs []string
	// Timeout bounds one attempt end to end. The engine manages its own
	// browser lifecycle; the bound only guarantees scheduler progress.
	Timeout time.Duration
}

// ExecRunner shells out to the audit engine once per attempt. Each run
// spawns and tears down its own browser; the runner only awaits completion.
type ExecRunner struct {
	cfg   Config
	newID func() string
}

func NewExecRunner(cfg Config) *ExecRunner {
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAttemptTimeout
	}
	return &ExecRunner{cfg: cfg, newID: uuid.NewString}
}

func (r *ExecRunner) RunOnce(ctx context.Context, url string) (sample.MetricSample, RunMeta, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := []string{
		url,
		"--output=json",
		"--output-path=stdout",
		"--quiet",
		"--chrome-flags=--headless --no-sandbox",
	}
	args = append(args, r.cfg.ExtraArgs...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.cfg.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return sample.MetricSample{}, RunMeta{}, fmt.Errorf("audit %q timed out after %s", url, r.cfg.Timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return sample.MetricSample{}, RunMeta{}, fmt.Errorf("audit %q: %s", url, msg)
	}

	raw := stdout.Bytes()
	s, err := ParseReport(raw)
	if err != nil {
		return sample.MetricSample{}, RunMeta{}, fmt.Errorf("audit %q: %w", url, err)
	}

	meta := RunMeta{
		RunID: r.newID(),
		Raw:   append([]byte(nil), raw...),
	}
	return s, meta, nil
}
