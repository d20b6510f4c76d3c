package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "LH_AUDIT_CONFIG"
	DefaultConfigPath = "/etc/lh-audit/auditor.yaml"
)

type Config struct {
	Targets    []string         `yaml:"targets"`
	Window     WindowConfig     `yaml:"window"`
	Engine     EngineConfig     `yaml:"engine"`
	Run        RunConfig        `yaml:"run"`
	Output     OutputConfig     `yaml:"output"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type WindowConfig struct {
	Zone      string `yaml:"zone"`
	StartHour int    `yaml:"start_hour"`
	EndHour   int    `yaml:"end_hour"`
}

type EngineConfig struct {
	Command           string   `yaml:"command"`
	ExtraArgs         []string `yaml:"extra_args"`
	AttemptTimeoutSec int      `yaml:"attempt_timeout_sec"`
	BundlePath        string   `yaml:"bundle_path"`
	SignaturePath     string   `yaml:"signature_path"`
	PublicKey         string   `yaml:"public_key"`
}

type RunConfig struct {
	PollIntervalSec   int     `yaml:"poll_interval_sec"`
	AttemptsPerSecond float64 `yaml:"attempts_per_second"`
	KeepArtifacts     bool    `yaml:"keep_artifacts"`
}

type OutputConfig struct {
	CSVPath             string `yaml:"csv_path"`
	HistoryDB           string `yaml:"history_db"`
	DataDir             string `yaml:"data_dir"`
	ArtifactMaxAgeHours int    `yaml:"artifact_max_age_hours"`
}

type MonitoringConfig struct {
	Listen string `yaml:"listen"`
}

func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}

	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("targets must list at least one URL")
	}
	for i, t := range c.Targets {
		if t == "" {
			return fmt.Errorf("targets[%d] is empty", i)
		}
	}
	if c.Output.CSVPath == "" {
		return fmt.Errorf("output csv_path must be configured")
	}
	if (c.Engine.BundlePath == "") != (c.Engine.SignaturePath == "") {
		return fmt.Errorf("engine bundle_path and signature_path must be set together")
	}
	if c.Engine.BundlePath != "" && c.Engine.PublicKey == "" {
		return fmt.Errorf("engine public_key required when bundle verification is configured")
	}
	return nil
}
