// Package config loads runtime configuration for the coordinator and peer
// binaries: environment variables layered over an optional YAML file, with
// env taking precedence. Everything has a working default except the values
// that identify the process on the network.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Coordinator holds the coordinator binary's settings.
type Coordinator struct {
	// Listen is the control-plane HTTP address.
	Listen string `yaml:"listen"`
	// Peers is the candidate peer address list for discovery.
	Peers []string `yaml:"peers"`

	HeartbeatPeriod  time.Duration `yaml:"heartbeat_period"`
	HeartbeatWorkers int           `yaml:"heartbeat_workers"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	LivenessWindow   time.Duration `yaml:"liveness_window"`
	FailureThreshold int           `yaml:"failure_threshold"`

	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	JobRetention    time.Duration `yaml:"job_retention"`
}

// Peer holds the peer binary's settings.
type Peer struct {
	// Bind is the lockstep endpoint address, host:port.
	Bind string `yaml:"bind"`
	// Labels is the classifier label set for the stub engine.
	Labels []string `yaml:"labels"`
	// SimulateMetrics forces fabricated resource readings.
	SimulateMetrics bool `yaml:"simulate_metrics"`
}

// LoadCoordinator reads coordinator config from COORDINATOR_CONFIG (a YAML
// path, optional) and the environment.
//
// Environment:
//   - COORDINATOR_LISTEN: control-plane address (default ":8080")
//   - COORDINATOR_PEERS: comma-separated candidate peer addresses
//   - HEARTBEAT_PERIOD, PROBE_TIMEOUT, DISPATCH_TIMEOUT, LIVENESS_WINDOW,
//     JOB_RETENTION: durations, e.g. "5s"
//   - HEARTBEAT_WORKERS, FAILURE_THRESHOLD, MAX_RETRIES: integers
func LoadCoordinator() (Coordinator, error) {
	cfg := Coordinator{
		Listen:           ":8080",
		HeartbeatPeriod:  5 * time.Second,
		HeartbeatWorkers: 4,
		ProbeTimeout:     2 * time.Second,
		LivenessWindow:   15 * time.Second,
		FailureThreshold: 3,
		DispatchTimeout:  10 * time.Second,
		MaxRetries:       2,
		JobRetention:     10 * time.Minute,
	}

	if path := os.Getenv("COORDINATOR_CONFIG"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Listen = getenv("COORDINATOR_LISTEN", cfg.Listen)
	if v := os.Getenv("COORDINATOR_PEERS"); v != "" {
		cfg.Peers = splitList(v)
	}

	var err error
	if cfg.HeartbeatPeriod, err = getduration("HEARTBEAT_PERIOD", cfg.HeartbeatPeriod); err != nil {
		return cfg, err
	}
	if cfg.ProbeTimeout, err = getduration("PROBE_TIMEOUT", cfg.ProbeTimeout); err != nil {
		return cfg, err
	}
	if cfg.DispatchTimeout, err = getduration("DISPATCH_TIMEOUT", cfg.DispatchTimeout); err != nil {
		return cfg, err
	}
	if cfg.LivenessWindow, err = getduration("LIVENESS_WINDOW", cfg.LivenessWindow); err != nil {
		return cfg, err
	}
	if cfg.JobRetention, err = getduration("JOB_RETENTION", cfg.JobRetention); err != nil {
		return cfg, err
	}
	if cfg.HeartbeatWorkers, err = getint("HEARTBEAT_WORKERS", cfg.HeartbeatWorkers); err != nil {
		return cfg, err
	}
	if cfg.FailureThreshold, err = getint("FAILURE_THRESHOLD", cfg.FailureThreshold); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = getint("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadPeer reads peer config from PEER_CONFIG (optional YAML) and the
// environment.
//
// Environment:
//   - PEER_BIND: lockstep endpoint address (default ":5555")
//   - PEER_LABELS: comma-separated classifier labels
//   - PEER_SIMULATE_METRICS: "true" to force simulated readings
func LoadPeer() (Peer, error) {
	cfg := Peer{
		Bind:   ":5555",
		Labels: []string{"cat", "dog", "bird", "car", "person"},
	}

	if path := os.Getenv("PEER_CONFIG"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Bind = getenv("PEER_BIND", cfg.Bind)
	if v := os.Getenv("PEER_LABELS"); v != "" {
		cfg.Labels = splitList(v)
	}
	if v := os.Getenv("PEER_SIMULATE_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("PEER_SIMULATE_METRICS: %w", err)
		}
		cfg.SimulateMetrics = b
	}
	return cfg, nil
}

func loadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
