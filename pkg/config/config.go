// Copyright 2026 © The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Store     StoreConfig     `koanf:"store"`
	Engine    EngineConfig    `koanf:"engine"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type StoreConfig struct {
	// Path is the SQLite database file. Empty means in-memory only.
	Path string `koanf:"path"`
}

type EngineConfig struct {
	RetentionDays        int               `koanf:"retention_days"`
	CleanupIntervalHours int               `koanf:"cleanup_interval_hours"`
	Fingerprint          FingerprintConfig `koanf:"fingerprint"`
	AutoResolve          AutoResolveConfig `koanf:"auto_resolve"`
	Alerts               AlertsConfig      `koanf:"alerts"`
	Health               HealthConfig      `koanf:"health"`
}

type HealthConfig struct {
	// RequestVolume is the assumed per-service request volume for the
	// availability estimate. Zero derives a volume from error counts.
	RequestVolume float64 `koanf:"request_volume"`
}

type FingerprintConfig struct {
	MessagePrefixLen int `koanf:"message_prefix_len"`
	Length           int `koanf:"length"`
}

type AutoResolveConfig struct {
	Enabled     bool     `koanf:"enabled"`
	MaxAgeHours int      `koanf:"max_age_hours"`
	Categories  []string `koanf:"categories"`
}

type AlertsConfig struct {
	Enabled           bool            `koanf:"enabled"`
	SeverityThreshold string          `koanf:"severity_threshold"`
	Categories        []string        `koanf:"categories"`
	Channels          []ChannelConfig `koanf:"channels"`
	IncludeDetails    bool            `koanf:"include_details"`
	PolicyFile        string          `koanf:"policy_file"`
	RateLimit         RateLimitConfig `koanf:"rate_limit"`
}

type ChannelConfig struct {
	Name    string `koanf:"name"`
	Webhook string `koanf:"webhook"` // empty means a log-backed channel
}

type RateLimitConfig struct {
	MaxAlerts         int `koanf:"max_alerts"`
	TimeWindowMinutes int `koanf:"time_window_minutes"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")

	k.Set("store.path", "vigil.db")

	k.Set("engine.retention_days", 30)
	k.Set("engine.cleanup_interval_hours", 24)
	k.Set("engine.fingerprint.message_prefix_len", 50)
	k.Set("engine.fingerprint.length", 16)
	k.Set("engine.health.request_volume", 0.0)

	k.Set("engine.auto_resolve.enabled", true)
	k.Set("engine.auto_resolve.max_age_hours", 72)
	k.Set("engine.auto_resolve.categories", []string{"rate_limit", "network"})

	k.Set("engine.alerts.enabled", true)
	k.Set("engine.alerts.severity_threshold", "high")
	k.Set("engine.alerts.include_details", true)
	k.Set("engine.alerts.rate_limit.max_alerts", 10)
	k.Set("engine.alerts.rate_limit.time_window_minutes", 60)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (VIGIL_ENGINE_RETENTION_DAYS -> engine.retention_days)
	if err := k.Load(env.Provider("VIGIL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "VIGIL_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
