// Copyright 2026 © The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// vigild is the Vigil error telemetry daemon. It loads configuration,
// opens the durable store, and runs the engine with its retention worker
// until interrupted. Configuration file changes apply without a restart.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jllopis/vigil/pkg/alert"
	"github.com/jllopis/vigil/pkg/config"
	"github.com/jllopis/vigil/pkg/engine"
	"github.com/jllopis/vigil/pkg/report"
	"github.com/jllopis/vigil/pkg/store"
	"github.com/jllopis/vigil/pkg/telemetry"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vigild %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "vigild: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	log.Info("vigild.start", slog.String("version", version))

	shutdownTelemetry, err := telemetry.InitWithConfig("vigild", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shCtx); err != nil {
			log.Warn("vigild.telemetry.shutdown.error", slog.String("error", err.Error()))
		}
	}()

	var durable store.KV
	if cfg.Store.Path != "" {
		kv, err := store.OpenSQLiteKV(cfg.Store.Path)
		if err != nil {
			// Degraded mode: records live in memory only for this run.
			log.Warn("vigild.store.degraded",
				slog.String("path", cfg.Store.Path),
				slog.String("error", err.Error()),
			)
		} else {
			durable = kv
			defer kv.Close()
			log.Info("vigild.store.open", slog.String("path", cfg.Store.Path))
		}
	}

	metrics, err := telemetry.NewEngineMetrics(ctx)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	engCfg, err := engineConfig(cfg.Engine, log)
	if err != nil {
		return fmt.Errorf("build engine config: %w", err)
	}

	engOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(metrics),
	}
	if v := cfg.Engine.Health.RequestVolume; v > 0 {
		engOpts = append(engOpts, engine.WithVolumeProvider(func(string) float64 { return v }))
	}

	eng := engine.New(
		store.New(durable, store.WithLogger(log)),
		notifiers(cfg.Engine.Alerts.Channels, log),
		engCfg,
		engOpts...,
	)
	eng.StartCleanupWorker()
	defer func() {
		if err := eng.Shutdown(context.Background()); err != nil {
			log.Warn("vigild.engine.shutdown.error", slog.String("error", err.Error()))
		}
	}()

	if configPath != "" {
		watcher, err := config.NewWatcher([]string{configPath},
			config.WithWatchInterval(5*time.Second),
			config.WithWatchLogger(log),
		)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		watcher.OnChange(func(c *config.Config) {
			next, err := engineConfig(c.Engine, log)
			if err != nil {
				log.Error("vigild.config.reload.error", slog.String("error", err.Error()))
				return
			}
			eng.UpdateConfig(next)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	<-ctx.Done()
	log.Info("vigild.stop")
	return nil
}

// engineConfig translates the file/env configuration into the engine's
// runtime configuration. A policy file, when set, overrides the inline
// alert settings.
func engineConfig(ec config.EngineConfig, log *slog.Logger) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if ec.RetentionDays > 0 {
		cfg.RetentionDays = ec.RetentionDays
	}
	if ec.CleanupIntervalHours > 0 {
		cfg.CleanupInterval = time.Duration(ec.CleanupIntervalHours) * time.Hour
	}
	if ec.Fingerprint.MessagePrefixLen > 0 {
		cfg.Fingerprint.MessagePrefixLen = ec.Fingerprint.MessagePrefixLen
	}
	if ec.Fingerprint.Length > 0 {
		cfg.Fingerprint.Length = ec.Fingerprint.Length
	}

	cfg.AutoResolve = engine.AutoResolve{
		Enabled:    ec.AutoResolve.Enabled,
		MaxAge:     time.Duration(ec.AutoResolve.MaxAgeHours) * time.Hour,
		Categories: categories(ec.AutoResolve.Categories),
	}

	if ec.Alerts.PolicyFile != "" {
		policy, err := alert.LoadPolicy(ec.Alerts.PolicyFile)
		if err != nil {
			return cfg, fmt.Errorf("load alert policy: %w", err)
		}
		cfg.Alerts = policy
		log.Info("vigild.alert.policy.file", slog.String("path", ec.Alerts.PolicyFile))
		return cfg, nil
	}

	cfg.Alerts = alert.Policy{
		Enabled:           ec.Alerts.Enabled,
		SeverityThreshold: report.ParseSeverity(ec.Alerts.SeverityThreshold),
		Categories:        categories(ec.Alerts.Categories),
		IncludeDetails:    ec.Alerts.IncludeDetails,
		RateLimit: alert.RateLimit{
			MaxAlerts:         ec.Alerts.RateLimit.MaxAlerts,
			TimeWindowMinutes: ec.Alerts.RateLimit.TimeWindowMinutes,
		},
	}
	if len(cfg.Alerts.Categories) == 0 {
		cfg.Alerts.Categories = engine.DefaultConfig().Alerts.Categories
	}
	for _, ch := range ec.Alerts.Channels {
		cfg.Alerts.Channels = append(cfg.Alerts.Channels, ch.Name)
	}
	return cfg, nil
}

func categories(names []string) []report.Category {
	out := make([]report.Category, 0, len(names))
	for _, n := range names {
		out = append(out, report.Category(n))
	}
	return out
}

// notifiers builds one channel per configured entry. Entries without a
// webhook URL log instead of posting; with no channels at all, a single
// log channel keeps alerts visible.
func notifiers(channels []config.ChannelConfig, log *slog.Logger) []alert.Notifier {
	if len(channels) == 0 {
		return []alert.Notifier{alert.NewLogNotifier("log", log)}
	}
	out := make([]alert.Notifier, 0, len(channels))
	for _, ch := range channels {
		if ch.Webhook != "" {
			out = append(out, alert.NewWebhookNotifier(ch.Name, ch.Webhook))
		} else {
			out = append(out, alert.NewLogNotifier(ch.Name, log))
		}
	}
	return out
}
