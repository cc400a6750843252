package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gfermoto/turkovd/internal/config"
	"github.com/gfermoto/turkovd/internal/logging"
	"github.com/gfermoto/turkovd/internal/server"
	"github.com/gfermoto/turkovd/turkov"
)

func main() {
	configPath := envOrDefault("TURKOVD_CONFIG", config.DefaultPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	client, err := turkov.NewClient(turkov.Config{
		BaseURL:  cfg.Turkov.BaseURL,
		Email:    cfg.Turkov.Email,
		Password: cfg.Turkov.Password,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("build client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	if err := client.UpdateUserData(ctx, true); err != nil {
		cancel()
		logger.Error("initial device list sync", "error", err)
		os.Exit(1)
	}
	cancel()

	for id, host := range cfg.Turkov.Hosts {
		device, ok := client.Device(id)
		if !ok {
			logger.Warn("local host configured for unknown device", "device_id", id)
			continue
		}
		if err := device.SetLocalAddress(host.Host, host.Port); err != nil {
			logger.Error("set local address", "device_id", id, "error", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	for _, collector := range turkov.EventCollectors() {
		registry.MustRegister(collector)
	}
	registry.MustRegister(turkov.NewMetricsCollector(client))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "turkovd_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	mux.Handle("/health", server.HealthHandler(func() int { return len(client.Devices()) }))
	mux.Handle("/metrics", server.MetricsHandler(registry))

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, mux)
	logger.Info("serving metrics", "addr", cfg.HTTPAddr, "devices", len(client.Devices()))
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("http serve", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
