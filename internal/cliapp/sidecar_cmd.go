package cliapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crossbridge-dev/crossbridge/internal/config"
	"github.com/crossbridge-dev/crossbridge/internal/health"
	"github.com/crossbridge-dev/crossbridge/internal/port"
	sc "github.com/crossbridge-dev/crossbridge/internal/sidecar"
)

var sidecarCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Run or probe the CrossBridge sidecar",
}

var testConnectionURL string

func init() {
	sidecarCmd.AddCommand(sidecarStartCmd)
	sidecarCmd.AddCommand(sidecarTestConnectionCmd)
	sidecarTestConnectionCmd.Flags().StringVar(&testConnectionURL, "url", "http://localhost:9090", "sidecar base URL")
}

var sidecarStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch the event-observer HTTP sidecar",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd.Context())

		metrics, _, err := health.NewMetrics()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		agg := health.NewAggregator(cfg.Runtime.HealthChecks.ColdStartGrace)

		sideCfg := toSidecarConfig(cfg)
		if cfg.Sidecar.AutoDiscoverPort || cfg.Sidecar.Port == 0 {
			pm := port.NewManager(cfg.Sidecar.Host, cfg.Sidecar.Port, cfg.Sidecar.PortRange, cfg.Sidecar.AutoDiscoverPort, rootLog)
			sideCfg.Port = pm.DeterminePort()
		}

		side := sc.New(sideCfg, metrics, agg, rootLog)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- side.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Execution.GraceTerminationSec)*time.Second)
			defer cancel()
			return side.Stop(shutdownCtx)
		case err := <-errCh:
			return err
		}
	},
}

var sidecarTestConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Probe a running sidecar's /health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(testConnectionURL + "/health")
		if err != nil {
			return fmt.Errorf("sidecar unreachable at %s: %w", testConnectionURL, err)
		}
		defer resp.Body.Close()

		var snapshot health.Overall
		_ = json.NewDecoder(resp.Body).Decode(&snapshot)

		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(snapshot)
		}
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		status := green(string(snapshot.Status))
		if snapshot.Status != health.StatusHealthy {
			status = red(string(snapshot.Status))
		}
		fmt.Printf("sidecar %s: %s\n", testConnectionURL, status)
		for name, comp := range snapshot.Components {
			fmt.Printf("  %-20s %s %s\n", name, comp.Status, comp.Message)
		}
		return nil
	},
}

func toSidecarConfig(cfg *config.Config) sc.Config {
	rates := map[sc.EventType]float64{
		sc.EventTypeEvents:    cfg.Sidecar.Sampling.Events,
		sc.EventTypeTraces:    cfg.Sidecar.Sampling.Traces,
		sc.EventTypeProfiling: cfg.Sidecar.Sampling.Profiling,
		sc.EventTypeTestEvent: cfg.Sidecar.Sampling.TestEvents,
	}
	return sc.Config{
		Host:             cfg.Sidecar.Host,
		Port:             cfg.Sidecar.Port,
		MaxQueueSize:     cfg.Sidecar.MaxQueueSize,
		WorkerPoolSize:   cfg.Sidecar.WorkerPoolSize,
		Rates:            rates,
		Adaptive: sc.AdaptiveConfig{
			Enabled:       cfg.Sidecar.Adaptive.Enabled,
			BoostFactor:   cfg.Sidecar.Adaptive.BoostFactor,
			BoostDuration: cfg.Sidecar.Adaptive.BoostDuration,
		},
		MaxCPUPercent:    cfg.Sidecar.MaxCPUPercent,
		MaxMemoryMB:      cfg.Sidecar.MaxMemoryMB,
		SamplingInterval: cfg.Runtime.Profiling.SamplingInterval,
		RetentionWindow:  cfg.Runtime.Profiling.RetentionWindow,
		ShutdownGrace:    10 * time.Second,
	}
}
