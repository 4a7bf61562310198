package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/patchstation/internal/ble"
	"github.com/srg/patchstation/internal/ble/goble"
	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/dsp"
	"github.com/srg/patchstation/internal/groutine"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/mapping"
	"github.com/srg/patchstation/internal/output"
	"github.com/srg/patchstation/internal/sink"
	"github.com/srg/patchstation/internal/telemetry"
)

func runBasestation(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg := config.Default()
	configPath, _ := cmd.Flags().GetString("config")
	if err := cfg.LoadOverrides(configPath); err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	output.Banner(cfg)
	h := hub.New()

	rest := telemetry.NewRESTClient(cfg.BackendURL, cfg.Username, cfg.Password)
	controller := mapping.NewController(h, cfg, rest, nil, logger)

	logger.Info("stage 1/4: mapping controller initial fetch")
	if err := controller.InitialFetch(ctx); err != nil {
		logger.WithError(err).Warn("mapping: initial fetch failed, continuing with an empty mapping")
	}
	output.ShowState(h)

	mqttClient, err := telemetry.NewMQTTClient(ctx, cfg.BrokerHost, cfg.BrokerPort, cfg.BasestationName, logger)
	if err != nil {
		logger.WithError(err).Warn("mapping: mqtt connect failed, live control-plane updates disabled")
	} else {
		controller = mapping.NewController(h, cfg, rest, mqttClient, logger)
		groutine.Go(ctx, "mapping-controller", func(ctx context.Context) {
			if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("mapping controller exited")
			}
		})
	}

	logger.Info("stage 2/4: starting BLE supervisor")
	if cfg.SaveRawData {
		h.EnableRawTap()
	}
	scheduler := ble.NewScheduler(h, cfg, logger, goble.DialerFactory(logger))
	groutine.Go(ctx, "ble-scheduler", func(ctx context.Context) {
		scheduler.Run(ctx)
	})

	logger.Info("stage 3/4: starting DSP pipeline")
	pipeline := dsp.NewPipeline(h, cfg, logger)
	groutine.Go(ctx, "dsp-pipeline", func(ctx context.Context) {
		if err := pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("dsp pipeline exited")
		}
	})

	logger.Info("stage 4/4: starting sink stage")
	dataSink := sink.NewSink(h, cfg, mqttClient, logger)
	groutine.Go(ctx, "sink", func(ctx context.Context) {
		if err := dataSink.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("sink exited")
		}
	})

	if cfg.SaveRawData {
		rawSink := sink.NewRawSink(h, cfg, mqttClient, logger)
		groutine.Go(ctx, "raw-sink", func(ctx context.Context) {
			if err := rawSink.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("raw sink exited")
			}
		})
	}

	waitForStartup(ctx, h, cfg, logger)

	<-ctx.Done()
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	return ctx.Err()
}

// waitForStartup preserves Basestation.py's main()'s "wait until the
// mapping is non-empty" startup gate, logged instead of busy-printed; it
// never blocks the staged startup above, which has already launched every
// stage concurrently by the time this runs.
func waitForStartup(ctx context.Context, h *hub.Hub, cfg *config.Settings, logger *logrus.Logger) {
	if h.MappingSize() > 0 {
		return
	}
	ticker := time.NewTicker(cfg.InitializationDelay)
	defer ticker.Stop()
	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.MappingSize() > 0 {
				return
			}
		}
	}
	logger.Warn(fmt.Sprintf("startup: no patch mapping observed after %d attempts, continuing anyway", 10))
}
