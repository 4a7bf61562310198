// Command patchsim fakes one smart patch's PPG, IMU, temperature and
// voltage streams and feeds them straight into a Hub, so the DSP stage and
// the local-logging sink stage can be exercised end to end without
// hardware. The BLE supervisor is not involved. Grounded on
// original_source/AdditionalFunctionality/SmartPatchSimulator.py; the
// simulated waveform generation mirrors the teacher's
// internal/testutils mock-peripheral builders' philosophy of feeding a
// connection known values, but talks directly to a Hub instead of reusing
// the build-tag-gated, internal/device/go-ble-coupled test suite.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/dsp"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
	"github.com/srg/patchstation/internal/output"
	"github.com/srg/patchstation/internal/sink"
)

const simulatedPatch = model.PatchID("aa:bb:cc:dd:ee:ff")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Default()
	cfg.PublishToThingsboard = false
	cfg.LocalDataLogging = true
	cfg.LogRoot = "./patchsim-data"

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	h := hub.New()
	h.SeedMapping(simulatedPatch, "sim-patient")
	h.MarkConnected(simulatedPatch, "sim-1.0.0")

	output.Banner(cfg)
	fmt.Printf("patchsim: streaming synthetic data for patch %s\n", simulatedPatch)

	go streamSyntheticSamples(ctx, h)

	dataSink := sink.NewSink(h, cfg, nil, logger)
	go func() {
		if err := dataSink.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("patchsim: sink exited")
		}
	}()

	pipeline := dsp.NewPipeline(h, cfg, logger)
	if err := pipeline.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("patchsim: dsp pipeline exited")
	}
}

// streamSyntheticSamples emits PPG and IMU samples at 100Hz (a 1.2Hz
// heartbeat-like PPG waveform) and one temperature and one voltage sample
// per second; audio and current are not simulated. Mirrors
// SmartPatchSimulator.py's periodic notification loop.
func streamSyntheticSamples(ctx context.Context, h *hub.Hub) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(42))
	var i int64
	slowCounter := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := float64(i) / 100.0
			ts := time.Now().UnixMilli()

			green := math.Sin(2*math.Pi*1.2*t) + 0.02*rng.Float64()
			red := 0.6*math.Sin(2*math.Pi*1.2*t) + 0.02*rng.Float64()
			ir := 0.8*math.Sin(2*math.Pi*1.2*t) + 0.02*rng.Float64()
			h.AppendRaw(simulatedPatch, model.RawSample{TsMs: ts, Char: model.CharPPG, Values: []float64{red, ir, green}})

			h.AppendRaw(simulatedPatch, model.RawSample{
				TsMs: ts, Char: model.CharIMU,
				Values: []float64{1, 1, 1, 100, 100, 9800},
			})

			slowCounter++
			if slowCounter%100 == 0 {
				h.AppendRaw(simulatedPatch, model.RawSample{TsMs: ts, Char: model.CharTemperature, Values: []float64{7000}})
				h.AppendRaw(simulatedPatch, model.RawSample{TsMs: ts, Char: model.CharVoltage, Values: []float64{4100}})
			}

			i++
		}
	}
}
