package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return l
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSink_LocalTickWritesCSV(t *testing.T) {
	dir := t.TempDir()
	h := hub.New()
	cfg := config.Default()
	cfg.LogRoot = dir

	s := NewSink(h, cfg, nil, testLogger())
	h.AppendProcessed("aa:bb:cc:dd:ee:01", model.Datapoint{TsMs: 1000, HeartRate: 72})

	s.localTick()

	data, err := os.ReadFile(filepath.Join(dir, "aa:bb:cc:dd:ee:01.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "1000")
	assert.NotContains(t, string(data), "ts_ms") // no header line
}

func TestSink_SilentModeLogsAndBlocks(t *testing.T) {
	h := hub.New()
	cfg := config.Default()
	cfg.PublishToThingsboard = false
	cfg.LocalDataLogging = false

	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)

	s := NewSink(h, cfg, nil, logger)
	assert.NotNil(t, s)

	h.AppendProcessed("aa:bb:cc:dd:ee:01", model.Datapoint{TsMs: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-done:
		t.Fatal("silent mode returned before its context was cancelled")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Contains(t, logs.String(), "neither publishToThingsboard nor localDataLogging is set")
	assert.False(t, h.ProcessedEmpty()) // silent mode never drains
}

func TestRawSink_LocalTickWritesCSV(t *testing.T) {
	dir := t.TempDir()
	h := hub.New()
	cfg := config.Default()
	cfg.RawLogRoot = dir
	cfg.PublishRawData = false

	h.EnableRawTap()
	h.AppendRaw("aa:bb:cc:dd:ee:02", model.RawSample{TsMs: 500, Char: model.CharTemperature, Values: []float64{7000}})

	rs := NewRawSink(h, cfg, nil, testLogger())
	rs.tick()

	data, err := os.ReadFile(filepath.Join(dir, "aa:bb:cc:dd:ee:02.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "temperature")
}

func TestAppendDatapointRow_NoHeaderSingleColumn(t *testing.T) {
	dir := t.TempDir()
	dp := model.Datapoint{TsMs: 1, HeartRate: 60}
	require.NoError(t, appendDatapointRow(dir, "p1", dp))
	require.NoError(t, appendDatapointRow(dir, "p1", dp))

	data, err := os.ReadFile(filepath.Join(dir, "p1.csv"))
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines) // no header: two datapoint rows only

	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Len(t, records[0], 1) // single column per row
	assert.Contains(t, records[0][0], `"HeartRate":60`)
}
