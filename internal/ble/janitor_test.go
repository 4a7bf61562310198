package ble

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
)

func TestRunJanitor_RemovesStaleDisconnectIntents(t *testing.T) {
	h := hub.New()
	cfg := testSettings()
	cfg.JanitorInterval = 10 * time.Millisecond
	logger := logrus.New()
	logger.SetOutput(testLogWriter{t})

	h.SetIntent("aa:bb:cc:dd:ee:03", model.Intent{Kind: model.Disconnect})
	h.MarkConnected("aa:bb:cc:dd:ee:04", "1.0.0")
	h.SetIntent("aa:bb:cc:dd:ee:04", model.Intent{Kind: model.Disconnect})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go runJanitor(ctx, h, cfg, logger)

	require.Eventually(t, func() bool {
		return !h.HasDisconnectIntent("aa:bb:cc:dd:ee:03")
	}, 150*time.Millisecond, 5*time.Millisecond)

	// Still-connected patch's disconnect intent must survive the sweep.
	require.True(t, h.HasDisconnectIntent("aa:bb:cc:dd:ee:04"))
}
