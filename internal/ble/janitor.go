package ble

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
)

// runJanitor implements spec §4.3's janitor task: every 30s it removes
// any Disconnect intent targeting a patch that's not in the connected
// set, cleaning up disconnect requests aimed at already-absent patches.
func runJanitor(ctx context.Context, h *hub.Hub, cfg *config.Settings, logger *logrus.Logger) {
	ticker := time.NewTicker(cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale := h.StaleDisconnectIntents()
			for _, patch := range stale {
				h.ClearIntent(patch)
				logger.WithField("patch", patch).Info("janitor: removed stale disconnect intent for already-absent patch")
			}
		}
	}
}
