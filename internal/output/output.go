// Package output prints the base station's startup banner and
// current-state dumps, grounded on the teacher's color.New(...) usage
// (internal/testutils/textassert.go) and steveyegge-beads/cmd/bd/doctor.go's
// color.Red/color.Green status lines. The Python original's `art`
// ASCII-banner generator has no counterpart in the retrieved pack (see
// DESIGN.md); a bold colored title line replaces it.
package output

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
)

// Banner prints the startup banner: the base station's name and software
// version in bold cyan, mirroring Output.py's startup print but without
// the original's multi-line ASCII art.
func Banner(cfg *config.Settings) {
	title := color.New(color.FgCyan, color.Bold)
	title.Printf("patchstation %s — %s\n", cfg.SoftwareVersion, cfg.BasestationName)

	fmt.Printf("  backend:       %s\n", cfg.BackendURL)
	fmt.Printf("  mqtt broker:   %s:%d\n", cfg.BrokerHost, cfg.BrokerPort)
	fmt.Printf("  max patients:  %d\n", cfg.MaxPatients)
	fmt.Printf("  process data:  %s\n", boolColor(cfg.ProcessData))
	fmt.Printf("  publish tb:    %s\n", boolColor(cfg.PublishToThingsboard))
	fmt.Printf("  local logging: %s\n", boolColor(cfg.LocalDataLogging))
	fmt.Printf("  save raw data: %s\n", boolColor(cfg.SaveRawData))

	if !cfg.PublishToThingsboard && !cfg.LocalDataLogging {
		color.Red("  WARNING: neither publishToThingsboard nor localDataLogging is set — " +
			"processed data will accumulate in memory indefinitely\n")
	}
}

func boolColor(b bool) string {
	if b {
		return color.GreenString("true")
	}
	return color.YellowString("false")
}

// ShowState prints the current hub state, the Go counterpart of
// original_source/Basestation/Output.py's show_state, which ran after
// every control-plane update.
func ShowState(h *hub.Hub) {
	label := color.New(color.Bold)
	label.Printf("[%s] system state: ", time.Now().Format(time.Kitchen))
	fmt.Printf("%d patch(es) mapped\n", h.MappingSize())
}
