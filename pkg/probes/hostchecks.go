package probes

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

var listProcesses = process.Processes

// Host inspects the machine for indicators that tend to precede or accompany
// an encryption run: known-bad tool processes, persistence entries planted
// in autostart locations and broken snapshot tooling.
type Host struct {
	// SuspiciousProcesses are lowercase process names counted as unauthorized.
	SuspiciousProcesses []string
	// ShadowCopyCommand is executed each cycle; a failure raises the shadow
	// copy flag, since attackers disable snapshot tooling before encrypting.
	// Empty disables the probe.
	ShadowCopyCommand []string
	// AutostartDirs are persistence locations scanned for marker strings.
	AutostartDirs []string
	// AutostartMarkers are the substrings that make an autostart entry count.
	AutostartMarkers []string
}

// UnauthorizedProcessCount counts running processes whose name matches the
// configured suspicious list. Processes that die mid-scan are skipped.
func (h *Host) UnauthorizedProcessCount() (float64, error) {
	if len(h.SuspiciousProcesses) == 0 {
		return 0, nil
	}
	procs, err := listProcesses()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		name = strings.ToLower(name)
		for _, bad := range h.SuspiciousProcesses {
			if name == bad {
				count++
				break
			}
		}
	}
	return float64(count), nil
}

// ShadowCopyFailure returns 1 when the configured snapshot command cannot
// run, exits nonzero or prints an error, and 0 otherwise. The probe never
// returns an error: a broken command is the signal, not a fault.
func (h *Host) ShadowCopyFailure(ctx context.Context) (float64, error) {
	if len(h.ShadowCopyCommand) == 0 {
		return 0, nil
	}
	cmd := exec.CommandContext(ctx, h.ShadowCopyCommand[0], h.ShadowCopyCommand[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil || bytes.Contains(output, []byte("Error")) {
		log.Debug().Err(err).Str("output", string(output)).Msg("Shadow copy check failed")
		return 1, nil
	}
	return 0, nil
}

// AutostartAlertCount scans the configured autostart directories and counts
// entries whose name or content carries a marker string. Directories that do
// not exist are skipped silently, since the set differs per distribution.
func (h *Host) AutostartAlertCount() (float64, error) {
	count := 0
	for _, dir := range h.AutostartDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if h.entryMatches(filepath.Join(dir, entry.Name()), entry.Name()) {
				count++
			}
		}
	}
	return float64(count), nil
}

func (h *Host) entryMatches(path, name string) bool {
	lowerName := strings.ToLower(name)
	for _, marker := range h.AutostartMarkers {
		if strings.Contains(lowerName, marker) {
			return true
		}
	}

	// Autostart entries are small unit or desktop files, safe to slurp.
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	lowerContent := strings.ToLower(string(content))
	for _, marker := range h.AutostartMarkers {
		if strings.Contains(lowerContent, marker) {
			return true
		}
	}
	return false
}
