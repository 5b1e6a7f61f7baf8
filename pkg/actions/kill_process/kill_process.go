package kill_process

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

var listProcesses = process.Processes

// KillProcessAction implements the actions.Action interface. It terminates
// processes either by explicit PID or by matching the unauthorized process
// names the detector was configured with.
type KillProcessAction struct{}

// Name returns the unique name of the action.
func (kpa *KillProcessAction) Name() string {
	return "kill_process"
}

// Execute kills the targets described by the data map. A "pid" key names a
// single process; a "process_names" key ([]string, lowercase) kills every
// live process with a matching name. At least one of the two must be
// present. Each target gets SIGTERM first, then SIGKILL if that fails.
func (kpa *KillProcessAction) Execute(ctx context.Context, data map[string]interface{}) error {
	pids, err := resolveTargets(data)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		log.Info().Msg("No matching processes to kill.")
		return nil
	}

	var failed []string
	for _, pid := range pids {
		if err := signalProcess(pid); err != nil {
			log.Error().Err(err).Int("pid", pid).Msg("Failed to terminate process.")
			failed = append(failed, strconv.Itoa(pid))
			continue
		}
		log.Info().Int("pid", pid).Msg("Successfully sent signal to process.")
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to terminate pids: %s", strings.Join(failed, ", "))
	}
	return nil
}

func resolveTargets(data map[string]interface{}) ([]int, error) {
	if pidVal, ok := data["pid"]; ok {
		pid, err := coercePID(pidVal)
		if err != nil {
			return nil, err
		}
		return []int{pid}, nil
	}

	names, ok := data["process_names"].([]string)
	if !ok || len(names) == 0 {
		return nil, fmt.Errorf("missing 'pid' or 'process_names' in action data for kill_process action")
	}

	procs, err := listProcesses()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := os.Getpid()
	var pids []int
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		name = strings.ToLower(name)
		for _, bad := range names {
			if name == bad && int(p.Pid) != self {
				pids = append(pids, int(p.Pid))
				break
			}
		}
	}
	return pids, nil
}

func coercePID(pidVal interface{}) (int, error) {
	var pid int
	switch v := pidVal.(type) {
	case int:
		pid = v
	case float64: // JSON unmarshals numbers to float64 by default
		pid = int(v)
	case string:
		intPid, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid pid format: %w", err)
		}
		pid = intPid
	default:
		return 0, fmt.Errorf("unsupported pid type: %T", pidVal)
	}

	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid: %d", pid)
	}
	return pid, nil
}

func signalProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process with PID %d: %w", pid, err)
	}

	// SIGTERM first for a graceful stop, SIGKILL as the fallback.
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Warn().Err(err).Int("pid", pid).Msg("Failed to send SIGTERM, attempting SIGKILL.")
		if err := proc.Signal(syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to send SIGKILL to process %d: %w", pid, err)
		}
	}
	return nil
}
