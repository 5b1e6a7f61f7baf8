package block_ip

import (
	"context"
	"fmt"
	"net"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// Swappable for tests.
var execCommand = exec.CommandContext

// BlockIPAction implements the actions.Action interface. It cuts off a
// suspected command-and-control address by adding an iptables DROP rule,
// so exfiltration and key exchange stop even while encryption is still
// being contained.
type BlockIPAction struct{}

// Name returns the unique name of the action.
func (bia *BlockIPAction) Name() string {
	return "block_ip"
}

// Execute blocks the address named by the "remote_addr" key in the data
// map. Adding the rule is idempotent: an existing identical rule is left
// alone.
func (bia *BlockIPAction) Execute(ctx context.Context, data map[string]interface{}) error {
	ip, ok := data["remote_addr"].(string)
	if !ok || ip == "" {
		return fmt.Errorf("missing or invalid 'remote_addr' in action data for block_ip action")
	}

	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address format: %s", ip)
	}

	// -C probes for an existing rule; it exits nonzero when absent.
	check := execCommand(ctx, "sudo", "iptables", "-C", "INPUT", "-s", ip, "-j", "DROP")
	if err := check.Run(); err == nil {
		log.Info().Str("ip", ip).Msg("IP already blocked, rule left in place.")
		return nil
	}

	log.Info().Str("ip", ip).Msg("Blocking IP with iptables...")

	cmd := execCommand(ctx, "sudo", "iptables", "-A", "INPUT", "-s", ip, "-j", "DROP")

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to block IP %s: %w\nOutput: %s", ip, err, string(out))
	}

	log.Info().Str("ip", ip).Msg("Successfully blocked IP using iptables.")
	return nil
}
