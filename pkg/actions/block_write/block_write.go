package block_write

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// Swappable for tests.
var execCommand = exec.CommandContext

// BlockWriteAction implements the actions.Action interface. It freezes a
// directory tree by setting the immutable attribute recursively, which stops
// an encryption run from touching anything under it, including by root owned
// processes.
type BlockWriteAction struct{}

// Name returns the unique name of the action.
func (bwa *BlockWriteAction) Name() string {
	return "block_write"
}

// Execute freezes the directory named by the "path" key in the data map.
// The attribute change is deliberately not reverted here; unfreezing after
// an incident is an operator decision (chattr -R -i).
func (bwa *BlockWriteAction) Execute(ctx context.Context, data map[string]interface{}) error {
	path, ok := data["path"].(string)
	if !ok || path == "" {
		return fmt.Errorf("missing or invalid 'path' in action data for block_write action")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("refusing to freeze non-directory %s", path)
	}

	log.Info().Str("path", path).Msg("Freezing directory writes with chattr...")

	cmd := execCommand(ctx, "sudo", "chattr", "-R", "+i", path)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to freeze %s: %w\nOutput: %s", path, err, string(out))
	}

	log.Info().Str("path", path).Msg("Directory frozen, writes are blocked.")
	return nil
}
