package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/actions/block_ip"
	"github.com/lucid-vigil/ransomwatch/pkg/actions/block_write"
	"github.com/lucid-vigil/ransomwatch/pkg/actions/kill_process"
	"github.com/lucid-vigil/ransomwatch/pkg/telemetry"
)

// ActionDispatcher manages and executes containment actions. Execution can
// be globally disabled, which turns every Execute call into a logged no-op;
// that is the shipped default so a false positive cannot freeze a host
// nobody is watching.
type ActionDispatcher struct {
	actions map[string]Action
	enabled bool
	mu      sync.RWMutex
}

// NewActionDispatcher creates a dispatcher with the built-in actions
// registered.
func NewActionDispatcher(enabled bool) *ActionDispatcher {
	dispatcher := &ActionDispatcher{
		actions: make(map[string]Action),
		enabled: enabled,
	}

	dispatcher.RegisterAction(&block_write.BlockWriteAction{})
	dispatcher.RegisterAction(&block_ip.BlockIPAction{})
	dispatcher.RegisterAction(&kill_process.KillProcessAction{})

	return dispatcher
}

// RegisterAction registers a new action with the dispatcher.
func (ad *ActionDispatcher) RegisterAction(action Action) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.actions[action.Name()] = action
	log.Info().Msgf("Action '%s' registered.", action.Name())
}

// Execute runs the named action with the given data.
func (ad *ActionDispatcher) Execute(ctx context.Context, actionName string, data map[string]interface{}) error {
	if !ad.IsEnabled() {
		log.Info().Str("action", actionName).Msg("Actions are disabled, skipping execution.")
		return nil
	}

	ad.mu.RLock()
	action, exists := ad.actions[actionName]
	ad.mu.RUnlock()

	if !exists {
		return fmt.Errorf("action '%s' not found", actionName)
	}

	log.Info().Str("action", actionName).Msg("Executing containment action...")

	if err := action.Execute(ctx, data); err != nil {
		log.Error().Err(err).Str("action", actionName).Msg("Action execution failed.")
		telemetry.EnforcementFailures.WithLabelValues(actionName).Inc()
		return err
	}

	log.Info().Str("action", actionName).Msg("Action executed successfully.")
	return nil
}

// ExecuteActions runs every named action, continuing past failures so one
// broken containment step does not stop the rest.
func (ad *ActionDispatcher) ExecuteActions(ctx context.Context, actionNames []string, data map[string]interface{}) {
	for _, actionName := range actionNames {
		if err := ad.Execute(ctx, actionName, data); err != nil {
			log.Error().Err(err).Str("action", actionName).Msg("Failed to execute action.")
		}
	}
}

// IsEnabled returns whether actions are enabled.
func (ad *ActionDispatcher) IsEnabled() bool {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	return ad.enabled
}

// SetEnabled enables or disables action execution.
func (ad *ActionDispatcher) SetEnabled(enabled bool) {
	ad.mu.Lock()
	ad.enabled = enabled
	ad.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("Action execution status changed.")
}
