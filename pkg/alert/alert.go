package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/detector"
	"github.com/lucid-vigil/ransomwatch/pkg/features"
)

// Message is the operator-facing alert text.
const Message = "Potential ransomware activity detected! Immediate action is recommended to be safe. All further actions are blocked."

// DefaultCooldown is how long after an alert fires before another may.
const DefaultCooldown = 60 * time.Second

// Alert is the payload pushed to subscribers when detection trips. The text
// rides under the "alert" key, which is what existing dashboards read.
type Alert struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Message string             `json:"alert"`
	Data    *features.Snapshot `json:"data"`
	Reasons []detector.Reason  `json:"reasons,omitempty"`
}

// Publisher delivers an alert to subscribers.
type Publisher interface {
	PublishAlert(a Alert)
}

// Enforcer runs containment for the snapshot that tripped detection.
type Enforcer func(ctx context.Context, snap *features.Snapshot)

// Manager debounces detections into at most one response per cooldown
// window. Detection fires every two seconds during an attack; containment
// and operator alerting must not.
type Manager struct {
	mu       sync.Mutex
	inFlight bool
	timer    *time.Timer

	cooldown  time.Duration
	publisher Publisher
	enforce   Enforcer
	logger    zerolog.Logger
}

// NewManager returns a manager that publishes through pub and contains
// through enforce. A nil enforce skips containment, a non-positive cooldown
// falls back to the default.
func NewManager(pub Publisher, enforce Enforcer, cooldown time.Duration) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Manager{
		cooldown:  cooldown,
		publisher: pub,
		enforce:   enforce,
		logger:    log.With().Str("component", "alert").Logger(),
	}
}

// Trigger fires the response for snap unless one is already in flight. The
// enforcement step runs before the alert goes out, so by the time an
// operator reads the message the containment it describes has happened.
// It reports whether this call fired.
func (m *Manager) Trigger(ctx context.Context, snap *features.Snapshot, reasons []detector.Reason) bool {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		m.logger.Debug().Msg("Response already triggered recently, skipping duplicate alert")
		return false
	}
	m.inFlight = true
	m.timer = time.AfterFunc(m.cooldown, m.rearm)
	m.mu.Unlock()

	m.logger.Warn().Time("snapshot", snap.Timestamp).Msg("Triggering ransomware response")

	if m.enforce != nil {
		m.enforce(ctx, snap)
	}

	if m.publisher != nil {
		m.publisher.PublishAlert(Alert{
			ID:      uuid.NewString(),
			Type:    "alert",
			Message: Message,
			Data:    snap,
			Reasons: reasons,
		})
	}
	return true
}

func (m *Manager) rearm() {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
	m.logger.Info().Msg("Alert window reset, responses re-armed")
}

// Reset re-arms immediately, discarding any pending window.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.inFlight = false
	m.mu.Unlock()
}

// Stop cancels the pending re-arm timer. For teardown only; the manager is
// left in whatever armed state it was in.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
}
