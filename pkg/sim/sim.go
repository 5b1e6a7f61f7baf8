package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrBlocked is returned when a containment response has already fired.
// Adding synthetic churn to a host under containment would only muddy the
// audit trail, so the run is refused outright.
var ErrBlocked = errors.New("simulation blocked due to prior alert")

const (
	// DefaultFiles is how many dummy files one run touches.
	DefaultFiles = 100
	// DefaultPace is the pause between destructive steps.
	DefaultPace = 100 * time.Millisecond

	dummyLine = "This is a safe dummy file.\n"
	alphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Simulator fabricates an encryption run inside the watched tree so the whole
// pipeline can be exercised end to end. Each touched file is overwritten with
// random content, renamed to a ransomware extension and finally deleted,
// paced like a real encryptor working through a directory.
type Simulator struct {
	// Dir is where dummy files live, expected to sit under the watched tree.
	Dir string
	// Files is how many dummy files the run touches.
	Files int
	// Pace is the pause between destructive steps.
	Pace time.Duration
	// Blocked reports whether a containment response has fired. Nil means
	// never blocked.
	Blocked func() bool

	logger zerolog.Logger
}

// New returns a simulator writing under dir.
func New(dir string, blocked func() bool) *Simulator {
	return &Simulator{
		Dir:     dir,
		Files:   DefaultFiles,
		Pace:    DefaultPace,
		Blocked: blocked,
		logger:  log.With().Str("component", "sim").Logger(),
	}
}

// Run executes one simulated attack. Individual file failures are logged and
// skipped; the run stops early only when ctx is cancelled or containment has
// fired.
func (s *Simulator) Run(ctx context.Context) error {
	if s.Blocked != nil && s.Blocked() {
		s.logger.Info().Msg("Ransomware simulation blocked due to prior alert")
		return ErrBlocked
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating simulation directory %s: %w", s.Dir, err)
	}

	s.logger.Info().Str("dir", s.Dir).Int("files", s.files()).Msg("Starting ransomware simulation")
	s.createDummyFiles()

	for i := 0; i < s.files(); i++ {
		original := filepath.Join(s.Dir, fmt.Sprintf("file_%d.txt", i))
		if _, err := os.Stat(original); err != nil {
			continue
		}

		if err := os.WriteFile(original, randomContent(100), 0644); err != nil {
			s.logger.Error().Err(err).Str("file", original).Msg("Error overwriting dummy file")
			continue
		}

		encrypted := filepath.Join(s.Dir, fmt.Sprintf("file_%d.encrypted", i))
		if err := os.Rename(original, encrypted); err != nil {
			s.logger.Error().Err(err).Str("file", original).Msg("Error renaming dummy file")
			continue
		}
		s.logger.Info().Str("file", encrypted).Msg("Simulated ransomware action")

		if err := s.pause(ctx); err != nil {
			return err
		}

		if _, err := os.Stat(encrypted); err == nil {
			if err := os.Remove(encrypted); err != nil {
				s.logger.Error().Err(err).Str("file", encrypted).Msg("Error deleting dummy file")
			} else {
				s.logger.Info().Str("file", encrypted).Msg("Deleted file")
			}
		}

		if err := s.pause(ctx); err != nil {
			return err
		}
	}

	s.logger.Info().Msg("Ransomware simulation finished")
	return nil
}

func (s *Simulator) createDummyFiles() {
	content := make([]byte, 0, len(dummyLine)*10)
	for i := 0; i < 10; i++ {
		content = append(content, dummyLine...)
	}
	for i := 0; i < s.files(); i++ {
		path := filepath.Join(s.Dir, fmt.Sprintf("file_%d.txt", i))
		if err := os.WriteFile(path, content, 0644); err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("Error creating dummy file")
		}
	}
}

func (s *Simulator) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.pace()):
		return nil
	}
}

func (s *Simulator) files() int {
	if s.Files <= 0 {
		return DefaultFiles
	}
	return s.Files
}

func (s *Simulator) pace() time.Duration {
	if s.Pace <= 0 {
		return DefaultPace
	}
	return s.Pace
}

func randomContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return b
}
