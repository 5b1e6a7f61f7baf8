package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitLogger(t *testing.T) {
	// Save original stdout and global log level
	oldStdout := os.Stdout
	oldGlobalLevel := zerolog.GlobalLevel()

	// Test cases for different log levels
	tests := []struct {
		name          string
		logLevel      string
		expectedLevel zerolog.Level
		expectOutput  bool // whether to expect the initialization message in output
	}{
		{"Debug Level", "debug", zerolog.DebugLevel, true},
		{"Info Level", "info", zerolog.InfoLevel, true},
		{"Warn Level", "warn", zerolog.WarnLevel, false},
		{"Error Level", "error", zerolog.ErrorLevel, false},
		{"Fatal Level", "fatal", zerolog.FatalLevel, false},
		{"Panic Level", "panic", zerolog.PanicLevel, false},
		{"Default Level (unknown)", "unknown", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset global log level for each test
			zerolog.SetGlobalLevel(zerolog.Disabled) // Ensure a clean state

			// Create new pipe for each test run
			r, w, _ := os.Pipe()
			os.Stdout = w

			InitLogger(tt.logLevel)
			assert.Equal(t, tt.expectedLevel, zerolog.GlobalLevel())

			// Close the write end of the pipe and read its output
			w.Close()
			out, _ := io.ReadAll(r)
			r.Close()

			logOutput := string(out)

			if tt.expectOutput {
				assert.True(t, strings.Contains(logOutput, "Logger initialized with level:"), "Expected initialization message in logs")
				assert.True(t, strings.Contains(logOutput, tt.expectedLevel.String()), "Expected log level in initialization message")
				assert.Equal(t, 1, strings.Count(logOutput, `"time":`), "one timestamp key per line")
			} else {
				assert.False(t, strings.Contains(logOutput, "Logger initialized with level:"), "Did not expect initialization message in logs")
			}
		})
	}

	// Restore original stdout and global log level after all tests
	os.Stdout = oldStdout
	zerolog.SetGlobalLevel(oldGlobalLevel)
}

type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSink) PublishLog(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *captureSink) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestBroadcastWriter_ForwardsInfoAndAbove(t *testing.T) {
	sink := &captureSink{}
	bw := NewBroadcastWriter(sink, 100)
	logger := zerolog.New(bw)

	logger.Debug().Msg("too quiet to share")
	logger.Info().Msg("cycle complete")
	logger.Warn().Msg("metric deviates")

	assert.Equal(t, 2, sink.count())
	assert.Contains(t, sink.lines[0], "cycle complete")
	assert.Contains(t, sink.lines[1], "metric deviates")
}

func TestBroadcastWriter_RateLimitDropsExcess(t *testing.T) {
	sink := &captureSink{}
	// One line per second with a burst of two.
	bw := NewBroadcastWriter(sink, 1)
	logger := zerolog.New(bw)

	for i := 0; i < 50; i++ {
		logger.Info().Int("i", i).Msg("chatty")
	}

	assert.LessOrEqual(t, sink.count(), 2, "burst bounds the forwarded lines")
	assert.GreaterOrEqual(t, sink.count(), 1)
}

func TestBroadcastWriter_LinesAreTrimmed(t *testing.T) {
	sink := &captureSink{}
	bw := NewBroadcastWriter(sink, 100)
	logger := zerolog.New(bw)
	logger.Info().Msg("tidy")

	assert.False(t, strings.HasSuffix(sink.lines[0], "\n"))
}

func TestAttachBroadcast_GlobalLoggerReachesSink(t *testing.T) {
	oldLogger := log.Logger
	oldGlobalLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = oldLogger
		zerolog.SetGlobalLevel(oldGlobalLevel)
	}()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	sink := &captureSink{}
	AttachBroadcast(sink, 100)

	log.Info().Msg("visible to subscribers")

	assert.GreaterOrEqual(t, sink.count(), 1)
	found := false
	for _, line := range sink.lines {
		if strings.Contains(line, "visible to subscribers") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAttachBroadcast_SingleTimestampPerLine(t *testing.T) {
	oldLogger := log.Logger
	oldGlobalLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = oldLogger
		zerolog.SetGlobalLevel(oldGlobalLevel)
	}()

	InitLogger("info")
	sink := &captureSink{}
	AttachBroadcast(sink, 100)

	log.Info().Msg("stamped once")

	var line string
	for _, l := range sink.all() {
		if strings.Contains(l, "stamped once") {
			line = l
		}
	}
	assert.NotEmpty(t, line)
	assert.Equal(t, 1, strings.Count(line, `"time":`), "attach must not stack a second timestamp hook")
}

func TestAttachBroadcast_ChildLoggersSnapshotTheWriter(t *testing.T) {
	oldLogger := log.Logger
	oldGlobalLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = oldLogger
		zerolog.SetGlobalLevel(oldGlobalLevel)
	}()
	InitLogger("info")

	before := log.With().Str("component", "early").Logger()

	sink := &captureSink{}
	AttachBroadcast(sink, 100)

	after := log.With().Str("component", "late").Logger()

	before.Warn().Msg("derived before attach")
	after.Warn().Msg("derived after attach")

	joined := strings.Join(sink.all(), "\n")
	assert.NotContains(t, joined, "derived before attach", "child loggers keep the writer they were built with")
	assert.Contains(t, joined, "derived after attach")
}
