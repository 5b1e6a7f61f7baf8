package logger

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with JSON output to stdout.
// It sets the log level based on the provided string (e.g., "info", "debug", "error").
func InitLogger(logLevel string) {
	// A fresh root logger: the package default already carries a timestamp
	// hook, and stacking another would emit duplicate "time" keys.
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel) // Default to info if invalid
	}

	log.Info().Msgf("Logger initialized with level: %s", zerolog.GlobalLevel().String())
}

// AttachBroadcast tees the global logger into sink so feed subscribers see
// the agent's log stream alongside metrics. Stdout keeps receiving
// everything; the sink gets info and above, rate limited.
func AttachBroadcast(sink LogSink, perSecond float64) {
	bw := NewBroadcastWriter(sink, perSecond)
	// Swap only the writer; the context keeps the timestamp hook installed
	// by InitLogger.
	log.Logger = log.Output(zerolog.MultiLevelWriter(os.Stdout, bw))
	log.Info().Float64("lines_per_second", perSecond).Msg("Log broadcast to feed subscribers enabled")
}
