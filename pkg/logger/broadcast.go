package logger

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultBroadcastRate is the lines-per-second ceiling for log forwarding.
// During an attack the agent logs every anomalous metric every cycle; the
// limiter keeps that burst from monopolizing subscriber bandwidth.
const DefaultBroadcastRate = 20

// LogSink receives forwarded log lines.
type LogSink interface {
	PublishLog(line string)
}

// BroadcastWriter adapts a LogSink into a zerolog writer. Lines below info
// and lines over the rate limit are dropped, never queued, so logging can
// outpace the feed without growing memory.
type BroadcastWriter struct {
	sink    LogSink
	limiter *rate.Limiter
}

// NewBroadcastWriter returns a writer forwarding to sink at most perSecond
// lines per second, with twice that as burst. Non-positive rates fall back
// to the default.
func NewBroadcastWriter(sink LogSink, perSecond float64) *BroadcastWriter {
	if perSecond <= 0 {
		perSecond = DefaultBroadcastRate
	}
	return &BroadcastWriter{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond*2)),
	}
}

// Write forwards lines whose level zerolog did not report.
func (w *BroadcastWriter) Write(p []byte) (n int, err error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel forwards one formatted log line to the sink. It always reports
// success; dropping a line must never surface as a logging error.
func (w *BroadcastWriter) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	if level < zerolog.InfoLevel {
		return len(p), nil
	}
	if !w.limiter.Allow() {
		return len(p), nil
	}
	w.sink.PublishLog(strings.TrimSpace(string(p)))
	return len(p), nil
}
