package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/features"
)

// header lays out one row per cycle: the full metric vector followed by the
// detection verdict. Column order is part of the file format.
var header = append(append([]string{"timestamp"}, features.Names...),
	"detection", "state", "response_triggered")

// Writer appends one CSV row per snapshot to the correlation log. The file
// is opened per append, so rotating or truncating it between cycles is safe
// and a fresh file gets its header back.
type Writer struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// NewWriter returns a writer appending to path.
func NewWriter(path string) *Writer {
	return &Writer{
		path:   path,
		logger: log.With().Str("component", "audit").Logger(),
	}
}

// Path returns the log file location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one row for snap, creating the file and header on first use.
func (w *Writer) Append(snap *features.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, statErr := os.Stat(w.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening correlation log %s: %w", w.path, err)
	}

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("writing correlation log header: %w", err)
		}
	}
	if err := cw.Write(record(snap)); err != nil {
		f.Close()
		return fmt.Errorf("writing correlation log row: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flushing correlation log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing correlation log: %w", err)
	}

	w.logger.Debug().Str("file", w.path).Msg("Snapshot appended to correlation log")
	return nil
}

func record(snap *features.Snapshot) []string {
	row := make([]string, 0, len(header))
	row = append(row, snap.Timestamp.Format(time.RFC3339Nano))
	for _, name := range features.Names {
		row = append(row, strconv.FormatFloat(snap.Values[name], 'f', -1, 64))
	}

	detection := "0"
	if snap.Detection {
		detection = "1"
	}
	row = append(row, detection, snap.State, strconv.FormatBool(snap.ResponseTriggered))
	return row
}
