package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/ransomwatch/pkg/features"
)

func sampleSnapshot(detected bool) *features.Snapshot {
	snap := features.New(time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC))
	for _, name := range features.Names {
		snap.Values[name] = 1.5
	}
	snap.Values[features.Modified] = 42
	if detected {
		snap.Detection = true
		snap.State = features.StateRansomware
		snap.ResponseTriggered = true
	}
	return snap
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestAppend_CreatesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "correlation_log.csv")
	w := NewWriter(path)

	require.NoError(t, w.Append(sampleSnapshot(false)))
	require.NoError(t, w.Append(sampleSnapshot(true)))

	rows := readRows(t, path)
	require.Len(t, rows, 3, "header plus two data rows")

	wantHeader := []string{
		"timestamp", "cpu_usage", "memory_usage", "disk_usage",
		"modified", "renamed", "deleted", "entropy_alerts",
		"unauth_proc_count", "shadow_copy_flag", "registry_alerts_count",
		"susp_net_count", "susp_ext_count", "proc_injection", "sys_call_anomaly",
		"total_net_connections", "detection", "state", "response_triggered",
	}
	assert.Equal(t, wantHeader, rows[0])
}

func TestAppend_RowValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "correlation_log.csv")
	w := NewWriter(path)

	require.NoError(t, w.Append(sampleSnapshot(true)))

	rows := readRows(t, path)
	row := rows[1]
	require.Len(t, row, 19)

	assert.Contains(t, row[0], "2026-08-24T10:30:00")
	assert.Equal(t, "1.5", row[1], "cpu_usage")
	assert.Equal(t, "42", row[4], "modified")
	assert.Equal(t, "1", row[16], "detection")
	assert.Equal(t, features.StateRansomware, row[17])
	assert.Equal(t, "true", row[18])
}

func TestAppend_NormalRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "correlation_log.csv")
	w := NewWriter(path)

	require.NoError(t, w.Append(sampleSnapshot(false)))

	row := readRows(t, path)[1]
	assert.Equal(t, "0", row[16])
	assert.Equal(t, features.StateNormal, row[17])
	assert.Equal(t, "false", row[18])
}

func TestAppend_ReusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "correlation_log.csv")

	require.NoError(t, NewWriter(path).Append(sampleSnapshot(false)))
	// A new process appending to the surviving file must not repeat the header.
	require.NoError(t, NewWriter(path).Append(sampleSnapshot(false)))

	rows := readRows(t, path)
	assert.Len(t, rows, 3)
	assert.Equal(t, "timestamp", rows[0][0])
	assert.NotEqual(t, "timestamp", rows[1][0])
	assert.NotEqual(t, "timestamp", rows[2][0])
}

func TestAppend_RecreatesHeaderAfterRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "correlation_log.csv")
	w := NewWriter(path)

	require.NoError(t, w.Append(sampleSnapshot(false)))
	require.NoError(t, os.Remove(path))
	require.NoError(t, w.Append(sampleSnapshot(false)))

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "timestamp", rows[0][0])
}

func TestAppend_UnwritablePathErrors(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "missing-dir", "log.csv"))

	assert.Error(t, w.Append(sampleSnapshot(false)))
}
