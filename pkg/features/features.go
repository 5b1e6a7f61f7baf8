package features

import (
	"encoding/json"
	"time"
)

// Metric keys tracked on every poll cycle. The names are stable identifiers:
// they appear in the baseline model, the audit log columns and the messages
// pushed to subscribers, so renaming one is a wire-format change.
const (
	CPUUsage          = "cpu_usage"
	MemoryUsage       = "memory_usage"
	DiskUsage         = "disk_usage"
	Modified          = "modified"
	Renamed           = "renamed"
	Deleted           = "deleted"
	EntropyAlerts     = "entropy_alerts"
	UnauthProcCount   = "unauth_proc_count"
	ShadowCopyFlag    = "shadow_copy_flag"
	RegistryAlerts    = "registry_alerts_count"
	SuspNetCount      = "susp_net_count"
	SuspExtCount      = "susp_ext_count"
	ProcInjection     = "proc_injection"
	SysCallAnomaly    = "sys_call_anomaly"
	TotalNetConnCount = "total_net_connections"
)

// Names lists every baselined metric in audit-column order.
var Names = []string{
	CPUUsage,
	MemoryUsage,
	DiskUsage,
	Modified,
	Renamed,
	Deleted,
	EntropyAlerts,
	UnauthProcCount,
	ShadowCopyFlag,
	RegistryAlerts,
	SuspNetCount,
	SuspExtCount,
	ProcInjection,
	SysCallAnomaly,
	TotalNetConnCount,
}

// LiveNames lists the features carried by live_tracking messages. CPU usage is
// baselined and audited but deliberately absent from the live feature vector.
var LiveNames = Names[1:]

// Detection states reported per snapshot.
const (
	StateNormal     = "normal"
	StateRansomware = "ransomware detected"
)

// Snapshot is one immutable reading of all tracked metrics, captured at a
// single instant by the collector. Detection, State and ResponseTriggered are
// filled in by the detection pass; the raw Values map is never mutated after
// the collector hands the snapshot off.
type Snapshot struct {
	Timestamp         time.Time
	Values            map[string]float64
	Detection         bool
	State             string
	ResponseTriggered bool
}

// New returns an empty snapshot stamped with the given capture time.
func New(ts time.Time) *Snapshot {
	return &Snapshot{
		Timestamp: ts,
		Values:    make(map[string]float64, len(Names)),
		State:     StateNormal,
	}
}

// Value returns the reading for name, or 0 when the metric is absent.
func (s *Snapshot) Value(name string) float64 {
	return s.Values[name]
}

// FeatureVector returns the 14-feature map published on the live feed.
func (s *Snapshot) FeatureVector() map[string]float64 {
	vec := make(map[string]float64, len(LiveNames))
	for _, name := range LiveNames {
		vec[name] = s.Values[name]
	}
	return vec
}

// Clone returns a deep copy so readers can hold a snapshot across cycles.
func (s *Snapshot) Clone() *Snapshot {
	dup := *s
	dup.Values = make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		dup.Values[k] = v
	}
	return &dup
}

// MarshalJSON flattens the metric values next to the snapshot metadata, which
// is the shape subscriber dashboards consume in alert payloads.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(s.Values)+4)
	for k, v := range s.Values {
		flat[k] = v
	}
	flat["timestamp"] = s.Timestamp.Format(time.RFC3339Nano)
	flat["detection"] = boolToInt(s.Detection)
	flat["state"] = s.State
	flat["response_triggered"] = s.ResponseTriggered
	return json.Marshal(flat)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
