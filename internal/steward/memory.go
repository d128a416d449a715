package steward

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const maxRecords = 50

// CycleRecord captures what happened in a single steward cycle.
type CycleRecord struct {
	At      time.Time `json:"at"`
	Rooms   int       `json:"rooms"`
	Planned int       `json:"planned"`
	Done    int       `json:"done"`
	Failed  int       `json:"failed"`
	Actions []string  `json:"actions,omitempty"`
}

// CycleMemory manages a ring of recent steward cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`

	path string
}

// LoadMemory reads the memory file from disk. Returns empty memory if not found.
func LoadMemory(path string) *CycleMemory {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CycleMemory{path: path}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("steward memory corrupted, starting fresh", "error", err)
		return &CycleMemory{path: path}
	}
	mem.path = path
	return &mem
}

// Save writes the memory to disk. An empty path keeps it in memory only.
func (m *CycleMemory) Save() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal steward memory", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		slog.Error("failed to write steward memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Summary describes the last n cycles, one line each.
func (m *CycleMemory) Summary(n int) string {
	start := max(len(m.Records)-n, 0)
	var b strings.Builder
	for _, r := range m.Records[start:] {
		fmt.Fprintf(&b, "%s rooms=%d planned=%d done=%d failed=%d",
			r.At.Format(time.RFC3339), r.Rooms, r.Planned, r.Done, r.Failed)
		if len(r.Actions) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(r.Actions, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
