// ============================================================================
// rtsched Status Snapshot - atomic run summary on disk
// ============================================================================
//
// Package: internal/snapshot
// File: snapshot.go
// Purpose: Persist the final monitor status and thread outcomes of a run so
//          `rtsched status --file` can inspect it after the process exits.
//
// Atomic write:
//   1. marshal to indented JSON
//   2. write <path>.tmp
//   3. rename over <path> (atomic on POSIX)
//   A crash leaves either the old or the new snapshot, never a torn file.
//
// Format (schema version 1):
//   {
//     "schema_version": 1,
//     "run_id": "...",
//     "mode": "both",
//     "started_at": "...", "stopped_at": "...",
//     "trace_seq": 1234,
//     "threads": [{"name": "executive", "priority": 6, "error": ""}],
//     "status": { ...monitor.Status... }
//   }
//
// ============================================================================

package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/periperidip/rtsched/internal/monitor"
	"github.com/periperidip/rtsched/pkg/types"
)

// SchemaVersion is the current snapshot format.
const SchemaVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot file not found")
)

// ThreadOutcome is how one control thread ended.
type ThreadOutcome struct {
	Name     string         `json:"name"`
	Priority types.Priority `json:"priority"`
	Error    string         `json:"error,omitempty"`
}

// Data is the persisted run summary.
type Data struct {
	SchemaVer int             `json:"schema_version"`
	RunID     string          `json:"run_id"`
	Mode      string          `json:"mode"`
	StartedAt time.Time       `json:"started_at"`
	StoppedAt time.Time       `json:"stopped_at"`
	TraceSeq  uint64          `json:"trace_seq,omitempty"`
	Threads   []ThreadOutcome `json:"threads"`
	Status    monitor.Status  `json:"status"`
}

// Manager reads and writes one snapshot file.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager creates a manager for path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the snapshot path.
func (m *Manager) Path() string {
	return m.path
}

// Write atomically replaces the snapshot.
func (m *Manager) Write(data Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(data)
}

func (m *Manager) write(data Data) error {
	data.SchemaVer = SchemaVersion

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot.
func (m *Manager) Load() (Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Load(m.path)
}

// Load reads the snapshot at path.
func Load(path string) (Data, error) {
	var data Data

	jsonBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	return data, nil
}

// Exists reports whether the snapshot file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// WriteWithBackup moves the current snapshot aside as <path>.<timestamp>,
// writes the new one and keeps at most keepBackups backups.
func (m *Manager) WriteWithBackup(data Data, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Exists() {
		backupPath := fmt.Sprintf("%s.%s", m.path, time.Now().Format("20060102_150405.000000000"))
		if err := os.Rename(m.path, backupPath); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
	}
	if err := m.write(data); err != nil {
		return err
	}
	return m.pruneBackups(keepBackups)
}

// Backups lists backup files, oldest first.
func (m *Manager) Backups() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".2*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (m *Manager) pruneBackups(keep int) error {
	if keep < 0 {
		return nil
	}
	backups, err := m.Backups()
	if err != nil {
		return err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil {
			return fmt.Errorf("failed to remove old backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}
