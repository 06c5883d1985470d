package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"feedrelay/models"

	"github.com/spf13/afero"
)

// StatusManager keeps the last cycle summary and mirrors it to a JSON file.
type StatusManager struct {
	fs         afero.Fs
	statusFile string
	mutex      sync.Mutex
	status     *models.Status
}

// NewStatusManager creates a new status manager. An empty statusFile keeps the status in memory only.
func NewStatusManager(fs afero.Fs, statusFile string) *StatusManager {
	return &StatusManager{
		fs:         fs,
		statusFile: statusFile,
		status:     &models.Status{},
	}
}

// Load reads the status file written by a previous run. A missing file is not an error.
func (sm *StatusManager) Load() error {
	if sm.statusFile == "" {
		return nil
	}
	data, err := afero.ReadFile(sm.fs, sm.statusFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read status file: %w", err)
	}

	var status models.Status
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("failed to parse status file: %w", err)
	}
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.status = &status
	return nil
}

// Update applies fn to the status under the lock.
func (sm *StatusManager) Update(fn func(s *models.Status)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	fn(sm.status)
}

// Snapshot returns a copy of the current status.
func (sm *StatusManager) Snapshot() models.Status {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return *sm.status
}

// Save commits the current status to the JSON file.
func (sm *StatusManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.status.LastUpdated = time.Now()
	if sm.statusFile == "" {
		return nil
	}

	if err := sm.fs.MkdirAll(filepath.Dir(sm.statusFile), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(sm.status, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := afero.WriteFile(sm.fs, sm.statusFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}
