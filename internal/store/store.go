// Package store persists the app's small JSON blobs: alarm
// definitions, settings, wake-up history, and the restart-recovery
// session record. Blobs are written atomically (temp file + rename) and
// a missing or corrupt blob is always treated as absent, never fatal.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/ikkeifujio/WakeOrPay/internal/model"
)

const (
	alarmsFile   = "alarms.json"
	settingsFile = "settings.json"
	historyFile  = "history.json"
	sessionFile  = "session.json"
)

// Store is a file-backed key-value store rooted at a data directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates the data directory if needed and returns the store.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// LoadAlarms returns the persisted alarm definitions, or an empty set.
func (s *Store) LoadAlarms() ([]model.Alarm, error) {
	var alarms []model.Alarm
	if err := s.read(alarmsFile, &alarms); err != nil {
		return nil, err
	}
	return alarms, nil
}

// SaveAlarms replaces the persisted alarm definitions.
func (s *Store) SaveAlarms(alarms []model.Alarm) error {
	return s.write(alarmsFile, alarms)
}

// LoadSettings returns the persisted settings, falling back to the
// defaults when the blob is missing or unreadable.
func (s *Store) LoadSettings() model.Settings {
	settings := model.DefaultSettings()
	if err := s.read(settingsFile, &settings); err != nil {
		log.Printf("store: load settings: %v", err)
		return model.DefaultSettings()
	}
	return settings
}

// SaveSettings replaces the persisted settings.
func (s *Store) SaveSettings(settings model.Settings) error {
	return s.write(settingsFile, settings)
}

// LoadHistory returns the persisted wake-up history.
func (s *Store) LoadHistory() ([]model.WakeUpRecord, error) {
	var records []model.WakeUpRecord
	if err := s.read(historyFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveHistory replaces the persisted wake-up history.
func (s *Store) SaveHistory(records []model.WakeUpRecord) error {
	return s.write(historyFile, records)
}

// SaveSessionRecord writes the restart-recovery record.
func (s *Store) SaveSessionRecord(rec model.SessionRecord) error {
	return s.write(sessionFile, rec)
}

// LoadSessionRecord reads the restart-recovery record. A missing or
// corrupt record reports ok=false without error: recovery treats both
// as "no prior session".
func (s *Store) LoadSessionRecord() (model.SessionRecord, bool, error) {
	var rec model.SessionRecord
	s.mu.Lock()
	data, err := os.ReadFile(filepath.Join(s.dir, sessionFile))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.SessionRecord{}, false, nil
		}
		return model.SessionRecord{}, false, fmt.Errorf("read %s: %w", sessionFile, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("store: corrupt session record discarded: %v", err)
		return model.SessionRecord{}, false, nil
	}
	if rec.CurrentAlarmID == "" || rec.AlarmStartTime.IsZero() {
		log.Printf("store: incomplete session record discarded")
		return model.SessionRecord{}, false, nil
	}
	return rec, true, nil
}

// ClearSessionRecord removes the restart-recovery record. Clearing an
// absent record is not an error.
func (s *Store) ClearSessionRecord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, sessionFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", sessionFile, err)
	}
	return nil
}

// read unmarshals the named blob into v; a missing file leaves v as-is.
func (s *Store) read(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// write marshals v and atomically replaces the named blob.
func (s *Store) write(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
