package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/robfig/cron/v3"

	"mockpit/internal/models"
)

// SettingsService loads and serves the dashboard settings file. The file is
// optional; a missing or empty file yields defaults. Reload is triggered by
// the file watcher in main, so edits apply without a restart.
type SettingsService struct {
	mu       sync.RWMutex
	path     string
	settings models.DashboardSettings
	onChange func(models.DashboardSettings)
}

// NewSettingsService creates the service for the given settings path.
func NewSettingsService(path string) *SettingsService {
	return &SettingsService{path: path}
}

// Path returns the watched settings file path.
func (s *SettingsService) Path() string {
	return s.path
}

// OnChange registers a callback fired after each successful reload that
// changed the settings.
func (s *SettingsService) OnChange(fn func(models.DashboardSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Get returns the current settings.
func (s *SettingsService) Get() models.DashboardSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Load reads and applies the settings file. A missing file resets to
// defaults; a malformed file or invalid cron override keeps the previous
// settings and returns the error.
func (s *SettingsService) Load() error {
	var loaded models.DashboardSettings

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		// Optional file; defaults apply.
	case err != nil:
		return fmt.Errorf("failed to read settings file: %w", err)
	default:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("failed to parse settings JSON: %w", err)
		}
	}

	if loaded.ValidationCron != "" {
		if _, err := cron.ParseStandard(loaded.ValidationCron); err != nil {
			return fmt.Errorf("invalid validationCron %q: %w", loaded.ValidationCron, err)
		}
	}

	s.mu.Lock()
	changed := loaded != s.settings
	s.settings = loaded
	fn := s.onChange
	s.mu.Unlock()

	if changed {
		log.Printf("⚙️  [SETTINGS] Applied settings from %s (validationCron: %q, autoRefresh: %ds)",
			s.path, loaded.ValidationCron, loaded.AutoRefreshSeconds)
		if fn != nil {
			fn(loaded)
		}
	}
	return nil
}
