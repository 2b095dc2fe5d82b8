package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"carbalite/internal/domain"
)

// Store defines persistence operations for user preferences.
type Store interface {
	Load() (domain.Preferences, error)
	Save(domain.Preferences) error
}

// JSONStore persists preferences in a single JSON file on disk.
type JSONStore struct {
	path   string
	logger hclog.Logger
}

// NewJSONStore creates a JSON-backed preferences store.
func NewJSONStore(path string, logger hclog.Logger) *JSONStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &JSONStore{path: path, logger: logger}
}

// Path returns the backing file location.
func (s *JSONStore) Path() string {
	return s.path
}

// Preference keys on disk. selectedFormat is the legacy name of the video format.
const (
	keyVideoFormat  = "selectedVideoFormat"
	keyAudioFormat  = "selectedAudioFormat"
	keyVideoQuality = "videoQuality"
	keyAudioQuality = "audioQuality"
	keyLegacyFormat = "selectedFormat"
)

// Load reads preferences from disk. Missing files yield defaults; files that
// are not a JSON object yield defaults and are logged; read failures are
// returned. Each field is repaired on its own, so one wrongly typed value
// does not discard the others.
func (s *JSONStore) Load() (domain.Preferences, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPreferences(), nil
		}

		return domain.Preferences{}, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("preferences file unreadable, using defaults", "path", s.path, "error", err)
		return DefaultPreferences(), nil
	}

	field := func(key string) string {
		msg, ok := raw[key]
		if !ok {
			return ""
		}
		var v string
		if err := json.Unmarshal(msg, &v); err != nil {
			s.logger.Warn("ignoring preference with wrong type", "path", s.path, "key", key)
			return ""
		}
		return v
	}

	videoFormat := field(keyVideoFormat)
	if videoFormat == "" {
		videoFormat = field(keyLegacyFormat)
	}

	return NormalizePreferences(domain.Preferences{
		SelectedVideoFormat: videoFormat,
		SelectedAudioFormat: field(keyAudioFormat),
		VideoQuality:        domain.VideoQuality(field(keyVideoQuality)),
		AudioQuality:        domain.AudioQuality(field(keyAudioQuality)),
	}), nil
}

// Save writes normalized preferences as indented JSON and creates parent directories.
func (s *JSONStore) Save(prefs domain.Preferences) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(NormalizePreferences(prefs), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// NormalizePreferences replaces each missing or out-of-range field with its
// default and keeps the valid ones.
func NormalizePreferences(p domain.Preferences) domain.Preferences {
	d := DefaultPreferences()

	p.SelectedVideoFormat = strings.ToLower(strings.TrimSpace(p.SelectedVideoFormat))
	if !domain.ValidVideoFormat(p.SelectedVideoFormat) {
		p.SelectedVideoFormat = d.SelectedVideoFormat
	}
	p.SelectedAudioFormat = strings.ToLower(strings.TrimSpace(p.SelectedAudioFormat))
	if !domain.ValidAudioFormat(p.SelectedAudioFormat) {
		p.SelectedAudioFormat = d.SelectedAudioFormat
	}
	if !p.VideoQuality.Valid() {
		p.VideoQuality = d.VideoQuality
	}
	if !p.AudioQuality.Valid() {
		p.AudioQuality = d.AudioQuality
	}
	return p
}
