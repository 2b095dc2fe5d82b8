package config

import (
	"os"
	"path/filepath"
	"time"

	"carbalite/internal/domain"
)

const appName = "carbalite"

// DefaultPreferences returns the preference record used on first launch.
func DefaultPreferences() domain.Preferences {
	return domain.Preferences{
		SelectedVideoFormat: "mp4",
		SelectedAudioFormat: "mp3",
		VideoQuality:        domain.VideoQuality720p,
		AudioQuality:        domain.AudioQuality320k,
	}
}

// DefaultRuntime returns baseline runtime configuration.
func DefaultRuntime() Runtime {
	return Runtime{
		APIBaseURL:           "http://localhost:5000/api",
		HTTPTimeout:          30 * time.Second,
		PollInterval:         2 * time.Second,
		PollMaxAttempts:      300,
		PollMaxWait:          10 * time.Minute,
		PollMaxTransient:     3,
		PollMaxBackoff:       10 * time.Second,
		MaxDownloadBytes:     2 << 30,
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
		OutputDir:            defaultOutputDir(),
		LogLevel:             "info",
		PreferencesPath:      DefaultPreferencesPath(),
		MinAvailableMemoryMB: 512,
	}
}

// DefaultPreferencesPath is the preferences file under the user config dir.
func DefaultPreferencesPath() string {
	return filepath.Join(configDir(), "preferences.json")
}

// DefaultConfigFile is the optional runtime YAML file under the user config dir.
func DefaultConfigFile() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, appName)
}

func defaultOutputDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, "Downloads")
}
