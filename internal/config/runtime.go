package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CARBALITE"

// Runtime is process-level configuration: defaults, then an optional YAML
// file, then CARBALITE_* environment variables.
type Runtime struct {
	APIBaseURL           string        `yaml:"apiBaseUrl"           envconfig:"API_BASE_URL"`
	HTTPTimeout          time.Duration `yaml:"httpTimeout"          envconfig:"HTTP_TIMEOUT"`
	PollInterval         time.Duration `yaml:"pollInterval"         envconfig:"POLL_INTERVAL"`
	PollMaxAttempts      int           `yaml:"pollMaxAttempts"      envconfig:"POLL_MAX_ATTEMPTS"`
	PollMaxWait          time.Duration `yaml:"pollMaxWait"          envconfig:"POLL_MAX_WAIT"`
	PollMaxTransient     int           `yaml:"pollMaxTransient"     envconfig:"POLL_MAX_TRANSIENT"`
	PollMaxBackoff       time.Duration `yaml:"pollMaxBackoff"       envconfig:"POLL_MAX_BACKOFF"`
	MaxDownloadBytes     int64         `yaml:"maxDownloadBytes"     envconfig:"MAX_DOWNLOAD_BYTES"`
	FFmpegPath           string        `yaml:"ffmpegPath"           envconfig:"FFMPEG_PATH"`
	FFprobePath          string        `yaml:"ffprobePath"          envconfig:"FFPROBE_PATH"`
	OutputDir            string        `yaml:"outputDir"            envconfig:"OUTPUT_DIR"`
	LogLevel             string        `yaml:"logLevel"             envconfig:"LOG_LEVEL"`
	PreferencesPath      string        `yaml:"preferencesPath"      envconfig:"PREFERENCES_PATH"`
	MinAvailableMemoryMB uint64        `yaml:"minAvailableMemoryMb" envconfig:"MIN_AVAILABLE_MEMORY_MB"`
}

// LoadRuntime builds the runtime configuration. An empty path falls back to
// $CARBALITE_CONFIG_FILE, then the default config file; a missing file is
// not an error.
func LoadRuntime(path string) (Runtime, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path == "" {
		path = DefaultConfigFile()
	}

	c := DefaultRuntime()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Runtime{}, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return Runtime{}, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Runtime{}, fmt.Errorf("parsing environment variables: %w", err)
	}

	return c, nil
}

// Validate rejects configurations the run pipeline cannot work with.
func (c Runtime) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid configuration: apiBaseUrl / %s_API_BASE_URL must be an http(s) URL, got %q", EnvPrefix, c.APIBaseURL)
	}

	if y, e := func() (string, string) {
		if c.HTTPTimeout <= 0 {
			return "httpTimeout", "HTTP_TIMEOUT"
		}
		if c.PollInterval <= 0 {
			return "pollInterval", "POLL_INTERVAL"
		}
		if c.PollMaxAttempts <= 0 {
			return "pollMaxAttempts", "POLL_MAX_ATTEMPTS"
		}
		if c.PollMaxWait <= 0 {
			return "pollMaxWait", "POLL_MAX_WAIT"
		}
		if c.PollMaxTransient <= 0 {
			return "pollMaxTransient", "POLL_MAX_TRANSIENT"
		}
		if c.PollMaxBackoff < c.PollInterval {
			return "pollMaxBackoff", "POLL_MAX_BACKOFF"
		}
		if c.MaxDownloadBytes <= 0 {
			return "maxDownloadBytes", "MAX_DOWNLOAD_BYTES"
		}
		if strings.TrimSpace(c.FFmpegPath) == "" {
			return "ffmpegPath", "FFMPEG_PATH"
		}
		if strings.TrimSpace(c.PreferencesPath) == "" {
			return "preferencesPath", "PREFERENCES_PATH"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf("invalid configuration: %s / %s_%s must be set and positive", y, EnvPrefix, e)
	}

	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("invalid configuration: logLevel / %s_LOG_LEVEL %q is not a log level", EnvPrefix, c.LogLevel)
	}
	return nil
}

// Logger builds the root logger for the configured level, writing to stderr.
func (c Runtime) Logger() hclog.Logger {
	return c.LoggerTo(nil)
}

// LoggerTo is Logger with an explicit destination. A nil w means stderr.
func (c Runtime) LoggerTo(w io.Writer) hclog.Logger {
	level := hclog.LevelFromString(c.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   appName,
		Level:  level,
		Output: w,
	})
}
