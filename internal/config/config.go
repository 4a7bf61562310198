// Package config holds the base station's runtime settings: static
// defaults (spec §6) overridable by an optional YAML file, plus the five
// dynamic flags the mapping controller applies from the control plane at
// startup.
package config

import (
	"fmt"
	"os"
	"time"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Settings mirrors original_source/Basestation/Settings.py, adapted into a
// single tagged struct the way internal/testutils builds fixtures with
// go-defaults.
type Settings struct {
	BasestationName string `yaml:"basestation_name" default:"patchstation"`
	SoftwareVersion string `yaml:"software_version" default:"0.1.0"`

	BrokerHost string `yaml:"broker_host" default:"localhost"`
	BrokerPort int    `yaml:"broker_port" default:"1883"`
	BackendURL string `yaml:"backend_url" default:"http://localhost:8080"`
	Username   string `yaml:"username" default:""`
	Password   string `yaml:"password" default:""`

	InitializationDelay time.Duration `yaml:"initialization_delay" default:"1s"`
	ProcessingDelay      time.Duration `yaml:"processing_delay" default:"50ms"`
	PublishingDelay      time.Duration `yaml:"publishing_delay" default:"50ms"`

	MaxPatients     int `yaml:"max_patients" default:"100"`
	DeviceMaximum   int `yaml:"device_maximum" default:"10"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"60s"`
	ConfigWindow     time.Duration `yaml:"config_window" default:"30s"`
	BusErrorBackoff  time.Duration `yaml:"bus_error_backoff" default:"2s"`
	IdlePollInterval time.Duration `yaml:"idle_poll_interval" default:"2s"`
	JanitorInterval  time.Duration `yaml:"janitor_interval" default:"30s"`
	HousekeepingTick time.Duration `yaml:"housekeeping_tick" default:"1s"`

	DSPTickInterval time.Duration `yaml:"dsp_tick_interval" default:"1s"`
	DSPWarmup       time.Duration `yaml:"dsp_warmup" default:"30s"`

	LogRoot    string `yaml:"log_root" default:"./data"`
	RawLogRoot string `yaml:"raw_log_root" default:"./data/raw"`

	// Dynamic flags, overridable from the control plane at startup (spec §4.2/§6).
	ProcessData         bool `yaml:"process_data" default:"true"`
	PublishToThingsboard bool `yaml:"publish_to_thingsboard" default:"true"`
	LocalDataLogging    bool `yaml:"local_data_logging" default:"false"`
	SaveRawData         bool `yaml:"save_raw_data" default:"false"`
	PublishRawData      bool `yaml:"publish_raw_data" default:"false"`

	LogLevel string `yaml:"log_level" default:"info"`
}

// Default returns Settings populated with their struct-tag defaults.
func Default() *Settings {
	s := &Settings{}
	defaults.SetDefaults(s)
	return s
}

// LoadOverrides reads an optional YAML file and applies any fields it sets
// on top of s. A missing file is not an error — it's the common case for a
// base station running entirely on defaults plus remote config.
func (s *Settings) LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config override %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parsing config override %q: %w", path, err)
	}
	return nil
}

// BaseStationConfigKeys are the five remote attribute keys that set
// dynamic flags (spec §4.2); applying any of them requires a base station
// restart to take effect, which is only logged, never performed
// automatically.
var BaseStationConfigKeys = []string{
	"publishToThingsboard",
	"saveRawData",
	"publishRawData",
	"processData",
	"localDataLogging",
}

// ApplyBaseStationKey updates the named dynamic flag, returning false if
// key is not one of BaseStationConfigKeys.
func (s *Settings) ApplyBaseStationKey(key string, value bool) bool {
	switch key {
	case "publishToThingsboard":
		s.PublishToThingsboard = value
	case "saveRawData":
		s.SaveRawData = value
	case "publishRawData":
		s.PublishRawData = value
	case "processData":
		s.ProcessData = value
	case "localDataLogging":
		s.LocalDataLogging = value
	default:
		return false
	}
	return true
}

// NewLogger builds the process-wide logrus logger from Settings.LogLevel,
// mirroring cmd/blim/logging.go's configureLogger.
func (s *Settings) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
