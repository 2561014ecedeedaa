package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
)

type Config struct {
	Mode      Mode            `toml:"-"`
	Region    string          `toml:"region"`
	Service   ServiceConfig   `toml:"service"`
	API       APIConfig       `toml:"api"`
	Flow      FlowConfig      `toml:"flow"`
	Capture   CaptureConfig   `toml:"capture"`
	Endpoints EndpointsConfig `toml:"endpoints"`
	Database  DatabaseConfig  `toml:"database"`
	Mock      MockConfig      `toml:"mock"`
}

type ServiceConfig struct {
	Mode        string `toml:"mode"`
	LogLevel    string `toml:"log_level"`
	ConsoleLogs bool   `toml:"console_logs"`
	MetricsPort uint32 `toml:"metrics_port"`
}

type APIConfig struct {
	BaseURL         string        `toml:"base_url"`
	Timeout         time.Duration `toml:"timeout"`
	MultipartImages bool          `toml:"multipart_images"`
	DeviceID        string        `toml:"device_id"`
}

type FlowConfig struct {
	FatalProtocolErrors bool          `toml:"fatal_protocol_errors"`
	SessionTTL          time.Duration `toml:"session_ttl"`
	SessionCacheSize    int           `toml:"session_cache_size"`
}

type CaptureConfig struct {
	Width         int           `toml:"width"`
	Height        int           `toml:"height"`
	FacingMode    string        `toml:"facing_mode"`
	AspectRatio   float64       `toml:"aspect_ratio"`
	FlashDuration time.Duration `toml:"flash_duration"`
}

type EndpointsConfig struct {
	AWSEndpoint string `toml:"aws_endpoint"`
}

type DatabaseConfig struct {
	AttemptsTable string        `toml:"attempts_table"`
	SessionIndex  string        `toml:"session_index"`
	Retention     time.Duration `toml:"retention"`
}

type MockConfig struct {
	Port           uint32        `toml:"port"`
	Flow           []string      `toml:"flow"`
	Email          string        `toml:"email"`
	Password       string        `toml:"password"`
	MotionPattern  []string      `toml:"motion_pattern"`
	SessionExpiry  time.Duration `toml:"session_expiry"`
	AllowedOrigins []string      `toml:"allowed_origins"`
}

// New loads the TOML file named by the CONFIG environment variable.
func New() (*Config, error) {
	return Load(os.Getenv("CONFIG"))
}

func Load(fileName string) (*Config, error) {
	if fileName == "" {
		return nil, fmt.Errorf("config file name is empty, set the CONFIG environment variable")
	}
	var cfg Config
	if _, err := toml.DecodeFile(fileName, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) finalize() error {
	var mode Mode
	switch cfg.Service.Mode {
	case "local", "":
		mode = LocalMode
	case "dev", "development":
		mode = DevelopmentMode
	case "prod", "production":
		mode = ProductionMode
	default:
		return fmt.Errorf("config service.mode value is invalid, must be one of \"local\", \"development\", \"dev\", \"production\" or \"prod\"")
	}
	cfg.Mode = mode
	cfg.Service.Mode = mode.String()

	cfg.setDefaults()
	return cfg.Validate()
}

func (cfg *Config) setDefaults() {
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.Flow.SessionTTL == 0 {
		cfg.Flow.SessionTTL = 5 * time.Minute
	}
	if cfg.Flow.SessionCacheSize == 0 {
		cfg.Flow.SessionCacheSize = 1024
	}
	if cfg.Capture.Width == 0 {
		cfg.Capture.Width = 600
	}
	if cfg.Capture.Height == 0 {
		cfg.Capture.Height = cfg.Capture.Width
	}
	if cfg.Capture.FacingMode == "" {
		cfg.Capture.FacingMode = "environment"
	}
	if cfg.Capture.AspectRatio == 0 {
		cfg.Capture.AspectRatio = 1
	}
	if cfg.Capture.FlashDuration == 0 {
		cfg.Capture.FlashDuration = 750 * time.Millisecond
	}
	if cfg.Mock.Port == 0 {
		cfg.Mock.Port = 9999
	}
	if len(cfg.Mock.Flow) == 0 {
		cfg.Mock.Flow = []string{"password", "motion_pattern", "face_recognition"}
	}
	if cfg.Mock.SessionExpiry == 0 {
		cfg.Mock.SessionExpiry = 5 * time.Minute
	}
}

// Validate reports every invalid setting at once.
func (cfg *Config) Validate() error {
	var result *multierror.Error
	if cfg.Mode != LocalMode && cfg.API.BaseURL == "" {
		result = multierror.Append(result, fmt.Errorf("api.base_url is required in %s mode", cfg.Mode))
	}
	if cfg.API.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("api.timeout must not be negative"))
	}
	if cfg.Database.Retention < 0 {
		result = multierror.Append(result, fmt.Errorf("database.retention must not be negative"))
	}
	if cfg.Flow.SessionTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("flow.session_ttl must not be negative"))
	}
	if cfg.Capture.Width < 0 || cfg.Capture.Height < 0 {
		result = multierror.Append(result, fmt.Errorf("capture.width and capture.height must not be negative"))
	}
	if cfg.Capture.AspectRatio < 0 {
		result = multierror.Append(result, fmt.Errorf("capture.aspect_ratio must be positive"))
	}
	switch cfg.Capture.FacingMode {
	case "user", "environment", "left", "right":
	default:
		result = multierror.Append(result, fmt.Errorf("capture.facing_mode %q is invalid", cfg.Capture.FacingMode))
	}
	if cfg.Database.AttemptsTable != "" && cfg.Region == "" {
		result = multierror.Append(result, fmt.Errorf("region is required when database.attempts_table is set"))
	}
	for _, stage := range cfg.Mock.Flow {
		if stage == "" || stage == "email" {
			result = multierror.Append(result, fmt.Errorf("mock.flow contains invalid stage %q", stage))
		}
	}
	return result.ErrorOrNil()
}

type Mode uint32

const (
	LocalMode Mode = iota
	DevelopmentMode
	ProductionMode
)

func (m Mode) String() string {
	switch m {
	case LocalMode:
		return "local"
	case DevelopmentMode:
		return "development"
	case ProductionMode:
		return "production"
	default:
		return ""
	}
}
