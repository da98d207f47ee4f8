package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Bridge  BridgeConfig  `json:"bridge"`
	Idle    IdleConfig    `json:"idle"`
	Devices DevicesConfig `json:"devices"`
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
	mu      sync.RWMutex
}

type BridgeConfig struct {
	// GlobalName is the page-global object exposing sendMessage/addEventListener/triggerEvent.
	GlobalName string `json:"global_name" env:"HALBRIDGE_BRIDGE_GLOBAL_NAME"`
	// HandlerName is the message channel name under window.webkit.messageHandlers.
	HandlerName    string `json:"handler_name" env:"HALBRIDGE_BRIDGE_HANDLER_NAME"`
	ReportFailures bool   `json:"report_failures" env:"HALBRIDGE_BRIDGE_REPORT_FAILURES"`
	RejectBusy     bool   `json:"reject_busy" env:"HALBRIDGE_BRIDGE_REJECT_BUSY"`
}

type IdleConfig struct {
	Enabled       bool    `json:"enabled" env:"HALBRIDGE_IDLE_ENABLED"`
	PeriodSeconds float64 `json:"period_seconds" env:"HALBRIDGE_IDLE_PERIOD_SECONDS"`
}

type DevicesConfig struct {
	Backend               string `json:"backend" env:"HALBRIDGE_DEVICES_BACKEND"` // termux|auto|static|none
	FrontCameraID         int    `json:"front_camera_id" env:"HALBRIDGE_DEVICES_FRONT_CAMERA_ID"`
	BackCameraID          int    `json:"back_camera_id" env:"HALBRIDGE_DEVICES_BACK_CAMERA_ID"`
	CaptureTimeoutSeconds int    `json:"capture_timeout_seconds" env:"HALBRIDGE_DEVICES_CAPTURE_TIMEOUT_SECONDS"`
	MaxPhotoDimension     int    `json:"max_photo_dimension" env:"HALBRIDGE_DEVICES_MAX_PHOTO_DIMENSION"`
	StaticBarcode         string `json:"static_barcode" env:"HALBRIDGE_DEVICES_STATIC_BARCODE"`
	StaticPhotoPath       string `json:"static_photo_path" env:"HALBRIDGE_DEVICES_STATIC_PHOTO_PATH"`
}

type StorageConfig struct {
	Workspace      string `json:"workspace" env:"HALBRIDGE_STORAGE_WORKSPACE"`
	ArgumentsFile  string `json:"arguments_file" env:"HALBRIDGE_STORAGE_ARGUMENTS_FILE"`
	ArgumentsKey   string `json:"arguments_key" env:"HALBRIDGE_STORAGE_ARGUMENTS_KEY"`
	ArchivePhotos  bool   `json:"archive_photos" env:"HALBRIDGE_STORAGE_ARCHIVE_PHOTOS"`
	JournalEnabled bool   `json:"journal_enabled" env:"HALBRIDGE_STORAGE_JOURNAL_ENABLED"`
	JournalMaxDays int    `json:"journal_max_days" env:"HALBRIDGE_STORAGE_JOURNAL_MAX_DAYS"`
}

type LoggingConfig struct {
	Level           string `json:"level" env:"HALBRIDGE_LOGGING_LEVEL"`
	FileEnabled     bool   `json:"file_enabled" env:"HALBRIDGE_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"HALBRIDGE_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"HALBRIDGE_LOGGING_ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"HALBRIDGE_LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"HALBRIDGE_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			GlobalName:     "rc_hal",
			HandlerName:    "halbridge",
			ReportFailures: false,
			RejectBusy:     true,
		},
		Idle: IdleConfig{
			Enabled:       true,
			PeriodSeconds: 30,
		},
		Devices: DevicesConfig{
			Backend:               "termux",
			FrontCameraID:         1,
			BackCameraID:          0,
			CaptureTimeoutSeconds: 60,
			MaxPhotoDimension:     1600,
		},
		Storage: StorageConfig{
			Workspace:      "~/.halbridge/workspace",
			ArgumentsFile:  "arguments.json",
			ArgumentsKey:   "arguments",
			ArchivePhotos:  false,
			JournalEnabled: true,
			JournalMaxDays: 30,
		},
		Logging: LoggingConfig{
			Level:           "info",
			FileEnabled:     true,
			FilePath:        "~/.halbridge/workspace/halbridge.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       20,
		},
	}
}

// DefaultPath is the config location unless HALBRIDGE_CONFIG overrides it.
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv("HALBRIDGE_CONFIG")); p != "" {
		return expandHome(p)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".halbridge", "config.json")
}

// LoadConfig reads path over DefaultConfig and applies HALBRIDGE_* overrides.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	resolvePathRefs(cfg)

	return cfg, nil
}

func resolvePathRefs(cfg *Config) {
	paths := []*string{
		&cfg.Storage.Workspace,
		&cfg.Storage.ArgumentsFile,
		&cfg.Logging.FilePath,
		&cfg.Devices.StaticPhotoPath,
	}
	for _, p := range paths {
		*p = resolveEnvRef(*p)
	}
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		if val, ok := os.LookupEnv(strings.TrimSpace(s[1:])); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.Workspace)
}

// ArgumentsPath resolves the stored-arguments file; relative names live in the workspace.
func (c *Config) ArgumentsPath() string {
	c.mu.RLock()
	name := expandHome(c.Storage.ArgumentsFile)
	c.mu.RUnlock()

	if name == "" {
		name = "arguments.json"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.WorkspacePath(), name)
}

func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.Logging.FileEnabled {
		return ""
	}
	return expandHome(c.Logging.FilePath)
}

// IdlePeriod returns the idle window, falling back to 30s for non-positive values.
func (c *Config) IdlePeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Idle.PeriodSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Idle.PeriodSeconds * float64(time.Second))
}

func (c *Config) CaptureTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Devices.CaptureTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Devices.CaptureTimeoutSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
