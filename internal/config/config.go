// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ayusman/drowsyguard/internal/drowsiness"
)

// Mode selects where frames come from.
type Mode string

const (
	// ModeLocal reads frames from a camera attached to this machine.
	ModeLocal Mode = "local"
	// ModeServer receives frames or landmarks from WebSocket clients.
	ModeServer Mode = "server"
)

// Config holds all runtime settings.
type Config struct {
	Mode        Mode
	HTTPAddr    string
	DataDir     string
	PluginDir   string
	WebDir      string
	CameraID    int
	FPS         int
	MaxImageDim int

	AlertPlugin   string
	AlertAction   string
	PluginTimeout time.Duration

	Detection drowsiness.Config
}

// DBPath returns the location of the sqlite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "drowsyguard.db")
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Mode != ModeLocal && c.Mode != ModeServer {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.FPS < 1 {
		return fmt.Errorf("fps must be at least 1, got %d", c.FPS)
	}
	if c.MaxImageDim < 1 {
		return fmt.Errorf("max image dim must be positive, got %d", c.MaxImageDim)
	}
	if c.PluginTimeout <= 0 {
		return fmt.Errorf("plugin timeout must be positive, got %s", c.PluginTimeout)
	}
	return c.Detection.Validate()
}

// Load reads envFile (".env" when empty), then the process environment,
// which takes precedence. A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	fileVals, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		log.Printf("No %s file found, using environment variables", envFile)
		fileVals = map[string]string{}
	}

	env := &source{file: fileVals}

	dataDir := env.getEnv("DROWSY_DATA_DIR", defaultDataDir())
	cfg := &Config{
		Mode:        Mode(env.getEnv("DROWSY_MODE", string(ModeLocal))),
		HTTPAddr:    env.getEnv("DROWSY_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		PluginDir:   env.getEnv("DROWSY_PLUGIN_DIR", filepath.Join(dataDir, "plugins")),
		WebDir:      env.getEnv("DROWSY_WEB_DIR", ""),
		AlertPlugin: env.getEnv("DROWSY_ALERT_PLUGIN", "alarm"),
		AlertAction: env.getEnv("DROWSY_ALERT_ACTION", "beep"),
	}

	defaults := drowsiness.DefaultConfig()
	cfg.Detection = defaults
	cfg.CameraID = env.getEnvInt("DROWSY_CAMERA_ID", 0)
	cfg.FPS = env.getEnvInt("DROWSY_FPS", 15)
	cfg.MaxImageDim = env.getEnvInt("DROWSY_MAX_IMAGE_DIM", 640)
	cfg.PluginTimeout = time.Duration(env.getEnvInt("DROWSY_PLUGIN_TIMEOUT_MS", 10000)) * time.Millisecond
	cfg.Detection.EARThreshold = env.getEnvFloat("DROWSY_EAR_THRESHOLD", defaults.EARThreshold)
	cfg.Detection.ClosedFramesThreshold = env.getEnvInt("DROWSY_CLOSED_FRAMES", defaults.ClosedFramesThreshold)
	cfg.Detection.AlertCooldownMs = int64(env.getEnvInt("DROWSY_ALERT_COOLDOWN_MS", int(defaults.AlertCooldownMs)))

	if env.err != nil {
		return nil, env.err
	}
	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drowsyguard"
	}
	return filepath.Join(home, ".drowsyguard")
}

// source looks keys up in the environment, then in the env file. The
// first parse error is kept.
type source struct {
	file map[string]string
	err  error
}

func (s *source) lookup(key string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	v, ok := s.file[key]
	return v, ok && v != ""
}

func (s *source) getEnv(key, defaultVal string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return defaultVal
}

func (s *source) getEnvInt(key string, defaultVal int) int {
	v, ok := s.lookup(key)
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.fail(key, v)
		return defaultVal
	}
	return n
}

func (s *source) getEnvFloat(key string, defaultVal float64) float64 {
	v, ok := s.lookup(key)
	if !ok {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		s.fail(key, v)
		return defaultVal
	}
	return f
}

func (s *source) fail(key, val string) {
	if s.err == nil {
		s.err = fmt.Errorf("invalid value %q for %s", val, key)
	}
}
