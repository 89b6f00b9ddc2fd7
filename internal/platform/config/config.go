// Package config loads application configuration from environment variables.
// All variables use the ELEMENTS_ prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Elements ElementsConfig
	Runners  RunnersConfig
	Render   RenderConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Events   EventsConfig
	Log      LogConfig
}

// ElementsConfig locates element directories and the shared search path.
type ElementsConfig struct {
	CoreDir    string
	CourseDir  string
	SharedPath string
}

// CourseElementsDir is the course's element directory, or "" without a course.
func (e ElementsConfig) CourseElementsDir() string {
	if e.CourseDir == "" {
		return ""
	}
	return filepath.Join(e.CourseDir, "elements")
}

// CourseExtensionsDir is the course's element extension directory.
func (e ElementsConfig) CourseExtensionsDir() string {
	if e.CourseDir == "" {
		return ""
	}
	return filepath.Join(e.CourseDir, "elementExtensions")
}

// ServerFilesCoursePath is the course directory put on course elements'
// search path.
func (e ElementsConfig) ServerFilesCoursePath() string {
	if e.CourseDir == "" {
		return ""
	}
	return filepath.Join(e.CourseDir, "serverFilesCourse")
}

// RunnersConfig holds the interpreters for controller files.
type RunnersConfig struct {
	Python string
	Shell  string
}

// RenderConfig holds controller and render limits.
type RenderConfig struct {
	ControllerTimeoutMS int
	MaxDepth            int
	WarnMissing         bool
}

// ControllerTimeout returns the per-call budget.
func (r RenderConfig) ControllerTimeout() time.Duration {
	return time.Duration(r.ControllerTimeoutMS) * time.Millisecond
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// CacheConfig holds Dragonfly/Redis connection settings.
type CacheConfig struct {
	URL        string
	TTLSeconds int
}

// TTL is how long a cached render lives; zero keeps it until evicted.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// EventsConfig holds the local event log settings.
type EventsConfig struct {
	SQLitePath string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with ELEMENTS_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Elements: ElementsConfig{
			CoreDir:    envStr("ELEMENTS_CORE_DIR", "./elements"),
			CourseDir:  envStr("ELEMENTS_COURSE_DIR", ""),
			SharedPath: envStr("ELEMENTS_SHARED_PATH", "./python"),
		},
		Runners: RunnersConfig{
			Python: envStr("ELEMENTS_RUNNER_PY", "python3"),
			Shell:  envStr("ELEMENTS_RUNNER_SH", "sh"),
		},
		Render: RenderConfig{
			ControllerTimeoutMS: envInt("ELEMENTS_CONTROLLER_TIMEOUT_MS", 10000),
			MaxDepth:            envInt("ELEMENTS_MAX_RENDER_DEPTH", 50),
			WarnMissing:         envBool("ELEMENTS_TEMPLATE_WARN_MISSING", false),
		},
		Database: DatabaseConfig{
			URL:      envStr("ELEMENTS_DATABASE_URL", ""),
			MaxConns: envInt("ELEMENTS_DATABASE_MAX_CONNS", 5),
			MinConns: envInt("ELEMENTS_DATABASE_MIN_CONNS", 1),
		},
		Cache: CacheConfig{
			URL:        envStr("ELEMENTS_CACHE_URL", ""),
			TTLSeconds: envInt("ELEMENTS_CACHE_TTL_SECONDS", 600),
		},
		Events: EventsConfig{
			SQLitePath: envStr("ELEMENTS_EVENTS_SQLITE_PATH", ""),
		},
		Log: LogConfig{
			Level:  envStr("ELEMENTS_LOG_LEVEL", "info"),
			Format: envStr("ELEMENTS_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Render.ControllerTimeoutMS <= 0 {
		return fmt.Errorf("ELEMENTS_CONTROLLER_TIMEOUT_MS must be positive, got %d", c.Render.ControllerTimeoutMS)
	}

	if c.Render.MaxDepth <= 0 {
		return fmt.Errorf("ELEMENTS_MAX_RENDER_DEPTH must be positive, got %d", c.Render.MaxDepth)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("ELEMENTS_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	if c.Elements.CourseDir != "" {
		info, err := os.Stat(c.Elements.CourseDir)
		if err != nil {
			return fmt.Errorf("ELEMENTS_COURSE_DIR: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("ELEMENTS_COURSE_DIR %q is not a directory", c.Elements.CourseDir)
		}
	}

	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}
