// Package config provides configuration management for chartsense.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWorkerHost is the address the worker binds to.
	DefaultWorkerHost = "127.0.0.1"
	// DefaultWorkerPort is the worker's HTTP port.
	DefaultWorkerPort = 37877
	// DefaultBackend is the storage backend used when none is configured.
	DefaultBackend = "sqlite"
	// DefaultMaxSessionsPerDay caps each day bucket.
	DefaultMaxSessionsPerDay = 50
	// DefaultMaxDaysToKeep is the retention window in days.
	DefaultMaxDaysToKeep = 7
	// DefaultLogLevel is the zerolog level name used without --debug.
	DefaultLogLevel = "info"

	dataDirName   = ".chartsense"
	dataDirEnv    = "CHARTSENSE_DATA_DIR"
	workerPortEnv = "CHARTSENSE_WORKER_PORT"
)

// Backends lists the accepted values of Config.Backend.
var Backends = []string{"sqlite", "postgres", "redis", "memory"}

// Config holds chartsense settings.
type Config struct {
	WorkerHost string `json:"CHARTSENSE_WORKER_HOST"`
	WorkerPort int    `json:"CHARTSENSE_WORKER_PORT"`

	Backend  string `json:"CHARTSENSE_BACKEND"`
	DBPath   string `json:"CHARTSENSE_DB_PATH"`
	MaxConns int    `json:"CHARTSENSE_MAX_CONNS"`

	PostgresDSN string `json:"CHARTSENSE_POSTGRES_DSN"`

	RedisAddr     string `json:"CHARTSENSE_REDIS_ADDR"`
	RedisPassword string `json:"CHARTSENSE_REDIS_PASSWORD"`
	RedisDB       int    `json:"CHARTSENSE_REDIS_DB"`
	RedisPrefix   string `json:"CHARTSENSE_REDIS_PREFIX"`

	MaxSessionsPerDay int    `json:"CHARTSENSE_MAX_SESSIONS_PER_DAY"`
	MaxDaysToKeep     int    `json:"CHARTSENSE_MAX_DAYS_TO_KEEP"`
	Timezone          string `json:"CHARTSENSE_TIMEZONE"`

	ProvidersPath string `json:"CHARTSENSE_PROVIDERS_PATH"`
	AuthSecret    string `json:"CHARTSENSE_AUTH_SECRET"`
	LogLevel      string `json:"CHARTSENSE_LOG_LEVEL"`
}

var (
	globalConfig *Config
	configMu     sync.Mutex
)

// DataDir returns the chartsense data directory. CHARTSENSE_DATA_DIR overrides ~/.chartsense.
func DataDir() string {
	if dir := os.Getenv(dataDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, dataDirName)
}

// SettingsPath returns the path of settings.json.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "chartsense.db")
}

// ProvidersPath returns the default providers registry path.
func ProvidersPath() string {
	return filepath.Join(DataDir(), "providers.yml")
}

// EnvPath returns the path of the optional .env file in the data directory.
func EnvPath() string {
	return filepath.Join(DataDir(), ".env")
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerHost:        DefaultWorkerHost,
		WorkerPort:        DefaultWorkerPort,
		Backend:           DefaultBackend,
		DBPath:            DBPath(),
		MaxConns:          4,
		RedisAddr:         "localhost:6379",
		RedisPrefix:       "chartsense",
		MaxSessionsPerDay: DefaultMaxSessionsPerDay,
		MaxDaysToKeep:     DefaultMaxDaysToKeep,
		ProvidersPath:     ProvidersPath(),
		LogLevel:          DefaultLogLevel,
	}
}

// Load reads settings.json, then applies .env files and environment variables on top.
// A missing or malformed settings file yields defaults, never an error.
func Load() (*Config, error) {
	cfg := Default()

	loadDotEnv()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		var settings map[string]interface{}
		if err := json.Unmarshal(data, &settings); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
		} else {
			cfg.apply(func(key string) (interface{}, bool) {
				v, ok := settings[key]
				return v, ok
			})
		}
	case !os.IsNotExist(err):
		log.Warn().Err(err).Str("path", SettingsPath()).Msg("Cannot read settings file, using defaults")
	}

	cfg.apply(func(key string) (interface{}, bool) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil, false
		}
		return v, true
	})

	cfg.sanitize()
	return cfg, nil
}

// loadDotEnv loads ./.env and the data directory's .env. Existing variables win.
func loadDotEnv() {
	for _, path := range []string{".env", EnvPath()} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to load .env file")
		}
	}
}

// apply overlays every known key found by lookup.
func (c *Config) apply(lookup func(key string) (interface{}, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			if s, ok := stringValue(v); ok {
				*dst = s
			}
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, ok := intValue(v); ok {
				*dst = n
			}
		}
	}

	str("CHARTSENSE_WORKER_HOST", &c.WorkerHost)
	num(workerPortEnv, &c.WorkerPort)
	str("CHARTSENSE_BACKEND", &c.Backend)
	str("CHARTSENSE_DB_PATH", &c.DBPath)
	num("CHARTSENSE_MAX_CONNS", &c.MaxConns)
	str("CHARTSENSE_POSTGRES_DSN", &c.PostgresDSN)
	str("CHARTSENSE_REDIS_ADDR", &c.RedisAddr)
	str("CHARTSENSE_REDIS_PASSWORD", &c.RedisPassword)
	num("CHARTSENSE_REDIS_DB", &c.RedisDB)
	str("CHARTSENSE_REDIS_PREFIX", &c.RedisPrefix)
	num("CHARTSENSE_MAX_SESSIONS_PER_DAY", &c.MaxSessionsPerDay)
	num("CHARTSENSE_MAX_DAYS_TO_KEEP", &c.MaxDaysToKeep)
	str("CHARTSENSE_TIMEZONE", &c.Timezone)
	str("CHARTSENSE_PROVIDERS_PATH", &c.ProvidersPath)
	str("CHARTSENSE_AUTH_SECRET", &c.AuthSecret)
	str("CHARTSENSE_LOG_LEVEL", &c.LogLevel)
}

// sanitize replaces out-of-range values with defaults.
func (c *Config) sanitize() {
	def := Default()

	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		c.WorkerPort = def.WorkerPort
	}
	if c.WorkerHost == "" {
		c.WorkerHost = def.WorkerHost
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if !isBackend(c.Backend) {
		log.Warn().Str("backend", c.Backend).Msg("Unknown backend, using default")
		c.Backend = def.Backend
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.MaxConns <= 0 {
		c.MaxConns = def.MaxConns
	}
	if c.RedisDB < 0 {
		c.RedisDB = 0
	}
	if c.MaxSessionsPerDay <= 0 {
		c.MaxSessionsPerDay = def.MaxSessionsPerDay
	}
	if c.MaxDaysToKeep <= 0 {
		c.MaxDaysToKeep = def.MaxDaysToKeep
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			log.Warn().Err(err).Str("timezone", c.Timezone).Msg("Unknown timezone, using local time")
			c.Timezone = ""
		}
	}
	if c.ProvidersPath == "" {
		c.ProvidersPath = def.ProvidersPath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

func isBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// Location returns the configured time zone, or time.Local when unset.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WorkerAddr returns host:port for the HTTP listener.
func (c *Config) WorkerAddr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

// WorkerURL returns the base URL of the worker.
func (c *Config) WorkerURL() string {
	return "http://" + c.WorkerAddr()
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	configMu.Lock()
	defer configMu.Unlock()

	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalConfig = cfg
	}
	return globalConfig
}

// EnsureDataDir creates the data directory.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings.json if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

func stringValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func intValue(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
