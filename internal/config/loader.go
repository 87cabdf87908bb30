// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/voxsync/internal/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOXSYNC_"

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
var ErrUnknownConfigField = errors.New("unknown config field")

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	envFile    string
	version    string
	// ConsumedEnvKeys records every VOXSYNC_* key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. envFile may be empty, in which
// case ".env" in the working directory is tried.
func NewLoader(configPath, envFile, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		envFile:         envFile,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// ConfigPath is the YAML file this loader reads, if any.
func (l *Loader) ConfigPath() string { return l.configPath }

func (l *Loader) envString(key, def string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, def)
}

func (l *Loader) envList(key string, def []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, def)
}

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (AppConfig, error) {
	if err := l.loadDotEnv(); err != nil {
		return AppConfig{}, err
	}

	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	l.warnUnknownEnv()

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Auth.TokenFile == "" {
		cfg.Auth.TokenFile = filepath.Join(cfg.DataDir, "oauth-token.json")
	}
	if cfg.API.ExportDir == "" {
		cfg.API.ExportDir = filepath.Join(cfg.DataDir, "exports")
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding the real environment.
func (l *Loader) loadDotEnv() error {
	path := l.envFile
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	switch {
	case err == nil:
		logger := log.WithComponent("config")
		logger.Debug().Str(log.FieldPath, path).Msg("loaded env file")
		return nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("load env file %s: %w", path, err)
	}
}

func (l *Loader) loadFile(path string, dst *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString("VOXSYNC_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("VOXSYNC_LOG_LEVEL", cfg.LogLevel)

	cfg.API.ListenAddr = l.envString("VOXSYNC_LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.Token = l.envString("VOXSYNC_API_TOKEN", cfg.API.Token)
	cfg.API.RateLimit = l.envInt("VOXSYNC_API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.AllowedOrigins = l.envList("VOXSYNC_ALLOWED_ORIGINS", cfg.API.AllowedOrigins)
	cfg.API.ExportDir = l.envString("VOXSYNC_EXPORT_DIR", cfg.API.ExportDir)
	cfg.API.TrustedProxies = l.envList("VOXSYNC_TRUSTED_PROXIES", cfg.API.TrustedProxies)

	cfg.Store.Backend = l.envString("VOXSYNC_STORE_BACKEND", cfg.Store.Backend)

	cfg.Capture.Device = l.envString("VOXSYNC_CAPTURE_DEVICE", cfg.Capture.Device)
	cfg.Capture.FFmpegBin = l.envString("VOXSYNC_FFMPEG_BIN", cfg.Capture.FFmpegBin)
	cfg.Capture.InputFormat = l.envString("VOXSYNC_CAPTURE_INPUT_FORMAT", cfg.Capture.InputFormat)
	cfg.Capture.InputDevice = l.envString("VOXSYNC_CAPTURE_INPUT_DEVICE", cfg.Capture.InputDevice)
	cfg.Capture.FlushInterval = l.envDuration("VOXSYNC_CAPTURE_FLUSH_INTERVAL", cfg.Capture.FlushInterval)

	cfg.Remote.Provider = l.envString("VOXSYNC_REMOTE_PROVIDER", cfg.Remote.Provider)
	cfg.Remote.FolderID = l.envString("VOXSYNC_REMOTE_FOLDER_ID", cfg.Remote.FolderID)
	cfg.Remote.Endpoint = l.envString("VOXSYNC_REMOTE_ENDPOINT", cfg.Remote.Endpoint)
	cfg.Remote.Bucket = l.envString("VOXSYNC_REMOTE_BUCKET", cfg.Remote.Bucket)
	cfg.Remote.Region = l.envString("VOXSYNC_REMOTE_REGION", cfg.Remote.Region)
	cfg.Remote.AccessKey = l.envString("VOXSYNC_REMOTE_ACCESS_KEY", cfg.Remote.AccessKey)
	cfg.Remote.SecretKey = l.envString("VOXSYNC_REMOTE_SECRET_KEY", cfg.Remote.SecretKey)
	cfg.Remote.Timeout = l.envDuration("VOXSYNC_REMOTE_TIMEOUT", cfg.Remote.Timeout)
	cfg.Remote.BreakerThreshold = l.envInt("VOXSYNC_REMOTE_BREAKER_THRESHOLD", cfg.Remote.BreakerThreshold)
	cfg.Remote.BreakerReset = l.envDuration("VOXSYNC_REMOTE_BREAKER_RESET", cfg.Remote.BreakerReset)

	cfg.Auth.ClientID = l.envString("VOXSYNC_OAUTH_CLIENT_ID", cfg.Auth.ClientID)
	cfg.Auth.ClientSecret = l.envString("VOXSYNC_OAUTH_CLIENT_SECRET", cfg.Auth.ClientSecret)
	cfg.Auth.RedirectURL = l.envString("VOXSYNC_OAUTH_REDIRECT_URL", cfg.Auth.RedirectURL)
	cfg.Auth.TokenFile = l.envString("VOXSYNC_OAUTH_TOKEN_FILE", cfg.Auth.TokenFile)
	cfg.Auth.StaticToken = l.envString("VOXSYNC_STATIC_TOKEN", cfg.Auth.StaticToken)

	cfg.Connectivity.ProbeURL = l.envString("VOXSYNC_PROBE_URL", cfg.Connectivity.ProbeURL)
	cfg.Connectivity.Interval = l.envDuration("VOXSYNC_PROBE_INTERVAL", cfg.Connectivity.Interval)
	cfg.Connectivity.Timeout = l.envDuration("VOXSYNC_PROBE_TIMEOUT", cfg.Connectivity.Timeout)

	cfg.Mediator.Enabled = l.envBool("VOXSYNC_MEDIATOR_ENABLED", cfg.Mediator.Enabled)
	cfg.Mediator.Origin = l.envString("VOXSYNC_MEDIATOR_ORIGIN", cfg.Mediator.Origin)
	cfg.Mediator.Generation = l.envString("VOXSYNC_MEDIATOR_GENERATION", cfg.Mediator.Generation)
	cfg.Mediator.BypassHosts = l.envList("VOXSYNC_MEDIATOR_BYPASS_HOSTS", cfg.Mediator.BypassHosts)
	cfg.Mediator.CacheBackend = l.envString("VOXSYNC_MEDIATOR_CACHE_BACKEND", cfg.Mediator.CacheBackend)
	cfg.Mediator.RedisAddr = l.envString("VOXSYNC_REDIS_ADDR", cfg.Mediator.RedisAddr)

	cfg.Telemetry.Enabled = l.envBool("VOXSYNC_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("VOXSYNC_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("VOXSYNC_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("VOXSYNC_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// UnknownEnvKeys lists VOXSYNC_* variables the loader never consumed.
func (l *Loader) UnknownEnvKeys() []string {
	var out []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (l *Loader) warnUnknownEnv() {
	for _, key := range l.UnknownEnvKeys() {
		logger := log.WithComponent("config")
		logger.Warn().Str("key", key).Msg("unknown environment variable ignored")
	}
}
