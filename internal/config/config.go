// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration: defaults, then a strict YAML
// file, then VOXSYNC_* environment overrides, then validation.
package config

import (
	"time"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	API          APIConfig          `yaml:"api"`
	Store        StoreConfig        `yaml:"store"`
	Capture      CaptureConfig      `yaml:"capture"`
	Remote       RemoteConfig       `yaml:"remote"`
	Auth         AuthConfig         `yaml:"auth"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Mediator     MediatorConfig     `yaml:"mediator"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// Token guards mutating routes when set.
	Token          string   `yaml:"token"`
	RateLimit      int      `yaml:"rateLimit"` // requests per minute per client
	AllowedOrigins []string `yaml:"allowedOrigins"`
	ExportDir      string   `yaml:"exportDir"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `yaml:"trustedProxies"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite | memory
}

type CaptureConfig struct {
	Device        string        `yaml:"device"` // ffmpeg | synthetic
	FFmpegBin     string        `yaml:"ffmpegBin"`
	InputFormat   string        `yaml:"inputFormat"`
	InputDevice   string        `yaml:"inputDevice"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	StatusHistory int           `yaml:"statusHistory"`
}

type RemoteConfig struct {
	Provider  string        `yaml:"provider"` // drive | http | s3
	FolderID  string        `yaml:"folderId"`
	Endpoint  string        `yaml:"endpoint"`
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region"`
	AccessKey string        `yaml:"accessKey"`
	SecretKey string        `yaml:"secretKey"`
	Timeout   time.Duration `yaml:"timeout"`

	// BreakerThreshold consecutive failures pause uploads for BreakerReset; 0 disables.
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

type AuthConfig struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURL  string `yaml:"redirectUrl"`
	TokenFile    string `yaml:"tokenFile"`
	// StaticToken bypasses the OAuth flow with a pre-issued bearer token.
	StaticToken string `yaml:"staticToken"`
}

type ConnectivityConfig struct {
	ProbeURL string        `yaml:"probeUrl"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type MediatorConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Origin       string   `yaml:"origin"`
	Generation   string   `yaml:"generation"`
	Manifest     []string `yaml:"manifest"`
	BypassHosts  []string `yaml:"bypassHosts"`
	CacheBackend string   `yaml:"cacheBackend"` // badger | redis | memory
	RedisAddr    string   `yaml:"redisAddr"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc | http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "data",
		LogLevel: "info",
		API: APIConfig{
			ListenAddr: ":8088",
			RateLimit:  600,
		},
		Store: StoreConfig{Backend: "sqlite"},
		Capture: CaptureConfig{
			Device:        "ffmpeg",
			FFmpegBin:     "ffmpeg",
			FlushInterval: time.Second,
			StatusHistory: 50,
		},
		Remote: RemoteConfig{
			Provider: "drive",
			Region:   "us-east-1",
			Timeout:  2 * time.Minute,

			BreakerThreshold: 5,
			BreakerReset:     time.Minute,
		},
		Auth: AuthConfig{
			RedirectURL: "http://localhost:8088/api/auth/callback",
		},
		Connectivity: ConnectivityConfig{
			ProbeURL: "https://www.googleapis.com/generate_204",
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Mediator: MediatorConfig{
			CacheBackend: "badger",
			Generation:   "v1",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
