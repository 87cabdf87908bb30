// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"net"
	"time"

	"github.com/ManuGH/voxsync/internal/validate"
)

// Validate checks a fully merged configuration.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Directory("dataDir", cfg.DataDir, false)
	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("logLevel", err.Error(), cfg.LogLevel)
	}

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.Range("api.rateLimit", cfg.API.RateLimit, 0, 100000)
	for _, p := range cfg.API.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			v.AddError("api.trustedProxies", "must be an IP or CIDR", p)
		}
	}

	v.OneOf("store.backend", cfg.Store.Backend, []string{"sqlite", "memory"})

	v.OneOf("capture.device", cfg.Capture.Device, []string{"ffmpeg", "synthetic"})
	if cfg.Capture.Device == "ffmpeg" {
		v.NotEmpty("capture.ffmpegBin", cfg.Capture.FFmpegBin)
	}
	v.DurationRange("capture.flushInterval", cfg.Capture.FlushInterval, 100*time.Millisecond, time.Minute)

	v.OneOf("remote.provider", cfg.Remote.Provider, []string{"drive", "http", "s3"})
	switch cfg.Remote.Provider {
	case "http":
		v.URL("remote.endpoint", cfg.Remote.Endpoint, []string{"http", "https"})
	case "s3":
		v.RequiredWith("remote.bucket", cfg.Remote.Bucket, "remote.provider is s3")
		v.RequiredWith("remote.region", cfg.Remote.Region, "remote.provider is s3")
		if cfg.Remote.Endpoint != "" {
			v.URL("remote.endpoint", cfg.Remote.Endpoint, []string{"http", "https"})
		}
	}
	v.DurationRange("remote.timeout", cfg.Remote.Timeout, time.Second, time.Hour)
	v.Range("remote.breakerThreshold", cfg.Remote.BreakerThreshold, 0, 1000)
	if cfg.Remote.BreakerThreshold > 0 {
		v.DurationRange("remote.breakerReset", cfg.Remote.BreakerReset, time.Second, time.Hour)
	}

	if cfg.Auth.StaticToken == "" && cfg.Auth.ClientID != "" {
		v.RequiredWith("auth.clientSecret", cfg.Auth.ClientSecret, "auth.clientId is set")
		v.URL("auth.redirectUrl", cfg.Auth.RedirectURL, []string{"http", "https"})
	}

	if cfg.Connectivity.ProbeURL != "" {
		v.URL("connectivity.probeUrl", cfg.Connectivity.ProbeURL, []string{"http", "https"})
	}
	v.DurationRange("connectivity.interval", cfg.Connectivity.Interval, time.Second, time.Hour)
	v.DurationRange("connectivity.timeout", cfg.Connectivity.Timeout, 100*time.Millisecond, time.Minute)

	if cfg.Mediator.Enabled {
		v.URL("mediator.origin", cfg.Mediator.Origin, []string{"http", "https"})
		v.NotEmpty("mediator.generation", cfg.Mediator.Generation)
		v.OneOf("mediator.cacheBackend", cfg.Mediator.CacheBackend, []string{"badger", "redis", "memory"})
		if cfg.Mediator.CacheBackend == "redis" {
			v.RequiredWith("mediator.redisAddr", cfg.Mediator.RedisAddr, "mediator.cacheBackend is redis")
		}
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}

	return v.Err()
}
