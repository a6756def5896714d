// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the environment-driven options named in spec.md §6,
// bound from cobra/pflag flags and an optional YAML file via viper, plus the
// ioctl-reachable runtime-reconfigurable subset.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Severity level names accepted by the --log-severity flag.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// RetryConfig is the retry/delay manager's policy (spec.md §4.5).
type RetryConfig struct {
	InitialDelay time.Duration `mapstructure:"initial-delay"`
	Saturate     time.Duration `mapstructure:"saturate"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DiskCacheConfig configures the on-disk cache layer (spec.md §4.1.2).
type DiskCacheConfig struct {
	Dir               string  `mapstructure:"dir"`
	MaxMB             int64   `mapstructure:"max-mb"`
	MaxFiles          int64   `mapstructure:"max-files"`
	EvictFraction     float64 `mapstructure:"evict-fraction"`
	EvictLoPct        float64 `mapstructure:"evict-lo-pct"`
	EvictHiPct        float64 `mapstructure:"evict-hi-pct"`
	EvictPeriod       time.Duration `mapstructure:"evict-period"`
	InjectProbability float64 `mapstructure:"inject-probability"`
}

// PeerCacheConfig configures the optional distributed peer layer (spec.md
// §4.1.3).
type PeerCacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen-addr"`
	Peers      []string `mapstructure:"peers"`
	DiskCacheInFront bool `mapstructure:"disk-cache-in-front"`
}

// LogRotateConfig mirrors lumberjack's knobs.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `mapstructure:"max-file-size-mb"`
	BackupFileCount int  `mapstructure:"backup-file-count"`
	Compress        bool `mapstructure:"compress"`
}

func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{MaxFileSizeMB: 10, BackupFileCount: 2, Compress: false}
}

// LogConfig configures the logging subsystem (spec.md §6, §7).
type LogConfig struct {
	FilePath        string `mapstructure:"file-path"`
	Format          string `mapstructure:"format"` // "json" or "text"
	Severity        string `mapstructure:"severity"`
	LogRotateConfig `mapstructure:",squash"`
}

// Config is the top-level, fully-populated configuration (spec.md §6
// "Environment-driven configuration").
type Config struct {
	// BaseURLs is the fallback set of backend origins (spec.md §4.1.1).
	BaseURLs []string `mapstructure:"base-urls"`

	ConnectTimeout  time.Duration `mapstructure:"connect-timeout"`
	TransferTimeout time.Duration `mapstructure:"transfer-timeout"`
	ChunkSizeBytes  int64         `mapstructure:"chunk-size-bytes"`

	SecretDir        string `mapstructure:"secret-dir"`
	ProtocolMinor    int    `mapstructure:"protocol-minor"`
	CacheTag         uint32 `mapstructure:"cache-tag"`

	// IgnoreEstaleMismatch disables the fail-with-ESTALE half of the
	// inode-identity recovery protocol (spec.md §4.4): mismatches are
	// still counted and logged, but the operation proceeds instead of
	// failing.
	IgnoreEstaleMismatch bool `mapstructure:"ignore-estale-mismatch"`

	StaleIfErrorDefault time.Duration `mapstructure:"stale-if-error-default"`
	MaxStaleDefault     int64         `mapstructure:"max-stale-default"`

	Retry     RetryConfig     `mapstructure:"retry"`
	DiskCache DiskCacheConfig `mapstructure:"disk-cache"`
	PeerCache PeerCacheConfig `mapstructure:"peer-cache"`
	Logging   LogConfig       `mapstructure:"logging"`

	OpenFileScanInterval time.Duration `mapstructure:"open-file-scan-interval"`

	IoctlPath string `mapstructure:"ioctl-path"`

	InsecureTLS bool   `mapstructure:"insecure-tls"`
	UserAgent   string `mapstructure:"user-agent"`
	MaxRedirects int   `mapstructure:"max-redirects"`
}

// Default returns a Config populated with the same defaults BindFlags
// registers, for use by callers that construct a Config without going
// through cobra (e.g. tests).
func Default() Config {
	return Config{
		ConnectTimeout:      5 * time.Second,
		TransferTimeout:     60 * time.Second,
		ChunkSizeBytes:      128 * 1024,
		ProtocolMinor:       2,
		StaleIfErrorDefault: 24 * time.Hour,
		MaxStaleDefault:     -1,
		Retry: RetryConfig{
			InitialDelay: 100 * time.Millisecond,
			Saturate:     30 * time.Second,
			Timeout:      5 * time.Minute,
		},
		DiskCache: DiskCacheConfig{
			MaxMB:             10 * 1024,
			MaxFiles:          1 << 20,
			EvictFraction:     0.10,
			EvictLoPct:        80,
			EvictHiPct:        90,
			EvictPeriod:       time.Minute,
			InjectProbability: 1.0,
		},
		Logging: LogConfig{
			Format:          "json",
			Severity:        INFO,
			LogRotateConfig: DefaultLogRotateConfig(),
		},
		OpenFileScanInterval: 750 * time.Millisecond,
		MaxRedirects:         10,
		UserAgent:            "gofs123/1",
	}
}

// BindFlags registers every option above as a persistent flag with the
// defaults from Default(), following the binding pattern of the teacher's
// cmd/flags.go (one pflag per option, later unmarshaled into a Config by
// viper).
func BindFlags(fs *pflag.FlagSet) error {
	d := Default()

	fs.StringSlice("base-urls", d.BaseURLs, "Backend origin URLs, tried in order with fallback")
	fs.Duration("connect-timeout", d.ConnectTimeout, "TCP connect timeout")
	fs.Duration("transfer-timeout", d.TransferTimeout, "HTTP transfer timeout")
	fs.Int64("chunk-size-bytes", d.ChunkSizeBytes, "File read chunk size")
	fs.String("secret-dir", d.SecretDir, "Directory holding request-signing/encryption secrets")
	fs.Int("protocol-minor", d.ProtocolMinor, "fs123 protocol minor version to request")
	fs.Uint32("cache-tag", d.CacheTag, "Opaque cache-tag added to every request")
	fs.Duration("stale-if-error-default", d.StaleIfErrorDefault, "Default stale-if-error window")
	fs.Int64("max-stale-default", d.MaxStaleDefault, "Default max-stale, -1 for unbounded")
	fs.Bool("ignore-estale-mismatch", d.IgnoreEstaleMismatch, "Count and log inode-identity mismatches instead of failing with ESTALE")

	fs.Duration("retry.initial-delay", d.Retry.InitialDelay, "Retry manager initial backoff delay")
	fs.Duration("retry.saturate", d.Retry.Saturate, "Retry manager backoff ceiling")
	fs.Duration("retry.timeout", d.Retry.Timeout, "Retry manager total time budget, 0 disables retries")

	fs.String("disk-cache.dir", d.DiskCache.Dir, "Disk cache directory")
	fs.Int64("disk-cache.max-mb", d.DiskCache.MaxMB, "Disk cache size ceiling in MB")
	fs.Int64("disk-cache.max-files", d.DiskCache.MaxFiles, "Disk cache file-count ceiling")
	fs.Float64("disk-cache.evict-fraction", d.DiskCache.EvictFraction, "Usage fraction of a sub-directory above which an eviction pass unlinks entries")
	fs.Float64("disk-cache.evict-lo-pct", d.DiskCache.EvictLoPct, "Usage percent below which eviction does not run")
	fs.Float64("disk-cache.evict-hi-pct", d.DiskCache.EvictHiPct, "Usage percent above which the admission probability for new entries is reduced")
	fs.Duration("disk-cache.evict-period", d.DiskCache.EvictPeriod, "Interval between eviction passes")
	fs.Float64("disk-cache.inject-probability", d.DiskCache.InjectProbability, "Admission probability for new cache entries")

	fs.Bool("peer-cache.enabled", d.PeerCache.Enabled, "Enable the distributed peer cache")
	fs.String("peer-cache.listen-addr", d.PeerCache.ListenAddr, "Address the peer server listens on")
	fs.StringSlice("peer-cache.peers", d.PeerCache.Peers, "Known peer addresses")
	fs.Bool("peer-cache.disk-cache-in-front", d.PeerCache.DiskCacheInFront, "Accepted but has no effect: the peer cache is always placed above the disk cache")

	fs.String("logging.file-path", d.Logging.FilePath, "Log file path, empty for stderr")
	fs.String("logging.format", d.Logging.Format, "Log format: json or text")
	fs.String("logging.severity", d.Logging.Severity, "Log severity threshold")
	fs.Int("logging.max-file-size-mb", d.Logging.MaxFileSizeMB, "Log rotation size threshold")
	fs.Int("logging.backup-file-count", d.Logging.BackupFileCount, "Log rotation backup count")
	fs.Bool("logging.compress", d.Logging.Compress, "Compress rotated log backups")

	fs.Duration("open-file-scan-interval", d.OpenFileScanInterval, "Open-file scanner poll floor")
	fs.String("ioctl-path", d.IoctlPath, "Path of the runtime-reconfiguration ioctl special file")
	fs.Bool("insecure-tls", d.InsecureTLS, "Skip TLS certificate verification")
	fs.String("user-agent", d.UserAgent, "HTTP User-Agent header")
	fs.Int("max-redirects", d.MaxRedirects, "Maximum HTTP redirects to follow")

	return nil
}
