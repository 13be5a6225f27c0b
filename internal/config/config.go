// Package config loads runtime tunables for the PyGaSe server process from
// environment variables, applying sane defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultUDPAddr is the default UDP address the game socket listens on.
	DefaultUDPAddr = ":8080"
	// DefaultAdminAddr is the default address the HTTP admin surface
	// (§4.13 /livez, /readyz, /metrics, /admin/snapshot) listens on.
	DefaultAdminAddr = ":8081"

	// DefaultConnectionTimeout mirrors netconn.DefaultTimeout (kept as a
	// literal here, not an import, so config stays a leaf package).
	DefaultConnectionTimeout = 5 * time.Second
	// DefaultPackageTimeout mirrors netconn.DefaultPackageTimeout.
	DefaultPackageTimeout = 1 * time.Second

	// DefaultSnapshotDir is where on-demand state snapshots are written.
	DefaultSnapshotDir = "snapshots"
	// DefaultSnapshotRateWindow bounds how frequently /admin/snapshot may
	// be triggered.
	DefaultSnapshotRateWindow = time.Minute
	// DefaultSnapshotRateBurst sets how many snapshot requests may be
	// made per window.
	DefaultSnapshotRateBurst = 1

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "pygase.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultGameCacheSize mirrors gamestate.DefaultCacheSize.
	DefaultGameCacheSize = 100
)

// Config captures all runtime tunables for the server process.
type Config struct {
	UDPAddr           string
	AdminAddr         string
	AdminToken        string
	ConnectionTimeout time.Duration
	PackageTimeout    time.Duration
	GameCacheSize     int

	SnapshotDir        string
	SnapshotRateWindow time.Duration
	SnapshotRateBurst  int

	WSMirrorEnabled bool
	WSMirrorPath    string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		UDPAddr:            getString("PYGASE_UDP_ADDR", DefaultUDPAddr),
		AdminAddr:          getString("PYGASE_ADMIN_ADDR", DefaultAdminAddr),
		AdminToken:         strings.TrimSpace(os.Getenv("PYGASE_ADMIN_TOKEN")),
		ConnectionTimeout:  DefaultConnectionTimeout,
		PackageTimeout:     DefaultPackageTimeout,
		GameCacheSize:      DefaultGameCacheSize,
		SnapshotDir:        getString("PYGASE_SNAPSHOT_DIR", DefaultSnapshotDir),
		SnapshotRateWindow: DefaultSnapshotRateWindow,
		SnapshotRateBurst:  DefaultSnapshotRateBurst,
		WSMirrorEnabled:    true,
		WSMirrorPath:       getString("PYGASE_WSMIRROR_PATH", "/debug/state"),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("PYGASE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("PYGASE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("PYGASE_CONNECTION_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_CONNECTION_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.ConnectionTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_PACKAGE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_PACKAGE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.PackageTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_GAME_CACHE_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_GAME_CACHE_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.GameCacheSize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_SNAPSHOT_RATE_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_SNAPSHOT_RATE_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.SnapshotRateWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_SNAPSHOT_RATE_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_SNAPSHOT_RATE_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.SnapshotRateBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PYGASE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("PYGASE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYGASE_WSMIRROR_ENABLED")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("PYGASE_WSMIRROR_ENABLED must be a boolean value, got %q", raw))
		} else {
			cfg.WSMirrorEnabled = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
