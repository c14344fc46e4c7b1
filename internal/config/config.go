package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port          string
	MockServerURL string // Base URL of the mock server admin API, e.g. http://localhost:8080
	AdminKey      string // Shared key required on mutating dashboard routes; empty disables the check
	SettingsPath  string // Dashboard settings JSON file, watched for live changes
	DemoDataPath  string // Bundled demo mapping set used when the remote is unreachable

	// Sync engine tuning
	UseSnapshot        bool          // Seed from the carrier snapshot before the first full fetch
	OpTTL              time.Duration // Optimistic operations older than this are swept
	GuardTTL           time.Duration // Pending-deletion guard window
	SweepInterval      time.Duration // How often expired ops are swept
	ValidationInterval time.Duration // Periodic snapshot validation cadence
	StaleThreshold     time.Duration // Snapshot age that forces a rebuild
	MaxPendingOps      int           // Pending op count that forces a rebuild
	SettleDelay        time.Duration // Quiet period after a mutation before snapshotting
	RebuildDebounce    time.Duration // Collapse window for scheduled rebuilds

	// Remote client tuning
	RequestTimeout time.Duration
	RetryAttempts  int
	RequestsPerSec float64
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "3001"),
		MockServerURL: strings.TrimRight(getEnv("MOCK_SERVER_URL", "http://localhost:8080"), "/"),
		AdminKey:      getEnv("ADMIN_KEY", ""),
		SettingsPath:  getEnv("SETTINGS_PATH", "settings.json"),
		DemoDataPath:  getEnv("DEMO_DATA_PATH", "demo-mappings.yaml"),

		UseSnapshot:        getBoolEnv("USE_SNAPSHOT", true),
		OpTTL:              getDurationEnv("OP_TTL", 30*time.Second),
		GuardTTL:           getDurationEnv("GUARD_TTL", 15*time.Second),
		SweepInterval:      getDurationEnv("SWEEP_INTERVAL", 10*time.Second),
		ValidationInterval: getDurationEnv("VALIDATION_INTERVAL", 60*time.Second),
		StaleThreshold:     getDurationEnv("STALE_THRESHOLD", 5*time.Minute),
		MaxPendingOps:      getIntEnv("MAX_PENDING_OPS", 20),
		SettleDelay:        getDurationEnv("SETTLE_DELAY", 2*time.Second),
		RebuildDebounce:    getDurationEnv("REBUILD_DEBOUNCE", 5*time.Second),

		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 10*time.Second),
		RetryAttempts:  getIntEnv("RETRY_ATTEMPTS", 3),
		RequestsPerSec: getFloatEnv("REQUESTS_PER_SEC", 20),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
