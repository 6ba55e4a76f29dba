package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment overrides use an OFFSYNC_ prefix and take precedence over
// file values, matching the deployment convention where the app shell
// injects secrets through the process environment.
func applyEnv(c *Config) {
	setString(&c.BaseURL, "OFFSYNC_BASE_URL")
	setString(&c.TokenURL, "OFFSYNC_TOKEN_URL")
	setString(&c.ClientID, "OFFSYNC_CLIENT_ID")
	setString(&c.ClientSecret, "OFFSYNC_CLIENT_SECRET")
	setInt(&c.RequestTimeoutSec, "OFFSYNC_REQUEST_TIMEOUT_SEC")

	setBool(&c.Debug, "OFFSYNC_DEBUG")
	setString(&c.LogFile, "OFFSYNC_LOG_FILE")

	setString(&c.StorageBackend, "OFFSYNC_STORAGE_BACKEND")
	setString(&c.StorageBaseDir, "OFFSYNC_STORAGE_BASE_DIR")
	setString(&c.RedisAddr, "OFFSYNC_REDIS_ADDR")
	setString(&c.RedisPassword, "OFFSYNC_REDIS_PASSWORD")
	setInt(&c.RedisDB, "OFFSYNC_REDIS_DB")
	setString(&c.RedisPrefix, "OFFSYNC_REDIS_PREFIX")
	setString(&c.PostgresDSN, "OFFSYNC_POSTGRES_DSN")
	setString(&c.MongoURI, "OFFSYNC_MONGODB_URI")
	setString(&c.MongoDatabase, "OFFSYNC_MONGODB_DATABASE")

	setString(&c.CredentialPath, "OFFSYNC_CREDENTIAL_PATH")
	setString(&c.DeviceSecret, "OFFSYNC_DEVICE_SECRET")

	setString(&c.ProbeURL, "OFFSYNC_PROBE_URL")
	setInt(&c.ProbeIntervalSec, "OFFSYNC_PROBE_INTERVAL_SEC")
	setInt(&c.ProbeTimeoutSec, "OFFSYNC_PROBE_TIMEOUT_SEC")

	setInt(&c.MaxAttempts, "OFFSYNC_MAX_ATTEMPTS")
	setBool(&c.RetryIdempotent5xx, "OFFSYNC_RETRY_IDEMPOTENT_5XX")
	setFloat(&c.DrainRatePerSec, "OFFSYNC_DRAIN_RATE_PER_SEC")
	setInt(&c.DrainBurst, "OFFSYNC_DRAIN_BURST")
	setString(&c.MutationIDField, "OFFSYNC_MUTATION_ID_FIELD")

	setBool(&c.DiagnosticsEnabled, "OFFSYNC_DIAGNOSTICS_ENABLED")
	setString(&c.DiagnosticsAddr, "OFFSYNC_DIAGNOSTICS_ADDR")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}
