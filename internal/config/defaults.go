package config

func applyDefaults(c *Config) {
	c.StorageBackend = normalizeBackendName(c.StorageBackend)
	if c.StorageBackend == "" {
		c.StorageBackend = "file"
	}
	if c.StorageBaseDir == "" {
		c.StorageBaseDir = "./data"
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = "offsync:"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "offsync"
	}
	if c.CredentialPath == "" {
		c.CredentialPath = "./data/credential.bin"
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = 30
	}
	if c.ProbeURL == "" && c.BaseURL != "" {
		c.ProbeURL = c.BaseURL
	}
	if c.ProbeIntervalSec <= 0 {
		c.ProbeIntervalSec = 15
	}
	if c.ProbeTimeoutSec <= 0 {
		c.ProbeTimeoutSec = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DrainBurst <= 0 {
		c.DrainBurst = 1
	}
	if c.DiagnosticsAddr == "" {
		c.DiagnosticsAddr = "127.0.0.1:7390"
	}
}
