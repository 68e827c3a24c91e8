package storage

// Config holds configuration for the snapshot object store.
type Config struct {
	// Endpoint is the host[:port] of the S3 compatible service. Empty disables snapshots.
	Endpoint  string `mapstructure:"endpoint" default:""`
	AccessKey string `mapstructure:"access_key" default:"minioadmin"`
	SecretKey string `mapstructure:"secret_key" default:"minioadmin"`
	UseSSL    bool   `mapstructure:"use_ssl" default:"false"`
	// Bucket receives the snapshots.
	Bucket string `mapstructure:"bucket" default:"ledger-snapshots"`
	Region string `mapstructure:"region" default:""`
	// Keep is how many snapshots survive a prune.
	Keep           int `mapstructure:"keep" default:"24"`
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Timeout returns the connection timeout in seconds, defaulting to 30.
func (c Config) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return 30
	}
	return c.TimeoutSeconds
}
