// Package tls provides a shared TLS configuration type for database and
// cache clients so every component validates and builds connections the
// same way.
package tls

import (
	"crypto/tls"
	"fmt"
)

// Config describes the TLS settings for an outbound connection (Postgres,
// Redis/ElastiCache, etc). It is declarative: callers embed or reference it
// in their own config structs and call Build to get a *tls.Config.
type Config struct {
	Enabled            bool   `mapstructure:"enabled"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	MinVersion         string `mapstructure:"min_version"` // "1.2" or "1.3"
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
}

// minVersions maps the configured string to the crypto/tls constant.
var minVersions = map[string]uint16{
	"":    tls.VersionTLS12,
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// Validate checks that MinVersion is a recognized value.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if _, ok := minVersions[c.MinVersion]; !ok {
		return fmt.Errorf("tls: unsupported min_version %q", c.MinVersion)
	}
	return nil
}

// Build returns a *tls.Config reflecting these settings, or nil if TLS is
// disabled. Certificate loading is the caller's responsibility when
// CertFile/KeyFile are set (database connections pass them through the DSN
// instead of loading them here).
func (c *Config) Build() (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         minVersions[c.MinVersion],
	}, nil
}
