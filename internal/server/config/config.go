// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the passgate server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the public HTTP endpoint.
//   - StorePath: path of the persisted JSON document (links + grants).
//   - RoleMappingPath: path of the read-only item→role table.
//   - SecretKey: HMAC secret for signing admin JWTs (HS256). Do not use test
//     defaults in prod.
//   - DownloadKeyHash: bcrypt hash of the shared delivery secret; empty
//     disables the gate.
//   - ArtifactPath / ArtifactFileName: local artifact location and the fixed
//     attachment filename sent to clients.
//   - LookupUsersURL / LookupInventoryURL: external API endpoints.
//   - LookupCacheTTL / LookupMinInterval: cache lifetime and the
//     provider-wide minimum interval between outbound lookups.
//   - CodeTTL: verification code (and derived grant) lifetime.
//   - AdminTokenValidityDuration: admin JWT lifetime.
//   - S3RootUser / S3RootPassword / S3Bucket / S3Region / S3BaseEndpoint:
//     S3-compatible artifact backend; the backend is used when S3Bucket is
//     non-empty.
type Config struct {
	EndpointAddrHTTP           string
	StorePath                  string
	RoleMappingPath            string
	SecretKey                  string
	DownloadKeyHash            string
	ArtifactPath               string
	ArtifactFileName           string
	LookupUsersURL             string
	LookupInventoryURL         string
	LookupCacheTTL             time.Duration
	LookupMinInterval          time.Duration
	CodeTTL                    time.Duration
	AdminTokenValidityDuration time.Duration
	S3RootUser                 string
	S3RootPassword             string
	S3Bucket                   string
	S3Region                   string
	S3BaseEndpoint             string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.StorePath = "linked_accounts.json"
	c.RoleMappingPath = "config.json"
	c.SecretKey = "secretKey"
	c.DownloadKeyHash = ""
	c.ArtifactPath = "secure_downloads/app.zip"
	c.ArtifactFileName = "app.zip"
	c.LookupUsersURL = "https://users.roblox.com/v1/usernames/users"
	c.LookupInventoryURL = "https://inventory.roblox.com/v1/users/%d/items/GamePass/%d"
	c.LookupCacheTTL = 300 * time.Second
	c.LookupMinInterval = 1 * time.Second
	c.CodeTTL = 300 * time.Second
	c.AdminTokenValidityDuration = 1 * time.Hour
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
