package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, c.EndpointAddrHTTP, ":8080")
	assert.Equal(t, c.StorePath, "linked_accounts.json")
	assert.Equal(t, c.RoleMappingPath, "config.json")
	assert.Equal(t, c.SecretKey, "secretKey")
	assert.Equal(t, c.DownloadKeyHash, "")
	assert.Equal(t, c.ArtifactPath, "secure_downloads/app.zip")
	assert.Equal(t, c.ArtifactFileName, "app.zip")
	assert.Equal(t, c.LookupCacheTTL, 300*time.Second)
	assert.Equal(t, c.LookupMinInterval, 1*time.Second)
	assert.Equal(t, c.CodeTTL, 300*time.Second)
	assert.Equal(t, c.AdminTokenValidityDuration, 1*time.Hour)
	assert.Equal(t, c.S3RootUser, "admin")
	assert.Equal(t, c.S3RootPassword, "secretpassword")
	assert.Equal(t, c.S3Bucket, "")
	assert.Equal(t, c.S3Region, "us-east-1")
	assert.Equal(t, c.S3BaseEndpoint, "http://127.0.0.1:9000/")
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")

	assert.Equal(t, c.EndpointAddrHTTP, ":8080")
	assert.Equal(t, c.StorePath, "linked_accounts.json")
	assert.Equal(t, c.SecretKey, "secretKey")
	assert.Equal(t, c.LookupCacheTTL, 300*time.Second)
	assert.Equal(t, c.LookupMinInterval, 1*time.Second)
	assert.Equal(t, c.CodeTTL, 300*time.Second)
	assert.Equal(t, c.S3RootUser, "admin")
	assert.Equal(t, c.S3RootPassword, "secretpassword")
	assert.Equal(t, c.S3Region, "us-east-1")
	assert.Equal(t, c.S3BaseEndpoint, "http://127.0.0.1:9000/")
}
