package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/passgate/internal/flagx"
	"github.com/dmitrijs2005/passgate/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP           string         `json:"endpoint_addr_http"`
	StorePath                  string         `json:"store_path"`
	RoleMappingPath            string         `json:"role_mapping_path"`
	SecretKey                  string         `json:"secret_key"`
	DownloadKeyHash            string         `json:"download_key_hash"`
	ArtifactPath               string         `json:"artifact_path"`
	ArtifactFileName           string         `json:"artifact_file_name"`
	LookupUsersURL             string         `json:"lookup_users_url"`
	LookupInventoryURL         string         `json:"lookup_inventory_url"`
	LookupCacheTTL             timex.Duration `json:"lookup_cache_ttl"`
	LookupMinInterval          timex.Duration `json:"lookup_min_interval"`
	CodeTTL                    timex.Duration `json:"code_ttl"`
	AdminTokenValidityDuration timex.Duration `json:"admin_token_validity_duration"`
	S3RootUser                 string         `json:"s3_root_user"`
	S3RootPassword             string         `json:"s3_root_password"`
	S3Bucket                   string         `json:"s3_bucket"`
	S3Region                   string         `json:"s3_region"`
	S3BaseEndpoint             string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.StorePath = c.StorePath
	config.RoleMappingPath = c.RoleMappingPath
	config.SecretKey = c.SecretKey
	config.DownloadKeyHash = c.DownloadKeyHash
	config.ArtifactPath = c.ArtifactPath
	config.ArtifactFileName = c.ArtifactFileName
	config.LookupUsersURL = c.LookupUsersURL
	config.LookupInventoryURL = c.LookupInventoryURL
	config.LookupCacheTTL = time.Duration(c.LookupCacheTTL.Duration)
	config.LookupMinInterval = time.Duration(c.LookupMinInterval.Duration)
	config.CodeTTL = time.Duration(c.CodeTTL.Duration)
	config.AdminTokenValidityDuration = time.Duration(c.AdminTokenValidityDuration.Duration)
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
