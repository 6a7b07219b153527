package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cseek11/VeroSuite-sub002/internal/flagx"
	"github.com/cseek11/VeroSuite-sub002/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Durations accept strings such
// as "5m" or integer nanoseconds. Keys missing from the file keep their
// current value.
type JsonConfig struct {
	EndpointAddrGRPC        string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP        string         `json:"endpoint_addr_http"`
	DatabaseDSN             string         `json:"database_dsn"`
	InMemory                bool           `json:"in_memory"`
	SecretKey               string         `json:"secret_key"`
	TokenValidityDuration   timex.Duration `json:"token_validity_duration"`
	RedisAddr               string         `json:"redis_addr"`
	RedisPassword           string         `json:"redis_password"`
	RedisDB                 int            `json:"redis_db"`
	PresenceTTL             timex.Duration `json:"presence_ttl"`
	PresenceSweepInterval   timex.Duration `json:"presence_sweep_interval"`
	IdempotencyTTL          timex.Duration `json:"idempotency_ttl"`
	CacheTTL                timex.Duration `json:"cache_ttl"`
	CacheStaleRatio         float64        `json:"cache_stale_ratio"`
	MaxConnectionsPerTenant int            `json:"max_connections_per_tenant"`
	InstanceID              string         `json:"instance_id"`
	LogFormat               string         `json:"log_format"`
	S3RootUser              string         `json:"s3_root_user"`
	S3RootPassword          string         `json:"s3_root_password"`
	S3Bucket                string         `json:"s3_bucket"`
	S3Region                string         `json:"s3_region"`
	S3BaseEndpoint          string         `json:"s3_base_endpoint"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:        c.EndpointAddrGRPC,
		EndpointAddrHTTP:        c.EndpointAddrHTTP,
		DatabaseDSN:             c.DatabaseDSN,
		InMemory:                c.InMemory,
		SecretKey:               c.SecretKey,
		TokenValidityDuration:   timex.Duration{Duration: c.TokenValidityDuration},
		RedisAddr:               c.RedisAddr,
		RedisPassword:           c.RedisPassword,
		RedisDB:                 c.RedisDB,
		PresenceTTL:             timex.Duration{Duration: c.PresenceTTL},
		PresenceSweepInterval:   timex.Duration{Duration: c.PresenceSweepInterval},
		IdempotencyTTL:          timex.Duration{Duration: c.IdempotencyTTL},
		CacheTTL:                timex.Duration{Duration: c.CacheTTL},
		CacheStaleRatio:         c.CacheStaleRatio,
		MaxConnectionsPerTenant: c.MaxConnectionsPerTenant,
		InstanceID:              c.InstanceID,
		LogFormat:               c.LogFormat,
		S3RootUser:              c.S3RootUser,
		S3RootPassword:          c.S3RootPassword,
		S3Bucket:                c.S3Bucket,
		S3Region:                c.S3Region,
		S3BaseEndpoint:          c.S3BaseEndpoint,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.EndpointAddrHTTP = j.EndpointAddrHTTP
	c.DatabaseDSN = j.DatabaseDSN
	c.InMemory = j.InMemory
	c.SecretKey = j.SecretKey
	c.TokenValidityDuration = j.TokenValidityDuration.Duration
	c.RedisAddr = j.RedisAddr
	c.RedisPassword = j.RedisPassword
	c.RedisDB = j.RedisDB
	c.PresenceTTL = j.PresenceTTL.Duration
	c.PresenceSweepInterval = j.PresenceSweepInterval.Duration
	c.IdempotencyTTL = j.IdempotencyTTL.Duration
	c.CacheTTL = j.CacheTTL.Duration
	c.CacheStaleRatio = j.CacheStaleRatio
	c.MaxConnectionsPerTenant = j.MaxConnectionsPerTenant
	c.InstanceID = j.InstanceID
	c.LogFormat = j.LogFormat
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
}

// parseJson overlays the JSON file named by -c/-config (or $REGIONS_CONFIG)
// onto config. No file means no changes.
func parseJson(config *Config, args []string) error {

	jsonConfigFile := flagx.ConfigFile(args)

	// nothing to load
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config %s: %w", jsonConfigFile, err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", jsonConfigFile, err)
	}
	c.apply(config)
	return nil
}
