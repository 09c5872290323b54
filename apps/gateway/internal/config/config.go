// Package config resolves the Gateway's runtime configuration from
// environment variables and Vault-held secrets, the same two-tier split the
// rest of the monorepo uses: deployment topology, including the storage-node
// URLs, lives in env vars, while the Redis and NATS URLs come from Vault.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is the Gateway's fully-resolved runtime configuration.
type Config struct {
	Port int

	// StorageNodeBaseURLs is the fixed, ordered list of IPFS storage node
	// base URLs the NodePool round-robins across. Order is significant: it
	// determines the round-robin sequence and each node's stable index.
	StorageNodeBaseURLs []string

	SampleRate       int // trace sampling divisor, default 10
	TimeoutInSeconds int // TIMEOUT_IN_SEC, default 15
	MaxWorkers       int // fan-out worker cap, default 512

	RedisURL string
	NATSURL  string // optional; empty disables cross-replica health sync

	VaultAddr       string
	VaultToken      string
	VaultSecretPath string

	OTelExporterEndpoint string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Load resolves configuration purely from the environment. Secrets that
// live in Vault (REDIS_URL, NATS_URL) are layered in separately by main
// once the SecretManager is available, via WithSecrets.
func Load() Config {
	urls := strings.Split(envOr("STORAGE_NODE_URLS", ""), ",")
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u != "" {
			cleaned = append(cleaned, u)
		}
	}

	return Config{
		Port:                 envIntOr("PORT", 8080),
		StorageNodeBaseURLs:  cleaned,
		SampleRate:           envIntOr("SAMPLE_RATE", 10),
		TimeoutInSeconds:     envIntOr("TIMEOUT_IN_SEC", 15),
		MaxWorkers:           envIntOr("MAX_WORKERS", 512),
		VaultAddr:            envOr("VAULT_ADDR", "http://localhost:8200"),
		VaultToken:           envOr("VAULT_TOKEN", "root"),
		VaultSecretPath:      envOr("VAULT_SECRET_PATH", "secret/data/arc/gateway"),
		OTelExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// WithSecrets layers Vault-sourced values onto a Config already produced by
// Load.
func (c Config) WithSecrets(redisURL, natsURL string) Config {
	c.RedisURL = redisURL
	c.NATSURL = natsURL
	return c
}
