// Package config resolves the Span Builder's runtime configuration from
// environment variables and Vault-held secrets, the same two-tier split the
// Gateway uses.
package config

import (
	"os"
	"strconv"
)

// Config is the Span Builder's fully-resolved runtime configuration.
type Config struct {
	Port int

	ServiceName  string
	CollectorURL string // OTLP collector base URL; POST <url>/v1/traces

	DedupeCapacity int // SpanDedupe FIFO capacity, default 10000
	BucketTTLSec   int // TraceBucket TTL in seconds, default 120

	CollectorBearerToken string // optional; Vault-sourced, empty disables the Authorization header

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

// Load resolves configuration purely from the environment. The collector
// bearer token, if Vault holds one, is layered in separately by main once
// the SecretManager is available, via WithSecrets.
func Load() Config {
	return Config{
		Port:                 envIntOr("PORT", 8081),
		ServiceName:          envOr("SERVICE_NAME", "span-builder"),
		CollectorURL:         envOr("OTLP_COLLECTOR_URL", "http://localhost:4318"),
		DedupeCapacity:       envIntOr("SPAN_DEDUPE_CAPACITY", 10000),
		BucketTTLSec:         envIntOr("TRACE_BUCKET_TTL_SEC", 120),
		VaultAddr:            envOr("VAULT_ADDR", "http://localhost:8200"),
		VaultToken:           envOr("VAULT_TOKEN", "root"),
		VaultSecretPath:      envOr("VAULT_SECRET_PATH", "secret/data/arc/span-builder"),
		OTelExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// WithSecrets layers a Vault-sourced collector bearer token onto a Config
// already produced by Load.
func (c Config) WithSecrets(bearerToken string) Config {
	c.CollectorBearerToken = bearerToken
	return c
}
