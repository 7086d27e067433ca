// Package config loads application configuration from environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration loaded from environment variables.
// Credential values (Airtable key, Sellsy client id/secret, ...) are not part
// of Config; they are resolved per run through the secret store.
type Config struct {
	ListenAddr    string
	DBPath        string
	SyncInterval  time.Duration
	FilterFormula string
	MappingPath   string
	SecretBackend string
	AWSSecretID   string
	SecretKey     []byte // 32-byte AES-256 key for token-at-rest encryption; nil disables persistence.
}

// Secret store backend names accepted in SELLSYNC_SECRET_BACKEND.
const (
	SecretBackendEnv   = "env"
	SecretBackendAWSSM = "awssm"
)

// Load reads configuration from environment variables and returns a validated
// Config. All variables are optional with defaults: SELLSYNC_LISTEN_ADDR
// (127.0.0.1:8080), SELLSYNC_DB_PATH (sellsync.db), SELLSYNC_SYNC_INTERVAL
// (3h), SELLSYNC_SECRET_BACKEND (env). SELLSYNC_SECRET_KEY, when set, must be
// a base64-encoded 32-byte key; SELLSYNC_AWS_SECRET_ID is required when the
// awssm backend is selected.
func Load() (*Config, error) {
	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("SELLSYNC_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "sellsync.db"
	if v, ok := os.LookupEnv("SELLSYNC_DB_PATH"); ok {
		dbPath = v
	}

	syncInterval := 3 * time.Hour
	if v, ok := os.LookupEnv("SELLSYNC_SYNC_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SELLSYNC_SYNC_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("SELLSYNC_SYNC_INTERVAL must be positive, got %q", v)
		}
		syncInterval = parsed
	}

	secretBackend := SecretBackendEnv
	if v, ok := os.LookupEnv("SELLSYNC_SECRET_BACKEND"); ok {
		switch v {
		case SecretBackendEnv, SecretBackendAWSSM:
			secretBackend = v
		default:
			return nil, fmt.Errorf("SELLSYNC_SECRET_BACKEND has unknown backend %q (want %q or %q)", v, SecretBackendEnv, SecretBackendAWSSM)
		}
	}

	awsSecretID := os.Getenv("SELLSYNC_AWS_SECRET_ID")
	if secretBackend == SecretBackendAWSSM && awsSecretID == "" {
		return nil, fmt.Errorf("SELLSYNC_AWS_SECRET_ID is required when SELLSYNC_SECRET_BACKEND=%s", SecretBackendAWSSM)
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("SELLSYNC_SECRET_KEY"); ok && v != "" {
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("SELLSYNC_SECRET_KEY is not valid base64: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("SELLSYNC_SECRET_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		secretKey = decoded
	}

	return &Config{
		ListenAddr:    listenAddr,
		DBPath:        dbPath,
		SyncInterval:  syncInterval,
		FilterFormula: os.Getenv("SELLSYNC_FILTER_FORMULA"),
		MappingPath:   os.Getenv("SELLSYNC_MAPPING_PATH"),
		SecretBackend: secretBackend,
		AWSSecretID:   awsSecretID,
		SecretKey:     secretKey,
	}, nil
}
