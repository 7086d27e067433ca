// Package secrets implements the SecretStore port. Two backends exist: the
// process environment (the default, matching how the previous automation
// received its credentials) and AWS Secrets Manager.
package secrets

import (
	"context"
	"os"

	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*EnvStore)(nil)

// EnvStore resolves secrets from the process environment. Secret names map
// directly to environment variable names.
type EnvStore struct{}

// NewEnvStore creates a new EnvStore.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Get returns the value of the named environment variable. An unset variable
// resolves to ("", nil).
func (s *EnvStore) Get(_ context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}
