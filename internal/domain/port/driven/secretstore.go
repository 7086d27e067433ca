package driven

import "context"

// SecretStore defines the driven port for resolving credential values from
// the external secret store. Values are read-only from this component's
// perspective; they are forwarded into the run state at provision time and
// never persisted.
type SecretStore interface {
	// Get returns the value for the named secret. A secret that does not
	// exist resolves to ("", nil); missing required values are reported by
	// Credentials.Validate at the provision step.
	Get(ctx context.Context, name string) (string, error)
}
