package driven

import (
	"context"
	"errors"

	"github.com/mlaurent/sellsync/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by TokenStore operations when
// SELLSYNC_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set SELLSYNC_SECRET_KEY")

// TokenStore defines the driven port for persisting the Sellsy access token
// between runs. The adapter encrypts the token at rest; this interface
// operates on plaintext values at the domain boundary.
type TokenStore interface {
	// Set stores or replaces the persisted token.
	// Returns ErrEncryptionKeyNotSet if the adapter was constructed without
	// an encryption key.
	Set(ctx context.Context, token model.SellsyToken) error

	// Get retrieves the persisted token. Returns (nil, nil) when no token
	// has been stored.
	Get(ctx context.Context) (*model.SellsyToken, error)

	// Delete removes the persisted token.
	Delete(ctx context.Context) error
}
