package driven

import (
	"context"

	"github.com/mlaurent/sellsync/internal/domain/model"
)

// SellsyAuthenticator defines the driven port for the OAuth2
// client_credentials exchange against the Sellsy login host.
type SellsyAuthenticator interface {
	// ExchangeToken trades the client id/secret for an access token.
	ExchangeToken(ctx context.Context, clientID, clientSecret string) (model.SellsyToken, error)
}

// SellsyAPI defines the driven port for the Sellsy V2 CRM operations the sync
// needs. Every call carries the access token explicitly; the adapter holds no
// ambient authentication state.
type SellsyAPI interface {
	// CreateIndividual creates a new individual client (with billing address)
	// and returns its Sellsy id.
	CreateIndividual(ctx context.Context, token model.SellsyToken, details model.ClientDetails) (int64, error)

	// UpdateIndividual updates an existing individual client in place.
	UpdateIndividual(ctx context.Context, token model.SellsyToken, sellsyID int64, details model.ClientDetails) error
}
