// Package sellsy implements the Sellsy V2 driven ports: the OAuth2
// client_credentials exchange and the CRM operations the sync needs.
package sellsy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SellsyAuthenticator = (*Authenticator)(nil)

const defaultAuthURL = "https://login.sellsy.com/oauth2/access-tokens"

// Authenticator implements the driven.SellsyAuthenticator port against the
// Sellsy login host.
type Authenticator struct {
	httpClient *http.Client
	authURL    string
	now        func() time.Time
}

// NewAuthenticator creates an Authenticator for the production login host.
func NewAuthenticator() *Authenticator {
	return &Authenticator{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		authURL:    defaultAuthURL,
		now:        time.Now,
	}
}

// NewAuthenticatorWithURL creates an Authenticator against a custom auth URL.
// This constructor is intended for testing with an httptest server.
func NewAuthenticatorWithURL(httpClient *http.Client, authURL string) *Authenticator {
	return &Authenticator{
		httpClient: httpClient,
		authURL:    authURL,
		now:        time.Now,
	}
}

// tokenRequest is the client_credentials grant payload.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// tokenResponse is the wire representation of a successful token exchange.
// refresh_token is absent with the client_credentials grant.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeToken trades the client id/secret for an access token.
func (a *Authenticator) ExchangeToken(ctx context.Context, clientID, clientSecret string) (model.SellsyToken, error) {
	payload, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return model.SellsyToken{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL, bytes.NewReader(payload))
	if err != nil {
		return model.SellsyToken{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return model.SellsyToken{}, fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.SellsyToken{}, fmt.Errorf("sellsy: token exchange: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return model.SellsyToken{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return model.SellsyToken{}, fmt.Errorf("sellsy: token exchange returned empty access_token")
	}

	obtained := a.now().UTC()
	return model.SellsyToken{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ExpiresAt:    obtained.Add(time.Duration(tr.ExpiresIn) * time.Second),
		ObtainedAt:   obtained,
	}, nil
}
