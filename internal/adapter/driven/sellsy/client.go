package sellsy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SellsyAPI = (*Client)(nil)

const defaultAPIURL = "https://api.sellsy.com/v2"

// Client implements the driven.SellsyAPI port against the Sellsy V2 REST API.
// Authentication state lives in the token passed to each call, never in the
// client itself.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client for the production API host.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultAPIURL,
	}
}

// NewClientWithBaseURL creates a Client against a custom base URL.
// This constructor is intended for testing with an httptest server.
func NewClientWithBaseURL(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// individualPayload is the wire representation of an individual client.
type individualPayload struct {
	LastName    string `json:"last_name"`
	FirstName   string `json:"first_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// addressPayload is the wire representation of a billing address.
type addressPayload struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"address_line_1,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	City         string `json:"city,omitempty"`
	CountryCode  string `json:"country_code"`
}

// createResponse carries the id of a newly created resource.
type createResponse struct {
	ID int64 `json:"id"`
}

// CreateIndividual creates a new individual client and attaches its billing
// address. A failure attaching the address does not fail the create: the
// individual already exists at that point, and failing here would lose its id
// and produce a duplicate on the next run.
func (c *Client) CreateIndividual(ctx context.Context, token model.SellsyToken, details model.ClientDetails) (int64, error) {
	var created createResponse
	err := c.do(ctx, token, http.MethodPost, "/individuals", individualFrom(details), &created)
	if err != nil {
		return 0, fmt.Errorf("create individual %q: %w", details.Name, err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("create individual %q: response missing id", details.Name)
	}

	if hasAddress(details) {
		addrPath := fmt.Sprintf("/individuals/%d/addresses", created.ID)
		if err := c.do(ctx, token, http.MethodPost, addrPath, addressFrom(details), nil); err != nil {
			slog.Warn("attach address failed", "sellsy_id", created.ID, "error", err)
		}
	}

	return created.ID, nil
}

// UpdateIndividual updates an existing individual client in place.
func (c *Client) UpdateIndividual(ctx context.Context, token model.SellsyToken, sellsyID int64, details model.ClientDetails) error {
	path := fmt.Sprintf("/individuals/%d", sellsyID)
	if err := c.do(ctx, token, http.MethodPut, path, individualFrom(details), nil); err != nil {
		return fmt.Errorf("update individual %d: %w", sellsyID, err)
	}
	return nil
}

// do executes one authenticated API call and decodes the response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, token model.SellsyToken, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sellsy: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func individualFrom(details model.ClientDetails) individualPayload {
	return individualPayload{
		LastName:    details.Name,
		FirstName:   details.Forename,
		Email:       details.Email,
		PhoneNumber: details.Phone,
	}
}

func addressFrom(details model.ClientDetails) addressPayload {
	country := details.CountryCode
	if country == "" {
		country = "FR"
	}
	return addressPayload{
		Name:         details.Name,
		AddressLine1: details.AddressLine,
		PostalCode:   details.PostalCode,
		City:         details.Town,
		CountryCode:  country,
	}
}

func hasAddress(details model.ClientDetails) bool {
	return details.AddressLine != "" || details.PostalCode != "" || details.Town != ""
}
