// Package airtable implements the AirtableClient port against the Airtable REST API.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/time/rate"

	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AirtableClient = (*Client)(nil)

const defaultBaseURL = "https://api.airtable.com/v0"

// requestsPerSecond matches the Airtable per-base rate limit.
const requestsPerSecond = 5

// pageSize is the maximum Airtable page size.
const pageSize = 100

// Client implements the driven.AirtableClient port with the following
// transport stack:
//  1. httpcache (ETag-based conditional request caching for list pages)
//  2. client-side rate limiter (5 req/s, the documented per-base limit)
//  3. plain REST calls with Bearer auth
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	baseID     string
	tableName  string
}

// NewClient creates a new Airtable API client for one base and table.
func NewClient(apiKey, baseID, tableName string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   30 * time.Second,
		},
		limiter:   rate.NewLimiter(requestsPerSecond, 1),
		baseURL:   defaultBaseURL,
		apiKey:    apiKey,
		baseID:    baseID,
		tableName: tableName,
	}
}

// NewClientWithBaseURL creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest
// server; the rate limiter is effectively disabled.
func NewClientWithBaseURL(httpClient *http.Client, baseURL, apiKey, baseID, tableName string) *Client {
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		baseURL:    baseURL,
		apiKey:     apiKey,
		baseID:     baseID,
		tableName:  tableName,
	}
}

// recordPage is one page of the list endpoint response.
type recordPage struct {
	Records []apiRecord `json:"records"`
	Offset  string      `json:"offset"`
}

// apiRecord is the wire representation of a single record.
type apiRecord struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// ListRecords retrieves every record of the table. It follows the offset
// pagination cursor until Airtable stops returning one.
func (c *Client) ListRecords(ctx context.Context, filterFormula string) ([]model.ClientRecord, error) {
	records := []model.ClientRecord{}
	offset := ""

	for {
		page, err := c.listPage(ctx, filterFormula, offset)
		if err != nil {
			return nil, err
		}

		for _, rec := range page.Records {
			records = append(records, model.ClientRecord{
				ID:          rec.ID,
				Fields:      rec.Fields,
				CreatedTime: rec.CreatedTime,
			})
		}

		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	return records, nil
}

// listPage fetches a single page of records.
func (c *Client) listPage(ctx context.Context, filterFormula, offset string) (*recordPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("pageSize", fmt.Sprintf("%d", pageSize))
	if filterFormula != "" {
		query.Set("filterByFormula", filterFormula)
	}
	if offset != "" {
		query.Set("offset", offset)
	}

	reqURL := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(c.tableName), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list records for table %q: %w", c.tableName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("list records", resp)
	}

	var page recordPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode list response for table %q: %w", c.tableName, err)
	}

	return &page, nil
}

// UpdateRecord patches the given fields of one record. Airtable's PATCH
// semantics leave all fields not named in the payload untouched.
func (c *Client) UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return fmt.Errorf("marshal update payload: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s/%s/%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(c.tableName), url.PathEscape(recordID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update record %q: %w", recordID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(fmt.Sprintf("update record %q", recordID), resp)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// apiError builds an error from a non-OK Airtable response, including a
// truncated body snippet for diagnostics.
func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("airtable: %s: unexpected status %d: %s", op, resp.StatusCode, bytes.TrimSpace(body))
}
