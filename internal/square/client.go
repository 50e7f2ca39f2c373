package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// squareVersion pins the Square API revision every request declares.
const squareVersion = "2024-01-18"

const (
	productionBaseURL = "https://connect.squareup.com"
	sandboxBaseURL    = "https://connect.squareupsandbox.com"
)

// SquareAPI is the slice of the Square REST API the sync engine uses.
// Callers construct clients per call because the token can be rotated at
// runtime.
type SquareAPI interface {
	ListLocations(ctx context.Context) ([]Location, error)
	SearchCatalog(ctx context.Context, objectTypes []string) ([]CatalogObject, error)
	BatchRetrieveCounts(ctx context.Context, objectIDs []string, locationID string) ([]InventoryCount, error)
}

// ClientFactory builds a SquareAPI for the given credentials.
type ClientFactory func(token, environment string) SquareAPI

// Client calls the Square REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient picks the connect host from the environment. Anything that
// is not production talks to the sandbox.
func NewClient(token, environment string) *Client {
	base := sandboxBaseURL
	if environment == EnvironmentProduction {
		base = productionBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    base,
		token:      token,
	}
}

// NewClientFactory adapts NewClient to the factory signature.
func NewClientFactory() ClientFactory {
	return func(token, environment string) SquareAPI {
		return NewClient(token, environment)
	}
}

// Location is a Square business location.
type Location struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CatalogObject is one object from the catalog search. Items carry
// ItemData, variations ItemVariationData, categories CategoryData.
type CatalogObject struct {
	Type              string             `json:"type"`
	ID                string             `json:"id"`
	IsDeleted         bool               `json:"is_deleted"`
	ItemData          *ItemData          `json:"item_data,omitempty"`
	ItemVariationData *ItemVariationData `json:"item_variation_data,omitempty"`
	CategoryData      *CategoryData      `json:"category_data,omitempty"`
}

type ItemData struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CategoryID  string `json:"category_id"`
}

type ItemVariationData struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	PriceMoney *Money `json:"price_money,omitempty"`
}

type CategoryData struct {
	Name string `json:"name"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// InventoryCount is Square's stock level for one variation at one
// location. Square reports quantities as decimal strings.
type InventoryCount struct {
	CatalogObjectID string `json:"catalog_object_id"`
	LocationID      string `json:"location_id"`
	State           string `json:"state"`
	Quantity        string `json:"quantity"`
}

type locationsResponse struct {
	Locations []Location `json:"locations"`
}

type searchCatalogRequest struct {
	ObjectTypes []string `json:"object_types"`
	Cursor      string   `json:"cursor,omitempty"`
}

type searchCatalogResponse struct {
	Objects []CatalogObject `json:"objects"`
	Cursor  string          `json:"cursor"`
}

type batchCountsRequest struct {
	CatalogObjectIDs []string `json:"catalog_object_ids"`
	LocationIDs      []string `json:"location_ids,omitempty"`
	Cursor           string   `json:"cursor,omitempty"`
}

type batchCountsResponse struct {
	Counts []InventoryCount `json:"counts"`
	Cursor string           `json:"cursor"`
}

// ListLocations fetches the account's locations. Also serves as the
// connection test behind the status endpoint.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	var resp locationsResponse
	if err := c.do(ctx, http.MethodGet, "/v2/locations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Locations, nil
}

// SearchCatalog pulls all catalog objects of the given types, following
// the cursor until Square reports no more pages.
func (c *Client) SearchCatalog(ctx context.Context, objectTypes []string) ([]CatalogObject, error) {
	var (
		objects []CatalogObject
		cursor  string
	)
	for {
		req := searchCatalogRequest{ObjectTypes: objectTypes, Cursor: cursor}
		var resp searchCatalogResponse
		if err := c.do(ctx, http.MethodPost, "/v2/catalog/search", req, &resp); err != nil {
			return nil, err
		}
		objects = append(objects, resp.Objects...)
		if resp.Cursor == "" {
			return objects, nil
		}
		cursor = resp.Cursor
	}
}

// BatchRetrieveCounts fetches Square-side stock counts for the given
// variations, optionally scoped to one location.
func (c *Client) BatchRetrieveCounts(ctx context.Context, objectIDs []string, locationID string) ([]InventoryCount, error) {
	if len(objectIDs) == 0 {
		return nil, nil
	}
	var locations []string
	if locationID != "" {
		locations = []string{locationID}
	}

	var (
		counts []InventoryCount
		cursor string
	)
	for {
		req := batchCountsRequest{CatalogObjectIDs: objectIDs, LocationIDs: locations, Cursor: cursor}
		var resp batchCountsResponse
		if err := c.do(ctx, http.MethodPost, "/v2/inventory/counts/batch-retrieve", req, &resp); err != nil {
			return nil, err
		}
		counts = append(counts, resp.Counts...)
		if resp.Cursor == "" {
			return counts, nil
		}
		cursor = resp.Cursor
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Square-Version", squareVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call square: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read square response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("square api %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode square response: %w", err)
	}
	return nil
}
