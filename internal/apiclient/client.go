// internal/apiclient/client.go
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jmes "github.com/jmespath/go-jmespath"

	"shopauth/internal/session"
)

// ErrUnauthorized signals the platform rejected the credential (401): the
// stored session is invalidated remotely and must be re-acquired via OAuth.
var ErrUnauthorized = errors.New("platform rejected credential")

// RemoteError is any other non-2xx platform response. Status is carried so
// the serving boundary can forward it.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("platform error: status %d", e.Status)
}

const accessTokenHeader = "X-Shopify-Access-Token"

// Client is an Admin API client bound to one session record.
type Client struct {
	shop       string
	token      string
	apiVersion string
	httpc      *http.Client
}

// Factory builds clients bound to session records.
type Factory struct {
	apiVersion string
	httpc      *http.Client
}

func NewFactory(apiVersion string) *Factory {
	return &Factory{
		apiVersion: apiVersion,
		httpc:      &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient overrides the underlying transport (tests, custom timeouts).
func (f *Factory) WithHTTPClient(c *http.Client) *Factory {
	f.httpc = c
	return f
}

func (f *Factory) ForSession(rec *session.Record) *Client {
	return &Client{
		shop:       rec.Shop.String(),
		token:      rec.AccessToken,
		apiVersion: f.apiVersion,
		httpc:      f.httpc,
	}
}

// Get performs a REST Admin API request, e.g. Get(ctx, "shop.json").
func (c *Client) Get(ctx context.Context, path string) (map[string]any, error) {
	url := fmt.Sprintf("https://%s/admin/api/%s/%s", c.shop, c.apiVersion, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(accessTokenHeader, c.token)
	return c.do(req)
}

// GraphQL posts a query to the GraphQL Admin API.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]any) (map[string]any, error) {
	url := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.shop, c.apiVersion)
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(accessTokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// EnsureValid probes the platform with the cheapest authenticated call.
// Returns ErrUnauthorized when the platform reports 401 so callers can
// restart OAuth; other failures surface as *RemoteError.
func (c *Client) EnsureValid(ctx context.Context) error {
	_, err := c.Get(ctx, "shop.json")
	return err
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Status: resp.StatusCode, Body: string(b)}
	}
	var doc map[string]any
	if len(b) > 0 {
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode platform response: %w", err)
		}
	}
	return doc, nil
}

// Extract pulls a value out of a platform JSON document by JMESPath, e.g.
// Extract(doc, "shop.name").
func Extract(doc map[string]any, path string) (any, error) {
	return jmes.Search(path, doc)
}
