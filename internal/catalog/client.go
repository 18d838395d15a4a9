package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"digipub/internal/config"
	"digipub/internal/marc"
	"digipub/internal/services"
)

const maxRecordBytes = 8 << 20

// HTTPDoer describes the HTTP client used by the catalog client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source selects which lookup endpoint serves a record.
type Source int

const (
	// Remote is the authoritative catalog lookup.
	Remote Source = iota
	// Local is the catalog's local mirror, which reflects resubmitted records.
	Local
)

// Client implements record lookup and update over HTTP.
type Client struct {
	lookupURL string
	localURL  string
	updateURL string
	apiKey    string
	client    HTTPDoer
}

// NewClient builds a client from the catalog configuration section.
func NewClient(cfg config.Catalog) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewHTTPClient(cfg, &http.Client{Timeout: timeout})
}

// NewHTTPClient builds a client around an explicit HTTP doer.
func NewHTTPClient(cfg config.Catalog, doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		lookupURL: strings.TrimSpace(cfg.LookupURL),
		localURL:  strings.TrimSpace(cfg.LocalURL),
		updateURL: strings.TrimRight(strings.TrimSpace(cfg.UpdateURL), "/"),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		client:    doer,
	}
}

// FetchRecord retrieves the record describing the item with the given barcode.
func (c *Client) FetchRecord(ctx context.Context, itemID string) (*marc.Record, error) {
	return c.Fetch(ctx, Remote, itemID)
}

// FetchLocalRecord retrieves the item's record from the local mirror.
func (c *Client) FetchLocalRecord(ctx context.Context, itemID string) (*marc.Record, error) {
	return c.Fetch(ctx, Local, itemID)
}

// Fetch retrieves a record from the selected source.
func (c *Client) Fetch(ctx context.Context, source Source, itemID string) (*marc.Record, error) {
	base := c.lookupURL
	if source == Local && c.localURL != "" {
		base = c.localURL
	}
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "fetch record", "lookup url not configured", nil)
	}
	endpoint, err := url.Parse(base)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "fetch record", "invalid lookup url", err)
	}
	query := endpoint.Query()
	query.Set("item_id", itemID)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	body, err := c.do(req, "fetch record")
	if err != nil {
		return nil, err
	}
	record, err := marc.Parse(body)
	if err != nil {
		marker := services.ErrValidation
		if errors.Is(err, marc.ErrNoRecord) {
			marker = services.ErrNotFound
		}
		return nil, services.Wrap(marker, "catalog", "fetch record", "item "+itemID, err)
	}
	return record, nil
}

// PutRecord resubmits record to the catalog under its system id.
func (c *Client) PutRecord(ctx context.Context, systemID string, record *marc.Record) error {
	if c.updateURL == "" {
		return services.Wrap(services.ErrConfiguration, "catalog", "put record", "update url not configured", nil)
	}
	systemID = strings.TrimSpace(systemID)
	if systemID == "" {
		return services.Wrap(services.ErrValidation, "catalog", "put record", "record has no system id", nil)
	}
	payload, err := record.Marshal()
	if err != nil {
		return services.Wrap(services.ErrValidation, "catalog", "put record", "encode record", err)
	}

	endpoint := c.updateURL + "/" + url.PathEscape(systemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build catalog update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "apikey "+c.apiKey)
	}
	_, err = c.do(req, "put record")
	return err
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "catalog", operation, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "catalog", operation, "read response", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "catalog", operation, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, services.Wrap(services.ErrTransient, "catalog", operation, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, services.Wrap(services.ErrProtocol, "catalog", operation, fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(body)), nil)
	}
	return body, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
