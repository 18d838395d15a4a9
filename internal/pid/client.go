// Package pid talks to the persistent identifier service that mints ARKs
// for published volumes and points them at their public location.
package pid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"digipub/internal/config"
	"digipub/internal/services"
)

// placeholderTarget is registered at mint time; the real target is set once
// the partner confirms the volume is public.
const placeholderTarget = "http://myuri.org"

// HTTPDoer describes the HTTP client used by the identifier client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client mints and retargets ARK identifiers.
type Client struct {
	baseURL  string
	username string
	password string
	domain   string
	client   HTTPDoer
}

// NewClient builds a client from the pid configuration section.
func NewClient(cfg config.PID) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewHTTPClient(cfg, &http.Client{Timeout: timeout})
}

// NewHTTPClient builds a client around an explicit HTTP doer.
func NewHTTPClient(cfg config.PID, doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		username: cfg.Username,
		password: cfg.Password,
		domain:   strings.TrimSpace(cfg.Domain),
		client:   doer,
	}
}

// Mint registers a new ARK named name and returns its noid.
func (c *Client) Mint(ctx context.Context, name string) (string, error) {
	if c.baseURL == "" {
		return "", services.Wrap(services.ErrConfiguration, "pid", "mint", "base url not configured", nil)
	}
	form := url.Values{}
	form.Set("name", name)
	form.Set("target_uri", placeholderTarget)
	if c.domain != "" {
		form.Set("domain", c.domain)
	}
	body, err := c.send(ctx, http.MethodPost, c.baseURL+"/ark/", form, "mint")
	if err != nil {
		return "", err
	}
	noid, err := ParseARK(strings.TrimSpace(string(body)))
	if err != nil {
		return "", services.Wrap(services.ErrProtocol, "pid", "mint", "unexpected response", err)
	}
	return noid, nil
}

// UpdateTarget points noid (or its qualified alias when qualifier is set) at uri.
func (c *Client) UpdateTarget(ctx context.Context, noid, uri, qualifier string) error {
	if c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "pid", "update target", "base url not configured", nil)
	}
	noid = strings.TrimSpace(noid)
	if noid == "" {
		return services.Wrap(services.ErrValidation, "pid", "update target", "empty noid", nil)
	}
	endpoint := c.baseURL + "/ark/" + url.PathEscape(noid)
	if qualifier = strings.TrimSpace(qualifier); qualifier != "" {
		endpoint += "/" + url.PathEscape(qualifier)
	}
	form := url.Values{}
	form.Set("target_uri", uri)
	_, err := c.send(ctx, http.MethodPut, endpoint, form, "update target")
	return err
}

func (c *Client) send(ctx context.Context, method, endpoint string, form url.Values, operation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build pid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pid", operation, req.URL.Host, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pid", operation, "read response", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrConfiguration, "pid", operation, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "pid", operation, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, services.Wrap(services.ErrTransient, "pid", operation, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, services.Wrap(services.ErrProtocol, "pid", operation, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return body, nil
}

// ParseARK extracts the noid from an ARK url or bare "ark:/naan/noid" string.
func ParseARK(ark string) (string, error) {
	idx := strings.Index(ark, "ark:/")
	if idx < 0 {
		return "", fmt.Errorf("no ark in %q", ark)
	}
	parts := strings.Split(strings.Trim(ark[idx+len("ark:/"):], "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("ark %q has no noid", ark)
	}
	return parts[1], nil
}

// TargetURL returns the resolvable link for noid under linkBase.
func TargetURL(linkBase, noid, qualifier string) string {
	link := strings.TrimRight(linkBase, "/") + "/" + noid
	if qualifier != "" {
		link += "/" + qualifier
	}
	return link
}
