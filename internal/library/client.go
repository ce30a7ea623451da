package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wdonsong/huntly/internal/config"
	huntlyerrors "github.com/wdonsong/huntly/internal/errors"
	"github.com/wdonsong/huntly/internal/httpclient"
	"github.com/wdonsong/huntly/internal/logging"
)

const maxResponseBytes = 4 * 1024 * 1024

// Client is a thin typed wrapper over the managed Huntly service REST API.
// It covers the calls the dispatcher needs: existence lookups for the badge,
// page save and detail, collection placement, the remote shortcut catalog,
// and the generic authenticated proxy.
type Client struct {
	cfg        *config.Manager
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a library client against the configured service.
func NewClient(cfg *config.Manager, logger logging.Logger) *Client {
	logger = logging.OrNop(logger)
	timeout := time.Duration(cfg.Get().Server.Timeout) * time.Second
	return &Client{
		cfg:        cfg,
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
	}
}

// Page is the saved form of a captured resource.
type Page struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	LibraryType string `json:"library_type,omitempty"`
}

// SaveRequest captures a page into the library.
type SaveRequest struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// Placement describes where a saved page sits in the library.
type Placement struct {
	PageID      int64  `json:"page_id"`
	LibraryType string `json:"library_type"`
	FolderID    int64  `json:"folder_id,omitempty"`
	ConnectorID int64  `json:"connector_id,omitempty"`
}

// Collection is one node of the folder/connector hierarchy.
type Collection struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Children []Collection `json:"children,omitempty"`
}

// RemoteShortcut is a processing instruction managed on the server side.
type RemoteShortcut struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Instruction string `json:"content"`
}

func (c *Client) baseURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.Get().Server.BaseURL), "/")
	if base == "" {
		return "", huntlyerrors.NewConfigurationError("server", "no base endpoint configured")
	}
	return base, nil
}

// doJSON performs an authenticated request and decodes the JSON response
// into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.cfg.Get().Server.Token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("[req:%s] %s %s%s", requestID, method, base, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return huntlyerrors.NewTransportError(method+" "+path, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := httpclient.ReadBody(resp.Body, maxResponseBytes)
	if err != nil {
		return huntlyerrors.NewTransportError(method+" "+path, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return huntlyerrors.NewTransportError(method+" "+path, resp.StatusCode,
			fmt.Errorf("%s", strings.TrimSpace(string(data))))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return huntlyerrors.NewTransportError(method+" "+path, resp.StatusCode,
			fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// ExistsByURL returns the saved page id for rawURL, or 0 when the service
// does not know it.
func (c *Client) ExistsByURL(ctx context.Context, rawURL string) (int64, error) {
	var result struct {
		ID int64 `json:"id"`
	}
	path := "/api/page/by-url?url=" + url.QueryEscape(rawURL)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

// Save stores a captured page and returns its id.
func (c *Client) Save(ctx context.Context, req SaveRequest) (int64, error) {
	var result struct {
		ID int64 `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/page/save", req, &result); err != nil {
		return 0, err
	}
	if result.ID <= 0 {
		return 0, huntlyerrors.NewTransportError("POST /api/page/save", 0,
			fmt.Errorf("service returned no page id"))
	}
	return result.ID, nil
}

// Placement fetches the library placement of a saved page.
func (c *Client) Placement(ctx context.Context, pageID int64) (Placement, error) {
	var result Placement
	path := fmt.Sprintf("/api/page/%d/placement", pageID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &result)
	return result, err
}

// Detail fetches the full saved page.
func (c *Client) Detail(ctx context.Context, pageID int64) (Page, error) {
	var result Page
	path := fmt.Sprintf("/api/page/%d", pageID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &result)
	return result, err
}

// CollectionTree fetches the folder/connector hierarchy.
func (c *Client) CollectionTree(ctx context.Context) ([]Collection, error) {
	var result []Collection
	err := c.doJSON(ctx, http.MethodGet, "/api/collections/tree", nil, &result)
	return result, err
}

// Shortcuts fetches the remote shortcut catalog.
func (c *Client) Shortcuts(ctx context.Context) ([]RemoteShortcut, error) {
	var result []RemoteShortcut
	err := c.doJSON(ctx, http.MethodGet, "/api/ai/shortcuts", nil, &result)
	return result, err
}

// ProxyResult carries a raw passthrough response.
type ProxyResult struct {
	StatusCode int
	Body       []byte
}

// Proxy performs an authenticated request on behalf of a tab against an
// arbitrary service path. Non-2xx statuses are returned to the caller, not
// treated as client errors; the tab decides what they mean.
func (c *Client) Proxy(ctx context.Context, method, path string, body []byte) (ProxyResult, error) {
	base, err := c.baseURL()
	if err != nil {
		return ProxyResult{}, err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return ProxyResult{}, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.cfg.Get().Server.Token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ProxyResult{}, huntlyerrors.NewTransportError("proxy "+method+" "+path, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := httpclient.ReadBody(resp.Body, maxResponseBytes)
	if err != nil {
		return ProxyResult{}, huntlyerrors.NewTransportError("proxy "+method+" "+path, resp.StatusCode, err)
	}
	return ProxyResult{StatusCode: resp.StatusCode, Body: data}, nil
}
