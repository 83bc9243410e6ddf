package edgequake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client представляет HTTP клиент API индекс-плагина (EdgeQuake).
// Все вызовы ограничены таймаутом и отменяемы через контекст.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tenantID   string
}

// NewClient создает новый клиент API плагина
func NewClient(baseURL, apiKey, tenantID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		tenantID: tenantID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// workspaceResponse представляет workspace в API плагина
type workspaceResponse struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// documentResponse представляет документ в API плагина
type documentResponse struct {
	ID string `json:"id"`
}

// hybridQueryRequest представляет hybrid-запрос к плагину
type hybridQueryRequest struct {
	Query       string `json:"query"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	PathPrefix  string `json:"path_prefix,omitempty"`
	K           int    `json:"k"`
}

// hybridQueryResponse представляет ответ плагина на hybrid-запрос
type hybridQueryResponse struct {
	Results []struct {
		DocumentID string  `json:"document_id"`
		Snippet    string  `json:"snippet"`
		Heading    string  `json:"heading"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// EnsureWorkspace создает workspace с данным slug (идемпотентно)
// и возвращает его remote id
func (c *Client) EnsureWorkspace(ctx context.Context, slug string) (string, error) {
	var resp workspaceResponse
	body := map[string]string{"slug": slug}

	if err := c.doRequest(ctx, http.MethodPost, "/v1/workspaces", body, &resp); err != nil {
		return "", fmt.Errorf("ensure workspace request failed: %w", err)
	}

	return resp.ID, nil
}

// UpsertDocument загружает документ в workspace плагина, возвращает remote doc id
func (c *Client) UpsertDocument(ctx context.Context, workspaceID, canonicalPath, title, content string) (string, error) {
	var resp documentResponse
	body := map[string]string{
		"path":    canonicalPath,
		"title":   title,
		"content": content,
	}
	path := fmt.Sprintf("/v1/workspaces/%s/documents", url.PathEscape(workspaceID))

	if err := c.doRequest(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", fmt.Errorf("upsert document request failed: %w", err)
	}

	return resp.ID, nil
}

// DeleteDocument удаляет документ из workspace плагина по canonical path
func (c *Client) DeleteDocument(ctx context.Context, workspaceID, canonicalPath string) error {
	path := fmt.Sprintf("/v1/workspaces/%s/documents?path=%s",
		url.PathEscape(workspaceID), url.QueryEscape(canonicalPath))

	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete document request failed: %w", err)
	}

	return nil
}

// QueryHybrid выполняет hybrid-запрос против workspace плагина
func (c *Client) QueryHybrid(ctx context.Context, workspaceID, query, pathPrefix string, k int) (*hybridQueryResponse, error) {
	var resp hybridQueryResponse
	body := hybridQueryRequest{
		Query:       query,
		WorkspaceID: workspaceID,
		PathPrefix:  pathPrefix,
		K:           k,
	}

	if err := c.doRequest(ctx, http.MethodPost, "/v1/query/hybrid", body, &resp); err != nil {
		return nil, fmt.Errorf("hybrid query request failed: %w", err)
	}

	return &resp, nil
}

// doRequest выполняет HTTP запрос к API плагина
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("plugin returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
