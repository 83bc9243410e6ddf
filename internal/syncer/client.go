package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/armadahq/datacore/internal/auth"
	"github.com/armadahq/datacore/pkg/api"
)

// peerTokenTTL — срок жизни токена, выпускаемого на один обмен с пиром
const peerTokenTTL = 2 * time.Minute

// Client представляет HTTP клиент для обмена событиями с пиром.
// На каждый запрос выпускается короткоживущий JWT, подписанный
// секретом кластера.
type Client struct {
	httpClient *http.Client
	jwtConfig  auth.Config
	coreID     string
	role       string
}

// NewClient создает новый клиент репликации
func NewClient(clusterSecret []byte, coreID, role string, timeout time.Duration) *Client {
	return &Client{
		coreID: coreID,
		role:   role,
		jwtConfig: auth.Config{
			Secret:   clusterSecret,
			TokenTTL: peerTokenTTL,
		},
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Push отправляет батч локальных событий пиру
func (c *Client) Push(ctx context.Context, peerURL string, req *api.SyncPushRequest) (*api.SyncPushResponse, error) {
	var resp api.SyncPushResponse
	if err := c.doRequest(ctx, http.MethodPost, peerURL+"/api/v1/sync/push", req, &resp); err != nil {
		return nil, fmt.Errorf("sync push request failed: %w", err)
	}
	return &resp, nil
}

// Pull запрашивает у пира события после курсора
func (c *Client) Pull(ctx context.Context, peerURL string, after int64, limit int) (*api.SyncPullResponse, error) {
	var resp api.SyncPullResponse
	url := fmt.Sprintf("%s/api/v1/sync/pull?after=%d&limit=%d", peerURL, after, limit)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("sync pull request failed: %w", err)
	}
	return &resp, nil
}

// Register регистрирует этот узел как пира на удаленном узле
func (c *Client) Register(ctx context.Context, peerURL string, req *api.PeerRequest) (*api.PeerResponse, error) {
	var resp api.PeerResponse
	if err := c.doRequest(ctx, http.MethodPost, peerURL+"/api/v1/peers", req, &resp); err != nil {
		return nil, fmt.Errorf("peer register request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос с авторизацией узла
func (c *Client) doRequest(ctx context.Context, method, url string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := auth.GenerateToken(c.jwtConfig, c.coreID, c.role)
	if err != nil {
		return fmt.Errorf("failed to generate peer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

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
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("peer error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
