// Package factorcat is the HTTP client for the bond-ranking service. The
// daemon consumes exactly two operations: login (token refresh) and "today's
// ranked bond list for a backtest run".
package factorcat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// Client talks to the factor-cat ranking API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a ranking-service client for baseURL.
func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// SetToken installs a bearer token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// LoginResult is the authentication response.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
	RoleName    string `json:"role_name"`
}

// Login authenticates and installs the returned token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}

	var result LoginResult
	if err := c.request(ctx, http.MethodPost, "/auth/login", body, &result); err != nil {
		return nil, fmt.Errorf("login failed for %s: %w", username, err)
	}

	c.SetToken(result.AccessToken)
	c.log.Info("ranking service login ok", "username", username)
	return &result, nil
}

// RefreshToken re-authenticates with the stored credentials, replacing the
// bearer token. Driven by the scheduler's token-refresh job.
func (c *Client) RefreshToken(ctx context.Context, username, password string) error {
	_, err := c.Login(ctx, username, password)
	return err
}

type selectionBond struct {
	KzzCode   string  `json:"kzz_code"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	TradeDate string  `json:"trade_date"`
}

type selectionResult struct {
	SelectedBonds []selectionBond `json:"selected_bonds"`
}

// TodayBonds fetches today's ranked bond list for the given backtest run,
// preserving the service's ranking order.
func (c *Client) TodayBonds(ctx context.Context, historyID int) ([]domain.TargetBond, error) {
	body := map[string]int{"strategy_history_id": historyID}

	var results []selectionResult
	if err := c.request(ctx, http.MethodPost, "/bond-selection/today-bond-selection", body, &results); err != nil {
		return nil, fmt.Errorf("fetching today's bond selection: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	bonds := make([]domain.TargetBond, 0, len(results[0].SelectedBonds))
	for _, b := range results[0].SelectedBonds {
		code := b.KzzCode
		if code == "" {
			code = b.Code
		}
		if code == "" {
			continue
		}
		bonds = append(bonds, domain.TargetBond{
			Code:      code,
			Name:      b.Name,
			Price:     b.Price,
			TradeDate: b.TradeDate,
		})
	}

	c.log.Info("fetched bond selection", "history_id", historyID, "count", len(bonds))
	return bonds, nil
}

// request performs one JSON round trip. HTTP errors surface the service's
// own detail message where one is present.
func (c *Client) request(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, endpoint, errorDetail(resp))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, endpoint, err)
	}
	return nil
}

// errorDetail extracts the most specific error message the service returned.
func errorDetail(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || len(data) == 0 {
		return resp.Status
	}

	var payload map[string]any
	if json.Unmarshal(data, &payload) == nil {
		for _, key := range []string{"detail", "message", "error", "msg"} {
			if v, ok := payload[key].(string); ok && v != "" {
				return v
			}
		}
	}

	if s := string(bytes.TrimSpace(data)); s != "" {
		return s
	}
	return resp.Status
}
