package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// Compile-time interface check.
var _ Session = (*BridgeSession)(nil)

// BridgeSession talks to the local QMT bridge over HTTP and JSON. The bridge
// wraps the terminal's native API on the same machine, so timeouts are short.
type BridgeSession struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewBridgeSession creates a session client for the bridge at baseURL.
func NewBridgeSession(baseURL string, log *slog.Logger) *BridgeSession {
	return &BridgeSession{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        log,
	}
}

func (s *BridgeSession) Connect(ctx context.Context, qmtPath, accountID string) error {
	body := map[string]string{"qmt_path": qmtPath, "account_id": accountID}
	if err := s.request(ctx, http.MethodPost, "/connect", body, nil); err != nil {
		return fmt.Errorf("connecting terminal session: %w", err)
	}
	s.log.Info("terminal session connected", "account", accountID)
	return nil
}

func (s *BridgeSession) Disconnect(ctx context.Context) error {
	if err := s.request(ctx, http.MethodPost, "/disconnect", nil, nil); err != nil {
		return fmt.Errorf("disconnecting terminal session: %w", err)
	}
	return nil
}

func (s *BridgeSession) IsConnected(ctx context.Context) (bool, error) {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := s.request(ctx, http.MethodGet, "/connected", nil, &out); err != nil {
		return false, err
	}
	return out.Connected, nil
}

func (s *BridgeSession) QueryAsset(ctx context.Context) (domain.Asset, error) {
	var out struct {
		Cash        float64 `json:"cash"`
		FrozenCash  float64 `json:"frozen_cash"`
		MarketValue float64 `json:"market_value"`
		TotalAsset  float64 `json:"total_asset"`
	}
	if err := s.request(ctx, http.MethodGet, "/asset", nil, &out); err != nil {
		return domain.Asset{}, fmt.Errorf("querying asset: %w", err)
	}
	return domain.Asset{
		Cash:        out.Cash,
		FrozenCash:  out.FrozenCash,
		MarketValue: out.MarketValue,
		TotalAsset:  out.TotalAsset,
	}, nil
}

func (s *BridgeSession) QueryPositions(ctx context.Context) ([]domain.Position, error) {
	var out []struct {
		Code            string  `json:"code"`
		Name            string  `json:"name"`
		Volume          int     `json:"volume"`
		AvailableVolume int     `json:"available_volume"`
		AvgPrice        float64 `json:"avg_price"`
		MarketValue     float64 `json:"market_value"`
	}
	if err := s.request(ctx, http.MethodGet, "/positions", nil, &out); err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(out))
	for _, p := range out {
		if p.Volume <= 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Code:            p.Code,
			Name:            p.Name,
			Volume:          p.Volume,
			AvailableVolume: p.AvailableVolume,
			AvgPrice:        p.AvgPrice,
			MarketValue:     p.MarketValue,
		})
	}
	return positions, nil
}

// PlaceOrder submits an order. The terminal has no native market order type
// for bonds, so a market order goes out as a limit order crossed one percent
// through the last price.
func (s *BridgeSession) PlaceOrder(ctx context.Context, order domain.Order) (int, error) {
	price := order.Price
	if order.PriceMode == domain.PriceModeMarket {
		tick, err := s.QueryTick(ctx, order.Code)
		if err != nil {
			return 0, fmt.Errorf("pricing market order for %s: %w", order.Code, err)
		}
		if !tick.Usable() {
			return 0, fmt.Errorf("pricing market order for %s: no last price", order.Code)
		}
		if order.Side == domain.OrderSideBuy {
			price = tick.LastPrice * 1.01
		} else {
			price = tick.LastPrice * 0.99
		}
	}

	body := map[string]any{
		"code":         order.Code,
		"side":         string(order.Side),
		"volume":       order.Volume,
		"price":        price,
		"strategy_tag": order.StrategyTag,
		"remark":       order.Remark,
	}
	var out struct {
		OrderID int `json:"order_id"`
	}
	if err := s.request(ctx, http.MethodPost, "/order", body, &out); err != nil {
		return 0, fmt.Errorf("placing %s order for %s: %w", order.Side, order.Code, err)
	}
	if out.OrderID <= 0 {
		return out.OrderID, fmt.Errorf("terminal rejected %s order for %s (order_id=%d)", order.Side, order.Code, out.OrderID)
	}

	s.log.Info("order placed",
		"code", order.Code, "side", order.Side,
		"volume", order.Volume, "price", price, "order_id", out.OrderID)
	return out.OrderID, nil
}

func (s *BridgeSession) QueryTick(ctx context.Context, code string) (domain.Quote, error) {
	var out struct {
		LastPrice float64 `json:"last_price"`
		PrevClose float64 `json:"prev_close"`
		Open      float64 `json:"open"`
		High      float64 `json:"high"`
		Low       float64 `json:"low"`
		Volume    float64 `json:"volume"`
		Amount    float64 `json:"amount"`
		Status    int     `json:"status"`
	}
	endpoint := "/tick?code=" + url.QueryEscape(code)
	if err := s.request(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return domain.Quote{}, fmt.Errorf("querying tick for %s: %w", code, err)
	}
	return domain.Quote{
		LastPrice: out.LastPrice,
		PrevClose: out.PrevClose,
		Open:      out.Open,
		High:      out.High,
		Low:       out.Low,
		Volume:    out.Volume,
		Amount:    out.Amount,
		Status:    out.Status,
	}, nil
}

func (s *BridgeSession) IsTradingDay(ctx context.Context, date string) (bool, error) {
	var out struct {
		IsTradingDay bool `json:"is_trading_day"`
	}
	endpoint := "/trading-day?date=" + url.QueryEscape(date)
	if err := s.request(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return false, fmt.Errorf("querying trading day %s: %w", date, err)
	}
	return out.IsTradingDay, nil
}

func (s *BridgeSession) request(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		msg := string(bytes.TrimSpace(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, endpoint, msg)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, endpoint, err)
	}
	return nil
}
