package trading

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

func TestBridgeMarketOrderCrossesLastPrice(t *testing.T) {
	var orderBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tick":
			json.NewEncoder(w).Encode(map[string]any{"last_price": 100.0, "prev_close": 99.0})
		case "/order":
			if err := json.NewDecoder(r.Body).Decode(&orderBody); err != nil {
				t.Errorf("decoding order body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]int{"order_id": 7})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewBridgeSession(srv.URL, testLogger())
	id, err := s.PlaceOrder(context.Background(), domain.Order{
		Code:      "113050.SH",
		Side:      domain.OrderSideBuy,
		Volume:    90,
		PriceMode: domain.PriceModeMarket,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != 7 {
		t.Errorf("order id = %d, want 7", id)
	}
	// Buy crosses one percent above the last price.
	if price, _ := orderBody["price"].(float64); math.Abs(price-101.0) > 1e-9 {
		t.Errorf("buy price = %v, want 101.0", price)
	}

	_, err = s.PlaceOrder(context.Background(), domain.Order{
		Code:      "113050.SH",
		Side:      domain.OrderSideSell,
		Volume:    90,
		PriceMode: domain.PriceModeMarket,
	})
	if err != nil {
		t.Fatalf("PlaceOrder (sell): %v", err)
	}
	if price, _ := orderBody["price"].(float64); math.Abs(price-99.0) > 1e-9 {
		t.Errorf("sell price = %v, want 99.0", price)
	}
}

func TestBridgeRejectedOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"order_id": -1})
	}))
	defer srv.Close()

	s := NewBridgeSession(srv.URL, testLogger())
	_, err := s.PlaceOrder(context.Background(), domain.Order{
		Code:      "113050.SH",
		Side:      domain.OrderSideBuy,
		Volume:    90,
		Price:     100,
		PriceMode: domain.PriceModeLimit,
	})
	if err == nil {
		t.Fatal("non-positive order id should be an error")
	}
}

func TestBridgeQueryPositionsFiltersZeroVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"code":"113050.SH","name":"南银转债","volume":100,"available_volume":100,"avg_price":100.0},
			{"code":"123456.SZ","name":"清仓残留","volume":0,"available_volume":0,"avg_price":98.0}
		]`))
	}))
	defer srv.Close()

	s := NewBridgeSession(srv.URL, testLogger())
	positions, err := s.QueryPositions(context.Background())
	if err != nil {
		t.Fatalf("QueryPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Code != "113050.SH" {
		t.Errorf("positions = %+v, want only 113050.SH", positions)
	}
}

func TestSimSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	sim := NewSimSession(100000)
	if err := sim.Connect(ctx, "", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sim.SetQuote("113050.SH", domain.Quote{LastPrice: 100, PrevClose: 99})

	if _, err := sim.PlaceOrder(ctx, domain.Order{
		Code: "113050.SH", Side: domain.OrderSideBuy, Volume: 100, Price: 100, PriceMode: domain.PriceModeLimit,
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	asset, err := sim.QueryAsset(ctx)
	if err != nil {
		t.Fatalf("QueryAsset: %v", err)
	}
	if asset.Cash != 90000 {
		t.Errorf("cash after buy = %v, want 90000", asset.Cash)
	}
	if asset.TotalAsset != 100000 {
		t.Errorf("total asset = %v, want 100000", asset.TotalAsset)
	}

	positions, err := sim.QueryPositions(ctx)
	if err != nil {
		t.Fatalf("QueryPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Volume != 100 {
		t.Fatalf("positions = %+v", positions)
	}

	if _, err := sim.PlaceOrder(ctx, domain.Order{
		Code: "113050.SH", Side: domain.OrderSideSell, Volume: 100, Price: 110, PriceMode: domain.PriceModeLimit,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	asset, _ = sim.QueryAsset(ctx)
	if asset.Cash != 101000 {
		t.Errorf("cash after round trip = %v, want 101000", asset.Cash)
	}

	if _, err := sim.PlaceOrder(ctx, domain.Order{
		Code: "113050.SH", Side: domain.OrderSideSell, Volume: 10, Price: 110,
	}); err == nil {
		t.Error("selling a closed position should fail")
	}
}
