package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// Compile-time interface check.
var _ Session = (*SimSession)(nil)

// SimSession implements Session in memory for paper trading and tests.
// Orders fill immediately at the submitted price against the seeded quotes.
type SimSession struct {
	mu          sync.Mutex
	connected   bool
	cash        float64
	positions   map[string]*domain.Position
	quotes      map[string]domain.Quote
	nextOrderID int
}

// NewSimSession creates a simulator seeded with starting cash.
func NewSimSession(cash float64) *SimSession {
	return &SimSession{
		cash:        cash,
		positions:   make(map[string]*domain.Position),
		quotes:      make(map[string]domain.Quote),
		nextOrderID: 1,
	}
}

// SetQuote seeds or updates the simulated quote for a code.
func (s *SimSession) SetQuote(code string, q domain.Quote) {
	s.mu.Lock()
	s.quotes[code] = q
	s.mu.Unlock()
}

func (s *SimSession) Connect(_ context.Context, _, _ string) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *SimSession) Disconnect(_ context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *SimSession) IsConnected(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, nil
}

func (s *SimSession) QueryAsset(_ context.Context) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return domain.Asset{}, fmt.Errorf("simulator not connected")
	}

	var marketValue float64
	for code, p := range s.positions {
		price := p.AvgPrice
		if q, ok := s.quotes[code]; ok && q.Usable() {
			price = q.LastPrice
		}
		marketValue += price * float64(p.Volume)
	}
	return domain.Asset{
		Cash:        s.cash,
		MarketValue: marketValue,
		TotalAsset:  s.cash + marketValue,
	}, nil
}

func (s *SimSession) QueryPositions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("simulator not connected")
	}

	positions := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Volume > 0 {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}

func (s *SimSession) PlaceOrder(_ context.Context, order domain.Order) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, fmt.Errorf("simulator not connected")
	}
	if order.Volume <= 0 {
		return 0, fmt.Errorf("order volume must be positive, got %d", order.Volume)
	}

	price := order.Price
	if order.PriceMode == domain.PriceModeMarket {
		q, ok := s.quotes[order.Code]
		if !ok || !q.Usable() {
			return 0, fmt.Errorf("no quote to price market order for %s", order.Code)
		}
		price = q.LastPrice
	}

	switch order.Side {
	case domain.OrderSideBuy:
		cost := price * float64(order.Volume)
		if cost > s.cash {
			return 0, fmt.Errorf("insufficient cash for %s: need %.2f, have %.2f", order.Code, cost, s.cash)
		}
		s.cash -= cost
		p, ok := s.positions[order.Code]
		if !ok {
			p = &domain.Position{Code: order.Code}
			s.positions[order.Code] = p
		}
		total := p.Volume + order.Volume
		p.AvgPrice = (p.AvgPrice*float64(p.Volume) + price*float64(order.Volume)) / float64(total)
		p.Volume = total
		p.AvailableVolume = total
	case domain.OrderSideSell:
		p, ok := s.positions[order.Code]
		if !ok || p.AvailableVolume < order.Volume {
			return 0, fmt.Errorf("insufficient position to sell %d of %s", order.Volume, order.Code)
		}
		s.cash += price * float64(order.Volume)
		p.Volume -= order.Volume
		p.AvailableVolume -= order.Volume
		if p.Volume <= 0 {
			delete(s.positions, order.Code)
		}
	default:
		return 0, fmt.Errorf("unknown order side %q", order.Side)
	}

	id := s.nextOrderID
	s.nextOrderID++
	return id, nil
}

func (s *SimSession) QueryTick(_ context.Context, code string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[code]
	if !ok {
		return domain.Quote{}, fmt.Errorf("no simulated quote for %s", code)
	}
	return q, nil
}

// IsTradingDay treats every weekday as a trading day in simulation.
func (s *SimSession) IsTradingDay(_ context.Context, date string) (bool, error) {
	t, err := time.Parse("20060102", date)
	if err != nil {
		return false, fmt.Errorf("malformed trading date %q: %w", date, err)
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday, nil
}
