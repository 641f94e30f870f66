package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	asset     domain.Asset
	positions []domain.Position
}

func (f *fakeSession) Connect(context.Context, string, string) error { return nil }

func (f *fakeSession) Disconnect(context.Context) error { return nil }

func (f *fakeSession) IsConnected(context.Context) (bool, error) { return true, nil }

func (f *fakeSession) QueryAsset(context.Context) (domain.Asset, error) { return f.asset, nil }

func (f *fakeSession) QueryPositions(context.Context) ([]domain.Position, error) {
	return f.positions, nil
}

func (f *fakeSession) PlaceOrder(context.Context, domain.Order) (int, error) { return 1, nil }

func (f *fakeSession) QueryTick(context.Context, string) (domain.Quote, error) {
	return domain.Quote{}, nil
}

func (f *fakeSession) IsTradingDay(context.Context, string) (bool, error) { return true, nil }

type fakeLedger struct {
	entries []domain.LedgerEntry
}

func (f *fakeLedger) UpsertBuy(context.Context, string, string, int, float64, time.Time, string) error {
	return nil
}

func (f *fakeLedger) DecrementSell(context.Context, string, int) error { return nil }

func (f *fakeLedger) List(context.Context) ([]domain.LedgerEntry, error) { return f.entries, nil }

func (f *fakeLedger) Get(ctx context.Context, code string) (*domain.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.Code == code {
			return &e, nil
		}
	}
	return nil, nil
}

type fakeQuotes struct {
	quotes map[string]domain.Quote
	errs   map[string]error
}

func (f *fakeQuotes) Fetch(_ context.Context, code string) (domain.Quote, error) {
	if err, ok := f.errs[code]; ok {
		return domain.Quote{}, err
	}
	q, ok := f.quotes[code]
	if !ok {
		return domain.Quote{}, errors.New("no quote")
	}
	return q, nil
}

func TestPositionsFiltersNonBonds(t *testing.T) {
	sess := &fakeSession{positions: []domain.Position{
		{Code: "113050.SH", Volume: 100},
		{Code: "600000.SH", Volume: 200}, // a stock in the same account
		{Code: "123456.SZ", Volume: 50},
	}}
	g := New(sess, &fakeLedger{}, &fakeQuotes{}, testLogger())

	bonds, err := g.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(bonds) != 2 {
		t.Fatalf("got %d bonds, want 2", len(bonds))
	}
	for _, p := range bonds {
		if !domain.IsConvertibleBond(p.Code) {
			t.Errorf("non-bond %s passed the filter", p.Code)
		}
	}
}

func TestMonitoredPositionsJoinsLedgerAndBroker(t *testing.T) {
	sess := &fakeSession{positions: []domain.Position{
		{Code: "113050.SH", Volume: 100, AvailableVolume: 60},
		{Code: "127001.SZ", Volume: 200, AvailableVolume: 200}, // held but not ours
	}}
	ledger := &fakeLedger{entries: []domain.LedgerEntry{
		{Code: "113050.SH", Volume: 100, BuyPrice: 100},
		{Code: "123456.SZ", Volume: 50, BuyPrice: 98}, // ours but already gone at the broker
	}}
	quotes := &fakeQuotes{quotes: map[string]domain.Quote{
		"113050.SH": {LastPrice: 110, PrevClose: 100},
	}}
	g := New(sess, ledger, quotes, testLogger())

	positions, err := g.MonitoredPositions(context.Background())
	if err != nil {
		t.Fatalf("MonitoredPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d monitored positions, want 1", len(positions))
	}
	p := positions[0]
	if p.Entry.Code != "113050.SH" {
		t.Errorf("code = %s", p.Entry.Code)
	}
	// Sellable is capped by the broker's available volume.
	if p.SellableVolume != 60 {
		t.Errorf("SellableVolume = %d, want 60", p.SellableVolume)
	}
	if p.ChangePct < 0.0999 || p.ChangePct > 0.1001 {
		t.Errorf("ChangePct = %v, want 0.10", p.ChangePct)
	}
}

func TestMonitoredPositionsSkipsQuoteFailures(t *testing.T) {
	sess := &fakeSession{positions: []domain.Position{
		{Code: "113050.SH", Volume: 100, AvailableVolume: 100},
		{Code: "123456.SZ", Volume: 50, AvailableVolume: 50},
	}}
	ledger := &fakeLedger{entries: []domain.LedgerEntry{
		{Code: "113050.SH", Volume: 100},
		{Code: "123456.SZ", Volume: 50},
	}}
	quotes := &fakeQuotes{
		quotes: map[string]domain.Quote{"113050.SH": {LastPrice: 101, PrevClose: 100}},
		errs:   map[string]error{"123456.SZ": errors.New("all providers down")},
	}
	g := New(sess, ledger, quotes, testLogger())

	positions, err := g.MonitoredPositions(context.Background())
	if err != nil {
		t.Fatalf("MonitoredPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Entry.Code != "113050.SH" {
		t.Errorf("positions = %+v, want only 113050.SH", positions)
	}
}

func TestMonitoredPositionsSkipsQuoteWithoutPrevClose(t *testing.T) {
	sess := &fakeSession{positions: []domain.Position{
		{Code: "113050.SH", Volume: 100, AvailableVolume: 100},
		{Code: "123456.SZ", Volume: 50, AvailableVolume: 50},
	}}
	ledger := &fakeLedger{entries: []domain.LedgerEntry{
		{Code: "113050.SH", Volume: 100},
		{Code: "123456.SZ", Volume: 50},
	}}
	// One quote has no previous close; its daily move cannot be computed.
	quotes := &fakeQuotes{quotes: map[string]domain.Quote{
		"113050.SH": {LastPrice: 101, PrevClose: 0},
		"123456.SZ": {LastPrice: 99, PrevClose: 100},
	}}
	g := New(sess, ledger, quotes, testLogger())

	positions, err := g.MonitoredPositions(context.Background())
	if err != nil {
		t.Fatalf("MonitoredPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Entry.Code != "123456.SZ" {
		t.Errorf("positions = %+v, want only 123456.SZ", positions)
	}
}

func TestMonitoredPositionsEmptyLedger(t *testing.T) {
	g := New(&fakeSession{}, &fakeLedger{}, &fakeQuotes{}, testLogger())
	positions, err := g.MonitoredPositions(context.Background())
	if err != nil {
		t.Fatalf("MonitoredPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("got %d positions, want 0", len(positions))
	}
}

func TestIsSuspended(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]domain.Quote{
		"113050.SH": {Status: 17},
		"123456.SZ": {LastPrice: 100},
	}}
	g := New(&fakeSession{}, &fakeLedger{}, quotes, testLogger())

	if ok, err := g.IsSuspended(context.Background(), "113050.SH"); err != nil || !ok {
		t.Errorf("IsSuspended(113050.SH) = %v, %v, want true", ok, err)
	}
	if ok, err := g.IsSuspended(context.Background(), "123456.SZ"); err != nil || ok {
		t.Errorf("IsSuspended(123456.SZ) = %v, %v, want false", ok, err)
	}
}
