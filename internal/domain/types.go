// Package domain defines the core value types shared across the rotation
// daemon: target bonds, broker positions, the position ledger, the refill
// queue, and strategy configuration.
package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PriceMode selects how an order is priced.
type PriceMode string

const (
	PriceModeLimit  PriceMode = "limit"
	PriceModeMarket PriceMode = "market"
)

// BuyAmountMode selects how the per-bond buy amount is computed.
type BuyAmountMode string

const (
	// BuyAmountFixed uses a configured fixed amount per bond.
	BuyAmountFixed BuyAmountMode = "fixed"
	// BuyAmountAverage divides available cash evenly across the batch.
	BuyAmountAverage BuyAmountMode = "average"
)

// StopReason records why the risk monitor sold a position.
type StopReason string

const (
	StopProfit StopReason = "stop_profit"
	StopLoss   StopReason = "stop_loss"
)

// LotSize is the minimum tradeable unit multiple for convertible bonds.
const LotSize = 10

// TargetBond is one entry of the ranked bond list returned by the strategy
// service. It has no identity beyond the code within one fetch.
type TargetBond struct {
	Code      string
	Name      string
	Price     float64
	TradeDate string
}

// Position is a broker-reported holding. The broker's position list is a
// superset of what this system bought; ownership lives in the ledger.
type Position struct {
	Code            string
	Name            string
	Volume          int
	AvailableVolume int
	AvgPrice        float64
	MarketValue     float64
}

// Asset is a snapshot of the trading account.
type Asset struct {
	Cash        float64
	FrozenCash  float64
	MarketValue float64
	TotalAsset  float64
}

// LedgerEntry records a bond this system bought: the only source of truth
// for which holdings belong to the rotation daemon.
type LedgerEntry struct {
	Code         string
	Name         string
	Volume       int
	BuyPrice     float64 // volume-weighted average across repeated buys
	BuyTime      time.Time
	StrategyName string
}

// RefillItem is a risk-triggered sell owed a replacement buy later the same
// day. Items are partitioned by calendar date and never carry over.
type RefillItem struct {
	Date      string // YYYY-MM-DD
	Code      string
	Name      string
	Volume    int
	SellPrice float64
	Reason    StopReason
	CreatedAt time.Time
}

// Order is a request to the trading session.
type Order struct {
	Code        string
	Side        OrderSide
	Volume      int
	Price       float64
	PriceMode   PriceMode
	StrategyTag string
	Remark      string
}

// Quote is a normalized real-time quote from any upstream provider.
type Quote struct {
	LastPrice float64
	PrevClose float64
	Open      float64
	High      float64
	Low       float64
	Volume    float64
	Amount    float64
	Status    int
}

// Suspension status codes reported upstream: 17 is a temporary halt, 20 is
// suspended until close.
const (
	statusHalted    = 17
	statusSuspended = 20
)

// Suspended reports whether the instrument is halted or suspended.
func (q Quote) Suspended() bool {
	return q.Status == statusHalted || q.Status == statusSuspended
}

// Usable reports whether the quote carries a price the engine can act on.
func (q Quote) Usable() bool {
	return q.LastPrice > 0
}

// StrategyConfig is the single active strategy selection. Replaced on
// re-selection, cleared on deselection.
type StrategyConfig struct {
	StrategyID      int
	StrategyName    string
	HistoryID       int
	StopProfitRatio float64
	StopLossRatio   float64
	Schedule        Schedule
	Parameters      map[string]any
}

// IsConvertibleBond reports whether a bare code belongs to the convertible
// bond universe (SSE codes start with 11, SZSE with 12).
func IsConvertibleBond(code string) bool {
	bare := code
	for i := 0; i < len(code); i++ {
		if code[i] == '.' {
			bare = code[:i]
			break
		}
	}
	if len(bare) < 2 {
		return false
	}
	return bare[:2] == "11" || bare[:2] == "12"
}
