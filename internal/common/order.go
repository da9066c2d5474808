package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType int

const (
	// LimitOrder rests on the book at its limit price if not fully filled.
	LimitOrder OrderType = iota
	// MarketOrder sweeps the opposite book and never rests.
	MarketOrder
	// QuoteOrder is an atomic two-sided limit pair with a shared lifecycle
	// (spec.md §9 open question, resolved in SPEC_FULL.md/DESIGN.md).
	QuoteOrder
)

func (t OrderType) String() string {
	switch t {
	case MarketOrder:
		return "market"
	case QuoteOrder:
		return "quote"
	default:
		return "limit"
	}
}

type OrderStatus int

const (
	New OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "new"
	}
}

// Order is a single resting or transient instruction to trade. Price is nil
// for market orders. QuoteID is non-empty only for the two legs of a quote
// order and links them for cancellation purposes.
type Order struct {
	OrderID           string
	ClientOrderID     string
	TeamID            string
	InstrumentSymbol  string
	Side              Side
	OrderType         OrderType
	Quantity          uint64
	Price             *decimal.Decimal
	SubmittedAt       time.Time
	RemainingQuantity uint64
	Status            OrderStatus
	QuoteID           string
}

// IsMarketable reports whether a limit order's price would cross the given
// opposite best price. Market orders are always marketable.
func (o *Order) IsMarketable(oppositeBest decimal.Decimal, oppositeExists bool) bool {
	if o.OrderType == MarketOrder {
		return true
	}
	if !oppositeExists || o.Price == nil {
		return false
	}
	if o.Side == Buy {
		return o.Price.GreaterThanOrEqual(oppositeBest)
	}
	return o.Price.LessThanOrEqual(oppositeBest)
}

func (o Order) String() string {
	price := "market"
	if o.Price != nil {
		price = o.Price.String()
	}
	return fmt.Sprintf(
		"Order{id=%s client=%s team=%s symbol=%s side=%s type=%s price=%s qty=%d remaining=%d status=%s}",
		o.OrderID, o.ClientOrderID, o.TeamID, o.InstrumentSymbol, o.Side, o.OrderType, price, o.Quantity, o.RemainingQuantity, o.Status,
	)
}

// TickSize is the minimum price increment enforced across the exchange.
var TickSize = decimal.New(1, -2) // $0.01

// OnTick reports whether price is an exact multiple of TickSize.
func OnTick(price decimal.Decimal) bool {
	mod := price.Mod(TickSize)
	return mod.IsZero()
}
