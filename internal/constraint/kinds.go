package constraint

import (
	"fenrir/internal/common"
)

// PositionLimit rejects an order whose post-trade position would exceed Max.
// If Symmetric is false, only the absolute value matters (spec §4.2 table).
type PositionLimit struct {
	Max       int64
	Symmetric bool
	Code      common.RejectCode
	Message   string
}

func (p PositionLimit) Check(order *common.Order, ctx Context) Result {
	current := ctx.Position(order.TeamID, order.InstrumentSymbol)
	delta := int64(order.Quantity)
	if order.Side == common.Sell {
		delta = -delta
	}
	projected := current + delta

	if p.Symmetric {
		if projected > p.Max || projected < -p.Max {
			return fail(p.Code, p.messageOr("post-trade position %d exceeds limit %d"), projected, p.Max)
		}
		return ok()
	}
	abs := projected
	if abs < 0 {
		abs = -abs
	}
	if abs > p.Max {
		return fail(p.Code, p.messageOr("post-trade |position| %d exceeds limit %d"), abs, p.Max)
	}
	return ok()
}

func (p PositionLimit) messageOr(fallback string) string {
	if p.Message != "" {
		return p.Message
	}
	return fallback
}

// InstrumentAllowed restricts orders to a configured whitelist of symbols.
type InstrumentAllowed struct {
	Whitelist map[string]bool
	Code      common.RejectCode
	Message   string
}

func (c InstrumentAllowed) Check(order *common.Order, _ Context) Result {
	if c.Whitelist[order.InstrumentSymbol] {
		return ok()
	}
	msg := c.Message
	if msg == "" {
		msg = "instrument " + order.InstrumentSymbol + " is not in the allowed list"
	}
	return fail(c.Code, "%s", msg)
}

// OrderRate caps the number of orders a team may submit within a rolling
// window (spec §4.2, and the rolling-window decision in SPEC_FULL.md §1).
type OrderRate struct {
	MaxPerSecond int
	Code         common.RejectCode
	Message      string
}

func (c OrderRate) Check(order *common.Order, ctx Context) Result {
	count := ctx.OrderCountInWindow(order.TeamID)
	if count >= c.MaxPerSecond {
		msg := c.Message
		if msg == "" {
			msg = "order rate exceeds limit"
		}
		return fail(c.Code, "%s", msg)
	}
	return ok()
}

// OrderTypeAllowed gates which order types (limit/market/quote) a role may
// submit.
type OrderTypeAllowed struct {
	Allowed map[common.OrderType]bool
	Code    common.RejectCode
	Message string
}

func (c OrderTypeAllowed) Check(order *common.Order, _ Context) Result {
	if c.Allowed[order.OrderType] {
		return ok()
	}
	msg := c.Message
	if msg == "" {
		msg = order.OrderType.String() + " orders are not permitted for this role"
	}
	return fail(c.Code, "%s", msg)
}

// PriceRange rejects limit orders priced too far from the current mid.
type PriceRange struct {
	MaxPctFromMid float64
	Code          common.RejectCode
	Message       string
}

func (c PriceRange) Check(order *common.Order, ctx Context) Result {
	if order.OrderType == common.MarketOrder || order.Price == nil {
		return ok()
	}
	mid, known := ctx.Mid(order.InstrumentSymbol)
	if !known || mid.IsZero() {
		return ok()
	}
	diff := order.Price.Sub(mid).Abs()
	pct, _ := diff.Div(mid).Float64()
	if pct > c.MaxPctFromMid {
		msg := c.Message
		if msg == "" {
			msg = "price too far from mid"
		}
		return fail(c.Code, "%s", msg)
	}
	return ok()
}

// PortfolioLimit caps sum(|position|) across all instruments for a team.
type PortfolioLimit struct {
	MaxTotal int64
	Code     common.RejectCode
	Message  string
}

func (c PortfolioLimit) Check(order *common.Order, ctx Context) Result {
	current := ctx.PortfolioAbs(order.TeamID)
	if current+int64(order.Quantity) > c.MaxTotal {
		msg := c.Message
		if msg == "" {
			msg = "portfolio exposure limit exceeded"
		}
		return fail(c.Code, "%s", msg)
	}
	return ok()
}
