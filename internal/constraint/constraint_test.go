package constraint_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fenrir/internal/common"
	"fenrir/internal/constraint"
)

func order(side common.Side, qty uint64, price *decimal.Decimal) *common.Order {
	return &common.Order{
		TeamID:           "team-a",
		InstrumentSymbol: "TEST",
		Side:             side,
		OrderType:        common.LimitOrder,
		Quantity:         qty,
		Price:            price,
	}
}

func limitAt(price float64) *decimal.Decimal {
	p := decimal.NewFromFloat(price)
	return &p
}

func baseContext() constraint.Context {
	return constraint.Context{
		Position:           func(string, string) int64 { return 0 },
		PortfolioAbs:       func(string) int64 { return 0 },
		OrderCountInWindow: func(string) int { return 0 },
		Mid:                func(string) (decimal.Decimal, bool) { return decimal.Zero, false },
		Instrument:         func(string) (common.Instrument, bool) { return common.Instrument{}, false },
	}
}

func TestPositionLimitSymmetricRejectsOverLimit(t *testing.T) {
	c := constraint.PositionLimit{Max: 100, Symmetric: true, Code: "MM_POS_LIMIT"}
	ctx := baseContext()
	ctx.Position = func(string, string) int64 { return 95 }

	result := c.Check(order(common.Buy, 10, nil), ctx)
	assert.False(t, result.OK)
	assert.Equal(t, common.RejectCode("MM_POS_LIMIT"), result.Code)
}

func TestPositionLimitSymmetricAllowsWithinLimit(t *testing.T) {
	c := constraint.PositionLimit{Max: 100, Symmetric: true, Code: "MM_POS_LIMIT"}
	ctx := baseContext()
	ctx.Position = func(string, string) int64 { return 95 }

	result := c.Check(order(common.Sell, 10, nil), ctx)
	assert.True(t, result.OK)
}

func TestPositionLimitSymmetricRejectsShortBreach(t *testing.T) {
	c := constraint.PositionLimit{Max: 100, Symmetric: true, Code: "MM_POS_LIMIT"}
	ctx := baseContext()
	ctx.Position = func(string, string) int64 { return -95 }

	result := c.Check(order(common.Sell, 10, nil), ctx)
	assert.False(t, result.OK)
}

func TestPositionLimitAsymmetricUsesAbsoluteValue(t *testing.T) {
	c := constraint.PositionLimit{Max: 100, Symmetric: false, Code: "MM_POS_LIMIT"}
	ctx := baseContext()
	ctx.Position = func(string, string) int64 { return -95 }

	result := c.Check(order(common.Sell, 10, nil), ctx)
	assert.False(t, result.OK)
}

func TestInstrumentAllowedRejectsOutsideWhitelist(t *testing.T) {
	c := constraint.InstrumentAllowed{Whitelist: map[string]bool{"TEST-100C": true}}
	result := c.Check(order(common.Buy, 1, nil), baseContext())
	assert.False(t, result.OK)
}

func TestInstrumentAllowedAllowsWhitelisted(t *testing.T) {
	c := constraint.InstrumentAllowed{Whitelist: map[string]bool{"TEST": true}}
	result := c.Check(order(common.Buy, 1, nil), baseContext())
	assert.True(t, result.OK)
}

func TestOrderRateRejectsAtLimit(t *testing.T) {
	c := constraint.OrderRate{MaxPerSecond: 5}
	ctx := baseContext()
	ctx.OrderCountInWindow = func(string) int { return 5 }

	result := c.Check(order(common.Buy, 1, nil), ctx)
	assert.False(t, result.OK)
}

func TestOrderRateAllowsUnderLimit(t *testing.T) {
	c := constraint.OrderRate{MaxPerSecond: 5}
	ctx := baseContext()
	ctx.OrderCountInWindow = func(string) int { return 4 }

	result := c.Check(order(common.Buy, 1, nil), ctx)
	assert.True(t, result.OK)
}

func TestOrderTypeAllowedRejectsDisallowedType(t *testing.T) {
	c := constraint.OrderTypeAllowed{Allowed: map[common.OrderType]bool{common.LimitOrder: true}}
	o := order(common.Buy, 1, nil)
	o.OrderType = common.MarketOrder

	result := c.Check(o, baseContext())
	assert.False(t, result.OK)
}

func TestPriceRangeSkipsMarketOrders(t *testing.T) {
	c := constraint.PriceRange{MaxPctFromMid: 0.01}
	o := order(common.Buy, 1, nil)
	o.OrderType = common.MarketOrder

	result := c.Check(o, baseContext())
	assert.True(t, result.OK)
}

func TestPriceRangeRejectsFarFromMid(t *testing.T) {
	c := constraint.PriceRange{MaxPctFromMid: 0.05}
	ctx := baseContext()
	ctx.Mid = func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }

	result := c.Check(order(common.Buy, 1, limitAt(120)), ctx)
	assert.False(t, result.OK)
}

func TestPriceRangeAllowsWithinRange(t *testing.T) {
	c := constraint.PriceRange{MaxPctFromMid: 0.05}
	ctx := baseContext()
	ctx.Mid = func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }

	result := c.Check(order(common.Buy, 1, limitAt(102)), ctx)
	assert.True(t, result.OK)
}

func TestPriceRangeSkipsUnknownMid(t *testing.T) {
	c := constraint.PriceRange{MaxPctFromMid: 0.01}
	result := c.Check(order(common.Buy, 1, limitAt(1000)), baseContext())
	assert.True(t, result.OK)
}

func TestPortfolioLimitRejectsOverTotal(t *testing.T) {
	c := constraint.PortfolioLimit{MaxTotal: 500}
	ctx := baseContext()
	ctx.PortfolioAbs = func(string) int64 { return 495 }

	result := c.Check(order(common.Buy, 10, nil), ctx)
	assert.False(t, result.OK)
}

func TestChainShortCircuitsOnFirstFailure(t *testing.T) {
	calledSecond := false
	chain := constraint.Chain{
		constraint.InstrumentAllowed{Whitelist: map[string]bool{}},
		trackingConstraint{&calledSecond},
	}

	result := chain.Check(order(common.Buy, 1, nil), baseContext())
	assert.False(t, result.OK)
	assert.False(t, calledSecond, "chain must not evaluate constraints after the first failure")
}

func TestChainPassesWhenAllConstraintsPass(t *testing.T) {
	chain := constraint.Chain{
		constraint.InstrumentAllowed{Whitelist: map[string]bool{"TEST": true}},
		constraint.OrderRate{MaxPerSecond: 100},
	}

	result := chain.Check(order(common.Buy, 1, nil), baseContext())
	assert.True(t, result.OK)
}

type trackingConstraint struct {
	called *bool
}

func (c trackingConstraint) Check(*common.Order, constraint.Context) constraint.Result {
	*c.called = true
	return constraint.Result{OK: true}
}
