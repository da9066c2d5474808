package common

import "github.com/shopspring/decimal"

type Role int

const (
	MarketMaker Role = iota
	HedgeFund
	ArbitrageDesk
	Retail
)

func (r Role) String() string {
	switch r {
	case MarketMaker:
		return "market_maker"
	case HedgeFund:
		return "hedge_fund"
	case ArbitrageDesk:
		return "arbitrage_desk"
	case Retail:
		return "retail"
	default:
		return "unknown"
	}
}

// ParseRole maps the wire/config string form onto a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "market_maker":
		return MarketMaker, true
	case "hedge_fund":
		return HedgeFund, true
	case "arbitrage_desk":
		return ArbitrageDesk, true
	case "retail":
		return Retail, true
	default:
		return 0, false
	}
}

// FeeSchedule holds the per-role maker rebate and taker fee, expressed as a
// signed amount per unit quantity: rebates are positive credits, taker fees
// are negative charges (spec §4.4).
type FeeSchedule struct {
	MakerRebate decimal.Decimal
	TakerFee    decimal.Decimal
}

// DefaultFeeSchedules implements the table in spec §6.
func DefaultFeeSchedules() map[Role]FeeSchedule {
	d := func(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
	return map[Role]FeeSchedule{
		MarketMaker:   {MakerRebate: d(0.02), TakerFee: d(-0.01)},
		HedgeFund:     {MakerRebate: d(0.01), TakerFee: d(-0.02)},
		ArbitrageDesk: {MakerRebate: d(0.01), TakerFee: d(-0.02)},
		Retail:        {MakerRebate: d(-0.01), TakerFee: d(-0.03)},
	}
}

// Team is a registered, authenticated trading bot.
type Team struct {
	TeamID   string
	TeamName string
	Role     Role
	APIKey   string
}
