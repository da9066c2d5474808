package matcher

import (
	"sort"

	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/pipeline"
)

// clearAuctions computes one clearing price per instrument that collected
// buffered orders during the opening auction window, generates trades at
// that price, and rests whatever could not be matched (spec §4.3).
func (m *Matcher) clearAuctions(t *tomb.Tomb) {
	for symbol, orders := range m.auctionBuffer {
		delete(m.auctionBuffer, symbol)
		b, ok := m.books[symbol]
		if !ok || len(orders) == 0 {
			continue
		}
		m.clearOne(t, b, orders)
	}
}

func (m *Matcher) clearOne(t *tomb.Tomb, b *book.OrderBook, orders []*common.Order) {
	var buys, sells []*common.Order
	for _, o := range orders {
		if o.Price == nil {
			// Market orders carry no auction price and cannot participate in
			// a clearing calculation; rest them is meaningless too, so they
			// are dropped -- spec §4.1 already discards unfilled market
			// residuals, and an auction has no "current price" to sweep.
			continue
		}
		o.RemainingQuantity = o.Quantity
		if o.Side == common.Buy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	if len(buys) == 0 || len(sells) == 0 {
		// Nothing can cross; every buffered order rests at its limit price
		// once continuous trading begins.
		for _, o := range append(buys, sells...) {
			m.restAuctioned(b, o)
		}
		return
	}

	price, ok := clearingPrice(buys, sells)
	if !ok {
		for _, o := range append(buys, sells...) {
			m.restAuctioned(b, o)
		}
		return
	}

	sort.SliceStable(buys, func(i, j int) bool {
		if !buys[i].Price.Equal(*buys[j].Price) {
			return buys[i].Price.GreaterThan(*buys[j].Price)
		}
		return buys[i].SubmittedAt.Before(buys[j].SubmittedAt)
	})
	sort.SliceStable(sells, func(i, j int) bool {
		if !sells[i].Price.Equal(*sells[j].Price) {
			return sells[i].Price.LessThan(*sells[j].Price)
		}
		return sells[i].SubmittedAt.Before(sells[j].SubmittedAt)
	})

	var trades []common.Trade
	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		buy, sell := buys[bi], sells[si]
		if buy.Price.LessThan(price) || sell.Price.GreaterThan(price) {
			break
		}
		qty := min(buy.RemainingQuantity, sell.RemainingQuantity)
		if qty == 0 {
			break
		}
		buy.RemainingQuantity -= qty
		sell.RemainingQuantity -= qty

		trades = append(trades, b.BuildAuctionTrade(buy, sell, price, qty, m.nextTradeID()))

		if buy.RemainingQuantity == 0 {
			bi++
		}
		if sell.RemainingQuantity == 0 {
			si++
		}
	}

	m.mids.Update(b.Symbol, price)

	for _, o := range buys {
		m.restAuctioned(b, o)
	}
	for _, o := range sells {
		m.restAuctioned(b, o)
	}

	if len(trades) > 0 {
		m.sendTrades(t, pipeline.MatchOutcome{Trades: trades})
	}
}

// restAuctioned finishes an order's auction status and rests any residual
// quantity onto the continuous book, matching book.Insert's bookkeeping.
func (m *Matcher) restAuctioned(b *book.OrderBook, o *common.Order) {
	if o.RemainingQuantity == 0 {
		o.Status = common.Filled
		return
	}
	if o.RemainingQuantity < o.Quantity {
		o.Status = common.PartiallyFilled
	} else {
		o.Status = common.New
	}
	b.Rest(o)
}

// clearingPrice picks the price that maximizes matched volume across every
// distinct buy/sell limit; ties are broken by minimizing the remaining
// imbalance between demand and supply. A further tie -- several prices
// equally maximize volume and minimize imbalance -- is broken by the
// midpoint of that tied range, rounded to the tick grid (spec §4.3, spec §8
// scenario 6: buy 10@100 crossing sell 10@98 clears at 99).
func clearingPrice(buys, sells []*common.Order) (decimal.Decimal, bool) {
	seen := map[string]bool{}
	var candidates []decimal.Decimal
	for _, o := range buys {
		if !seen[o.Price.String()] {
			seen[o.Price.String()] = true
			candidates = append(candidates, *o.Price)
		}
	}
	for _, o := range sells {
		if !seen[o.Price.String()] {
			seen[o.Price.String()] = true
			candidates = append(candidates, *o.Price)
		}
	}

	var bestVolume, bestImbalance uint64
	found := false
	var tied []decimal.Decimal

	for _, price := range candidates {
		var demand, supply uint64
		for _, o := range buys {
			if o.Price.GreaterThanOrEqual(price) {
				demand += o.RemainingQuantity
			}
		}
		for _, o := range sells {
			if o.Price.LessThanOrEqual(price) {
				supply += o.RemainingQuantity
			}
		}
		volume := min(demand, supply)
		if volume == 0 {
			continue
		}
		var imbalance uint64
		if demand > supply {
			imbalance = demand - supply
		} else {
			imbalance = supply - demand
		}

		switch {
		case !found || volume > bestVolume || (volume == bestVolume && imbalance < bestImbalance):
			bestVolume, bestImbalance, found = volume, imbalance, true
			tied = []decimal.Decimal{price}
		case volume == bestVolume && imbalance == bestImbalance:
			tied = append(tied, price)
		}
	}
	if !found {
		return decimal.Zero, false
	}

	lo, hi := tied[0], tied[0]
	for _, p := range tied[1:] {
		if p.LessThan(lo) {
			lo = p
		}
		if p.GreaterThan(hi) {
			hi = p
		}
	}
	return lo.Add(hi).Div(two).Round(2), true
}
