// Package book implements the price-time priority limit order book.
//
// Bids and asks are each a btree of price levels (github.com/tidwall/btree),
// generalizing the single-asset book in the teacher's internal/engine
// package to one OrderBook per instrument, addressed by symbol from the
// matcher. Each price level holds its resting orders in arrival order, so a
// level's FIFO slice gives time priority within a price for free.
package book

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrNotOwner  = errors.New("order owned by another team")
	ErrBadTick   = errors.New("price is not on the tick grid")
	ErrNoPrice   = errors.New("limit order requires a price")
)

// PriceLevel groups all resting orders at one price, oldest first.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*common.Order
}

type priceLevels = btree.BTreeG[*PriceLevel]

// OrderBook is the live book for a single instrument. It is exclusively
// mutated by the matcher goroutine (spec §4.1, §5) -- no internal locking.
type OrderBook struct {
	Symbol string
	Bids   *priceLevels
	Asks   *priceLevels

	// byID indexes live (possibly partially filled) orders for O(1) cancel
	// lookup and O(log n) removal from their price level.
	byID map[string]*common.Order

	nBuyOrders   uint64
	nSellOrders  uint64
	buyQuantity  uint64
	sellQuantity uint64
}

func New(symbol string) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &OrderBook{
		Symbol: symbol,
		Bids:   bids,
		Asks:   asks,
		byID:   make(map[string]*common.Order),
	}
}

func (b *OrderBook) levelsFor(side common.Side) *priceLevels {
	if side == common.Buy {
		return b.Bids
	}
	return b.Asks
}

// BestBid returns the highest resting bid price, if any.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	lvl, ok := b.Bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.Price, true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := b.Asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.Price, true
}

// DepthLevel is a snapshot of one side of one price level.
type DepthLevel struct {
	Price      decimal.Decimal
	Quantity   uint64
	OrderCount int
}

// Depth returns the top n levels on each side, best first.
func (b *OrderBook) Depth(n int) (bids, asks []DepthLevel) {
	collect := func(levels *priceLevels) []DepthLevel {
		out := make([]DepthLevel, 0, n)
		levels.Scan(func(lvl *PriceLevel) bool {
			if len(out) >= n {
				return false
			}
			var qty uint64
			for _, o := range lvl.Orders {
				qty += o.RemainingQuantity
			}
			out = append(out, DepthLevel{Price: lvl.Price, Quantity: qty, OrderCount: len(lvl.Orders)})
			return true
		})
		return out
	}
	return collect(b.Bids), collect(b.Asks)
}

// Insert places a new order. It returns the trades generated by any
// immediate matches. A market order that cannot be (fully) filled has its
// residual quantity discarded rather than resting (spec §4.1).
func (b *OrderBook) Insert(order *common.Order, idGen func() string) ([]common.Trade, error) {
	if order.OrderType != common.MarketOrder {
		if order.Price == nil {
			return nil, ErrNoPrice
		}
		if !common.OnTick(*order.Price) {
			return nil, ErrBadTick
		}
	}

	order.RemainingQuantity = order.Quantity
	order.Status = common.New

	trades := b.match(order, idGen)

	if order.RemainingQuantity > 0 {
		if order.OrderType == common.MarketOrder {
			// Market orders never rest; unfilled residual is discarded.
			return trades, nil
		}
		b.rest(order)
	}
	if order.RemainingQuantity == 0 && len(trades) > 0 {
		order.Status = common.Filled
	} else if order.RemainingQuantity < order.Quantity {
		order.Status = common.PartiallyFilled
	}
	return trades, nil
}

// match sweeps the incoming order against the opposite book while prices
// cross, filling earliest-submitted resting orders first within a level.
// Execution price is always the resting order's price (price improvement
// accrues to the aggressor).
func (b *OrderBook) match(incoming *common.Order, idGen func() string) []common.Trade {
	var trades []common.Trade
	opposite := b.levelsFor(incoming.Side.Opposite())

	for incoming.RemainingQuantity > 0 {
		level, ok := opposite.Min()
		if !ok {
			break
		}
		if !incoming.IsMarketable(level.Price, true) {
			break
		}

		fullyConsumed := 0
		var levelQtyFilled uint64
		for _, resting := range level.Orders {
			if incoming.RemainingQuantity == 0 {
				break
			}
			qty := min(incoming.RemainingQuantity, resting.RemainingQuantity)
			incoming.RemainingQuantity -= qty
			resting.RemainingQuantity -= qty
			levelQtyFilled += qty

			trade := b.buildTrade(incoming, resting, level.Price, qty, idGen())
			trades = append(trades, trade)

			if resting.RemainingQuantity == 0 {
				resting.Status = common.Filled
				delete(b.byID, resting.OrderID)
				fullyConsumed++
			} else {
				resting.Status = common.PartiallyFilled
			}
		}

		if fullyConsumed > 0 {
			level.Orders = level.Orders[fullyConsumed:]
		}
		b.adjustLiquidity(incoming.Side.Opposite(), levelQtyFilled, fullyConsumed)
		if len(level.Orders) == 0 {
			opposite.Delete(level)
		}
		if levelQtyFilled == 0 {
			// Nothing more can be consumed at this level (shouldn't happen,
			// but guards against an infinite loop on a malformed level).
			break
		}
	}
	return trades
}

func (b *OrderBook) buildTrade(incoming, resting *common.Order, price decimal.Decimal, qty uint64, tradeID string) common.Trade {
	var buyerOrder, sellerOrder *common.Order
	if incoming.Side == common.Buy {
		buyerOrder, sellerOrder = incoming, resting
	} else {
		buyerOrder, sellerOrder = resting, incoming
	}
	return common.Trade{
		TradeID:          tradeID,
		InstrumentSymbol: b.Symbol,
		BuyerOrderID:     buyerOrder.OrderID,
		SellerOrderID:    sellerOrder.OrderID,
		BuyerTeamID:      buyerOrder.TeamID,
		SellerTeamID:     sellerOrder.TeamID,
		Price:            price,
		Quantity:         qty,
		AggressorSide:    incoming.Side,
		Timestamp:        time.Now(),
	}
}

// adjustLiquidity updates the per-side bookkeeping counters after a partial
// or full consumption of resting liquidity on `side`.
func (b *OrderBook) adjustLiquidity(side common.Side, qtyConsumed uint64, ordersConsumed int) {
	if side == common.Buy {
		b.buyQuantity -= qtyConsumed
		b.nBuyOrders -= uint64(ordersConsumed)
	} else {
		b.sellQuantity -= qtyConsumed
		b.nSellOrders -= uint64(ordersConsumed)
	}
}

// BuildAuctionTrade constructs a trade at an externally-computed clearing
// price (used by the matcher's opening-auction calculation, spec §4.3). It
// does not touch book state; callers are responsible for decrementing
// RemainingQuantity and resting any residual via Rest.
func (b *OrderBook) BuildAuctionTrade(buy, sell *common.Order, price decimal.Decimal, qty uint64, tradeID string) common.Trade {
	aggressor := common.Buy
	if sell.SubmittedAt.Before(buy.SubmittedAt) {
		aggressor = common.Sell
	}
	return common.Trade{
		TradeID:          tradeID,
		InstrumentSymbol: b.Symbol,
		BuyerOrderID:     buy.OrderID,
		SellerOrderID:    sell.OrderID,
		BuyerTeamID:      buy.TeamID,
		SellerTeamID:     sell.TeamID,
		Price:            price,
		Quantity:         qty,
		AggressorSide:    aggressor,
		Timestamp:        time.Now(),
	}
}

// Rest places order onto the book at its limit price with whatever
// RemainingQuantity it currently carries. Exported for the matcher's
// opening-auction path, which rests residual quantity after clearing
// (spec §4.3); internal continuous matching uses the unexported rest.
func (b *OrderBook) Rest(order *common.Order) {
	b.rest(order)
}

func (b *OrderBook) rest(order *common.Order) {
	levels := b.levelsFor(order.Side)
	key := &PriceLevel{Price: *order.Price}
	level, ok := levels.GetMut(key)
	if !ok {
		level = key
		level.Orders = nil
		levels.Set(level)
	}
	level.Orders = append(level.Orders, order)
	b.byID[order.OrderID] = order

	if order.Side == common.Buy {
		b.buyQuantity += order.RemainingQuantity
		b.nBuyOrders++
	} else {
		b.sellQuantity += order.RemainingQuantity
		b.nSellOrders++
	}
}

// Cancel removes a resting order. Only the originating team may cancel it.
func (b *OrderBook) Cancel(orderID, teamID string) error {
	order, ok := b.byID[orderID]
	if !ok {
		return ErrNotFound
	}
	if order.TeamID != teamID {
		return ErrNotOwner
	}

	levels := b.levelsFor(order.Side)
	key := &PriceLevel{Price: *order.Price}
	level, ok := levels.GetMut(key)
	if ok {
		for i, o := range level.Orders {
			if o.OrderID == orderID {
				level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
				break
			}
		}
		if len(level.Orders) == 0 {
			levels.Delete(level)
		}
	}

	if order.Side == common.Buy {
		b.buyQuantity -= order.RemainingQuantity
		b.nBuyOrders--
	} else {
		b.sellQuantity -= order.RemainingQuantity
		b.nSellOrders--
	}

	order.Status = common.Cancelled
	order.RemainingQuantity = 0
	delete(b.byID, orderID)
	return nil
}

// Order looks up a live (resting) order by ID without removing it.
func (b *OrderBook) Order(orderID string) (*common.Order, bool) {
	o, ok := b.byID[orderID]
	return o, ok
}

// Crossed reports whether the book is crossed at rest (used by tests to
// assert spec invariant 1: best bid < best ask).
func (b *OrderBook) Crossed() bool {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return false
	}
	return bid.GreaterThanOrEqual(ask)
}
