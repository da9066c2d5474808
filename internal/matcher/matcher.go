// Package matcher implements the matching stage (spec §4.3). It is the
// sole mutator of all order books -- the serialization point that makes
// per-instrument ordering deterministic (spec §5 serialization point ii).
package matcher

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/correlator"
	"fenrir/internal/pipeline"
)

// PhaseSource is the read side of the phase manager's single-writer cell.
type PhaseSource interface {
	Current() common.PhaseState
}

// Matcher owns every instrument's order book.
type Matcher struct {
	books  map[string]*book.OrderBook
	queue  <-chan pipeline.MatchRequest
	trades chan<- pipeline.MatchOutcome
	fanOut chan<- pipeline.FanMessage
	phase  PhaseSource
	mids   *common.MidCache
	table  *correlator.Table
	orders *common.OrderStore

	// holdBuffer queues requests received while match_enabled is false,
	// released in arrival order when the phase transitions to continuous
	// (spec §4.3).
	holdBuffer []pipeline.MatchRequest
	lastPhase  common.PhaseName

	// auctionBuffer holds the order list per symbol seen during the batch
	// auction window, used to compute the clearing price once the auction
	// fires (spec §4.3, invariant scenario in spec §8 #6).
	auctionBuffer map[string][]*common.Order
}

func New(
	instruments []string,
	queue <-chan pipeline.MatchRequest,
	trades chan<- pipeline.MatchOutcome,
	fanOut chan<- pipeline.FanMessage,
	phase PhaseSource,
	mids *common.MidCache,
	table *correlator.Table,
	orders *common.OrderStore,
) *Matcher {
	books := make(map[string]*book.OrderBook, len(instruments))
	for _, sym := range instruments {
		books[sym] = book.New(sym)
	}
	return &Matcher{
		books:         books,
		queue:         queue,
		trades:        trades,
		fanOut:        fanOut,
		phase:         phase,
		mids:          mids,
		table:         table,
		orders:        orders,
		lastPhase:     phase.Current().Name,
		auctionBuffer: make(map[string][]*common.Order),
	}
}

// Book exposes a read-only snapshot surface for REST/admin endpoints. The
// matcher is the only writer; callers must not mutate the returned book.
func (m *Matcher) Book(symbol string) (*book.OrderBook, bool) {
	b, ok := m.books[symbol]
	return b, ok
}

func (m *Matcher) Run(t *tomb.Tomb) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			m.checkPhaseTransition(t)
		case req := <-m.queue:
			m.checkPhaseTransition(t)
			m.handle(t, req)
		}
	}
}

// checkPhaseTransition releases the held buffer once matching resumes, and
// fires the auction clearing computation the moment the opening auction
// phase ends (spec §4.3).
func (m *Matcher) checkPhaseTransition(t *tomb.Tomb) {
	current := m.phase.Current()
	if current.Name == m.lastPhase {
		return
	}
	previous := m.lastPhase
	m.lastPhase = current.Name

	if previous == common.OpeningAuction {
		m.clearAuctions(t)
	}

	if current.MatchEnabled && len(m.holdBuffer) > 0 {
		buffered := m.holdBuffer
		m.holdBuffer = nil
		for _, req := range buffered {
			m.handle(t, req)
		}
	}
}

func (m *Matcher) handle(t *tomb.Tomb, req pipeline.MatchRequest) {
	phase := m.phase.Current()
	if !phase.MatchEnabled {
		m.holdBuffer = append(m.holdBuffer, req)
		return
	}

	if req.Cancel != nil {
		m.handleCancel(t, req)
		return
	}
	if req.Order == nil {
		return
	}

	if phase.ExecutionStyle == common.ExecutionBatch {
		m.auctionBuffer[req.Order.InstrumentSymbol] = append(m.auctionBuffer[req.Order.InstrumentSymbol], req.Order)
		m.resolvePending(req.RequestID, req.Order, nil)
		return
	}

	m.matchOne(t, req)
}

func (m *Matcher) matchOne(t *tomb.Tomb, req pipeline.MatchRequest) {
	b, ok := m.books[req.Order.InstrumentSymbol]
	if !ok {
		return
	}
	trades, err := b.Insert(req.Order, m.nextTradeID)
	if err != nil {
		log.Error().Err(err).Str("symbol", req.Order.InstrumentSymbol).Msg("book insert failed")
		return
	}
	m.updateMid(b)
	m.resolvePending(req.RequestID, req.Order, trades)

	m.sendTrades(t, pipeline.MatchOutcome{
		RequestID: req.RequestID,
		Order:     req.Order,
		Trades:    trades,
	})
}

func (m *Matcher) resolvePending(requestID string, order *common.Order, trades []common.Trade) {
	var fills []pipeline.FillResult
	for _, tr := range trades {
		if tr.BuyerOrderID != order.OrderID && tr.SellerOrderID != order.OrderID {
			continue
		}
		fills = append(fills, pipeline.FillResult{TradeID: tr.TradeID, Price: tr.Price, Quantity: tr.Quantity})
	}
	m.table.Resolve(requestID, pipeline.OrderAckPayload{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Status:        order.Status.String(),
		Fills:         fills,
	}, nil)
}

func (m *Matcher) handleCancel(t *tomb.Tomb, req pipeline.MatchRequest) {
	cancel := req.Cancel
	result := m.cancelOne(cancel.OrderID, cancel.TeamID)

	m.table.Resolve(req.RequestID, result, nil)

	msgType := pipeline.MsgCancelAck
	var payload any = pipeline.CancelAckPayload{OrderID: cancel.OrderID}
	if !result.Cancelled {
		msgType = pipeline.MsgCancelReject
		payload = pipeline.CancelRejectPayload{OrderID: cancel.OrderID, Reason: result.Reason}
	}
	m.sendFan(t, pipeline.FanMessage{Type: msgType, TeamID: cancel.TeamID, Timestamp: time.Now(), Payload: payload})

	m.sendTrades(t, pipeline.MatchOutcome{RequestID: req.RequestID, CancelResult: &result})

	if result.Cancelled {
		m.cancelQuoteSibling(t, cancel.OrderID)
	}
}

// cancelOne finds orderID across every instrument's book and cancels it
// there, distinguishing "never existed" from "already reached a terminal
// state" via OrderStore -- the book purges an order's byID entry the
// moment it terminates, so only OrderStore still knows which is which
// (spec §8 invariant 6: a second cancel must report already_terminal, not
// not_found).
func (m *Matcher) cancelOne(orderID, teamID string) pipeline.CancelResult {
	var b *book.OrderBook
	var ok bool
	for _, candidate := range m.books {
		if _, found := candidate.Order(orderID); found {
			b = candidate
			ok = true
			break
		}
	}

	if !ok {
		reason := common.RejectNotFound
		if terminal, known := m.orders.IsTerminal(orderID); known && terminal {
			reason = common.RejectAlreadyTerminal
		}
		return pipeline.CancelResult{OrderID: orderID, Cancelled: false, Reason: string(reason)}
	}

	if err := b.Cancel(orderID, teamID); err != nil {
		reason := common.RejectNotFound
		if err == book.ErrNotOwner {
			reason = common.RejectNotOwner
		}
		return pipeline.CancelResult{OrderID: orderID, Cancelled: false, Reason: string(reason)}
	}
	return pipeline.CancelResult{OrderID: orderID, Cancelled: true}
}

// cancelQuoteSibling cancels the other leg of a two-sided quote once one
// leg is cancelled, so a quote's lifecycle is genuinely shared (spec.md §9:
// quote orders are "an atomic two-sided limit pair with a shared
// lifecycle") instead of leaving a naked single-sided order resting behind.
// A no-op for plain limit/market orders, whose QuoteID is always empty.
func (m *Matcher) cancelQuoteSibling(t *tomb.Tomb, orderID string) {
	order, ok := m.orders.Get(orderID)
	if !ok || order.QuoteID == "" {
		return
	}
	sibling, ok := m.orders.SiblingQuoteLeg(order.QuoteID, orderID)
	if !ok {
		return
	}

	result := m.cancelOne(sibling.OrderID, sibling.TeamID)
	if !result.Cancelled {
		return
	}
	m.sendFan(t, pipeline.FanMessage{
		Type: pipeline.MsgCancelAck, TeamID: sibling.TeamID, Timestamp: time.Now(),
		Payload: pipeline.CancelAckPayload{OrderID: sibling.OrderID},
	})
	m.sendTrades(t, pipeline.MatchOutcome{CancelResult: &result})
}

var two = decimal.NewFromInt(2)

func (m *Matcher) updateMid(b *book.OrderBook) {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	switch {
	case bidOk && askOk:
		m.mids.Update(b.Symbol, bid.Add(ask).Div(two))
	case bidOk:
		m.mids.Update(b.Symbol, bid)
	case askOk:
		m.mids.Update(b.Symbol, ask)
	}
}

func (m *Matcher) sendTrades(t *tomb.Tomb, outcome pipeline.MatchOutcome) {
	select {
	case m.trades <- outcome:
	case <-t.Dying():
	}
}

func (m *Matcher) sendFan(t *tomb.Tomb, msg pipeline.FanMessage) {
	select {
	case m.fanOut <- msg:
	case <-t.Dying():
	}
}

func (m *Matcher) nextTradeID() string {
	return uuid.New().String()
}
