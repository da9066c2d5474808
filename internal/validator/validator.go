// Package validator implements the constraint-based validation stage
// (spec §4.2). It is the single writer of the rate-limit counters and the
// match queue (spec §5 serialization point i).
package validator

import (
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/constraint"
	"fenrir/internal/correlator"
	"fenrir/internal/pipeline"
)

// PhaseSource is the read side of the phase manager's single-writer cell.
type PhaseSource interface {
	Current() common.PhaseState
}

// Positions is the read side of the position tracker needed by
// position_limit / portfolio_limit constraints.
type Positions interface {
	Position(teamID, symbol string) int64
	PortfolioAbs(teamID string) int64
}

// RateWindow is the spec.md §9 open question, resolved in SPEC_FULL.md/
// DESIGN.md: a rolling (sliding) window, not a fixed window that resets on
// tick boundaries.
const RateWindow = time.Second

// Validator consumes the order queue and applies phase gating, then the
// role's constraint chain, before forwarding to the matcher.
type Validator struct {
	orderQueue  <-chan pipeline.IngressEvent
	matchQueue  chan<- pipeline.MatchRequest
	fanOut      chan<- pipeline.FanMessage
	phase       PhaseSource
	constraints map[common.Role]constraint.Chain
	instruments *common.InstrumentRegistry
	positions   Positions
	mids        *common.MidCache
	orderStore  *common.OrderStore
	table       *correlator.Table
	teamRole    func(teamID string) (common.Role, bool)

	// rate is the single-writer rolling window of recent submission
	// timestamps per team (spec §5 serialization point i).
	rate map[string][]time.Time

	// preOpenBuffer holds orders accepted while execution_style is batch,
	// released to the matcher when the opening auction fires (spec §4.2,
	// §4.3).
	preOpenBuffer []pipeline.MatchRequest
	lastPhase     common.PhaseName
}

func New(
	orderQueue <-chan pipeline.IngressEvent,
	matchQueue chan<- pipeline.MatchRequest,
	fanOut chan<- pipeline.FanMessage,
	phase PhaseSource,
	constraints map[common.Role]constraint.Chain,
	instruments *common.InstrumentRegistry,
	positions Positions,
	mids *common.MidCache,
	orderStore *common.OrderStore,
	table *correlator.Table,
	teamRole func(teamID string) (common.Role, bool),
) *Validator {
	return &Validator{
		orderQueue:  orderQueue,
		matchQueue:  matchQueue,
		fanOut:      fanOut,
		phase:       phase,
		constraints: constraints,
		instruments: instruments,
		positions:   positions,
		mids:        mids,
		orderStore:  orderStore,
		table:       table,
		teamRole:    teamRole,
		rate:        make(map[string][]time.Time),
		lastPhase:   phase.Current().Name,
	}
}

func (v *Validator) Run(t *tomb.Tomb) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			v.checkAuctionFire(t)
		case evt := <-v.orderQueue:
			v.checkAuctionFire(t)
			if evt.Order != nil {
				v.handleOrder(t, evt.Order.RequestID, evt.Order.Order)
			} else if evt.Cancel != nil {
				v.handleCancel(t, *evt.Cancel)
			}
		}
	}
}

// checkAuctionFire flushes the pre-open buffer the moment the phase leaves
// PreOpen (i.e. the opening auction fires), forwarding buffered orders to
// the matcher in their original arrival order (spec §4.2, §4.3, invariant
// on ordering in spec §5).
func (v *Validator) checkAuctionFire(t *tomb.Tomb) {
	current := v.phase.Current()
	if current.Name == v.lastPhase {
		return
	}
	transitioned := v.lastPhase == common.PreOpen && current.Name != common.PreOpen
	v.lastPhase = current.Name
	if !transitioned || len(v.preOpenBuffer) == 0 {
		return
	}

	buffered := v.preOpenBuffer
	v.preOpenBuffer = nil
	for _, req := range buffered {
		v.forward(t, req)
	}
}

func (v *Validator) handleOrder(t *tomb.Tomb, requestID string, order common.Order) {
	phase := v.phase.Current()
	role, _ := v.teamRole(order.TeamID)

	if !phase.SubmitAllowed {
		v.reject(t, requestID, order, common.RejectMarketClosed, "market is closed to new submissions")
		return
	}

	if _, ok := v.instruments.Lookup(order.InstrumentSymbol); !ok {
		v.reject(t, requestID, order, common.RejectInvalidInstrument, "unknown instrument "+order.InstrumentSymbol)
		return
	}

	if order.OrderType != common.MarketOrder && order.Price != nil && !common.OnTick(*order.Price) {
		v.reject(t, requestID, order, common.RejectInvalidTick, "price is not on the $0.01 tick grid")
		return
	}

	ctx := constraint.Context{
		Position:           v.positions.Position,
		PortfolioAbs:       v.positions.PortfolioAbs,
		OrderCountInWindow: v.countInWindow,
		Mid:                v.mids.Mid,
		Instrument:         v.instruments.Lookup,
		Phase:              phase,
	}
	if chain, ok := v.constraints[role]; ok {
		if result := chain.Check(&order, ctx); !result.OK {
			v.reject(t, requestID, order, result.Code, result.Message)
			return
		}
	}

	v.recordSubmission(order.TeamID)

	order.Status = common.New
	order.RemainingQuantity = order.Quantity
	v.orderStore.Put(&order)

	v.sendFan(t, pipeline.FanMessage{
		Type:      pipeline.MsgOrderAck,
		TeamID:    order.TeamID,
		Timestamp: time.Now(),
		Payload: pipeline.OrderAckPayload{
			OrderID:       order.OrderID,
			ClientOrderID: order.ClientOrderID,
			Status:        order.Status.String(),
		},
	})

	req := pipeline.MatchRequest{RequestID: requestID, Order: &order}
	v.route(t, phase, req)
}

// route either forwards immediately (continuous execution) or buffers the
// order until the opening auction fires (batch execution, spec §4.2).
func (v *Validator) route(t *tomb.Tomb, phase common.PhaseState, req pipeline.MatchRequest) {
	if phase.ExecutionStyle == common.ExecutionBatch && phase.Name == common.PreOpen {
		v.preOpenBuffer = append(v.preOpenBuffer, req)
		return
	}
	v.forward(t, req)
}

func (v *Validator) forward(t *tomb.Tomb, req pipeline.MatchRequest) {
	select {
	case v.matchQueue <- req:
	case <-t.Dying():
	}
}

func (v *Validator) handleCancel(t *tomb.Tomb, cancel pipeline.IngressCancel) {
	phase := v.phase.Current()
	if !phase.CancelAllowed {
		v.table.Resolve(cancel.RequestID, pipeline.CancelResult{
			OrderID: cancel.OrderID, Cancelled: false, Reason: "market is closed to cancellations",
		}, nil)
		v.sendFan(t, pipeline.FanMessage{
			Type:      pipeline.MsgCancelReject,
			TeamID:    cancel.TeamID,
			Timestamp: time.Now(),
			Payload:   pipeline.CancelRejectPayload{OrderID: cancel.OrderID, Reason: "market is closed to cancellations"},
		})
		return
	}
	v.forward(t, pipeline.MatchRequest{RequestID: cancel.RequestID, Cancel: &cancel})
}

func (v *Validator) reject(t *tomb.Tomb, requestID string, order common.Order, code common.RejectCode, message string) {
	order.Status = common.Rejected
	v.orderStore.Put(&order)

	v.table.Resolve(requestID, pipeline.OrderRejectPayload{
		ClientOrderID: order.ClientOrderID,
		RejectCode:    string(code),
		RejectReason:  message,
	}, nil)

	v.sendFan(t, pipeline.FanMessage{
		Type:      pipeline.MsgOrderReject,
		TeamID:    order.TeamID,
		Timestamp: time.Now(),
		Payload: pipeline.OrderRejectPayload{
			ClientOrderID: order.ClientOrderID,
			RejectCode:    string(code),
			RejectReason:  message,
		},
	})
	log.Debug().Str("teamID", order.TeamID).Str("code", string(code)).Msg("order rejected")
}

func (v *Validator) sendFan(t *tomb.Tomb, msg pipeline.FanMessage) {
	select {
	case v.fanOut <- msg:
	case <-t.Dying():
	}
}

// recordSubmission appends the current time to a team's rolling window,
// evicting entries older than RateWindow.
func (v *Validator) recordSubmission(teamID string) {
	now := time.Now()
	v.rate[teamID] = append(v.prune(teamID, now), now)
}

func (v *Validator) countInWindow(teamID string) int {
	return len(v.prune(teamID, time.Now()))
}

func (v *Validator) prune(teamID string, now time.Time) []time.Time {
	times := v.rate[teamID]
	cutoff := now.Add(-RateWindow)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		times = times[i:]
	}
	v.rate[teamID] = times
	return times
}
