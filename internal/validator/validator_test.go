package validator_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/constraint"
	"fenrir/internal/correlator"
	"fenrir/internal/pipeline"
	"fenrir/internal/validator"
)

type fakePhase struct {
	state atomic.Value
}

func newFakePhase(s common.PhaseState) *fakePhase {
	f := &fakePhase{}
	f.state.Store(s)
	return f
}

func (f *fakePhase) Current() common.PhaseState { return f.state.Load().(common.PhaseState) }
func (f *fakePhase) set(s common.PhaseState)     { f.state.Store(s) }

type fakePositions struct{}

func (fakePositions) Position(string, string) int64    { return 0 }
func (fakePositions) PortfolioAbs(string) int64          { return 0 }

func continuousPhase() common.PhaseState {
	return common.PhaseState{Name: common.Continuous, SubmitAllowed: true, CancelAllowed: true, MatchEnabled: true, ExecutionStyle: common.ExecutionContinuous}
}

func preOpenPhase() common.PhaseState {
	return common.PhaseState{Name: common.PreOpen, SubmitAllowed: true, CancelAllowed: true, MatchEnabled: false, ExecutionStyle: common.ExecutionBatch}
}

func closedPhase() common.PhaseState {
	return common.PhaseState{Name: common.Closed, SubmitAllowed: false, CancelAllowed: false, MatchEnabled: false, ExecutionStyle: common.ExecutionNone}
}

type harness struct {
	v          *validator.Validator
	orderQueue chan pipeline.IngressEvent
	matchQueue chan pipeline.MatchRequest
	fanOut     chan pipeline.FanMessage
	phase      *fakePhase
	table      *correlator.Table
	instr      *common.InstrumentRegistry
	tb         *tomb.Tomb
}

func newHarness(t *testing.T, phase common.PhaseState, constraints map[common.Role]constraint.Chain) *harness {
	t.Helper()
	instr := common.NewInstrumentRegistry()
	instr.Register(common.Instrument{Symbol: "TEST"})

	orderQueue := make(chan pipeline.IngressEvent, 16)
	matchQueue := make(chan pipeline.MatchRequest, 16)
	fanOut := make(chan pipeline.FanMessage, 16)
	fp := newFakePhase(phase)
	table := correlator.NewTable(0)

	v := validator.New(
		orderQueue, matchQueue, fanOut, fp, constraints, instr,
		fakePositions{}, common.NewMidCache(), common.NewOrderStore(), table,
		func(string) (common.Role, bool) { return common.Retail, true },
	)

	tb := &tomb.Tomb{}
	tb.Go(func() error { return v.Run(tb) })
	t.Cleanup(func() { tb.Kill(nil); tb.Wait() })

	return &harness{v: v, orderQueue: orderQueue, matchQueue: matchQueue, fanOut: fanOut, phase: fp, table: table, instr: instr, tb: tb}
}

func testOrder(symbol string, qty uint64) common.Order {
	return common.Order{OrderID: "order-1", TeamID: "team-a", InstrumentSymbol: symbol, OrderType: common.MarketOrder, Quantity: qty, SubmittedAt: time.Now()}
}

func TestValidOrderForwardsToMatcher(t *testing.T) {
	h := newHarness(t, continuousPhase(), nil)
	require.NoError(t, h.table.Register("req-1", time.Second))
	h.orderQueue <- pipeline.IngressEvent{Order: &pipeline.IngressOrder{RequestID: "req-1", Order: testOrder("TEST", 10)}}

	select {
	case req := <-h.matchQueue:
		assert.Equal(t, "req-1", req.RequestID)
		require.NotNil(t, req.Order)
		assert.Equal(t, "order-1", req.Order.OrderID)
	case <-time.After(time.Second):
		t.Fatal("expected order to be forwarded to the matcher")
	}
}

func TestOrderRejectedWhenMarketClosed(t *testing.T) {
	h := newHarness(t, closedPhase(), nil)
	require.NoError(t, h.table.Register("req-1", time.Second))
	h.orderQueue <- pipeline.IngressEvent{Order: &pipeline.IngressOrder{RequestID: "req-1", Order: testOrder("TEST", 10)}}

	select {
	case msg := <-h.fanOut:
		require.Equal(t, pipeline.MsgOrderReject, msg.Type)
		payload := msg.Payload.(pipeline.OrderRejectPayload)
		assert.Equal(t, string(common.RejectMarketClosed), payload.RejectCode)
	case <-time.After(time.Second):
		t.Fatal("expected a market-closed rejection")
	}

	select {
	case <-h.matchQueue:
		t.Fatal("a rejected order must never reach the matcher")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrderRejectedForUnknownInstrument(t *testing.T) {
	h := newHarness(t, continuousPhase(), nil)
	require.NoError(t, h.table.Register("req-1", time.Second))
	h.orderQueue <- pipeline.IngressEvent{Order: &pipeline.IngressOrder{RequestID: "req-1", Order: testOrder("NOPE", 10)}}

	select {
	case msg := <-h.fanOut:
		payload := msg.Payload.(pipeline.OrderRejectPayload)
		assert.Equal(t, string(common.RejectInvalidInstrument), payload.RejectCode)
	case <-time.After(time.Second):
		t.Fatal("expected an invalid-instrument rejection")
	}
}

func TestOrderRejectedForOffTickPrice(t *testing.T) {
	h := newHarness(t, continuousPhase(), nil)
	require.NoError(t, h.table.Register("req-1", time.Second))
	price := decimal.NewFromFloat(10.005)
	order := testOrder("TEST", 10)
	order.OrderType = common.LimitOrder
	order.Price = &price
	h.orderQueue <- pipeline.IngressEvent{Order: &pipeline.IngressOrder{RequestID: "req-1", Order: order}}

	select {
	case msg := <-h.fanOut:
		payload := msg.Payload.(pipeline.OrderRejectPayload)
		assert.Equal(t, string(common.RejectInvalidTick), payload.RejectCode)
	case <-time.After(time.Second):
		t.Fatal("expected an invalid-tick rejection")
	}
}

func TestOrderRejectedByConstraintChain(t *testing.T) {
	constraints := map[common.Role]constraint.Chain{
		common.Retail: {constraint.InstrumentAllowed{Whitelist: map[string]bool{}, Code: "NO_INSTRUMENTS"}},
	}
	h := newHarness(t, continuousPhase(), constraints)
	require.NoError(t, h.table.Register("req-1", time.Second))
	h.orderQueue <- pipeline.IngressEvent{Order: &pipeline.IngressOrder{RequestID: "req-1", Order: testOrder("TEST", 10)}}

	select {
	case msg := <-h.fanOut:
		payload := msg.Payload.(pipeline.OrderRejectPayload)
		assert.Equal(t, "NO_INSTRUMENTS", payload.RejectCode)
	case <-time.After(time.Second):
		t.Fatal("expected the constraint chain's rejection")
	}
}

func TestOrdersBufferedInPreOpenFireOnAuctionTransition(t *testing.T) {
	h := newHarness(t, preOpenPhase(), nil)
	require.NoError(t, h.table.Register("req-1", time.Second))
	h.orderQueue <- pipeline.IngressEvent{Order: &pipeline.IngressOrder{RequestID: "req-1", Order: testOrder("TEST", 10)}}

	// Drain the order_ack broadcast the validator sends immediately on
	// acceptance, before checking the match queue stays empty.
	<-h.fanOut

	select {
	case <-h.matchQueue:
		t.Fatal("an order accepted during pre-open batch execution must not reach the matcher yet")
	case <-time.After(50 * time.Millisecond):
	}

	h.phase.set(common.PhaseState{Name: common.OpeningAuction, SubmitAllowed: false, CancelAllowed: false, MatchEnabled: true, ExecutionStyle: common.ExecutionBatch})

	select {
	case req := <-h.matchQueue:
		assert.Equal(t, "req-1", req.RequestID)
	case <-time.After(time.Second):
		t.Fatal("buffered order should be released once the opening auction fires")
	}
}

func TestCancelRejectedWhenCancellationsDisallowed(t *testing.T) {
	h := newHarness(t, closedPhase(), nil)
	require.NoError(t, h.table.Register("req-1", time.Second))
	h.orderQueue <- pipeline.IngressEvent{Cancel: &pipeline.IngressCancel{RequestID: "req-1", OrderID: "order-1", TeamID: "team-a"}}

	select {
	case msg := <-h.fanOut:
		assert.Equal(t, pipeline.MsgCancelReject, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a cancel_reject broadcast")
	}

	outcome, err := h.table.Wait("req-1")
	require.NoError(t, err)
	result := outcome.Value.(pipeline.CancelResult)
	assert.False(t, result.Cancelled)
}

func TestCancelForwardedWhenAllowed(t *testing.T) {
	h := newHarness(t, continuousPhase(), nil)
	require.NoError(t, h.table.Register("req-1", time.Second))
	h.orderQueue <- pipeline.IngressEvent{Cancel: &pipeline.IngressCancel{RequestID: "req-1", OrderID: "order-1", TeamID: "team-a"}}

	select {
	case req := <-h.matchQueue:
		require.NotNil(t, req.Cancel)
		assert.Equal(t, "order-1", req.Cancel.OrderID)
	case <-time.After(time.Second):
		t.Fatal("expected the cancellation to be forwarded to the matcher")
	}
}
