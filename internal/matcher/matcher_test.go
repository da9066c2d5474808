package matcher_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/correlator"
	"fenrir/internal/matcher"
	"fenrir/internal/pipeline"
)

type fakePhase struct {
	state atomic.Value
}

func newFakePhase(s common.PhaseState) *fakePhase {
	f := &fakePhase{}
	f.state.Store(s)
	return f
}

func (f *fakePhase) Current() common.PhaseState {
	return f.state.Load().(common.PhaseState)
}

func (f *fakePhase) set(s common.PhaseState) {
	f.state.Store(s)
}

func continuousPhase() common.PhaseState {
	return common.PhaseState{
		Name: common.Continuous, SubmitAllowed: true, CancelAllowed: true,
		MatchEnabled: true, ExecutionStyle: common.ExecutionContinuous,
	}
}

func limitOrder(id, team string, side common.Side, price float64, qty uint64) *common.Order {
	p := decimal.NewFromFloat(price)
	return &common.Order{
		OrderID: id, TeamID: team, InstrumentSymbol: "TEST",
		Side: side, OrderType: common.LimitOrder, Quantity: qty,
		Price: &p, SubmittedAt: time.Now(),
	}
}

func newHarness(t *testing.T, phase common.PhaseState) (*matcher.Matcher, *fakePhase, chan pipeline.MatchRequest, chan pipeline.MatchOutcome, chan pipeline.FanMessage, *tomb.Tomb) {
	m, fp, queue, trades, fanOut, _, tb := newHarnessWithStore(t, phase)
	return m, fp, queue, trades, fanOut, tb
}

func newHarnessWithStore(t *testing.T, phase common.PhaseState) (*matcher.Matcher, *fakePhase, chan pipeline.MatchRequest, chan pipeline.MatchOutcome, chan pipeline.FanMessage, *common.OrderStore, *tomb.Tomb) {
	t.Helper()
	queue := make(chan pipeline.MatchRequest, 16)
	trades := make(chan pipeline.MatchOutcome, 16)
	fanOut := make(chan pipeline.FanMessage, 16)
	fp := newFakePhase(phase)
	table := correlator.NewTable(0)
	orders := common.NewOrderStore()
	m := matcher.New([]string{"TEST"}, queue, trades, fanOut, fp, common.NewMidCache(), table, orders)

	tb := &tomb.Tomb{}
	tb.Go(func() error { return m.Run(tb) })
	return m, fp, queue, trades, fanOut, orders, tb
}

func TestContinuousMatchProducesTrade(t *testing.T) {
	_, _, queue, trades, _, tb := newHarness(t, continuousPhase())
	defer tb.Kill(nil)

	queue <- pipeline.MatchRequest{RequestID: "r1", Order: limitOrder("o1", "T1", common.Buy, 100, 10)}
	queue <- pipeline.MatchRequest{RequestID: "r2", Order: limitOrder("o2", "T2", common.Sell, 100, 10)}

	// The resting buy reports its own outcome first, with no trades.
	select {
	case outcome := <-trades:
		assert.Equal(t, "r1", outcome.RequestID)
		assert.Empty(t, outcome.Trades)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the resting order's outcome")
	}

	select {
	case outcome := <-trades:
		require.Len(t, outcome.Trades, 1)
		assert.Equal(t, uint64(10), outcome.Trades[0].Quantity)
		assert.Equal(t, "r2", outcome.RequestID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trade outcome")
	}
}

func TestHoldBufferReleasesOnMatchEnabled(t *testing.T) {
	halted := common.PhaseState{Name: common.Closed, ExecutionStyle: common.ExecutionContinuous}
	_, fp, queue, trades, _, tb := newHarness(t, halted)
	defer tb.Kill(nil)

	queue <- pipeline.MatchRequest{RequestID: "r1", Order: limitOrder("o1", "T1", common.Buy, 50, 5)}
	queue <- pipeline.MatchRequest{RequestID: "r2", Order: limitOrder("o2", "T2", common.Sell, 50, 5)}

	select {
	case <-trades:
		t.Fatal("no trade should be produced while match_enabled is false")
	case <-time.After(50 * time.Millisecond):
	}

	fp.set(continuousPhase())

	// Released in arrival order: the buy rests first, then the sell crosses it.
	select {
	case outcome := <-trades:
		assert.Equal(t, "r1", outcome.RequestID)
		assert.Empty(t, outcome.Trades)
	case <-time.After(time.Second):
		t.Fatal("held orders were not released after the phase transition")
	}

	select {
	case outcome := <-trades:
		require.Len(t, outcome.Trades, 1)
		assert.Equal(t, "r2", outcome.RequestID)
	case <-time.After(time.Second):
		t.Fatal("held orders were not released after the phase transition")
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	_, _, queue, trades, fanOut, tb := newHarness(t, continuousPhase())
	defer tb.Kill(nil)

	queue <- pipeline.MatchRequest{RequestID: "r1", Cancel: &pipeline.IngressCancel{RequestID: "r1", OrderID: "missing", TeamID: "T1"}}

	select {
	case outcome := <-trades:
		require.NotNil(t, outcome.CancelResult)
		assert.False(t, outcome.CancelResult.Cancelled)
		assert.Equal(t, string(common.RejectNotFound), outcome.CancelResult.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancel outcome")
	}

	select {
	case msg := <-fanOut:
		assert.Equal(t, pipeline.MsgCancelReject, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancel_reject fan-out")
	}
}

// TestCancelTwiceReturnsAlreadyTerminal covers the idempotent-cancel
// invariant: cancelling the same order_id twice must yield exactly one
// cancel_ack and a second cancel_reject{already_terminal}, not not_found --
// the book purges the order's byID entry the instant the first cancel
// succeeds, so the second lookup can only be answered correctly via the
// order store.
func TestCancelTwiceReturnsAlreadyTerminal(t *testing.T) {
	_, _, queue, trades, fanOut, orders, tb := newHarnessWithStore(t, continuousPhase())
	defer tb.Kill(nil)

	order := limitOrder("o1", "T1", common.Buy, 100, 10)
	orders.Put(order)
	queue <- pipeline.MatchRequest{RequestID: "r1", Order: order}

	select {
	case outcome := <-trades:
		require.Empty(t, outcome.Trades)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resting order outcome")
	}

	queue <- pipeline.MatchRequest{RequestID: "r2", Cancel: &pipeline.IngressCancel{RequestID: "r2", OrderID: "o1", TeamID: "T1"}}

	select {
	case outcome := <-trades:
		require.NotNil(t, outcome.CancelResult)
		assert.True(t, outcome.CancelResult.Cancelled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first cancel outcome")
	}
	select {
	case msg := <-fanOut:
		assert.Equal(t, pipeline.MsgCancelAck, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first cancel_ack fan-out")
	}

	queue <- pipeline.MatchRequest{RequestID: "r3", Cancel: &pipeline.IngressCancel{RequestID: "r3", OrderID: "o1", TeamID: "T1"}}

	select {
	case outcome := <-trades:
		require.NotNil(t, outcome.CancelResult)
		assert.False(t, outcome.CancelResult.Cancelled)
		assert.Equal(t, string(common.RejectAlreadyTerminal), outcome.CancelResult.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second cancel outcome")
	}
	select {
	case msg := <-fanOut:
		assert.Equal(t, pipeline.MsgCancelReject, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second cancel_reject fan-out")
	}
}

// TestCancelOneQuoteLegCancelsSibling covers the quote order's shared
// cancel lifecycle (spec.md §9): two legs tagged with the same QuoteID rest
// independently, but cancelling one leg must cancel the other too.
func TestCancelOneQuoteLegCancelsSibling(t *testing.T) {
	_, _, queue, trades, fanOut, orders, tb := newHarnessWithStore(t, continuousPhase())
	defer tb.Kill(nil)

	bidPrice := decimal.NewFromInt(99)
	askPrice := decimal.NewFromInt(101)
	bid := &common.Order{
		OrderID: "bid1", QuoteID: "q1", TeamID: "MM1", InstrumentSymbol: "TEST",
		Side: common.Buy, OrderType: common.QuoteOrder, Quantity: 10, Price: &bidPrice, SubmittedAt: time.Now(),
	}
	ask := &common.Order{
		OrderID: "ask1", QuoteID: "q1", TeamID: "MM1", InstrumentSymbol: "TEST",
		Side: common.Sell, OrderType: common.QuoteOrder, Quantity: 10, Price: &askPrice, SubmittedAt: time.Now(),
	}
	orders.Put(bid)
	orders.Put(ask)
	queue <- pipeline.MatchRequest{RequestID: "r1", Order: bid}
	queue <- pipeline.MatchRequest{RequestID: "r2", Order: ask}

	for i := 0; i < 2; i++ {
		select {
		case outcome := <-trades:
			require.Empty(t, outcome.Trades)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for quote leg to rest")
		}
	}

	queue <- pipeline.MatchRequest{RequestID: "r3", Cancel: &pipeline.IngressCancel{RequestID: "r3", OrderID: "bid1", TeamID: "MM1"}}

	seenCancel := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case outcome := <-trades:
			require.NotNil(t, outcome.CancelResult)
			assert.True(t, outcome.CancelResult.Cancelled)
			seenCancel[outcome.CancelResult.OrderID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for both quote legs to cancel")
		}
	}
	assert.True(t, seenCancel["bid1"])
	assert.True(t, seenCancel["ask1"])

	for i := 0; i < 2; i++ {
		select {
		case msg := <-fanOut:
			assert.Equal(t, pipeline.MsgCancelAck, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for cancel_ack fan-out for both legs")
		}
	}
}

func TestOpeningAuctionClearsAtMidpoint(t *testing.T) {
	auction := common.PhaseState{
		Name: common.OpeningAuction, SubmitAllowed: true,
		MatchEnabled: true, ExecutionStyle: common.ExecutionBatch,
	}
	_, fp, queue, trades, _, tb := newHarness(t, auction)
	defer tb.Kill(nil)

	queue <- pipeline.MatchRequest{RequestID: "r1", Order: limitOrder("o1", "T1", common.Buy, 100, 10)}
	queue <- pipeline.MatchRequest{RequestID: "r2", Order: limitOrder("o2", "T2", common.Sell, 98, 10)}
	time.Sleep(50 * time.Millisecond)

	fp.set(continuousPhase())

	select {
	case outcome := <-trades:
		require.Len(t, outcome.Trades, 1)
		assert.True(t, outcome.Trades[0].Price.Equal(decimal.NewFromInt(99)), "expected clearing price 99, got %s", outcome.Trades[0].Price)
		assert.Equal(t, uint64(10), outcome.Trades[0].Quantity)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auction clearing trade")
	}
}
