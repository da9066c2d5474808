// Package publisher implements the publisher stage (spec §4.4): fee
// calculation and execution-report construction for every trade the
// matcher produces.
package publisher

import (
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/pipeline"
)

// TeamRoles resolves a team's role for fee-schedule lookup.
type TeamRoles interface {
	RoleOf(teamID string) (common.Role, bool)
}

// Publisher drains the trade queue, applying the role fee schedule per
// spec §4.4/§6. The pending-request table is resolved upstream, at the
// matcher's first ack for an order (spec §4.7); the publisher only builds
// execution reports and forwards position updates.
type Publisher struct {
	trades <-chan pipeline.MatchOutcome
	posOut chan<- pipeline.PositionUpdate
	fanOut chan<- pipeline.FanMessage
	fees   map[common.Role]common.FeeSchedule
	roles  TeamRoles
	orders *common.OrderStore
}

func New(
	trades <-chan pipeline.MatchOutcome,
	posOut chan<- pipeline.PositionUpdate,
	fanOut chan<- pipeline.FanMessage,
	fees map[common.Role]common.FeeSchedule,
	roles TeamRoles,
	orders *common.OrderStore,
) *Publisher {
	return &Publisher{
		trades: trades,
		posOut: posOut,
		fanOut: fanOut,
		fees:   fees,
		roles:  roles,
		orders: orders,
	}
}

// Run drains the trade queue. For cancel outcomes (Trades empty, no order
// fills) there is nothing to publish; for order outcomes it emits one
// execution report per side per trade, plus a position update per trade.
func (p *Publisher) Run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case outcome := <-p.trades:
			p.handle(t, outcome)
		}
	}
}

func (p *Publisher) handle(t *tomb.Tomb, outcome pipeline.MatchOutcome) {
	if outcome.CancelResult != nil {
		return
	}

	for _, trade := range outcome.Trades {
		p.send(t, p.posOut, pipeline.PositionUpdate{Trade: trade})

		buyerReport := p.executionReport(trade, trade.BuyerOrderID, trade.BuyerTeamID, common.Buy)
		sellerReport := p.executionReport(trade, trade.SellerOrderID, trade.SellerTeamID, common.Sell)

		p.sendFan(t, pipeline.FanMessage{Type: pipeline.MsgExecutionReport, TeamID: trade.BuyerTeamID, Timestamp: trade.Timestamp, Payload: buyerReport})
		p.sendFan(t, pipeline.FanMessage{Type: pipeline.MsgExecutionReport, TeamID: trade.SellerTeamID, Timestamp: trade.Timestamp, Payload: sellerReport})
	}
}

func (p *Publisher) executionReport(trade common.Trade, orderID, teamID string, side common.Side) pipeline.ExecutionReportPayload {
	role, _ := p.roles.RoleOf(teamID)
	schedule := p.fees[role]

	liquidity := pipeline.LiquidityMaker
	rate := schedule.MakerRebate
	if side == trade.AggressorSide {
		liquidity = pipeline.LiquidityTaker
		rate = schedule.TakerFee
	}
	fee := rate.Mul(decimal.NewFromInt(int64(trade.Quantity)))

	counterpartyID := trade.SellerTeamID
	if side == common.Sell {
		counterpartyID = trade.BuyerTeamID
	}

	report := pipeline.ExecutionReportPayload{
		OrderID:      orderID,
		Side:         side.String(),
		Quantity:     trade.Quantity,
		Price:        trade.Price,
		Liquidity:    liquidity,
		Fee:          fee,
		TradeID:      trade.TradeID,
		Counterparty: counterpartyID,
		Timestamp:    trade.Timestamp,
	}
	if order, ok := p.orders.Get(orderID); ok {
		report.ClientOrderID = order.ClientOrderID
	}
	return report
}

func (p *Publisher) send(t *tomb.Tomb, ch chan<- pipeline.PositionUpdate, update pipeline.PositionUpdate) {
	select {
	case ch <- update:
	case <-t.Dying():
	}
}

func (p *Publisher) sendFan(t *tomb.Tomb, msg pipeline.FanMessage) {
	select {
	case p.fanOut <- msg:
	case <-t.Dying():
	}
}
