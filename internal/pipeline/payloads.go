package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// OrderAckPayload is the data of an order_ack message (spec §6) and also
// what the matcher writes into the pending-request table to resolve a
// synchronous POST /exchange/orders call (spec §4.7). Fills is populated
// only in the latter use -- the REST response's `fills[]` -- and left
// empty on the fan-out broadcast, since the WS order_ack envelope lists
// only order_id/client_order_id/status (spec §6).
type OrderAckPayload struct {
	OrderID       string       `json:"order_id"`
	ClientOrderID string       `json:"client_order_id"`
	Status        string       `json:"status"`
	Fills         []FillResult `json:"fills,omitempty"`
}

// FillResult is one trade's contribution to a REST order response.
type FillResult struct {
	TradeID  string          `json:"trade_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity"`
}

// OrderRejectPayload is the data of an order_reject message (spec §6, §7).
type OrderRejectPayload struct {
	ClientOrderID string `json:"client_order_id"`
	RejectCode    string `json:"reject_code"`
	RejectReason  string `json:"reject_reason"`
}

// Liquidity describes which side of a trade an execution report covers.
type Liquidity string

const (
	LiquidityMaker Liquidity = "maker"
	LiquidityTaker Liquidity = "taker"
)

// ExecutionReportPayload is the data of an execution_report message.
type ExecutionReportPayload struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Side          string          `json:"side"`
	Quantity      uint64          `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Liquidity     Liquidity       `json:"liquidity"`
	Fee           decimal.Decimal `json:"fee"`
	TradeID       string          `json:"trade_id"`
	Counterparty  string          `json:"counterparty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// CancelAckPayload / CancelRejectPayload are the data of cancel_ack /
// cancel_reject messages.
type CancelAckPayload struct {
	OrderID string `json:"order_id"`
}

type CancelRejectPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PositionSnapshotPayload is the data of a position_snapshot message.
type PositionSnapshotPayload struct {
	Positions map[string]int64 `json:"positions"`
}

// PhaseChangePayload is the data of a phase_change message.
type PhaseChangePayload struct {
	PhaseName      string `json:"phase_name"`
	SubmitAllowed  bool   `json:"submit_allowed"`
	CancelAllowed  bool   `json:"cancel_allowed"`
	MatchEnabled   bool   `json:"match_enabled"`
	ExecutionStyle string `json:"execution_style"`
}

func PhaseChangeFrom(p common.PhaseState) PhaseChangePayload {
	return PhaseChangePayload{
		PhaseName:      p.Name.String(),
		SubmitAllowed:  p.SubmitAllowed,
		CancelAllowed:  p.CancelAllowed,
		MatchEnabled:   p.MatchEnabled,
		ExecutionStyle: p.ExecutionStyle.String(),
	}
}
