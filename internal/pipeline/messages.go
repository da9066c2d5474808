// Package pipeline defines the messages and bounded queues that connect the
// six pipeline stages (validator, matcher, publisher, position tracker,
// fan-out, phase manager). The stages themselves are constructed and wired
// together in cmd/server, generalizing the teacher's internal/net.Server
// goroutine wiring (internal/net/server.go) from a single TCP accept loop
// into a full staged pipeline (spec §2, §9).
package pipeline

import (
	"time"

	"fenrir/internal/common"
)

// IngressOrder is what a transport handler enqueues for a new order
// submission. RequestID correlates the async pipeline back to the
// synchronous REST caller (spec §4.7).
type IngressOrder struct {
	RequestID string
	Order     common.Order
}

// IngressCancel is what a transport handler enqueues for a cancellation.
type IngressCancel struct {
	RequestID string
	OrderID   string
	TeamID    string
}

// MatchRequest is what the validator forwards to the matcher: either a
// freshly-accepted order or a cancellation, flowing through the same queue
// as distinct variants (spec §4.3). RequestID is the correlator key, set
// independently of Order.OrderID so a cancellation's own request can be
// resolved without disturbing the original order's pending record.
type MatchRequest struct {
	RequestID string
	Order     *common.Order // nil for cancellations
	Cancel    *IngressCancel
}

// MatchOutcome is what the matcher emits per processed request.
type MatchOutcome struct {
	RequestID string
	Order     *common.Order
	Trades    []common.Trade
	// CancelResult is non-nil only when this outcome answers a cancellation.
	CancelResult *CancelResult
}

type CancelResult struct {
	OrderID   string
	Cancelled bool
	Reason    string
}

// PositionUpdate is what the publisher forwards to the position tracker for
// a single trade (spec §4.5).
type PositionUpdate struct {
	Trade common.Trade
}

// FanMessageType enumerates the wire message types of spec §6.
type FanMessageType string

const (
	MsgOrderAck          FanMessageType = "order_ack"
	MsgOrderReject       FanMessageType = "order_reject"
	MsgExecutionReport   FanMessageType = "execution_report"
	MsgCancelAck         FanMessageType = "cancel_ack"
	MsgCancelReject      FanMessageType = "cancel_reject"
	MsgPositionSnapshot  FanMessageType = "position_snapshot"
	MsgPhaseChange       FanMessageType = "phase_change"
)

// Broadcast is the sentinel target team ID meaning "send to every connected
// socket" (used only by phase_change today).
const Broadcast = ""

// FanMessage is the generic envelope put onto the fan-out queue: a typed
// message addressed to one team (or broadcast) carrying an arbitrary
// payload that the transport layer serializes onto the wire (spec §4.6).
type FanMessage struct {
	Type      FanMessageType
	TeamID    string // empty means Broadcast
	Timestamp time.Time
	Payload   any
}
