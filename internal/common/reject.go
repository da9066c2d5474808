package common

// RejectCode is a stable machine-readable rejection reason, echoed both in
// the REST response body and the order_reject fan-out message (spec §7).
type RejectCode string

const (
	RejectMarketClosed       RejectCode = "MARKET_CLOSED"
	RejectInvalidInstrument  RejectCode = "INVALID_INSTRUMENT"
	RejectOverload           RejectCode = "OVERLOAD"
	RejectTimeout            RejectCode = "TIMEOUT"
	RejectInvalidTick        RejectCode = "INVALID_TICK_SIZE"
	RejectAlreadyTerminal    RejectCode = "ALREADY_TERMINAL"
	RejectNotFound           RejectCode = "NOT_FOUND"
	RejectNotOwner           RejectCode = "NOT_OWNER"
)
