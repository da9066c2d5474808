package pipeline

// IngressEvent is what ingress (HTTP/WS handlers) put onto the order queue;
// exactly one of Order / Cancel is set.
type IngressEvent struct {
	Order  *IngressOrder
	Cancel *IngressCancel
}

// Default queue depths. Queues are bounded FIFO channels with backpressure:
// a full queue blocks the producer (spec §5); at the ingress edge a full
// OrderQueue is instead surfaced as HTTP 503 OVERLOAD via a non-blocking
// send so the accept loop itself never stalls.
const (
	DefaultOrderQueueDepth    = 1024
	DefaultMatchQueueDepth    = 1024
	DefaultTradeQueueDepth    = 1024
	DefaultPositionQueueDepth = 1024
	DefaultFanOutQueueDepth   = 4096
)

// Queues holds every bounded channel that links the pipeline stages
// together. It is the explicit, dependency-injected composition root
// called for in SPEC_FULL.md/spec.md §9, replacing the teacher's single
// global TCP task channel with one channel per stage boundary.
type Queues struct {
	OrderQueue    chan IngressEvent
	MatchQueue    chan MatchRequest
	TradeQueue    chan MatchOutcome
	PositionQueue chan PositionUpdate
	FanOutQueue   chan FanMessage
}

func NewQueues() *Queues {
	return &Queues{
		OrderQueue:    make(chan IngressEvent, DefaultOrderQueueDepth),
		MatchQueue:    make(chan MatchRequest, DefaultMatchQueueDepth),
		TradeQueue:    make(chan MatchOutcome, DefaultTradeQueueDepth),
		PositionQueue: make(chan PositionUpdate, DefaultPositionQueueDepth),
		FanOutQueue:   make(chan FanMessage, DefaultFanOutQueueDepth),
	}
}

// TrySendOrder attempts a non-blocking enqueue onto OrderQueue. It reports
// false if the queue is full, which ingress handlers surface as HTTP 503
// OVERLOAD without blocking the accept loop (spec §5).
func (q *Queues) TrySendOrder(evt IngressEvent) bool {
	select {
	case q.OrderQueue <- evt:
		return true
	default:
		return false
	}
}
