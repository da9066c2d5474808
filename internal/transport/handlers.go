package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/correlator"
	"fenrir/internal/fanout"
	"fenrir/internal/pipeline"
)

// TeamAuth is the narrow slice of the team registry the transport layer
// needs (spec §6 auth, POST /game/teams).
type TeamAuth interface {
	Authenticate(apiKey string) (common.Team, bool)
	Register(teamName, role string) (common.Team, error)
}

// PositionReader is the read side of the position tracker GET /positions
// needs.
type PositionReader interface {
	Snapshot(teamID string) map[string]int64
}

// OrderReader answers "do we know this order id at all", used to tell a
// genuinely-unknown order id (404) from a known-but-unactionable one (200
// with a reason, spec §7).
type OrderReader interface {
	Get(orderID string) (*common.Order, bool)
}

// BookReader is the matcher's read-only snapshot surface (spec §4.1
// "best_bid(), best_ask(), depth(n)") for GET /exchange/book/{symbol}.
type BookReader interface {
	Book(symbol string) (*book.OrderBook, bool)
}

// Handlers implements every REST/WS endpoint of spec §6. It holds no
// pipeline state itself -- every request either reads a shared snapshot
// surface (positions, order store) or round-trips through the correlator
// table, the same "producer signals, consumer wakes" contract spec §4.7
// and §9 call for.
type Handlers struct {
	auth      TeamAuth
	table     *correlator.Table
	queues    *pipeline.Queues
	positions PositionReader
	orders    OrderReader
	books     BookReader
	router    *fanout.Router

	requestTimeout time.Duration
	liveness       func() map[string]bool
}

func NewHandlers(
	auth TeamAuth,
	table *correlator.Table,
	queues *pipeline.Queues,
	positions PositionReader,
	orders OrderReader,
	books BookReader,
	router *fanout.Router,
	requestTimeout time.Duration,
	liveness func() map[string]bool,
) *Handlers {
	if requestTimeout <= 0 {
		requestTimeout = correlator.DefaultTimeout
	}
	return &Handlers{
		auth:           auth,
		table:          table,
		queues:         queues,
		positions:      positions,
		orders:         orders,
		books:          books,
		router:         router,
		requestTimeout: requestTimeout,
		liveness:       liveness,
	}
}

func (h *Handlers) authenticate(r *http.Request) (common.Team, bool) {
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, prefix) {
		return common.Team{}, false
	}
	return h.auth.Authenticate(strings.TrimPrefix(authz, prefix))
}

type createTeamRequest struct {
	TeamName string `json:"team_name"`
	Role     string `json:"role"`
}

// CreateTeam handles POST /game/teams.
func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	team, err := h.auth.Register(req.TeamName, req.Role)
	if err != nil {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"team_id": team.TeamID,
		"api_key": team.APIKey,
	})
}

type submitOrderRequest struct {
	Instrument    string   `json:"instrument"`
	Side          string   `json:"side"`
	Quantity      uint64   `json:"quantity"`
	Price         *float64 `json:"price,omitempty"`
	ClientOrderID string   `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	OrderID      string               `json:"order_id"`
	Status       string               `json:"status"`
	Fills        []pipeline.FillResult `json:"fills,omitempty"`
	RejectCode   string               `json:"reject_code,omitempty"`
	RejectReason string               `json:"reject_reason,omitempty"`
}

// SubmitOrder handles POST /exchange/orders: build the order, enqueue it,
// and block (spec §4.7 "producer signals, consumer wakes") until the
// validator or matcher reaches a terminal outcome or the pending-request
// deadline elapses.
func (h *Handlers) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	team, ok := h.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Instrument == "" {
		http.Error(w, "instrument is required", http.StatusBadRequest)
		return
	}
	if req.Quantity == 0 {
		http.Error(w, "quantity must be positive", http.StatusBadRequest)
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		http.Error(w, `side must be "buy" or "sell"`, http.StatusBadRequest)
		return
	}

	orderType := common.LimitOrder
	var price *decimal.Decimal
	if req.Price != nil {
		p := decimal.NewFromFloat(*req.Price)
		price = &p
	} else {
		orderType = common.MarketOrder
	}

	order := common.Order{
		OrderID:          uuid.New().String(),
		ClientOrderID:    req.ClientOrderID,
		TeamID:           team.TeamID,
		InstrumentSymbol: req.Instrument,
		Side:             side,
		OrderType:        orderType,
		Quantity:         req.Quantity,
		Price:            price,
		SubmittedAt:      time.Now(),
	}

	outcome, err := h.submitAndWait(order)
	if err != nil {
		writeTimeoutOrOverload(w, err)
		return
	}

	resp := orderResponse{OrderID: order.OrderID}
	switch v := outcome.Value.(type) {
	case pipeline.OrderAckPayload:
		resp.Status = v.Status
		resp.Fills = v.Fills
	case pipeline.OrderRejectPayload:
		resp.Status = common.Rejected.String()
		resp.RejectCode = v.RejectCode
		resp.RejectReason = v.RejectReason
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitQuoteRequest struct {
	Instrument string  `json:"instrument"`
	BidPrice   float64 `json:"bid_price"`
	AskPrice   float64 `json:"ask_price"`
	Quantity   uint64  `json:"quantity"`
}

type quoteResponse struct {
	QuoteID      string `json:"quote_id"`
	BidOrderID   string `json:"bid_order_id"`
	AskOrderID   string `json:"ask_order_id"`
	Status       string `json:"status"`
	RejectCode   string `json:"reject_code,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// SubmitQuote handles POST /exchange/quotes: a market maker's two-sided
// limit pair submitted as one atomic unit (spec.md §9 "quote ... an atomic
// two-sided limit pair with a shared lifecycle"). Both legs carry the same
// QuoteID; cancelling either leg later cancels the other (matcher's
// cancelQuoteSibling). If the bid leg is rejected the ask leg is never
// submitted; if the ask leg is rejected after the bid leg was accepted, the
// bid leg is cancelled so no naked single-sided quote is left resting.
func (h *Handlers) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	team, ok := h.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req submitQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Instrument == "" || req.Quantity == 0 {
		http.Error(w, "instrument and a positive quantity are required", http.StatusBadRequest)
		return
	}
	if req.BidPrice <= 0 || req.AskPrice <= 0 || req.AskPrice <= req.BidPrice {
		http.Error(w, "ask_price must be greater than bid_price", http.StatusBadRequest)
		return
	}

	quoteID := uuid.New().String()
	bidPrice := decimal.NewFromFloat(req.BidPrice)
	askPrice := decimal.NewFromFloat(req.AskPrice)
	now := time.Now()

	bidOrder := common.Order{
		OrderID: uuid.New().String(), QuoteID: quoteID, TeamID: team.TeamID,
		InstrumentSymbol: req.Instrument, Side: common.Buy, OrderType: common.QuoteOrder,
		Quantity: req.Quantity, Price: &bidPrice, SubmittedAt: now,
	}
	askOrder := common.Order{
		OrderID: uuid.New().String(), QuoteID: quoteID, TeamID: team.TeamID,
		InstrumentSymbol: req.Instrument, Side: common.Sell, OrderType: common.QuoteOrder,
		Quantity: req.Quantity, Price: &askPrice, SubmittedAt: now,
	}

	resp := quoteResponse{QuoteID: quoteID, BidOrderID: bidOrder.OrderID, AskOrderID: askOrder.OrderID}

	bidOutcome, err := h.submitAndWait(bidOrder)
	if err != nil {
		writeTimeoutOrOverload(w, err)
		return
	}
	if reject, rejected := bidOutcome.Value.(pipeline.OrderRejectPayload); rejected {
		resp.Status = common.Rejected.String()
		resp.RejectCode = reject.RejectCode
		resp.RejectReason = reject.RejectReason
		writeJSON(w, http.StatusOK, resp)
		return
	}

	askOutcome, err := h.submitAndWait(askOrder)
	if err != nil {
		h.cancelLegBestEffort(bidOrder.OrderID, team.TeamID)
		writeTimeoutOrOverload(w, err)
		return
	}
	if reject, rejected := askOutcome.Value.(pipeline.OrderRejectPayload); rejected {
		h.cancelLegBestEffort(bidOrder.OrderID, team.TeamID)
		resp.Status = common.Rejected.String()
		resp.RejectCode = reject.RejectCode
		resp.RejectReason = reject.RejectReason
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Status = "accepted"
	writeJSON(w, http.StatusOK, resp)
}

// submitAndWait registers a pending request, enqueues order, and blocks for
// the terminal outcome -- the same round-trip SubmitOrder and each quote
// leg use (spec §4.7 "producer signals, consumer wakes").
func (h *Handlers) submitAndWait(order common.Order) (correlator.Outcome, error) {
	requestID := uuid.New().String()
	if err := h.table.Register(requestID, h.requestTimeout); err != nil {
		return correlator.Outcome{}, err
	}
	evt := pipeline.IngressEvent{Order: &pipeline.IngressOrder{RequestID: requestID, Order: order}}
	if !h.queues.TrySendOrder(evt) {
		return correlator.Outcome{}, correlator.ErrOverload
	}
	return h.table.Wait(requestID)
}

// cancelLegBestEffort submits a cancellation for orderID without blocking
// the HTTP response on its outcome -- used to unwind a quote's first leg
// once the second leg could not be accepted.
func (h *Handlers) cancelLegBestEffort(orderID, teamID string) {
	requestID := uuid.New().String()
	if err := h.table.Register(requestID, h.requestTimeout); err != nil {
		return
	}
	cancel := pipeline.IngressCancel{RequestID: requestID, OrderID: orderID, TeamID: teamID}
	if !h.queues.TrySendOrder(pipeline.IngressEvent{Cancel: &cancel}) {
		return
	}
	go h.table.Wait(requestID)
}

func writeTimeoutOrOverload(w http.ResponseWriter, err error) {
	if err == correlator.ErrOverload {
		http.Error(w, "overload", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "timeout"})
}

// CancelOrder handles DELETE /exchange/orders/{order_id}. An order id the
// store has never seen is a 404; an order id that exists but cannot be
// cancelled right now (foreign team, already terminal, market closed) is a
// 200 with cancelled:false and a reason (spec §6, §7).
func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	team, ok := h.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID := r.PathValue("order_id")
	if orderID == "" {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}
	if _, known := h.orders.Get(orderID); !known {
		http.Error(w, "unknown order_id", http.StatusNotFound)
		return
	}

	requestID := uuid.New().String()
	if err := h.table.Register(requestID, h.requestTimeout); err != nil {
		http.Error(w, "overload", http.StatusServiceUnavailable)
		return
	}

	cancel := pipeline.IngressCancel{RequestID: requestID, OrderID: orderID, TeamID: team.TeamID}
	if !h.queues.TrySendOrder(pipeline.IngressEvent{Cancel: &cancel}) {
		http.Error(w, "overload", http.StatusServiceUnavailable)
		return
	}

	outcome, err := h.table.Wait(requestID)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"request_id": requestID, "error": "timeout"})
		return
	}

	result, ok := outcome.Value.(pipeline.CancelResult)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": result.Cancelled,
		"reason":    result.Reason,
	})
}

// Positions handles GET /positions.
func (h *Handlers) Positions(w http.ResponseWriter, r *http.Request) {
	team, ok := h.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, h.positions.Snapshot(team.TeamID))
}

const defaultDepthLevels = 10

// BookSnapshot handles GET /exchange/book/{symbol}: the top n price levels
// on each side (spec §4.1 "depth(n) -> snapshot of top n levels").
func (h *Handlers) BookSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	b, ok := h.books.Book(symbol)
	if !ok {
		http.Error(w, "unknown instrument", http.StatusNotFound)
		return
	}

	n := defaultDepthLevels
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	bids, asks := b.Depth(n)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"bids":   bids,
		"asks":   asks,
	})
}

// Health handles GET /: liveness + per-worker thread status (spec §6, §7
// "surface on health endpoint as thread_down").
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	threads := map[string]bool{}
	if h.liveness != nil {
		threads = h.liveness()
	}
	status := "ok"
	for _, alive := range threads {
		if !alive {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"threads": threads,
	})
}

func parseSide(s string) (common.Side, bool) {
	switch s {
	case "buy":
		return common.Buy, true
	case "sell":
		return common.Sell, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
