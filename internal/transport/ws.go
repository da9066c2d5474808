package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"fenrir/internal/pipeline"
)

// Keepalive/backpressure tuning, carried over from the one complete pack
// repo that runs a gorilla/websocket Hub/Client (0xtitan6-polymarket-mm's
// internal/api/stream.go): a server-side ping on pingPeriod, a read
// deadline renewed by the matching pong, and a bounded per-connection send
// buffer so one slow team can't stall the fan-out router (spec §5 "slow
// sockets do not block other teams").
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

// inboundRateLimit polices how many frames a single connection may send us
// -- clients are expected to be read-only after the initial upgrade (spec
// §6 "WS /ws?api_key=..."), so any sustained inbound traffic is either a
// misbehaving client or abuse, not protocol use.
const inboundRateLimit = 5 // per second, burst 10

// envelope is the wire shape of every WS push (spec §6: "{type, timestamp,
// seq, data}. seq is a per-connection monotonic counter").
type envelope struct {
	Type      pipeline.FanMessageType `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Seq       uint64                  `json:"seq"`
	Data      any                     `json:"data"`
}

// client is one team's live WebSocket connection. It implements
// fanout.Socket so the fan-out router can address it directly.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	teamID string
	seq    uint64
	closed sync.Once
}

func newClient(conn *websocket.Conn, teamID string) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		teamID: teamID,
	}
}

// Send serializes msg into the envelope and queues it for the write pump.
// A full send buffer is treated as a dead connection (spec §5: slow
// sockets are dropped rather than allowed to back-pressure the pipeline).
func (c *client) Send(msg pipeline.FanMessage) error {
	seq := atomic.AddUint64(&c.seq, 1)
	data, err := json.Marshal(envelope{Type: msg.Type, Timestamp: msg.Timestamp, Seq: seq, Data: msg.Payload})
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// Close is idempotent and safe to call from both the fan-out router (on
// eviction) and the read pump (on disconnect).
func (c *client) Close() {
	c.closed.Do(func() { close(c.send) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards application messages -- the channel is one-way once
// authenticated (spec §5 "WebSocket reads do not time out; dead
// connections are detected by write failure") -- but still renews the read
// deadline on every pong and enforces inboundRateLimit against a client
// that floods frames instead of going quiet.
func (c *client) readPump(detach func(), limiter *rate.Limiter) {
	defer func() {
		detach()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Str("teamID", c.teamID).Err(err).Msg("websocket read error")
			}
			return
		}
		if !limiter.Allow() {
			log.Warn().Str("teamID", c.teamID).Msg("websocket client exceeded inbound rate limit, closing")
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket handles GET /ws?api_key=... (spec §6). Auth is a query
// parameter here rather than the Bearer header REST uses, since the
// upgrade handshake has no body and most browser WS clients cannot set
// arbitrary headers. An invalid key is rejected at the WS layer with close
// code 1008 (policy violation), per spec §6's error table -- the handshake
// itself always succeeds so the client gets a proper close frame instead of
// a bare HTTP error it may not surface.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	team, ok := h.auth.Authenticate(apiKey)
	if !ok {
		closeWithCode(conn, websocket.ClosePolicyViolation, "invalid api key")
		return
	}

	c := newClient(conn, team.TeamID)
	h.router.Attach(team.TeamID, c)

	limiter := rate.NewLimiter(rate.Limit(inboundRateLimit), inboundRateLimit*2)
	go c.writePump()
	go c.readPump(func() { h.router.Detach(team.TeamID, c) }, limiter)
}

// closeWithCode sends a proper WS close frame before dropping the
// connection, used for handshake-time rejections that happen after the
// upgrade has already completed.
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	conn.Close()
}
