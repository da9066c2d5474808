// Package fanout implements the fan-out stage (spec §4.6): routes typed
// pipeline messages to each connected team's socket. At most one socket per
// team is kept; a new connection evicts the old one. Disconnected sockets
// are silently dropped -- messages are never queued for offline teams.
package fanout

import (
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/pipeline"
)

// Socket is the minimal write surface the fan-out stage needs. The
// transport layer's WebSocket connection wrapper implements it.
type Socket interface {
	// Send serializes and writes one message. An error means the
	// connection is considered dead and is evicted.
	Send(msg pipeline.FanMessage) error
	Close()
}

// Router owns the team -> socket map, the single writer of socket state
// (spec §5).
type Router struct {
	mu      sync.Mutex
	sockets map[string]Socket
	queue   <-chan pipeline.FanMessage
}

func New(queue <-chan pipeline.FanMessage) *Router {
	return &Router{
		sockets: make(map[string]Socket),
		queue:   queue,
	}
}

// Attach registers a team's socket, evicting any prior connection for that
// team (spec §4.6: "at most one socket per team; a new connection evicts
// the old").
func (r *Router) Attach(teamID string, sock Socket) {
	r.mu.Lock()
	old, existed := r.sockets[teamID]
	r.sockets[teamID] = sock
	r.mu.Unlock()

	if existed {
		old.Close()
	}
}

// Detach removes a team's socket if it is still the current one (guards
// against a stale detach racing a newer Attach).
func (r *Router) Detach(teamID string, sock Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sockets[teamID]; ok && current == sock {
		delete(r.sockets, teamID)
	}
}

func (r *Router) socketFor(teamID string) (Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sockets[teamID]
	return s, ok
}

func (r *Router) allTeams() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	teams := make([]string, 0, len(r.sockets))
	for id := range r.sockets {
		teams = append(teams, id)
	}
	return teams
}

// Run drains the fan-out queue and delivers each message (spec §4.6).
func (r *Router) Run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-r.queue:
			r.deliver(msg)
		}
	}
}

func (r *Router) deliver(msg pipeline.FanMessage) {
	if msg.TeamID == pipeline.Broadcast {
		for _, teamID := range r.allTeams() {
			r.deliverTo(teamID, msg)
		}
		return
	}
	r.deliverTo(msg.TeamID, msg)
}

func (r *Router) deliverTo(teamID string, msg pipeline.FanMessage) {
	sock, ok := r.socketFor(teamID)
	if !ok {
		return
	}
	if err := sock.Send(msg); err != nil {
		log.Debug().Str("teamID", teamID).Err(err).Msg("dropping disconnected socket")
		r.Detach(teamID, sock)
	}
}
