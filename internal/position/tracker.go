// Package position implements the position tracker stage (spec §4.5). It is
// the single writer of the positions map; readers (REST GET /positions) are
// concurrent, so access is guarded by a single mutex per spec §1/§5 rather
// than split into finer-grained locks -- "the contention profile does not
// justify it" (spec §9).
package position

import (
	"sync"

	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/pipeline"
)

// key identifies one (team, instrument) position cell.
type key struct {
	teamID string
	symbol string
}

// Tracker owns the positions map.
type Tracker struct {
	mu        sync.RWMutex
	positions map[key]int64

	queue  <-chan pipeline.PositionUpdate
	fanOut chan<- pipeline.FanMessage
}

func New(queue <-chan pipeline.PositionUpdate, fanOut chan<- pipeline.FanMessage) *Tracker {
	return &Tracker{
		positions: make(map[key]int64),
		queue:     queue,
		fanOut:    fanOut,
	}
}

// Position returns a team's current signed net position for a symbol.
func (tr *Tracker) Position(teamID, symbol string) int64 {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.positions[key{teamID, symbol}]
}

// PortfolioAbs returns sum(|position|) across all instruments for a team.
func (tr *Tracker) PortfolioAbs(teamID string) int64 {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	var total int64
	for k, v := range tr.positions {
		if k.teamID != teamID {
			continue
		}
		if v < 0 {
			total -= v
		} else {
			total += v
		}
	}
	return total
}

// Snapshot returns a copy of all positions held by a single team, keyed by
// instrument symbol (spec §6 GET /positions).
func (tr *Tracker) Snapshot(teamID string) map[string]int64 {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make(map[string]int64)
	for k, v := range tr.positions {
		if k.teamID == teamID {
			out[k.symbol] = v
		}
	}
	return out
}

// Run drains the position queue, applying each trade's delta atomically:
// buyer += quantity, seller -= quantity (spec §4.5), then broadcasts a
// position_snapshot to both counterparties.
func (tr *Tracker) Run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			tr.drain(t)
			return nil
		case update := <-tr.queue:
			tr.apply(t, update)
		}
	}
}

// drain applies any in-flight updates already queued before exiting, so
// trades already accepted by the matcher are never lost on shutdown (spec
// §5: "Position-tracker drains before exit so in-flight trades are
// applied").
func (tr *Tracker) drain(t *tomb.Tomb) {
	for {
		select {
		case update := <-tr.queue:
			tr.apply(t, update)
		default:
			return
		}
	}
}

func (tr *Tracker) apply(t *tomb.Tomb, update pipeline.PositionUpdate) {
	trade := update.Trade
	qty := int64(trade.Quantity)

	tr.mu.Lock()
	tr.positions[key{trade.BuyerTeamID, trade.InstrumentSymbol}] += qty
	tr.positions[key{trade.SellerTeamID, trade.InstrumentSymbol}] -= qty
	tr.mu.Unlock()

	tr.notify(t, trade.BuyerTeamID)
	tr.notify(t, trade.SellerTeamID)
}

// notify pushes a position_snapshot onto the fan-out queue, blocking the
// tracker under backpressure like any other inter-stage queue (spec §5),
// but giving way to shutdown so a full fan-out queue can't wedge teardown.
func (tr *Tracker) notify(t *tomb.Tomb, teamID string) {
	msg := pipeline.FanMessage{
		Type:   pipeline.MsgPositionSnapshot,
		TeamID: teamID,
		Payload: pipeline.PositionSnapshotPayload{
			Positions: tr.Snapshot(teamID),
		},
	}
	select {
	case tr.fanOut <- msg:
	case <-t.Dying():
	}
}
