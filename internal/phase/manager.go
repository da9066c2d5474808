package phase

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/pipeline"
)

// DefaultCheckInterval is how often the manager polls the wall clock absent
// configuration (spec §4.8: default 100ms).
const DefaultCheckInterval = 100 * time.Millisecond

// Manager owns the schedule and the single-writer phase cell read by the
// validator and matcher (spec §3, §4.8, §9).
type Manager struct {
	schedule      Schedule
	checkInterval time.Duration
	cell          atomic.Pointer[common.PhaseState]
	fanOut        chan<- pipeline.FanMessage
	now           func() time.Time
}

func New(schedule Schedule, checkInterval time.Duration, fanOut chan<- pipeline.FanMessage) *Manager {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	m := &Manager{
		schedule:      schedule,
		checkInterval: checkInterval,
		fanOut:        fanOut,
		now:           time.Now,
	}
	initial := schedule.Resolve(m.now())
	m.cell.Store(&initial)
	return m
}

// Current returns the current phase state. Safe for concurrent readers
// (validator, matcher) without locking -- it is an atomic pointer swap.
func (m *Manager) Current() common.PhaseState {
	return *m.cell.Load()
}

// Run polls the wall clock at checkInterval and, on a phase transition,
// swaps the cell and emits a phase_change broadcast (spec §4.8).
func (m *Manager) Run(t *tomb.Tomb) error {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			next := m.schedule.Resolve(m.now())
			current := m.Current()
			if next.Name == current.Name {
				continue
			}
			m.cell.Store(&next)
			log.Info().
				Str("from", current.Name.String()).
				Str("to", next.Name.String()).
				Msg("phase transition")

			msg := pipeline.FanMessage{
				Type:      pipeline.MsgPhaseChange,
				TeamID:    pipeline.Broadcast,
				Timestamp: m.now(),
				Payload:   pipeline.PhaseChangeFrom(next),
			}
			select {
			case m.fanOut <- msg:
			case <-t.Dying():
				return nil
			}
		}
	}
}
