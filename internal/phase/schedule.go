package phase

import (
	"time"

	"fenrir/internal/common"
)

// DaySchedule is one (start, end) time-of-day window on a given weekday
// that maps to a phase (spec §3, §6 "per-phase schedule (start/end time,
// weekdays)").
type DaySchedule struct {
	Weekday time.Weekday
	Start   time.Duration // offset since midnight
	End     time.Duration
	Phase   common.PhaseState
}

// Schedule is the ordered set of day windows loaded at startup. Windows are
// checked in order; the first match wins. If none match, the market is
// Closed.
type Schedule struct {
	Timezone *time.Location
	Windows  []DaySchedule
}

var closedState = common.PhaseState{
	Name:           common.Closed,
	SubmitAllowed:  false,
	CancelAllowed:  false,
	MatchEnabled:   false,
	ExecutionStyle: common.ExecutionNone,
}

// Resolve returns the phase state that applies at instant `now`.
func (s Schedule) Resolve(now time.Time) common.PhaseState {
	local := now.In(s.Timezone)
	weekday := local.Weekday()
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	for _, w := range s.Windows {
		if w.Weekday != weekday {
			continue
		}
		if offset >= w.Start && offset < w.End {
			return w.Phase
		}
	}
	return closedState
}

// DefaultPhaseStates returns the canonical flag sets for each named phase,
// used by config loading to fill in a schedule entry from just a phase name.
func DefaultPhaseStates() map[common.PhaseName]common.PhaseState {
	return map[common.PhaseName]common.PhaseState{
		common.Closed: closedState,
		common.PreOpen: {
			Name:           common.PreOpen,
			SubmitAllowed:  true,
			CancelAllowed:  true,
			MatchEnabled:   false,
			ExecutionStyle: common.ExecutionBatch,
		},
		common.OpeningAuction: {
			Name:           common.OpeningAuction,
			SubmitAllowed:  false,
			CancelAllowed:  false,
			MatchEnabled:   true,
			ExecutionStyle: common.ExecutionBatch,
		},
		common.Continuous: {
			Name:           common.Continuous,
			SubmitAllowed:  true,
			CancelAllowed:  true,
			MatchEnabled:   true,
			ExecutionStyle: common.ExecutionContinuous,
		},
	}
}
