package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/pipeline"
)

// fixedClock lets a test drive Manager.Run through a transition without
// waiting on the wall clock.
func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestManagerCurrentReflectsInitialResolve(t *testing.T) {
	loc := time.UTC
	defaults := DefaultPhaseStates()
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, loc)

	sched := Schedule{
		Timezone: loc,
		Windows:  []DaySchedule{{Weekday: now.Weekday(), Start: 9 * time.Hour, End: 17 * time.Hour, Phase: defaults[common.Continuous]}},
	}
	m := New(sched, time.Millisecond, make(chan pipeline.FanMessage, 1))
	m.now = fixedClock(&now)
	initial := sched.Resolve(now)
	m.cell.Store(&initial)

	assert.Equal(t, common.Continuous, m.Current().Name)
}

func TestManagerRunBroadcastsOnTransition(t *testing.T) {
	loc := time.UTC
	defaults := DefaultPhaseStates()
	clock := time.Date(2026, time.March, 2, 9, 20, 0, 0, loc) // pre-open

	sched := Schedule{
		Timezone: loc,
		Windows: []DaySchedule{
			{Weekday: clock.Weekday(), Start: 9 * time.Hour, End: 9*time.Hour + 25*time.Minute, Phase: defaults[common.PreOpen]},
			{Weekday: clock.Weekday(), Start: 9*time.Hour + 25*time.Minute, End: 17 * time.Hour, Phase: defaults[common.Continuous]},
		},
	}

	fanOut := make(chan pipeline.FanMessage, 4)
	m := New(sched, 5*time.Millisecond, fanOut)
	m.now = fixedClock(&clock)
	require.Equal(t, common.PreOpen, m.Current().Name)

	tb := &tomb.Tomb{}
	tb.Go(func() error { return m.Run(tb) })
	defer func() { tb.Kill(nil); tb.Wait() }()

	// Advance the clock past the pre-open window; the next tick should
	// observe continuous trading and broadcast the transition.
	clock = clock.Add(10 * time.Minute)

	select {
	case msg := <-fanOut:
		assert.Equal(t, pipeline.MsgPhaseChange, msg.Type)
		assert.Equal(t, pipeline.Broadcast, msg.TeamID)
	case <-time.After(time.Second):
		t.Fatal("expected a phase_change broadcast after the clock crossed into continuous trading")
	}
	assert.Equal(t, common.Continuous, m.Current().Name)
}

func TestManagerRunDoesNotBroadcastWithoutTransition(t *testing.T) {
	loc := time.UTC
	defaults := DefaultPhaseStates()
	clock := time.Date(2026, time.March, 2, 10, 0, 0, 0, loc)

	sched := Schedule{
		Timezone: loc,
		Windows:  []DaySchedule{{Weekday: clock.Weekday(), Start: 9 * time.Hour, End: 17 * time.Hour, Phase: defaults[common.Continuous]}},
	}

	fanOut := make(chan pipeline.FanMessage, 4)
	m := New(sched, 5*time.Millisecond, fanOut)
	m.now = fixedClock(&clock)

	tb := &tomb.Tomb{}
	tb.Go(func() error { return m.Run(tb) })

	time.Sleep(30 * time.Millisecond)
	tb.Kill(nil)
	tb.Wait()

	select {
	case <-fanOut:
		t.Fatal("no phase_change should be emitted when the resolved phase never changes")
	default:
	}
}
