// Package worker generalizes the teacher's internal/worker.go WorkerPool
// (a fixed-size pool of goroutines pulling off one task channel) into a
// single named, tomb-supervised long-lived stage goroutine -- the shape
// spec §2/§5 calls for: "one worker per stage", not a pool, since each
// stage is the sole mutator of its own state and fan-in from many workers
// would break the single-writer serialization points spec §5 relies on.
package worker

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// RunFunc is a stage's main loop. It must select on t.Dying() alongside its
// queue reads so it can drain and exit promptly on shutdown (spec §5).
type RunFunc func(t *tomb.Tomb) error

// Stage is one long-lived pipeline worker, supervised by a shared tomb so
// that a panic or error in any stage tears down the whole pipeline the same
// way the teacher's server.go tomb supervises its connection workers.
type Stage struct {
	Name string
	Run  RunFunc
}

// Start registers the stage on the parent tomb. It returns immediately;
// the stage goroutine runs until t.Dying() fires or Run returns an error.
func (s Stage) Start(t *tomb.Tomb) {
	t.Go(func() error {
		log.Info().Str("stage", s.Name).Msg("stage starting")
		err := s.Run(t)
		if err != nil {
			log.Error().Str("stage", s.Name).Err(err).Msg("stage exited with error")
		} else {
			log.Info().Str("stage", s.Name).Msg("stage exited")
		}
		return err
	})
}
