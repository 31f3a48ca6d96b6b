package server

import (
	"context"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/northstar-wraith/wraith/metrics"
)

// tick is a single watchdog pass. The liveness of every running server is
// checked concurrently; the results are then applied one by one. A dead
// server is marked crashed and relaunched right away on the ports it held
// before. Crashed servers are relaunched on every pass until they start.
// Stopped servers are never looked at.
func (s *Supervisor) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	running := s.manager.Filter(func(v *Server) bool {
		return v.Status() == StatusRunning
	})
	alive := make([]bool, len(running))

	pool := workerpool.New(s.opts.Workers)
	for i, srv := range running {
		i := i
		id, ok := srv.Identity()
		if !ok {
			continue
		}
		pool.Submit(func() {
			alive[i] = s.opts.Tracker.IsAlive(ctx, id)
		})
	}
	pool.StopWait()

	for i, srv := range running {
		if alive[i] {
			continue
		}
		srv.crasher.RecordCrash(time.Now())
		metrics.ServerCrashes.WithLabelValues(srv.Name()).Inc()
		s.record(srv, EventCrashed, nil)
		srv.setCrashed(nil)
		srv.Log().Warn("server process is no longer running")
	}

	for _, srv := range s.manager.Filter(func(v *Server) bool { return v.Status() == StatusCrashed }) {
		if !srv.crasher.ShouldAttempt(time.Now()) {
			srv.Log().Debug("waiting before the next relaunch attempt")
			continue
		}
		if err := s.launch(ctx, srv); err != nil {
			srv.Log().WithField("error", err).Error("failed to relaunch server, retrying on the next tick")
		}
	}
}
