package cron

import (
	"context"
	"sort"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/go-co-op/gocron"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/system"
)

const ErrCronRunning = errors.Sentinel("cron: job already running")

const restartTagPrefix = "restart:"

// Restarter restarts a single server by name.
type Restarter interface {
	Restart(ctx context.Context, name string) error
}

// Pruner removes history older than the cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Schedule runs the scheduled server restarts and the history cleanup.
type Schedule struct {
	ctx       context.Context
	scheduler *gocron.Scheduler
	restarter Restarter

	mu       sync.Mutex
	restarts map[string]string
}

var o system.AtomicBool

// Scheduler configures the internal cronjob system for wraith. This should
// only be called once per application lifecycle, additional calls will
// result in an error being returned. pruner may be nil.
func Scheduler(ctx context.Context, r Restarter, pruner Pruner, retention time.Duration) (*Schedule, error) {
	if !o.SwapIf(true) {
		return nil, errors.New("cron: cannot call scheduler more than once in application lifecycle")
	}
	return newSchedule(ctx, r, pruner, retention)
}

func newSchedule(ctx context.Context, r Restarter, pruner Pruner, retention time.Duration) (*Schedule, error) {
	s := &Schedule{
		ctx:       ctx,
		scheduler: gocron.NewScheduler(time.Local),
		restarter: r,
		restarts:  make(map[string]string),
	}
	if pruner != nil && retention > 0 {
		prune := pruneCron{mu: system.NewAtomicBool(false), pruner: pruner, retention: retention}
		_, err := s.scheduler.Tag("history").Every(1).Hour().Do(func() {
			if err := prune.Run(ctx); err != nil {
				if errors.Is(err, ErrCronRunning) {
					log.WithField("cron", "history").Warn("cron: process is already running, skipping...")
				} else {
					log.WithField("error", err).Error("cron: failed to prune server history")
				}
			}
		})
		if err != nil {
			return nil, errors.Wrap(err, "cron: failed to schedule history cleanup")
		}
	}
	return s, nil
}

// Start runs the scheduler in the background until Stop is called.
func (s *Schedule) Start() {
	s.scheduler.StartAsync()
}

func (s *Schedule) Stop() {
	s.scheduler.Stop()
}

// Sync brings the scheduled restarts in line with the configured servers.
// Jobs of servers that are gone or whose schedule changed are replaced. A
// server with an invalid schedule is skipped and reported in the returned
// error; every other server is still scheduled.
func (s *Schedule) Sync(specs []config.ServerSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]string, len(specs))
	for _, spec := range specs {
		if spec.RestartSchedule != "" {
			want[spec.Name] = spec.RestartSchedule
		}
	}

	for name, expr := range s.restarts {
		if want[name] == expr {
			continue
		}
		if err := s.scheduler.RemoveByTag(restartTagPrefix + name); err != nil {
			log.WithField("server", name).WithField("error", err).Warn("cron: failed to remove restart schedule")
		}
		delete(s.restarts, name)
	}

	var errs []error
	for _, name := range sortedKeys(want) {
		expr := want[name]
		if _, ok := s.restarts[name]; ok {
			continue
		}
		name := name
		var job *gocron.Scheduler
		if config.ScheduleHasSeconds(expr) {
			job = s.scheduler.CronWithSeconds(expr)
		} else {
			job = s.scheduler.Cron(expr)
		}
		_, err := job.Tag(restartTagPrefix + name).SingletonMode().Do(func() {
			log.WithField("server", name).Info("cron: running scheduled restart")
			if err := s.restarter.Restart(s.ctx, name); err != nil {
				log.WithField("server", name).WithField("error", err).Error("cron: scheduled restart failed")
			}
		})
		if err != nil {
			errs = append(errs, errors.WrapIff(err, "cron: invalid restart schedule %q for %s", expr, name))
			continue
		}
		s.restarts[name] = expr
		log.WithField("server", name).WithField("schedule", expr).Debug("cron: scheduled server restart")
	}
	return errors.Combine(errs...)
}

// Restarts returns the scheduled restart expression of every server.
func (s *Schedule) Restarts() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.restarts))
	for k, v := range s.restarts {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
