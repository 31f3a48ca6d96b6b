package server

import (
	"context"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"

	"github.com/northstar-wraith/wraith/arguments"
	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/metrics"
	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
	"github.com/northstar-wraith/wraith/system"
)

// Options configure a Supervisor.
type Options struct {
	Tracker   process.Tracker
	Allocator ports.Allocator

	// The time between two watchdog passes.
	PollInterval time.Duration

	// Resolve returns the servers in the current configuration. It is called
	// whenever a command needs the latest configuration.
	Resolve func() ([]config.ServerSpec, error)

	// HostPorts, when set, returns the ports bound on the host. They are
	// never handed out to a server.
	HostPorts func(ctx context.Context) (ports.Reserved, error)

	// Where "stopwraith" writes the restore record.
	Store *RestoreStore

	Recorder Recorder

	// CrashBackoff, when set, creates the backoff that spaces out relaunch
	// attempts of a server that fails to start.
	CrashBackoff func() backoff.BackOff

	// OnReload is called from the supervisor loop with the servers of every
	// configuration that was applied.
	OnReload func(specs []config.ServerSpec)

	// The number of liveness checks or terminations run at the same time.
	Workers int
}

// Supervisor owns the fleet registry. Every change to the registry happens on
// the goroutine running Run: commands are queued and executed between two
// watchdog passes.
type Supervisor struct {
	opts     Options
	manager  *Manager
	instance string

	commands chan *command
	done     chan struct{}
	running  *system.Locker
}

type command struct {
	name string
	fn   func(ctx context.Context) (exit bool, err error)
	err  chan error
}

// NewSupervisor returns a supervisor for the registry. m may hold servers
// that were attached from a restore record, or be nil.
func NewSupervisor(opts Options, m *Manager) *Supervisor {
	if m == nil {
		m = NewManager()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	s := &Supervisor{
		opts:     opts,
		manager:  m,
		instance: uuid.NewString(),
		commands: make(chan *command),
		done:     make(chan struct{}),
		running:  system.NewLocker(),
	}
	for _, srv := range m.All() {
		s.installBackoff(srv)
		s.record(srv, EventAttached, nil)
	}
	return s
}

// Manager returns the fleet registry. Callers outside the supervisor loop
// must only read from it.
func (s *Supervisor) Manager() *Manager {
	return s.manager
}

// Instance returns the unique id of this supervisor run.
func (s *Supervisor) Instance() string {
	return s.instance
}

// Servers returns a view of every server.
func (s *Supervisor) Servers() []Snapshot {
	return s.manager.Snapshots()
}

// Server returns a view of a single server.
func (s *Supervisor) Server(name string) (Snapshot, bool) {
	srv, ok := s.manager.Get(name)
	if !ok {
		return Snapshot{}, false
	}
	return srv.Snapshot(), true
}

// Done is closed once Run has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Run polls the fleet and executes queued commands until a command asks the
// supervisor to exit or the context is canceled. Canceling the context leaves
// every server process running.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.running.Acquire(); err != nil {
		return errors.WithStack(ErrSupervisorRunning)
	}
	defer close(s.done)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	log.WithField("interval", s.opts.PollInterval).Debug("watchdog started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		case cmd := <-s.commands:
			log.WithField("command", cmd.name).Debug("executing supervisor command")
			exit, err := cmd.fn(ctx)
			cmd.err <- err
			if exit {
				log.WithField("command", cmd.name).Info("supervisor is exiting")
				return nil
			}
		}
	}
}

// submit queues fn on the supervisor loop and waits for it to finish.
func (s *Supervisor) submit(ctx context.Context, name string, fn func(ctx context.Context) (bool, error)) error {
	cmd := &command{name: name, fn: fn, err: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return errors.WithStack(ErrSupervisorStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.err:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReloadResult describes what a reload changed.
type ReloadResult struct {
	Started  []string
	Failed   map[string]error
	Orphaned []string
	Changed  []string
}

// Reload reads the configuration and starts every server that is not known
// yet. A reload never stops a server: servers removed from the configuration
// are only flagged, see StopOld.
func (s *Supervisor) Reload(ctx context.Context) (ReloadResult, error) {
	var res ReloadResult
	err := s.submit(ctx, "reload", func(ctx context.Context) (bool, error) {
		specs, err := s.resolve()
		if err != nil {
			return false, err
		}
		res = s.apply(ctx, specs)
		return false, nil
	})
	return res, err
}

// Restart stops a single server and starts it again with its configuration
// and ports resolved afresh. A stopped server is simply started.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	return s.submit(ctx, "restart", func(ctx context.Context) (bool, error) {
		return false, s.restart(ctx, name)
	})
}

// RestartAll stops every server and starts them again with their
// configuration and ports resolved afresh.
func (s *Supervisor) RestartAll(ctx context.Context) error {
	return s.submit(ctx, "restartall", func(ctx context.Context) (bool, error) {
		return false, s.restartAll(ctx)
	})
}

// StopOld stops and forgets every server that is no longer part of the
// configuration. The names of the removed servers are returned.
func (s *Supervisor) StopOld(ctx context.Context) ([]string, error) {
	var evicted []string
	err := s.submit(ctx, "stopold", func(ctx context.Context) (bool, error) {
		var err error
		evicted, err = s.stopOld(ctx)
		return false, err
	})
	return evicted, err
}

// StopAll stops every server. The supervisor exits once all of them have
// stopped; if any fails to stop it keeps running.
func (s *Supervisor) StopAll(ctx context.Context) error {
	return s.submit(ctx, "stopall", func(ctx context.Context) (bool, error) {
		failed := s.terminateAll(ctx, s.manager.All())
		if len(failed) > 0 {
			return false, combine(failed)
		}
		return true, nil
	})
}

// StopWraith writes the restore record and exits without touching any server
// process. The next supervisor attaches to them again. If the record cannot
// be written the supervisor keeps running.
func (s *Supervisor) StopWraith(ctx context.Context) (RestoreRecord, error) {
	var rec RestoreRecord
	err := s.submit(ctx, "stopwraith", func(ctx context.Context) (bool, error) {
		rec = Detach(s.manager, s.instance)
		if s.opts.Store == nil {
			return false, errors.New("server: no restore record location configured")
		}
		if err := s.opts.Store.Write(rec); err != nil {
			return false, errors.WrapIf(err, "server: failed to write restore record")
		}
		for _, e := range rec.Servers {
			if srv, ok := s.manager.Get(e.Name); ok {
				s.record(srv, EventDetached, nil)
			}
		}
		log.WithField("path", s.opts.Store.Path).WithField("servers", len(rec.Servers)).Info("wrote restore record")
		return true, nil
	})
	return rec, err
}

func (s *Supervisor) resolve() ([]config.ServerSpec, error) {
	if s.opts.Resolve == nil {
		return nil, errors.WithStack(ErrNoConfigResolver)
	}
	return s.opts.Resolve()
}

// freshSpec returns the latest configuration of a server, falling back to the
// stored one when the server is no longer configured or the configuration
// cannot be read.
func (s *Supervisor) freshSpec(srv *Server, latest map[string]config.ServerSpec) config.ServerSpec {
	if spec, ok := latest[srv.Name()]; ok {
		srv.setOrphaned(false)
		return spec
	}
	return srv.Spec()
}

func (s *Supervisor) latest() map[string]config.ServerSpec {
	out := make(map[string]config.ServerSpec)
	specs, err := s.resolve()
	if err != nil {
		log.WithField("error", err).Warn("failed to read configuration, using the stored server configuration")
		return out
	}
	for _, spec := range specs {
		out[spec.Name] = spec
	}
	return out
}

func (s *Supervisor) newServer(spec config.ServerSpec, asn ports.Assignment) *Server {
	srv := New(spec, asn)
	s.installBackoff(srv)
	return srv
}

func (s *Supervisor) installBackoff(srv *Server) {
	if s.opts.CrashBackoff != nil {
		srv.crasher.SetBackoff(s.opts.CrashBackoff())
	}
}

func (s *Supervisor) record(srv *Server, t EventType, err error) {
	s.opts.Recorder.Record(newEvent(srv, t, err))
}

// reserved returns every port that may not be handed out, leaving out the
// ports of the named servers.
func (s *Supervisor) reserved(ctx context.Context, except ...string) ports.Reserved {
	r := s.manager.Reserved(except...)
	if s.opts.HostPorts != nil {
		host, err := s.opts.HostPorts(ctx)
		if err != nil {
			log.WithField("error", err).Warn("failed to list ports in use on the host")
		} else {
			r.Merge(host)
		}
	}
	return r
}

func request(spec config.ServerSpec) ports.Request {
	return ports.Request{Name: spec.Name, AuthPort: spec.AuthPort, GamePort: spec.GamePort}
}

// apply reconciles the registry with the desired servers.
func (s *Supervisor) apply(ctx context.Context, desired []config.ServerSpec) ReloadResult {
	res := ReloadResult{Failed: make(map[string]error)}

	want := make(map[string]config.ServerSpec, len(desired))
	for _, spec := range desired {
		want[spec.Name] = spec
	}
	for _, srv := range s.manager.All() {
		name := srv.Name()
		spec, ok := want[name]
		if ok {
			srv.setOrphaned(false)
			if !reflect.DeepEqual(srv.Spec(), spec) {
				srv.Log().Warn("server configuration has changed, restart the server to apply it")
				res.Changed = append(res.Changed, name)
			}
			continue
		}
		if !srv.IsOrphaned() {
			srv.Log().Warn("server is no longer in the configuration, use \"stopold\" to stop it")
		}
		srv.setOrphaned(true)
		res.Orphaned = append(res.Orphaned, name)
	}

	actions := Reconcile(s.manager, desired)
	if len(actions) > 0 {
		reqs := make([]ports.Request, len(actions))
		for i, a := range actions {
			reqs[i] = request(a.Spec)
		}
		batch := s.opts.Allocator.AllocateBatch(s.reserved(ctx), reqs)

		for _, a := range actions {
			if err, ok := batch.Failed[a.Name]; ok {
				srv := s.newServer(a.Spec, ports.Assignment{})
				srv.setStopped(err)
				s.manager.Add(srv)
				srv.Log().WithField("error", err).Error("failed to allocate ports for server")
				res.Failed[a.Name] = err
				continue
			}
			srv := s.newServer(a.Spec, batch.Assigned[a.Name])
			s.manager.Add(srv)
			if err := s.launch(ctx, srv); err != nil {
				srv.Log().WithField("error", err).Error("failed to launch server, retrying on the next tick")
				res.Failed[a.Name] = err
				continue
			}
			res.Started = append(res.Started, a.Name)
		}
	}

	if s.opts.OnReload != nil {
		s.opts.OnReload(desired)
	}
	return res
}

// launch starts the process of a server with its current spec and ports.
// On failure the server is left crashed so that the watchdog retries it.
func (s *Supervisor) launch(ctx context.Context, srv *Server) error {
	srv.setStatus(StatusStarting)
	spec, asn := srv.Spec(), srv.Ports()
	args := arguments.Build(spec, asn)

	id, err := s.opts.Tracker.Spawn(ctx, process.Spec{
		Name:       spec.Name,
		Executable: spec.Executable,
		Dir:        spec.GameDir,
		Args:       args.Args,
		Env:        args.Env,
		Priority:   spec.Priority,
	})
	if err != nil {
		srv.setCrashed(err)
		srv.crasher.AttemptFailed(time.Now())
		metrics.ServerLaunches.WithLabelValues(spec.Name, "failure").Inc()
		s.record(srv, EventLaunchFailed, err)
		return err
	}

	srv.setRunning(id)
	srv.crasher.Reset()
	metrics.ServerLaunches.WithLabelValues(spec.Name, "success").Inc()
	s.record(srv, EventStarted, nil)
	srv.Log().WithFields(log.Fields{
		"pid":       id.PID,
		"auth_port": asn.AuthPort,
		"game_port": asn.GamePort,
	}).Info("started server process")
	return nil
}

// terminate stops the process of a server and marks it stopped. When the
// process cannot be stopped the record is left as it is.
func (s *Supervisor) terminate(ctx context.Context, srv *Server) error {
	if srv.Status() == StatusStopped {
		return nil
	}
	if id, ok := srv.Identity(); ok {
		if err := s.opts.Tracker.Terminate(ctx, id); err != nil {
			srv.Log().WithField("error", err).Error("failed to stop server process")
			return err
		}
	}
	s.record(srv, EventStopped, nil)
	srv.setStopped(nil)
	srv.Log().Info("stopped server")
	return nil
}

// terminateAll stops the servers concurrently and returns the errors of the
// ones that could not be stopped.
func (s *Supervisor) terminateAll(ctx context.Context, servers []*Server) map[string]error {
	var mu sync.Mutex
	failed := make(map[string]error)

	pool := workerpool.New(s.opts.Workers)
	for _, srv := range servers {
		srv := srv
		pool.Submit(func() {
			if err := s.terminate(ctx, srv); err != nil {
				mu.Lock()
				failed[srv.Name()] = err
				mu.Unlock()
			}
		})
	}
	pool.StopWait()
	return failed
}

func (s *Supervisor) restart(ctx context.Context, name string) error {
	srv, ok := s.manager.Get(name)
	if !ok {
		return errors.WithDetails(errors.WithStack(ErrServerNotFound), "server", name)
	}
	if err := s.terminate(ctx, srv); err != nil {
		return err
	}

	spec := s.freshSpec(srv, s.latest())
	batch := s.opts.Allocator.AllocateBatch(s.reserved(ctx, name), []ports.Request{request(spec)})
	if err, ok := batch.Failed[name]; ok {
		srv.replace(spec, ports.Assignment{})
		srv.setStopped(err)
		return err
	}
	srv.replace(spec, batch.Assigned[name])
	return s.launch(ctx, srv)
}

func (s *Supervisor) restartAll(ctx context.Context) error {
	all := s.manager.All()
	failed := s.terminateAll(ctx, all)

	latest := s.latest()
	var restart []*Server
	var reqs []ports.Request
	specs := make(map[string]config.ServerSpec)
	for _, srv := range all {
		if _, ok := failed[srv.Name()]; ok {
			continue
		}
		spec := s.freshSpec(srv, latest)
		specs[spec.Name] = spec
		restart = append(restart, srv)
		reqs = append(reqs, request(spec))
	}

	batch := s.opts.Allocator.AllocateBatch(s.reserved(ctx), reqs)
	for _, srv := range restart {
		name := srv.Name()
		if err, ok := batch.Failed[name]; ok {
			srv.replace(specs[name], ports.Assignment{})
			srv.setStopped(err)
			failed[name] = err
			continue
		}
		srv.replace(specs[name], batch.Assigned[name])
		if err := s.launch(ctx, srv); err != nil {
			failed[name] = err
		}
	}
	return combine(failed)
}

func (s *Supervisor) stopOld(ctx context.Context) ([]string, error) {
	var evicted []string
	failed := make(map[string]error)
	for _, srv := range s.manager.Filter(func(v *Server) bool { return v.IsOrphaned() }) {
		if err := s.terminate(ctx, srv); err != nil {
			failed[srv.Name()] = err
			continue
		}
		s.manager.Remove(func(v *Server) bool { return v == srv })
		s.record(srv, EventEvicted, nil)
		evicted = append(evicted, srv.Name())
	}
	return evicted, combine(failed)
}

// combine merges per-server errors into one, in name order.
func combine(failed map[string]error) error {
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for n := range failed {
		names = append(names, n)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, n := range names {
		errs = append(errs, errors.WrapIf(failed[n], n))
	}
	return errors.Combine(errs...)
}
