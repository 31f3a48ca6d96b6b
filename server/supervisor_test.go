package server

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
	. "github.com/franela/goblin"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
)

func testSpec(name string) config.ServerSpec {
	return config.ServerSpec{
		Name:        name,
		DisplayName: name,
		Executable:  "NorthstarLauncher.exe",
		TickRate:    60,
		Playlist:    config.DefaultPlaylist,
		Priority:    process.PriorityNormal,
	}
}

type memRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *memRecorder) Record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *memRecorder) types(name string) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		if e.Server == name {
			out = append(out, e.Type)
		}
	}
	return out
}

func TestSupervisor(t *testing.T) {
	g := Goblin(t)

	var fake *process.Fake
	var desired []config.ServerSpec
	var rec *memRecorder
	var sup *Supervisor
	ctx := context.Background()

	options := func() Options {
		return Options{
			Tracker: fake,
			Allocator: ports.Allocator{
				Auth: ports.Range{Start: 8081, End: 8082},
				Game: ports.Range{Start: 37015, End: 37020},
			},
			PollInterval: time.Hour,
			Resolve: func() ([]config.ServerSpec, error) {
				return desired, nil
			},
			Recorder: rec,
			Workers:  2,
		}
	}

	get := func(name string) *Server {
		s, ok := sup.Manager().Get(name)
		if !ok {
			g.Failf("server %s is not registered", name)
		}
		return s
	}

	g.BeforeEach(func() {
		fake = process.NewFake()
		desired = []config.ServerSpec{testSpec("alpha"), testSpec("bravo")}
		rec = &memRecorder{}
		sup = NewSupervisor(options(), nil)
	})

	g.Describe("Supervisor#apply", func() {
		g.It("starts every new server with ports in ascending name order", func() {
			res := sup.apply(ctx, desired)

			g.Assert(res.Started).Equal([]string{"alpha", "bravo"})
			g.Assert(len(res.Failed)).Equal(0)
			g.Assert(get("alpha").Status()).Equal(StatusRunning)
			g.Assert(get("alpha").Ports()).Equal(ports.Assignment{AuthPort: 8081, GamePort: 37015})
			g.Assert(get("bravo").Ports()).Equal(ports.Assignment{AuthPort: 8082, GamePort: 37016})
			g.Assert(fake.Alive()).Equal(2)
			g.Assert(rec.types("alpha")).Equal([]EventType{EventStarted})
		})

		g.It("leaves running servers alone when a new server cannot get ports", func() {
			sup.apply(ctx, desired)
			desired = append(desired, testSpec("charlie"))

			res := sup.apply(ctx, desired)

			g.Assert(len(res.Started)).Equal(0)
			g.Assert(errors.Is(res.Failed["charlie"], ports.ErrPortsExhausted)).IsTrue()
			g.Assert(get("alpha").Status()).Equal(StatusRunning)
			g.Assert(get("bravo").Status()).Equal(StatusRunning)
			g.Assert(get("charlie").Status()).Equal(StatusStopped)
			g.Assert(get("charlie").Ports()).Equal(ports.Assignment{})
			g.Assert(get("charlie").LastError() != nil).IsTrue()
			g.Assert(sup.Manager().Keys()).Equal([]string{"alpha", "bravo", "charlie"})
		})

		g.It("does nothing when applied twice", func() {
			sup.apply(ctx, desired)
			spawned := len(fake.Spawned)

			res := sup.apply(ctx, desired)

			g.Assert(len(res.Started)).Equal(0)
			g.Assert(len(fake.Spawned)).Equal(spawned)
			g.Assert(sup.Manager().Len()).Equal(2)
		})

		g.It("gives pinned ports priority over declaration order", func() {
			pin := uint16(8081)
			b := testSpec("bravo")
			b.AuthPort = &pin
			desired = []config.ServerSpec{testSpec("alpha"), b}

			sup.apply(ctx, desired)

			g.Assert(get("bravo").Ports().AuthPort).Equal(uint16(8081))
			g.Assert(get("alpha").Ports().AuthPort).Equal(uint16(8082))
		})

		g.It("leaves a server crashed when it fails to launch", func() {
			fake.FailSpawn = true

			res := sup.apply(ctx, desired)

			g.Assert(process.IsLaunchError(res.Failed["alpha"])).IsTrue()
			g.Assert(get("alpha").Status()).Equal(StatusCrashed)
			g.Assert(get("alpha").Ports().AuthPort).Equal(uint16(8081))
		})

		g.It("flags removed servers without stopping them", func() {
			sup.apply(ctx, desired)
			desired = desired[:1]

			res := sup.apply(ctx, desired)

			g.Assert(res.Orphaned).Equal([]string{"bravo"})
			g.Assert(get("bravo").Status()).Equal(StatusRunning)
			g.Assert(get("bravo").IsOrphaned()).IsTrue()
			g.Assert(fake.Alive()).Equal(2)
			g.Assert(len(fake.Terminated)).Equal(0)
		})

		g.It("clears the orphaned flag once a server is configured again", func() {
			sup.apply(ctx, desired)
			sup.apply(ctx, desired[:1])

			sup.apply(ctx, desired)

			g.Assert(get("bravo").IsOrphaned()).IsFalse()
		})

		g.It("keeps stopped servers that are no longer configured until stopold", func() {
			sup.apply(ctx, desired)
			sup.apply(ctx, append(desired, testSpec("charlie")))
			g.Assert(get("charlie").Status()).Equal(StatusStopped)

			res := sup.apply(ctx, desired)

			g.Assert(res.Orphaned).Equal([]string{"charlie"})
			g.Assert(get("charlie").IsOrphaned()).IsTrue()
			g.Assert(get("charlie").Status()).Equal(StatusStopped)
			g.Assert(len(rec.types("charlie"))).Equal(0)

			evicted, err := sup.stopOld(ctx)
			g.Assert(err).IsNil()
			g.Assert(evicted).Equal([]string{"charlie"})
			_, ok := sup.Manager().Get("charlie")
			g.Assert(ok).IsFalse()
			g.Assert(rec.types("charlie")).Equal([]EventType{EventEvicted})
			g.Assert(len(fake.Terminated)).Equal(0)
		})

		g.It("reports a changed configuration without restarting", func() {
			sup.apply(ctx, desired)
			id, _ := get("alpha").Identity()
			changed := testSpec("alpha")
			changed.Description = "changed"

			res := sup.apply(ctx, []config.ServerSpec{changed, testSpec("bravo")})

			g.Assert(res.Changed).Equal([]string{"alpha"})
			nid, _ := get("alpha").Identity()
			g.Assert(nid).Equal(id)
			g.Assert(get("alpha").Spec().Description).Equal("")
		})
	})

	g.Describe("Supervisor#tick", func() {
		g.BeforeEach(func() {
			sup.apply(ctx, desired)
		})

		g.It("relaunches a dead server on the same ports", func() {
			a := get("alpha")
			id, _ := a.Identity()
			asn := a.Ports()
			fake.Crash(id)

			sup.tick(ctx)

			nid, ok := a.Identity()
			g.Assert(ok).IsTrue()
			g.Assert(nid == id).IsFalse()
			g.Assert(a.Status()).Equal(StatusRunning)
			g.Assert(a.Ports()).Equal(asn)
			g.Assert(a.crasher.Count()).Equal(1)
			g.Assert(rec.types("alpha")).Equal([]EventType{EventStarted, EventCrashed, EventStarted})
		})

		g.It("treats a reused PID as a dead server", func() {
			a := get("alpha")
			id, _ := a.Identity()
			fake.Recycle(id)

			sup.tick(ctx)

			nid, _ := a.Identity()
			g.Assert(nid.PID == id.PID).IsFalse()
			g.Assert(a.crasher.Count()).Equal(1)
		})

		g.It("keeps retrying a server that fails to launch", func() {
			a := get("alpha")
			id, _ := a.Identity()
			fake.Crash(id)
			fake.FailSpawn = true

			sup.tick(ctx)
			g.Assert(a.Status()).Equal(StatusCrashed)
			sup.tick(ctx)
			g.Assert(a.Status()).Equal(StatusCrashed)
			g.Assert(a.crasher.Count()).Equal(1)

			fake.FailSpawn = false
			sup.tick(ctx)
			g.Assert(a.Status()).Equal(StatusRunning)
			g.Assert(a.Ports().AuthPort).Equal(uint16(8081))
		})

		g.It("never looks at stopped servers", func() {
			b := get("bravo")
			g.Assert(sup.terminate(ctx, b)).IsNil()
			spawned := len(fake.Spawned)

			sup.tick(ctx)

			g.Assert(b.Status()).Equal(StatusStopped)
			g.Assert(len(fake.Spawned)).Equal(spawned)
		})

		g.It("leaves healthy servers alone", func() {
			spawned := len(fake.Spawned)

			sup.tick(ctx)

			g.Assert(len(fake.Spawned)).Equal(spawned)
			g.Assert(get("alpha").Status()).Equal(StatusRunning)
		})
	})

	g.Describe("Supervisor#tick with a crash backoff", func() {
		g.It("waits before retrying a failed launch", func() {
			opts := options()
			opts.CrashBackoff = func() backoff.BackOff {
				return backoff.NewConstantBackOff(time.Hour)
			}
			sup = NewSupervisor(opts, nil)
			sup.apply(ctx, desired)
			a := get("alpha")
			id, _ := a.Identity()
			fake.Crash(id)
			fake.FailSpawn = true

			sup.tick(ctx)
			g.Assert(a.Status()).Equal(StatusCrashed)

			fake.FailSpawn = false
			sup.tick(ctx)
			g.Assert(a.Status()).Equal(StatusCrashed)
			g.Assert(a.crasher.ShouldAttempt(time.Now().Add(2 * time.Hour))).IsTrue()
		})
	})

	g.Describe("Supervisor#restart", func() {
		g.BeforeEach(func() {
			sup.apply(ctx, desired)
		})

		g.It("returns an error for an unknown server", func() {
			err := sup.restart(ctx, "zulu")

			g.Assert(errors.Is(err, ErrServerNotFound)).IsTrue()
		})

		g.It("relaunches a server with its latest configuration", func() {
			a := get("alpha")
			id, _ := a.Identity()
			changed := testSpec("alpha")
			changed.Description = "changed"
			desired[0] = changed

			g.Assert(sup.restart(ctx, "alpha")).IsNil()

			nid, _ := a.Identity()
			g.Assert(nid == id).IsFalse()
			g.Assert(a.Status()).Equal(StatusRunning)
			g.Assert(a.Spec().Description).Equal("changed")
			g.Assert(a.Ports().AuthPort).Equal(uint16(8081))
			g.Assert(fake.IsAlive(ctx, id)).IsFalse()
		})

		g.It("starts a server that was stopped", func() {
			desired = append(desired, testSpec("charlie"))
			sup.apply(ctx, desired)
			g.Assert(sup.terminate(ctx, get("bravo"))).IsNil()

			g.Assert(sup.restart(ctx, "charlie")).IsNil()

			g.Assert(get("charlie").Status()).Equal(StatusRunning)
			g.Assert(get("charlie").Ports().AuthPort).Equal(uint16(8082))
		})

		g.It("leaves a server stopped when no ports are free", func() {
			desired = append(desired, testSpec("charlie"))
			sup.apply(ctx, desired)

			err := sup.restart(ctx, "charlie")

			g.Assert(errors.Is(err, ports.ErrPortsExhausted)).IsTrue()
			g.Assert(get("charlie").Status()).Equal(StatusStopped)
		})

		g.It("surfaces a failed termination and leaves the server running", func() {
			fake.FailTerminate = true

			err := sup.restart(ctx, "alpha")

			g.Assert(process.IsTerminateError(err)).IsTrue()
			g.Assert(get("alpha").Status()).Equal(StatusRunning)
		})

		g.It("uses the stored configuration of an orphaned server", func() {
			desired = desired[:1]
			sup.apply(ctx, desired)

			g.Assert(sup.restart(ctx, "bravo")).IsNil()

			g.Assert(get("bravo").Status()).Equal(StatusRunning)
			g.Assert(get("bravo").IsOrphaned()).IsTrue()
		})
	})

	g.Describe("Supervisor#restartAll", func() {
		g.It("relaunches every server", func() {
			sup.apply(ctx, desired)
			a, _ := get("alpha").Identity()
			b, _ := get("bravo").Identity()

			g.Assert(sup.restartAll(ctx)).IsNil()

			g.Assert(fake.IsAlive(ctx, a)).IsFalse()
			g.Assert(fake.IsAlive(ctx, b)).IsFalse()
			g.Assert(fake.Alive()).Equal(2)
			g.Assert(get("alpha").Status()).Equal(StatusRunning)
			g.Assert(get("bravo").Ports().AuthPort).Equal(uint16(8082))
		})
	})

	g.Describe("Supervisor#stopOld", func() {
		g.It("stops and forgets only orphaned servers", func() {
			sup.apply(ctx, desired)
			sup.apply(ctx, desired[:1])

			evicted, err := sup.stopOld(ctx)

			g.Assert(err).IsNil()
			g.Assert(evicted).Equal([]string{"bravo"})
			g.Assert(sup.Manager().Keys()).Equal([]string{"alpha"})
			g.Assert(fake.Alive()).Equal(1)
			g.Assert(get("alpha").Status()).Equal(StatusRunning)
		})
	})

	g.Describe("Supervisor#Run", func() {
		var cancel context.CancelFunc
		var runErr chan error

		g.BeforeEach(func() {
			var rctx context.Context
			rctx, cancel = context.WithCancel(ctx)
			runErr = make(chan error, 1)
			go func() {
				runErr <- sup.Run(rctx)
			}()
		})

		g.AfterEach(func() {
			cancel()
		})

		g.It("executes reload on the supervisor loop", func() {
			res, err := sup.Reload(ctx)

			g.Assert(err).IsNil()
			g.Assert(res.Started).Equal([]string{"alpha", "bravo"})
			g.Assert(len(sup.Servers())).Equal(2)
		})

		g.It("refuses to run twice", func() {
			_, err := sup.Reload(ctx)
			g.Assert(err).IsNil()

			err = sup.Run(ctx)

			g.Assert(errors.Is(err, ErrSupervisorRunning)).IsTrue()
		})

		g.It("stops every server and exits on stopall", func() {
			_, err := sup.Reload(ctx)
			g.Assert(err).IsNil()

			g.Assert(sup.StopAll(ctx)).IsNil()

			g.Assert(<-runErr).IsNil()
			g.Assert(fake.Alive()).Equal(0)
			for _, s := range sup.Servers() {
				g.Assert(s.Status).Equal(StatusStopped)
			}
			_, err = sup.Reload(ctx)
			g.Assert(errors.Is(err, ErrSupervisorStopped)).IsTrue()
		})

		g.It("keeps running when a server cannot be stopped", func() {
			_, err := sup.Reload(ctx)
			g.Assert(err).IsNil()
			fake.FailTerminate = true

			g.Assert(sup.StopAll(ctx) != nil).IsTrue()

			fake.FailTerminate = false
			_, err = sup.Reload(ctx)
			g.Assert(err).IsNil()
		})

		g.It("keeps running when the restore record cannot be written", func() {
			_, err := sup.StopWraith(ctx)

			g.Assert(err != nil).IsTrue()
			_, err = sup.Reload(ctx)
			g.Assert(err).IsNil()
		})

		g.It("returns when the context is canceled", func() {
			cancel()

			g.Assert(errors.Is(<-runErr, context.Canceled)).IsTrue()
		})
	})

	g.Describe("Supervisor#StopWraith", func() {
		g.It("hands the fleet over to the next supervisor", func() {
			opts := options()
			opts.Store = NewRestoreStore(filepath.Join(t.TempDir(), "wraith.toml.restore.json"))
			sup = NewSupervisor(opts, nil)
			go sup.Run(ctx)

			_, err := sup.Reload(ctx)
			g.Assert(err).IsNil()
			a, _ := get("alpha").Identity()
			b, _ := get("bravo").Identity()

			out, err := sup.StopWraith(ctx)
			g.Assert(err).IsNil()
			<-sup.Done()
			g.Assert(len(out.Servers)).Equal(2)
			g.Assert(fake.Alive()).Equal(2)
			g.Assert(len(fake.Terminated)).Equal(0)

			// bravo dies while nobody is watching.
			fake.Crash(b)

			rec, err := opts.Store.Read()
			g.Assert(err).IsNil()
			next := NewSupervisor(opts, Attach(ctx, rec, fake))
			na, _ := next.Manager().Get("alpha")
			nb, _ := next.Manager().Get("bravo")

			id, ok := na.Identity()
			g.Assert(ok).IsTrue()
			g.Assert(id).Equal(a)
			g.Assert(na.Status()).Equal(StatusRunning)
			g.Assert(nb.Status()).Equal(StatusCrashed)

			next.tick(ctx)

			g.Assert(nb.Status()).Equal(StatusRunning)
			g.Assert(nb.Ports()).Equal(ports.Assignment{AuthPort: 8082, GamePort: 37016})
			nid, _ := na.Identity()
			g.Assert(nid).Equal(a)
		})

		g.It("flags attached servers that are no longer configured", func() {
			sup.apply(ctx, desired)
			rec := Detach(sup.Manager(), sup.Instance())
			desired = desired[:1]

			next := NewSupervisor(options(), Attach(ctx, rec, fake))
			res := next.apply(ctx, desired)

			g.Assert(res.Orphaned).Equal([]string{"bravo"})
			nb, _ := next.Manager().Get("bravo")
			g.Assert(nb.Status()).Equal(StatusRunning)
		})
	})
}
