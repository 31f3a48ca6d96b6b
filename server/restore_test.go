package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"emperror.dev/errors"
	. "github.com/franela/goblin"

	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
)

func TestRestoreStore(t *testing.T) {
	g := Goblin(t)

	var rs *RestoreStore
	g.BeforeEach(func() {
		rs = NewRestoreStore(filepath.Join(t.TempDir(), "wraith.toml.restore.json"))
	})

	record := func() RestoreRecord {
		m := NewManager()
		a := New(testSpec("alpha"), ports.Assignment{AuthPort: 8081, GamePort: 37015})
		a.setRunning(process.Identity{PID: 42, StartMarker: 1000})
		b := New(testSpec("bravo"), ports.Assignment{AuthPort: 8082, GamePort: 37016})
		b.setCrashed(nil)
		c := New(testSpec("charlie"), ports.Assignment{})
		m.Add(a)
		m.Add(b)
		m.Add(c)
		return Detach(m, "instance")
	}

	g.Describe("Detach", func() {
		g.It("captures running and crashed servers in order", func() {
			rec := record()

			g.Assert(rec.Version).Equal(RestoreVersion)
			g.Assert(len(rec.Servers)).Equal(2)
			g.Assert(rec.Servers[0].Name).Equal("alpha")
			g.Assert(*rec.Servers[0].Identity).Equal(process.Identity{PID: 42, StartMarker: 1000})
			g.Assert(rec.Servers[1].Name).Equal("bravo")
			g.Assert(rec.Servers[1].Identity == nil).IsTrue()
		})
	})

	g.Describe("RestoreStore#Read", func() {
		g.It("returns the record that was written", func() {
			in := record()
			g.Assert(rs.Write(in)).IsNil()

			out, err := rs.Read()

			g.Assert(err).IsNil()
			g.Assert(out.Instance).Equal("instance")
			g.Assert(len(out.Servers)).Equal(2)
			g.Assert(out.Servers[0].Ports).Equal(in.Servers[0].Ports)
			g.Assert(out.Servers[1].Spec.Name).Equal("bravo")
		})

		g.It("does not leave temporary files behind", func() {
			g.Assert(rs.Write(record())).IsNil()

			matches, err := filepath.Glob(rs.Path + ".*.tmp")

			g.Assert(err).IsNil()
			g.Assert(len(matches)).Equal(0)
		})

		g.It("returns ErrRestoreNotFound when there is no record", func() {
			_, err := rs.Read()

			g.Assert(errors.Is(err, ErrRestoreNotFound)).IsTrue()
		})

		g.It("returns ErrRestoreCorrupt for a file that is not a record", func() {
			g.Assert(os.WriteFile(rs.Path, []byte("{\"servers\": ["), 0o600)).IsNil()

			_, err := rs.Read()

			g.Assert(errors.Is(err, ErrRestoreCorrupt)).IsTrue()
		})

		g.It("returns ErrRestoreCorrupt for an unknown version", func() {
			g.Assert(os.WriteFile(rs.Path, []byte(`{"version": 99, "servers": []}`), 0o600)).IsNil()

			_, err := rs.Read()

			g.Assert(errors.Is(err, ErrRestoreCorrupt)).IsTrue()
		})

		g.It("returns ErrRestoreCorrupt for duplicate servers", func() {
			rec := record()
			rec.Servers = append(rec.Servers, rec.Servers[0])
			g.Assert(rs.Write(rec)).IsNil()

			_, err := rs.Read()

			g.Assert(errors.Is(err, ErrRestoreCorrupt)).IsTrue()
		})
	})

	g.Describe("RestoreStore#Remove", func() {
		g.It("removes the record", func() {
			g.Assert(rs.Write(record())).IsNil()
			g.Assert(rs.Remove()).IsNil()

			_, err := rs.Read()
			g.Assert(errors.Is(err, ErrRestoreNotFound)).IsTrue()
		})

		g.It("does not fail when there is no record", func() {
			g.Assert(rs.Remove()).IsNil()
		})
	})

	g.Describe("Attach", func() {
		g.It("marks servers whose process is gone as crashed", func() {
			fake := process.NewFake()
			rec := record()
			fake.Adopt(*rec.Servers[0].Identity, process.Spec{Name: "alpha"})

			m := Attach(context.Background(), rec, fake)

			a, _ := m.Get("alpha")
			b, _ := m.Get("bravo")
			g.Assert(m.Keys()).Equal([]string{"alpha", "bravo"})
			g.Assert(a.Status()).Equal(StatusRunning)
			g.Assert(b.Status()).Equal(StatusCrashed)
			g.Assert(b.Ports().AuthPort).Equal(uint16(8082))
		})

		g.It("does not trust a PID that now belongs to another process", func() {
			fake := process.NewFake()
			rec := record()
			fake.Adopt(*rec.Servers[0].Identity, process.Spec{Name: "alpha"})
			fake.Recycle(*rec.Servers[0].Identity)

			m := Attach(context.Background(), rec, fake)

			a, _ := m.Get("alpha")
			g.Assert(a.Status()).Equal(StatusCrashed)
		})
	})
}
