package server

import (
	"testing"

	. "github.com/franela/goblin"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
)

func TestManager(t *testing.T) {
	g := Goblin(t)

	var m *Manager
	g.BeforeEach(func() {
		m = NewManager()
		m.Add(New(testSpec("zulu"), ports.Assignment{AuthPort: 8081, GamePort: 37015}))
		m.Add(New(testSpec("alpha"), ports.Assignment{AuthPort: 8082, GamePort: 37016}))
	})

	g.Describe("Manager#Add", func() {
		g.It("keeps insertion order", func() {
			g.Assert(m.Keys()).Equal([]string{"zulu", "alpha"})
		})

		g.It("replaces a record with the same name in place", func() {
			m.Add(New(testSpec("zulu"), ports.Assignment{AuthPort: 9000, GamePort: 9001}))

			s, ok := m.Get("zulu")
			g.Assert(ok).IsTrue()
			g.Assert(m.Len()).Equal(2)
			g.Assert(m.Keys()).Equal([]string{"zulu", "alpha"})
			g.Assert(s.Ports().AuthPort).Equal(uint16(9000))
		})
	})

	g.Describe("Manager#Reserved", func() {
		g.It("only counts servers that hold their ports", func() {
			z, _ := m.Get("zulu")
			z.setRunning(process.Identity{PID: 1, StartMarker: 1})

			r := m.Reserved()

			g.Assert(r.Has(8081)).IsTrue()
			g.Assert(r.Has(37015)).IsTrue()
			g.Assert(r.Has(8082)).IsFalse()
		})

		g.It("leaves out the named servers", func() {
			for _, s := range m.All() {
				s.setCrashed(nil)
			}

			r := m.Reserved("zulu")

			g.Assert(r.Has(8081)).IsFalse()
			g.Assert(r.Has(8082)).IsTrue()
		})
	})

	g.Describe("Manager#Remove", func() {
		g.It("removes matching records", func() {
			m.Remove(func(s *Server) bool { return s.Name() == "zulu" })

			g.Assert(m.Keys()).Equal([]string{"alpha"})
			g.Assert(m.Find(func(s *Server) bool { return s.Name() == "zulu" }) == nil).IsTrue()
		})
	})

	g.Describe("Reconcile", func() {
		g.It("starts only servers that have no record", func() {
			desired := []config.ServerSpec{testSpec("alpha"), testSpec("mike"), testSpec("bravo")}

			actions := Reconcile(m, desired)

			g.Assert(len(actions)).Equal(2)
			g.Assert(actions[0].Name).Equal("mike")
			g.Assert(actions[1].Name).Equal("bravo")
			g.Assert(Orphans(m, desired)).Equal([]string{"zulu"})
		})

		g.It("is idempotent", func() {
			desired := []config.ServerSpec{testSpec("zulu"), testSpec("alpha")}

			g.Assert(len(Reconcile(m, desired))).Equal(0)
			g.Assert(len(Orphans(m, desired))).Equal(0)
		})
	})
}
