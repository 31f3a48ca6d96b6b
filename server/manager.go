package server

import (
	"sync"

	"github.com/northstar-wraith/wraith/metrics"
	"github.com/northstar-wraith/wraith/ports"
)

// Manager is the fleet registry: every server record known to the supervisor
// in insertion order.
type Manager struct {
	mu      sync.RWMutex
	servers []*Server
}

// NewManager returns a new empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Len returns the count of servers stored in the manager instance.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.servers)
}

// Keys returns the names of every server in the manager, in insertion order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, len(m.servers))
	for i, s := range m.servers {
		keys[i] = s.Name()
	}
	return keys
}

// All returns all the items in the collection.
func (m *Manager) All() []*Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Server, len(m.servers))
	copy(out, m.servers)
	return out
}

// Add adds an item to the collection store. A record with the same name
// replaces the existing one in place.
func (m *Manager) Add(s *Server) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := s.Name()
	for i, v := range m.servers {
		if v.Name() == name {
			m.servers[i] = s
			return
		}
	}
	m.servers = append(m.servers, s)
	metrics.FleetServers.Set(float64(len(m.servers)))
}

// Get returns a single server instance and a boolean value indicating if it was
// found in the collection or not.
func (m *Manager) Get(name string) (*Server, bool) {
	match := m.Find(func(s *Server) bool {
		return s.Name() == name
	})
	return match, match != nil
}

// Filter returns only those items matching the filter criteria.
func (m *Manager) Filter(filter func(match *Server) bool) []*Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := make([]*Server, 0)
	for _, v := range m.servers {
		if filter(v) {
			r = append(r, v)
		}
	}
	return r
}

// Find returns a single element from the collection matching the filter. If
// nothing is found a nil result is returned.
func (m *Manager) Find(filter func(match *Server) bool) *Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.servers {
		if filter(v) {
			return v
		}
	}
	return nil
}

// Remove removes all items from the collection that match the filter function.
func (m *Manager) Remove(filter func(match *Server) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make([]*Server, 0, len(m.servers))
	for _, v := range m.servers {
		if !filter(v) {
			r = append(r, v)
		} else {
			metrics.DeleteServer(v.Name())
		}
	}
	m.servers = r
	metrics.FleetServers.Set(float64(len(m.servers)))
}

// Reserved returns the ports held by every record that is not stopped,
// leaving out the records with the given names.
func (m *Manager) Reserved(except ...string) ports.Reserved {
	skip := make(map[string]struct{}, len(except))
	for _, n := range except {
		skip[n] = struct{}{}
	}
	r := ports.NewReserved()
	for _, s := range m.All() {
		if _, ok := skip[s.Name()]; ok || !s.holdsPorts() {
			continue
		}
		asn := s.Ports()
		if asn.AuthPort != 0 {
			r.Add(asn.AuthPort)
		}
		if asn.GamePort != 0 {
			r.Add(asn.GamePort)
		}
	}
	return r
}

// Snapshots returns a view of every record, in insertion order.
func (m *Manager) Snapshots() []Snapshot {
	all := m.All()
	out := make([]Snapshot, len(all))
	for i, s := range all {
		out[i] = s.Snapshot()
	}
	return out
}
