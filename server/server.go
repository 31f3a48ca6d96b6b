package server

import (
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/metrics"
	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
)

type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	// StatusCrashed marks a server whose process died and that is waiting to
	// be relaunched by the watchdog.
	StatusCrashed Status = "crashed"
)

// Server is the runtime record of a single supervised server. Only the
// supervisor loop changes a record; everything else reads it through the
// accessors.
type Server struct {
	mu sync.RWMutex

	spec     config.ServerSpec
	ports    ports.Assignment
	identity *process.Identity
	status   Status

	// Set when the server is no longer part of the configuration. An orphaned
	// server keeps running until it is stopped with "stopold".
	orphaned  bool
	lastError error
	startedAt time.Time

	// The crash handler for this server instance.
	crasher CrashHandler
}

// New returns a stopped record for the spec.
func New(spec config.ServerSpec, asn ports.Assignment) *Server {
	return &Server{spec: spec, ports: asn, status: StatusStopped}
}

// Name returns the unique name of the server.
func (s *Server) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec.Name
}

func (s *Server) Spec() config.ServerSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec
}

func (s *Server) Ports() ports.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ports
}

// Identity returns the identity of the server process, if one is tracked.
func (s *Server) Identity() (process.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return process.Identity{}, false
	}
	return *s.identity, true
}

func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsOrphaned reports whether the server has been removed from the
// configuration while it was running.
func (s *Server) IsOrphaned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orphaned
}

// LastError returns the error of the most recent failed launch, if any.
func (s *Server) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Log returns a logger with the server name attached.
func (s *Server) Log() *log.Entry {
	return log.WithField("server", s.Name())
}

// holdsPorts reports whether the ports of this record are taken. Stopped
// records give their ports back.
func (s *Server) holdsPorts() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status != StatusStopped
}

func (s *Server) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	name := s.spec.Name
	s.mu.Unlock()
	metrics.SetServerStatus(name, string(st))
}

func (s *Server) setRunning(id process.Identity) {
	s.mu.Lock()
	s.identity = &id
	s.lastError = nil
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.setStatus(StatusRunning)
}

// setCrashed drops the identity of the dead process. err is the reason the
// server is not running, which is nil when the process simply exited.
func (s *Server) setCrashed(err error) {
	s.mu.Lock()
	s.identity = nil
	if err != nil {
		s.lastError = err
	}
	s.mu.Unlock()
	s.setStatus(StatusCrashed)
}

func (s *Server) setStopped(err error) {
	s.mu.Lock()
	s.identity = nil
	s.lastError = err
	s.mu.Unlock()
	s.setStatus(StatusStopped)
}

// replace swaps in a freshly resolved spec and port assignment. Only done
// while the server is not running.
func (s *Server) replace(spec config.ServerSpec, asn ports.Assignment) {
	s.mu.Lock()
	s.spec = spec
	s.ports = asn
	s.mu.Unlock()
}

func (s *Server) setOrphaned(v bool) {
	s.mu.Lock()
	s.orphaned = v
	s.mu.Unlock()
}

// Snapshot is a point in time view of a server record.
type Snapshot struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Status      Status     `json:"status"`
	PID         int32      `json:"pid,omitempty"`
	StartMarker int64      `json:"start_marker,omitempty"`
	AuthPort    uint16     `json:"auth_port,omitempty"`
	GamePort    uint16     `json:"game_port,omitempty"`
	Orphaned    bool       `json:"orphaned"`
	Crashes     int        `json:"crashes"`
	LastCrash   *time.Time `json:"last_crash,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Name:        s.spec.Name,
		DisplayName: s.spec.DisplayName,
		Status:      s.status,
		AuthPort:    s.ports.AuthPort,
		GamePort:    s.ports.GamePort,
		Orphaned:    s.orphaned,
	}
	if s.identity != nil {
		snap.PID = s.identity.PID
		snap.StartMarker = s.identity.StartMarker
	}
	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
	}
	if s.status == StatusRunning && !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	s.mu.RUnlock()

	snap.Crashes = s.crasher.Count()
	if t := s.crasher.LastCrashTime(); !t.IsZero() {
		snap.LastCrash = &t
	}
	return snap
}
