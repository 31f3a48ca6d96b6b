package server

import (
	"time"
)

type EventType string

// The lifecycle events recorded for a server.
const (
	EventStarted      EventType = "started"
	EventCrashed      EventType = "crashed"
	EventLaunchFailed EventType = "launch_failed"
	EventStopped      EventType = "stopped"
	EventAttached     EventType = "attached"
	EventEvicted      EventType = "evicted"
	EventDetached     EventType = "detached"
)

// Event is a single entry in the lifecycle history of a server.
type Event struct {
	Server   string    `json:"server"`
	Type     EventType `json:"type"`
	PID      int32     `json:"pid,omitempty"`
	AuthPort uint16    `json:"auth_port,omitempty"`
	GamePort uint16    `json:"game_port,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Recorder stores lifecycle events. Implementations must not block the
// supervisor for long.
type Recorder interface {
	Record(e Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}

func newEvent(s *Server, t EventType, err error) Event {
	e := Event{Server: s.Name(), Type: t, At: time.Now().UTC()}
	asn := s.Ports()
	e.AuthPort, e.GamePort = asn.AuthPort, asn.GamePort
	if id, ok := s.Identity(); ok {
		e.PID = id.PID
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
