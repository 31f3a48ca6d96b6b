package models

import (
	"time"

	"gorm.io/gorm"
)

// Event is a single lifecycle event of a supervised server, as stored in the
// local history database.
type Event struct {
	ID int `gorm:"primaryKey;not null" json:"-"`
	// Server is the configured name of the server this event belongs to.
	Server string `gorm:"index;not null" json:"server"`
	// Type is what happened, such as "started" or "crashed".
	Type string `gorm:"index;not null" json:"type"`
	PID  int32  `json:"pid,omitempty"`
	// The ports the server held when the event happened.
	AuthPort uint16 `json:"auth_port,omitempty"`
	GamePort uint16 `json:"game_port,omitempty"`
	// Error is set for failures, and is a null value otherwise.
	Error     NullString `json:"error"`
	Timestamp time.Time  `gorm:"index;not null" json:"timestamp"`
}

// SetError sets the failure that caused the event. An empty string is stored
// as a null value.
func (e Event) SetError(msg string) *Event {
	e.Error = NewNullString(msg)
	return &e
}

// BeforeCreate ensures the timestamp is set and stored as UTC.
func (e *Event) BeforeCreate(_ *gorm.DB) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	return nil
}
