package database

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/northstar-wraith/wraith/internal/models"
	"github.com/northstar-wraith/wraith/server"
	"github.com/northstar-wraith/wraith/system"
)

var o system.AtomicBool
var db *gorm.DB

// Initialize configures the local SQLite database for wraith and ensures that
// the models have been fully migrated.
func Initialize(path string) error {
	if !o.SwapIf(true) {
		panic("database: attempt to initialize more than once during application lifecycle")
	}
	instance, err := Open(path)
	if err != nil {
		return err
	}
	db = instance
	return nil
}

// Instance returns the gorm database instance that was configured when the
// application was booted.
func Instance() *gorm.DB {
	if db == nil {
		panic("database: attempt to access instance before initialized")
	}
	return db
}

// Open opens the database file at path and migrates it.
func Open(path string) (*gorm.DB, error) {
	instance, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "database: could not open database file")
	}
	if err := instance.AutoMigrate(&models.Event{}); err != nil {
		return nil, errors.WithStack(err)
	}
	return instance, nil
}

// History stores server lifecycle events and reads them back.
type History struct {
	// SQLite allows a single writer at a time.
	mu sync.Mutex
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// Record stores an event. A failure is logged and otherwise ignored so that
// the supervisor never stalls on its history.
func (h *History) Record(e server.Event) {
	m := models.Event{
		Server:    e.Server,
		Type:      string(e.Type),
		PID:       e.PID,
		AuthPort:  e.AuthPort,
		GamePort:  e.GamePort,
		Timestamp: e.At,
	}.SetError(e.Error)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.db.Create(m).Error; err != nil {
		log.WithField("server", e.Server).WithField("error", err).Warn("database: failed to record server event")
	}
}

// History returns the most recent events, newest first. An empty name returns
// the events of every server.
func (h *History) History(ctx context.Context, name string, limit int) ([]server.Event, error) {
	q := h.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
	if name != "" {
		q = q.Where("server = ?", name)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Event
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "database: failed to query server events")
	}
	out := make([]server.Event, len(rows))
	for i, r := range rows {
		out[i] = server.Event{
			Server:   r.Server,
			Type:     server.EventType(r.Type),
			PID:      r.PID,
			AuthPort: r.AuthPort,
			GamePort: r.GamePort,
			Error:    r.Error.String,
			At:       r.Timestamp,
		}
	}
	return out, nil
}

// Prune deletes every event older than the cutoff and returns the number of
// events removed.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&models.Event{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "database: failed to prune server events")
	}
	return res.RowsAffected, nil
}
