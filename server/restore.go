package server

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
)

// RestoreVersion is the version of the restore record format written by this
// build. Records of any other version are treated as corrupt.
const RestoreVersion = 1

// RestoreEntry is the handover state of a single server.
type RestoreEntry struct {
	Name string `json:"name"`
	// Identity is missing for a server that was waiting to be relaunched when
	// the record was written.
	Identity *process.Identity `json:"identity,omitempty"`
	Ports    ports.Assignment  `json:"ports"`
	Spec     config.ServerSpec `json:"spec"`
}

// RestoreRecord is written by a supervisor that exits without stopping its
// servers, and read back by the next one to pick up where it left off.
type RestoreRecord struct {
	Version    int            `json:"version"`
	Instance   string         `json:"instance"`
	DetachedAt time.Time      `json:"detached_at"`
	Servers    []RestoreEntry `json:"servers"`
}

// Detach captures every running or crashed server in registry order. Stopped
// servers are not carried over.
func Detach(m *Manager, instance string) RestoreRecord {
	rec := RestoreRecord{
		Version:    RestoreVersion,
		Instance:   instance,
		DetachedAt: time.Now().UTC(),
		Servers:    []RestoreEntry{},
	}
	for _, s := range m.All() {
		switch s.Status() {
		case StatusRunning, StatusCrashed, StatusStarting:
		default:
			continue
		}
		e := RestoreEntry{Name: s.Name(), Ports: s.Ports(), Spec: s.Spec()}
		if id, ok := s.Identity(); ok {
			e.Identity = &id
		}
		rec.Servers = append(rec.Servers, e)
	}
	return rec
}

// Attach rebuilds a registry from a restore record. Servers whose process is
// still alive come back as running; every other server comes back as crashed
// so that the first watchdog tick relaunches it with its old ports.
func Attach(ctx context.Context, rec RestoreRecord, tracker process.Tracker) *Manager {
	m := NewManager()
	for _, e := range rec.Servers {
		s := New(e.Spec, e.Ports)
		if e.Identity != nil && tracker.IsAlive(ctx, *e.Identity) {
			s.setRunning(*e.Identity)
			s.Log().WithField("pid", e.Identity.PID).Info("reattached to running server process")
		} else {
			s.setCrashed(nil)
			s.Log().Warn("server process is no longer running, it will be relaunched")
		}
		m.Add(s)
	}
	return m
}

// RestoreStore persists a restore record on disk.
type RestoreStore struct {
	Path string
}

func NewRestoreStore(path string) *RestoreStore {
	return &RestoreStore{Path: path}
}

func (rs *RestoreStore) lock() (*flock.Flock, error) {
	fl := flock.New(rs.Path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, errors.Wrap(err, "server: failed to lock restore record")
	}
	return fl, nil
}

// Write replaces the record on disk. The record is written to a temporary
// file next to the destination and renamed over it, so a reader never sees a
// partially written record.
func (rs *RestoreStore) Write(rec RestoreRecord) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fl, err := rs.lock()
	if err != nil {
		return err
	}
	defer fl.Unlock()

	dir := filepath.Dir(rs.Path)
	f, err := os.CreateTemp(dir, filepath.Base(rs.Path)+".*.tmp")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := f.Name()
	cleanup := func() {
		_ = os.Remove(tmp)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		cleanup()
		return errors.WithStack(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, rs.Path); err != nil {
		cleanup()
		return errors.WithStack(err)
	}
	// Persist the rename itself. Not every platform can sync a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Read loads the record from disk. ErrRestoreNotFound is returned when there
// is no record and ErrRestoreCorrupt when it cannot be used.
func (rs *RestoreStore) Read() (RestoreRecord, error) {
	fl, err := rs.lock()
	if err != nil {
		return RestoreRecord{}, err
	}
	defer fl.Unlock()

	b, err := os.ReadFile(rs.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RestoreRecord{}, errors.WithStack(ErrRestoreNotFound)
		}
		return RestoreRecord{}, errors.WithStack(err)
	}
	var rec RestoreRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return RestoreRecord{}, errors.Errorf("%w: %s", ErrRestoreCorrupt, err)
	}
	if rec.Version != RestoreVersion {
		return RestoreRecord{}, errors.Errorf("%w: unsupported version %d", ErrRestoreCorrupt, rec.Version)
	}
	seen := make(map[string]struct{}, len(rec.Servers))
	for _, e := range rec.Servers {
		if e.Name == "" || e.Spec.Name != e.Name {
			return RestoreRecord{}, errors.Errorf("%w: entry %q does not match its spec", ErrRestoreCorrupt, e.Name)
		}
		if _, ok := seen[e.Name]; ok {
			return RestoreRecord{}, errors.Errorf("%w: server %q appears more than once", ErrRestoreCorrupt, e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return rec, nil
}

// Remove deletes the record so that it is never applied twice. A missing
// record is not an error.
func (rs *RestoreStore) Remove() error {
	fl, err := rs.lock()
	if err != nil {
		return err
	}
	defer fl.Unlock()

	if err := os.Remove(rs.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.WithStack(err)
	}
	log.WithField("path", rs.Path).Debug("removed restore record")
	return nil
}
