package server

import (
	"emperror.dev/errors"
)

const (
	ErrServerNotFound    = errors.Sentinel("server: no server with that name")
	ErrSupervisorStopped = errors.Sentinel("server: supervisor is not running")
	ErrSupervisorRunning = errors.Sentinel("server: supervisor is already running")
	ErrRestoreNotFound   = errors.Sentinel("server: no restore record present")
	ErrRestoreCorrupt    = errors.Sentinel("server: restore record is unreadable")
	ErrNoConfigResolver  = errors.Sentinel("server: no configuration source")
)

// IsNotFound checks if the error is, or wraps, ErrServerNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrServerNotFound)
}
