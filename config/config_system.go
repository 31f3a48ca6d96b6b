package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
)

// SystemConfiguration defines where wraith keeps its own files and how it
// treats the processes it supervises.
type SystemConfiguration struct {
	// The directory where wraith keeps its own data. Relative paths are
	// resolved against the directory of the configuration file.
	RootDirectory string `default:"." json:"root_directory" yaml:"root_directory" toml:"root_directory"`

	// Directory where the supervisor log is written. Relative to the root
	// directory.
	LogDirectory string `default:"logs" json:"log_directory" yaml:"log_directory" toml:"log_directory"`

	// The location of the restore record written by "stopwraith". Defaults to
	// the configuration path with a ".restore.json" suffix.
	RestoreFile string `json:"restore_file" yaml:"restore_file" toml:"restore_file"`

	// The SQLite database holding the server event history. Relative to the
	// root directory.
	Database string `default:"wraith.db" json:"database" yaml:"database" toml:"database"`

	// Events older than this many days are removed from the history. Zero
	// keeps every event.
	HistoryRetention int `default:"30" json:"history_retention_days" yaml:"history_retention_days" toml:"history_retention_days"`

	// When enabled, ports that are bound by other programs on the host are
	// never handed out to servers.
	CheckHostPorts bool `json:"check_host_ports" yaml:"check_host_ports" toml:"check_host_ports"`

	// The number of seconds to wait for a server process to exit after it has
	// been killed.
	StopTimeout int `default:"10" json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`

	CrashDetection CrashDetection `json:"crash_detection" yaml:"crash_detection" toml:"crash_detection"`
}

// CrashDetection controls how crashed servers are brought back up. By default
// a crashed server is relaunched on every poll until it starts.
type CrashDetection struct {
	// Space relaunch attempts of a server that keeps failing to start using
	// an exponential backoff.
	Backoff bool `json:"backoff" yaml:"backoff" toml:"backoff"`

	// Initial and maximum wait between two relaunch attempts, in seconds.
	InitialInterval int `default:"5" json:"initial_interval" yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     int `default:"300" json:"max_interval" yaml:"max_interval" toml:"max_interval"`
}

func (c *Configuration) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

// RootPath returns the absolute root directory.
func (c *Configuration) RootPath() string {
	return c.resolve(c.System.RootDirectory)
}

// LogPath returns the absolute log directory.
func (c *Configuration) LogPath() string {
	if filepath.IsAbs(c.System.LogDirectory) {
		return c.System.LogDirectory
	}
	return filepath.Join(c.RootPath(), c.System.LogDirectory)
}

// DatabasePath returns the absolute location of the event database.
func (c *Configuration) DatabasePath() string {
	if filepath.IsAbs(c.System.Database) {
		return c.System.Database
	}
	return filepath.Join(c.RootPath(), c.System.Database)
}

// RestorePath returns the location of the restore record.
func (c *Configuration) RestorePath() string {
	if c.System.RestoreFile != "" {
		return c.resolve(c.System.RestoreFile)
	}
	return c.path + ".restore.json"
}

// LockPath returns the location of the lock file that keeps two supervisors
// from running against the same configuration.
func (c *Configuration) LockPath() string {
	return c.path + ".lock"
}

// PollInterval returns the time between two liveness checks.
func (c *Configuration) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds * float64(time.Second))
}

// StopTimeout returns how long to wait for a killed process to exit.
func (c *Configuration) StopTimeout() time.Duration {
	return time.Duration(c.System.StopTimeout) * time.Second
}

// ConfigureDirectories ensures that the directories wraith writes to exist.
func (c *Configuration) ConfigureDirectories() error {
	for _, dir := range []string{c.RootPath(), c.LogPath(), filepath.Dir(c.DatabasePath())} {
		log.WithField("path", dir).Debug("ensuring directory exists")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
