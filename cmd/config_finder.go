package cmd

import (
	"os"
	"path/filepath"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/system"
)

// FindConfiguration returns the configuration file to use when none was
// passed on the command line. The WRAITH_CONFIG environment variable wins,
// then the default TOML location, then a YAML file of the same name in the
// working directory.
func FindConfiguration() (string, error) {
	if p := system.FirstNotEmpty(os.Getenv("WRAITH_CONFIG")); p != "" {
		return filepath.Abs(p)
	}
	check := []string{
		config.DefaultLocation,
		"wraith.yaml",
		"wraith.yml",
	}
	for _, p := range check {
		if s, err := os.Stat(p); err != nil {
			if !os.IsNotExist(err) {
				return "", err
			}
		} else if !s.IsDir() {
			return filepath.Abs(p)
		}
	}
	// Let the caller display a friendly message.
	return "", os.ErrNotExist
}
