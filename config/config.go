package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
)

const DefaultLocation = "wraith.toml"

var (
	mu      sync.RWMutex
	_config *Configuration
)

type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if wraith should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool `json:"debug" yaml:"debug" toml:"debug"`

	// The number of seconds between two liveness checks of the fleet.
	PollSeconds float64 `default:"5" json:"poll_seconds" yaml:"poll_seconds" toml:"poll_seconds"`

	// The ranges from which auth and game ports are handed out to servers that
	// do not pin their own.
	AuthPorts ports.Range `default:"{\"start\":8081,\"end\":8090}" json:"auth_ports" yaml:"auth_ports" toml:"auth_ports"`
	GamePorts ports.Range `default:"{\"start\":37015,\"end\":37020}" json:"game_ports" yaml:"game_ports" toml:"game_ports"`

	System SystemConfiguration `json:"system" yaml:"system" toml:"system"`
	Api    ApiConfiguration    `json:"api" yaml:"api" toml:"api"`

	// Settings applied to every server unless the server overrides them.
	Defaults GameConfig `json:"-" yaml:"defaults" toml:"defaults"`

	// The servers to run, in declaration order.
	Servers ServerList `json:"-" yaml:"servers" toml:"-"`
}

// ApiConfiguration defines the local HTTP API used to control the supervisor
// without access to its console.
type ApiConfiguration struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Host    string `default:"127.0.0.1" json:"host" yaml:"host" toml:"host"`
	Port    int    `default:"8100" json:"port" yaml:"port" toml:"port"`

	// The bearer token every request must present.
	Token string `json:"-" yaml:"token" toml:"token"`
}

// NewAtPath returns a configuration with every default applied that will be
// read from and resolved relative to the given path.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	if err := defaults.Set(&c); err != nil {
		return nil, errors.WithStack(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.path = abs
	return &c, nil
}

// FromFile reads the configuration from the provided file. The format is
// picked from the file extension: ".toml" files are parsed as TOML and every
// other file as YAML. Environment variables in the file are expanded before
// it is parsed.
func FromFile(path string) (*Configuration, error) {
	c, err := NewAtPath(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	data := os.ExpandEnv(string(b))
	if strings.EqualFold(filepath.Ext(c.path), ".toml") {
		err = c.decodeTOML(data)
	} else {
		err = c.decodeYAML(data)
	}
	if err != nil {
		return nil, errors.WrapIf(err, "config: failed to parse "+c.path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) decodeYAML(data string) error {
	return errors.WithStack(yaml.Unmarshal([]byte(data), c))
}

func (c *Configuration) decodeTOML(data string) error {
	if _, err := toml.Decode(data, c); err != nil {
		return errors.WithStack(err)
	}
	var doc struct {
		Servers map[string]toml.Primitive `toml:"servers"`
	}
	md, err := toml.Decode(data, &doc)
	if err != nil {
		return errors.WithStack(err)
	}

	// Recover declaration order from the document keys, since tables are
	// handed to the decoder as maps.
	order := make(map[string][]string)
	for _, key := range md.Keys() {
		if len(key) == 0 {
			continue
		}
		parent := strings.Join(key[:len(key)-1], "\x00")
		order[parent] = append(order[parent], key[len(key)-1])
	}

	c.Servers = make(ServerList, 0, len(doc.Servers))
	for _, name := range order["servers"] {
		prim, ok := doc.Servers[name]
		if !ok || c.Servers.Get(name) != nil {
			continue
		}
		sc := &ServerConfig{name: name}
		if err := md.PrimitiveDecode(prim, sc); err != nil {
			return errors.WrapIf(err, "config: failed to decode server "+name)
		}
		sc.ExtraVars.reorder(order[strings.Join([]string{"servers", name, "extra_vars"}, "\x00")])
		sc.ExtraPlaylistVars.reorder(order[strings.Join([]string{"servers", name, "extra_playlist_vars"}, "\x00")])
		c.Servers = append(c.Servers, sc)
	}
	c.Defaults.ExtraVars.reorder(order["defaults\x00extra_vars"])
	c.Defaults.ExtraPlaylistVars.reorder(order["defaults\x00extra_playlist_vars"])
	return nil
}

// Path returns the absolute location of the configuration file.
func (c *Configuration) Path() string {
	return c.path
}

// Dir returns the directory that relative paths in the configuration are
// resolved against.
func (c *Configuration) Dir() string {
	return filepath.Dir(c.path)
}

// Validate checks the configuration for values that can never work. Every
// problem found is returned.
func (c *Configuration) Validate() error {
	var errs []error
	if c.PollSeconds <= 0 {
		errs = append(errs, errors.New("config: poll_seconds must be greater than zero"))
	}
	if err := c.AuthPorts.Validate(); err != nil {
		errs = append(errs, errors.WrapIf(err, "config: invalid auth_ports "+c.AuthPorts.String()))
	}
	if err := c.GamePorts.Validate(); err != nil {
		errs = append(errs, errors.WrapIf(err, "config: invalid game_ports "+c.GamePorts.String()))
	}
	if c.System.StopTimeout <= 0 {
		errs = append(errs, errors.New("config: system.stop_timeout must be greater than zero"))
	}
	if c.System.HistoryRetention < 0 {
		errs = append(errs, errors.New("config: system.history_retention_days cannot be negative"))
	}
	if c.Api.Enabled && c.Api.Token == "" {
		errs = append(errs, errors.New("config: api.token must be set when the api is enabled"))
	}
	errs = append(errs, validateGame("defaults", c.Defaults)...)

	seen := make(map[string]struct{}, len(c.Servers))
	for _, sc := range c.Servers {
		if _, ok := seen[sc.name]; ok {
			errs = append(errs, errors.Errorf("config: server %q is defined more than once", sc.name))
		}
		seen[sc.name] = struct{}{}
		if strings.TrimSpace(sc.name) == "" || strings.ContainsAny(sc.name, " \t") {
			errs = append(errs, errors.Errorf("config: server name %q must be a single word", sc.name))
		}
		for _, p := range []*uint16{sc.AuthPort, sc.GamePort} {
			if p != nil && *p == 0 {
				errs = append(errs, errors.Errorf("config: server %q pins port 0", sc.name))
			}
		}
		errs = append(errs, validateGame("servers."+sc.name, sc.GameConfig)...)
	}
	return errors.Combine(errs...)
}

func validateGame(where string, g GameConfig) []error {
	var errs []error
	if g.MasterURL != nil && !govalidator.IsURL(*g.MasterURL) {
		errs = append(errs, errors.Errorf("config: %s: master_url %q is not a valid URL", where, *g.MasterURL))
	}
	if g.Priority != nil {
		if _, err := process.ParsePriority(*g.Priority); err != nil {
			errs = append(errs, errors.WrapIf(err, "config: "+where))
		}
	}
	if g.GraphicsMode != nil && *g.GraphicsMode != GraphicsModeDefault && *g.GraphicsMode != GraphicsModeSoftware {
		errs = append(errs, errors.Errorf("config: %s: unknown graphics_mode %q", where, *g.GraphicsMode))
	}
	if g.PlayerPermissions != nil {
		switch *g.PlayerPermissions {
		case PlayerPermissionsAll, PlayerPermissionsMapModeOnly, PlayerPermissionsNone:
		default:
			errs = append(errs, errors.Errorf("config: %s: unknown player_permissions %q", where, *g.PlayerPermissions))
		}
	}
	if g.PilotBleedoutMode != nil {
		switch *g.PilotBleedoutMode {
		case PilotBleedoutDefault, PilotBleedoutDisabled, PilotBleedoutEnabled:
		default:
			errs = append(errs, errors.Errorf("config: %s: unknown pilot_bleedout_mode %q", where, *g.PilotBleedoutMode))
		}
	}
	if g.PilotBoostMeterOverdrive != nil {
		switch *g.PilotBoostMeterOverdrive {
		case BoostMeterOverdriveEnabled, BoostMeterOverdriveDisabled, BoostMeterOverdriveOnly:
		default:
			errs = append(errs, errors.Errorf("config: %s: unknown pilot_boost_meter_overdrive %q", where, *g.PilotBoostMeterOverdrive))
		}
	}
	if g.TickRate != nil && *g.TickRate == 0 {
		errs = append(errs, errors.Errorf("config: %s: tick_rate must be greater than zero", where))
	}
	if g.RestartSchedule != nil && *g.RestartSchedule != "" {
		if err := ValidateSchedule(*g.RestartSchedule); err != nil {
			errs = append(errs, errors.WrapIf(err, "config: "+where))
		}
	}
	for _, r := range g.Riffs {
		if _, err := ParseRiff(r); err != nil {
			errs = append(errs, errors.WrapIf(err, "config: "+where))
		}
	}
	return errs
}

// Specs resolves every configured server, in declaration order.
func (c *Configuration) Specs() ([]ServerSpec, error) {
	specs := make([]ServerSpec, 0, len(c.Servers))
	for _, sc := range c.Servers {
		s, err := sc.Resolve(c.Defaults, c.Dir())
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// Spec resolves a single server by name.
func (c *Configuration) Spec(name string) (ServerSpec, bool, error) {
	sc := c.Servers.Get(name)
	if sc == nil {
		return ServerSpec{}, false, nil
	}
	s, err := sc.Resolve(c.Defaults, c.Dir())
	return s, true, err
}

// Set the global configuration instance.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// Get returns the global configuration instance. This is a read-only view;
// a reload replaces the instance instead of changing it.
func Get() *Configuration {
	mu.RLock()
	defer mu.RUnlock()
	return _config
}
