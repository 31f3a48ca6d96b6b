package config

import (
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/iancoleman/strcase"

	"github.com/northstar-wraith/wraith/process"
)

type GraphicsMode string

const (
	GraphicsModeDefault  GraphicsMode = "default"
	GraphicsModeSoftware GraphicsMode = "software"
)

type PlayerPermissions string

const (
	PlayerPermissionsAll         PlayerPermissions = "all"
	PlayerPermissionsMapModeOnly PlayerPermissions = "map-mode-only"
	PlayerPermissionsNone        PlayerPermissions = "none"
)

type BoostMeterOverdrive string

const (
	BoostMeterOverdriveEnabled  BoostMeterOverdrive = "enabled"
	BoostMeterOverdriveDisabled BoostMeterOverdrive = "disabled"
	BoostMeterOverdriveOnly     BoostMeterOverdrive = "only"
)

type PilotBleedout string

const (
	PilotBleedoutDefault  PilotBleedout = "default"
	PilotBleedoutDisabled PilotBleedout = "disabled"
	PilotBleedoutEnabled  PilotBleedout = "enabled"
)

// Riff is a gameplay modifier bundle applied on top of the base playlist.
type Riff string

const (
	RiffFloorIsLava       Riff = "floor-is-lava"
	RiffAllHolopilot      Riff = "all-holopilot"
	RiffAllGrapple        Riff = "all-grapple"
	RiffAllPhase          Riff = "all-phase"
	RiffAllTicks          Riff = "all-ticks"
	RiffTactikill         Riff = "tactikill"
	RiffAmpedTacticals    Riff = "amped-tacticals"
	RiffRocketArena       Riff = "rocket-arena"
	RiffShotgunsSnipers   Riff = "shotguns-snipers"
	RiffIronRules         Riff = "iron-rules"
	RiffFirstPersonEmbark Riff = "first-person-embark"
	RiffInstagib          Riff = "instagib"
)

// Riffs lists every known riff in the order their playlist vars are emitted.
var Riffs = []Riff{
	RiffFloorIsLava,
	RiffAllHolopilot,
	RiffAllGrapple,
	RiffAllPhase,
	RiffAllTicks,
	RiffTactikill,
	RiffAmpedTacticals,
	RiffRocketArena,
	RiffShotgunsSnipers,
	RiffIronRules,
	RiffFirstPersonEmbark,
	RiffInstagib,
}

// ParseRiff accepts any casing of a riff name, so "FloorIsLava",
// "floor_is_lava" and "floor-is-lava" are the same riff.
func ParseRiff(v string) (Riff, error) {
	r := Riff(strcase.ToKebab(strings.TrimSpace(v)))
	for _, known := range Riffs {
		if r == known {
			return r, nil
		}
	}
	return "", errors.Errorf("config: unknown riff %q", v)
}

// PlaylistOverrides are the typed playlist variable overrides. Every field is
// optional and unset fields are not passed to the server.
type PlaylistOverrides struct {
	Riffs []string `json:"riffs,omitempty" yaml:"riffs" toml:"riffs"`

	MatchClassicMPEnabled *bool    `json:"match_classic_mp_enabled,omitempty" yaml:"match_classic_mp_enabled" toml:"match_classic_mp_enabled"`
	MatchEpilogueEnabled  *bool    `json:"match_epilogue_enabled,omitempty" yaml:"match_epilogue_enabled" toml:"match_epilogue_enabled"`
	MatchScoreLimit       *float64 `json:"match_scorelimit,omitempty" yaml:"match_scorelimit" toml:"match_scorelimit"`
	MatchRoundScoreLimit  *float64 `json:"match_round_scorelimit,omitempty" yaml:"match_round_scorelimit" toml:"match_round_scorelimit"`
	MatchTimeLimit        *float64 `json:"match_timelimit,omitempty" yaml:"match_timelimit" toml:"match_timelimit"`
	MatchRoundTimeLimit   *float64 `json:"match_round_timelimit,omitempty" yaml:"match_round_timelimit" toml:"match_round_timelimit"`
	MatchOOBTimerEnabled  *bool    `json:"match_oob_timer_enabled,omitempty" yaml:"match_oob_timer_enabled" toml:"match_oob_timer_enabled"`
	MatchMaxPlayers       *uint32  `json:"match_max_players,omitempty" yaml:"match_max_players" toml:"match_max_players"`

	TitanBoostMeterMultiplier       *float64 `json:"titan_boost_meter_multiplier,omitempty" yaml:"titan_boost_meter_multiplier" toml:"titan_boost_meter_multiplier"`
	TitanAegisUpgradesEnabled       *bool    `json:"titan_aegis_upgrades_enabled,omitempty" yaml:"titan_aegis_upgrades_enabled" toml:"titan_aegis_upgrades_enabled"`
	TitanInfiniteDoomedStateEnabled *bool    `json:"titan_infinite_doomed_state_enabled,omitempty" yaml:"titan_infinite_doomed_state_enabled" toml:"titan_infinite_doomed_state_enabled"`
	TitanShieldRegenEnabled         *bool    `json:"titan_shield_regen_enabled,omitempty" yaml:"titan_shield_regen_enabled" toml:"titan_shield_regen_enabled"`
	TitanClassicRodeoEnabled        *bool    `json:"titan_classic_rodeo_enabled,omitempty" yaml:"titan_classic_rodeo_enabled" toml:"titan_classic_rodeo_enabled"`

	PilotBleedoutMode              *PilotBleedout `json:"pilot_bleedout_mode,omitempty" yaml:"pilot_bleedout_mode" toml:"pilot_bleedout_mode"`
	PilotBleedoutHolsterWhenDown   *bool          `json:"pilot_bleedout_holster_when_down,omitempty" yaml:"pilot_bleedout_holster_when_down" toml:"pilot_bleedout_holster_when_down"`
	PilotBleedoutDieOnTeamBleedout *bool          `json:"pilot_bleedout_die_on_team_bleedout,omitempty" yaml:"pilot_bleedout_die_on_team_bleedout" toml:"pilot_bleedout_die_on_team_bleedout"`
	PilotBleedoutTime              *float64       `json:"pilot_bleedout_bleedout_time,omitempty" yaml:"pilot_bleedout_bleedout_time" toml:"pilot_bleedout_bleedout_time"`
	PilotBleedoutFirstAidTime      *float64       `json:"pilot_bleedout_firstaid_time,omitempty" yaml:"pilot_bleedout_firstaid_time" toml:"pilot_bleedout_firstaid_time"`
	PilotBleedoutSelfResTime       *float64       `json:"pilot_bleedout_selfres_time,omitempty" yaml:"pilot_bleedout_selfres_time" toml:"pilot_bleedout_selfres_time"`
	PilotBleedoutFirstAidHeal      *float64       `json:"pilot_bleedout_firstaid_heal_percent,omitempty" yaml:"pilot_bleedout_firstaid_heal_percent" toml:"pilot_bleedout_firstaid_heal_percent"`
	PilotBleedoutAIMissChance      *float64       `json:"pilot_bleedout_down_ai_miss_chance,omitempty" yaml:"pilot_bleedout_down_ai_miss_chance" toml:"pilot_bleedout_down_ai_miss_chance"`

	PromodeWeaponsEnabled *bool `json:"promode_weapons_enabled,omitempty" yaml:"promode_weapons_enabled" toml:"promode_weapons_enabled"`

	PilotHealthMultiplier     *float64             `json:"pilot_health_multiplier,omitempty" yaml:"pilot_health_multiplier" toml:"pilot_health_multiplier"`
	PilotRespawnDelay         *float64             `json:"pilot_respawn_delay,omitempty" yaml:"pilot_respawn_delay" toml:"pilot_respawn_delay"`
	PilotBoostsEnabled        *bool                `json:"pilot_boosts_enabled,omitempty" yaml:"pilot_boosts_enabled" toml:"pilot_boosts_enabled"`
	PilotBoostMeterOverdrive  *BoostMeterOverdrive `json:"pilot_boost_meter_overdrive,omitempty" yaml:"pilot_boost_meter_overdrive" toml:"pilot_boost_meter_overdrive"`
	PilotBoostMeterMultiplier *float64             `json:"pilot_boost_meter_multiplier,omitempty" yaml:"pilot_boost_meter_multiplier" toml:"pilot_boost_meter_multiplier"`
	PilotAirAcceleration      *float64             `json:"pilot_air_acceleration,omitempty" yaml:"pilot_air_acceleration" toml:"pilot_air_acceleration"`
	PilotCollisionEnabled     *bool                `json:"pilot_collision_enabled,omitempty" yaml:"pilot_collision_enabled" toml:"pilot_collision_enabled"`
}

// HasRiff reports whether the riff is enabled.
func (p PlaylistOverrides) HasRiff(r Riff) bool {
	for _, v := range p.Riffs {
		if pr, err := ParseRiff(v); err == nil && pr == r {
			return true
		}
	}
	return false
}

// Or returns p with every unset value taken from o. Riffs from both are kept.
func (p PlaylistOverrides) Or(o PlaylistOverrides) PlaylistOverrides {
	out := p
	out.Riffs = unionStrings(o.Riffs, p.Riffs)
	orPtr(&out.MatchClassicMPEnabled, o.MatchClassicMPEnabled)
	orPtr(&out.MatchEpilogueEnabled, o.MatchEpilogueEnabled)
	orPtr(&out.MatchScoreLimit, o.MatchScoreLimit)
	orPtr(&out.MatchRoundScoreLimit, o.MatchRoundScoreLimit)
	orPtr(&out.MatchTimeLimit, o.MatchTimeLimit)
	orPtr(&out.MatchRoundTimeLimit, o.MatchRoundTimeLimit)
	orPtr(&out.MatchOOBTimerEnabled, o.MatchOOBTimerEnabled)
	orPtr(&out.MatchMaxPlayers, o.MatchMaxPlayers)
	orPtr(&out.TitanBoostMeterMultiplier, o.TitanBoostMeterMultiplier)
	orPtr(&out.TitanAegisUpgradesEnabled, o.TitanAegisUpgradesEnabled)
	orPtr(&out.TitanInfiniteDoomedStateEnabled, o.TitanInfiniteDoomedStateEnabled)
	orPtr(&out.TitanShieldRegenEnabled, o.TitanShieldRegenEnabled)
	orPtr(&out.TitanClassicRodeoEnabled, o.TitanClassicRodeoEnabled)
	orPtr(&out.PilotBleedoutMode, o.PilotBleedoutMode)
	orPtr(&out.PilotBleedoutHolsterWhenDown, o.PilotBleedoutHolsterWhenDown)
	orPtr(&out.PilotBleedoutDieOnTeamBleedout, o.PilotBleedoutDieOnTeamBleedout)
	orPtr(&out.PilotBleedoutTime, o.PilotBleedoutTime)
	orPtr(&out.PilotBleedoutFirstAidTime, o.PilotBleedoutFirstAidTime)
	orPtr(&out.PilotBleedoutSelfResTime, o.PilotBleedoutSelfResTime)
	orPtr(&out.PilotBleedoutFirstAidHeal, o.PilotBleedoutFirstAidHeal)
	orPtr(&out.PilotBleedoutAIMissChance, o.PilotBleedoutAIMissChance)
	orPtr(&out.PromodeWeaponsEnabled, o.PromodeWeaponsEnabled)
	orPtr(&out.PilotHealthMultiplier, o.PilotHealthMultiplier)
	orPtr(&out.PilotRespawnDelay, o.PilotRespawnDelay)
	orPtr(&out.PilotBoostsEnabled, o.PilotBoostsEnabled)
	orPtr(&out.PilotBoostMeterOverdrive, o.PilotBoostMeterOverdrive)
	orPtr(&out.PilotBoostMeterMultiplier, o.PilotBoostMeterMultiplier)
	orPtr(&out.PilotAirAcceleration, o.PilotAirAcceleration)
	orPtr(&out.PilotCollisionEnabled, o.PilotCollisionEnabled)
	return out
}

// GameConfig holds the settings that may be given in the defaults block or on
// an individual server. Every value is optional; the server's own value wins
// over the default one.
type GameConfig struct {
	Executable *string `yaml:"executable" toml:"executable"`
	GameDir    *string `yaml:"game_dir" toml:"game_dir"`

	Description            *string            `yaml:"description" toml:"description"`
	Password               *string            `yaml:"password" toml:"password"`
	TickRate               *uint32            `yaml:"tick_rate" toml:"tick_rate"`
	UpdateRate             *uint32            `yaml:"update_rate" toml:"update_rate"`
	MinUpdateRate          *uint32            `yaml:"min_update_rate" toml:"min_update_rate"`
	ReportToMaster         *bool              `yaml:"report_to_master" toml:"report_to_master"`
	MasterURL              *string            `yaml:"master_url" toml:"master_url"`
	AllowInsecure          *bool              `yaml:"allow_insecure" toml:"allow_insecure"`
	UseSocketsForLoopback  *bool              `yaml:"use_sockets_for_loopback" toml:"use_sockets_for_loopback"`
	EverythingUnlocked     *bool              `yaml:"everything_unlocked" toml:"everything_unlocked"`
	ShouldReturnToLobby    *bool              `yaml:"should_return_to_lobby" toml:"should_return_to_lobby"`
	PlayerPermissions      *PlayerPermissions `yaml:"player_permissions" toml:"player_permissions"`
	OnlyHostCanStart       *bool              `yaml:"only_host_can_start" toml:"only_host_can_start"`
	CountdownLengthSeconds *uint32            `yaml:"countdown_length_seconds" toml:"countdown_length_seconds"`

	GraphicsMode    *GraphicsMode `yaml:"graphics_mode" toml:"graphics_mode"`
	Priority        *string       `yaml:"priority" toml:"priority"`
	RestartSchedule *string       `yaml:"restart_schedule" toml:"restart_schedule"`

	Playlist    *string `yaml:"playlist" toml:"playlist"`
	Mode        *string `yaml:"mode" toml:"mode"`
	Map         *string `yaml:"map" toml:"map"`
	DefaultMode *string `yaml:"default_mode" toml:"default_mode"`
	DefaultMap  *string `yaml:"default_map" toml:"default_map"`

	PlaylistOverrides `yaml:",inline"`

	ExtraPlaylistVars Vars     `yaml:"extra_playlist_vars" toml:"extra_playlist_vars"`
	ExtraVars         Vars     `yaml:"extra_vars" toml:"extra_vars"`
	ExtraArgs         []string `yaml:"extra_args" toml:"extra_args"`
}

// Or returns g layered on top of o. Scalar values set on g win, extra vars
// from g override those from o with the same key, and list values from both
// are kept with o's entries first.
func (g GameConfig) Or(o GameConfig) GameConfig {
	out := g
	orPtr(&out.Executable, o.Executable)
	orPtr(&out.GameDir, o.GameDir)
	orPtr(&out.Description, o.Description)
	orPtr(&out.Password, o.Password)
	orPtr(&out.TickRate, o.TickRate)
	orPtr(&out.UpdateRate, o.UpdateRate)
	orPtr(&out.MinUpdateRate, o.MinUpdateRate)
	orPtr(&out.ReportToMaster, o.ReportToMaster)
	orPtr(&out.MasterURL, o.MasterURL)
	orPtr(&out.AllowInsecure, o.AllowInsecure)
	orPtr(&out.UseSocketsForLoopback, o.UseSocketsForLoopback)
	orPtr(&out.EverythingUnlocked, o.EverythingUnlocked)
	orPtr(&out.ShouldReturnToLobby, o.ShouldReturnToLobby)
	orPtr(&out.PlayerPermissions, o.PlayerPermissions)
	orPtr(&out.OnlyHostCanStart, o.OnlyHostCanStart)
	orPtr(&out.CountdownLengthSeconds, o.CountdownLengthSeconds)
	orPtr(&out.GraphicsMode, o.GraphicsMode)
	orPtr(&out.Priority, o.Priority)
	orPtr(&out.RestartSchedule, o.RestartSchedule)
	orPtr(&out.Playlist, o.Playlist)
	orPtr(&out.Mode, o.Mode)
	orPtr(&out.Map, o.Map)
	orPtr(&out.DefaultMode, o.DefaultMode)
	orPtr(&out.DefaultMap, o.DefaultMap)
	out.PlaylistOverrides = g.PlaylistOverrides.Or(o.PlaylistOverrides)
	out.ExtraPlaylistVars = o.ExtraPlaylistVars.Merge(g.ExtraPlaylistVars)
	out.ExtraVars = o.ExtraVars.Merge(g.ExtraVars)
	out.ExtraArgs = append(append([]string{}, o.ExtraArgs...), g.ExtraArgs...)
	return out
}

// ServerConfig is a single entry of the servers table. The table key is the
// server's unique name; the optional display name is what players see.
type ServerConfig struct {
	DisplayName string  `yaml:"name" toml:"name"`
	AuthPort    *uint16 `yaml:"auth_port" toml:"auth_port"`
	GamePort    *uint16 `yaml:"game_port" toml:"game_port"`

	GameConfig `yaml:",inline"`

	name string
}

// Name returns the key the server was declared under.
func (sc *ServerConfig) Name() string {
	return sc.name
}

// ServerSpec is the fully resolved configuration of one server. A spec is
// never modified once it has been resolved; a changed configuration produces
// a new spec.
type ServerSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Executable  string `json:"executable"`
	GameDir     string `json:"game_dir"`

	Description            string            `json:"description"`
	Password               string            `json:"password"`
	TickRate               uint32            `json:"tick_rate"`
	UpdateRate             uint32            `json:"update_rate"`
	MinUpdateRate          uint32            `json:"min_update_rate"`
	ReportToMaster         bool              `json:"report_to_master"`
	MasterURL              string            `json:"master_url"`
	AllowInsecure          bool              `json:"allow_insecure"`
	UseSocketsForLoopback  bool              `json:"use_sockets_for_loopback"`
	EverythingUnlocked     bool              `json:"everything_unlocked"`
	ShouldReturnToLobby    bool              `json:"should_return_to_lobby"`
	PlayerPermissions      PlayerPermissions `json:"player_permissions"`
	OnlyHostCanStart       bool              `json:"only_host_can_start"`
	CountdownLengthSeconds uint32            `json:"countdown_length_seconds"`

	GraphicsMode    GraphicsMode     `json:"graphics_mode"`
	Priority        process.Priority `json:"priority"`
	RestartSchedule string           `json:"restart_schedule,omitempty"`

	Playlist    string `json:"playlist"`
	Mode        string `json:"mode,omitempty"`
	Map         string `json:"map,omitempty"`
	DefaultMode string `json:"default_mode,omitempty"`
	DefaultMap  string `json:"default_map,omitempty"`

	PlaylistOverrides PlaylistOverrides `json:"playlist_overrides"`
	ExtraPlaylistVars Vars              `json:"extra_playlist_vars,omitempty"`
	ExtraVars         Vars              `json:"extra_vars,omitempty"`
	ExtraArgs         []string          `json:"extra_args,omitempty"`

	AuthPort *uint16 `json:"auth_port,omitempty"`
	GamePort *uint16 `json:"game_port,omitempty"`
}

const (
	DefaultDescription = "Your favourite R2Wraith server"
	DefaultMasterURL   = "https://northstar.tf"
	DefaultPlaylist    = "private_match"
	DefaultExecutable  = "NorthstarLauncher.exe"
)

// Resolve layers the server's own settings over the defaults and fills in
// everything that is still unset. Relative directories are resolved against
// dir, which is normally the directory holding the configuration file.
func (sc *ServerConfig) Resolve(defaults GameConfig, dir string) (ServerSpec, error) {
	g := sc.GameConfig.Or(defaults)

	priority, err := process.ParsePriority(valueOr(g.Priority, ""))
	if err != nil {
		return ServerSpec{}, errors.WithDetails(err, "server", sc.name)
	}

	gameDir := valueOr(g.GameDir, "")
	if !filepath.IsAbs(gameDir) {
		gameDir = filepath.Join(dir, gameDir)
	}
	executable := valueOr(g.Executable, DefaultExecutable)
	if !filepath.IsAbs(executable) {
		executable = filepath.Join(gameDir, executable)
	}

	overrides := g.PlaylistOverrides
	overrides.Riffs = normalizeRiffs(overrides.Riffs)

	return ServerSpec{
		Name:                   sc.name,
		DisplayName:            displayName(sc),
		Executable:             executable,
		GameDir:                gameDir,
		Description:            valueOr(g.Description, DefaultDescription),
		Password:               valueOr(g.Password, ""),
		TickRate:               valueOr(g.TickRate, 60),
		UpdateRate:             valueOr(g.UpdateRate, 20),
		MinUpdateRate:          valueOr(g.MinUpdateRate, 20),
		ReportToMaster:         valueOr(g.ReportToMaster, true),
		MasterURL:              valueOr(g.MasterURL, DefaultMasterURL),
		AllowInsecure:          valueOr(g.AllowInsecure, false),
		UseSocketsForLoopback:  valueOr(g.UseSocketsForLoopback, true),
		EverythingUnlocked:     valueOr(g.EverythingUnlocked, true),
		ShouldReturnToLobby:    valueOr(g.ShouldReturnToLobby, true),
		PlayerPermissions:      valueOr(g.PlayerPermissions, PlayerPermissionsAll),
		OnlyHostCanStart:       valueOr(g.OnlyHostCanStart, false),
		CountdownLengthSeconds: valueOr(g.CountdownLengthSeconds, 15),
		GraphicsMode:           valueOr(g.GraphicsMode, GraphicsModeDefault),
		Priority:               priority,
		RestartSchedule:        valueOr(g.RestartSchedule, ""),
		Playlist:               valueOr(g.Playlist, DefaultPlaylist),
		Mode:                   valueOr(g.Mode, ""),
		Map:                    valueOr(g.Map, ""),
		DefaultMode:            valueOr(g.DefaultMode, ""),
		DefaultMap:             valueOr(g.DefaultMap, ""),
		PlaylistOverrides:      overrides,
		ExtraPlaylistVars:      g.ExtraPlaylistVars,
		ExtraVars:              g.ExtraVars,
		ExtraArgs:              g.ExtraArgs,
		AuthPort:               sc.AuthPort,
		GamePort:               sc.GamePort,
	}, nil
}

func displayName(sc *ServerConfig) string {
	if sc.DisplayName != "" {
		return sc.DisplayName
	}
	return sc.name
}

// normalizeRiffs converts every riff to its canonical name and drops
// duplicates. Unknown riffs are rejected during validation.
func normalizeRiffs(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if r, err := ParseRiff(v); err == nil {
			out = unionStrings(out, []string{string(r)})
		}
	}
	return out
}

func orPtr[T any](dst **T, fallback *T) {
	if *dst == nil {
		*dst = fallback
	}
}

func valueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
