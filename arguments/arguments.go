// Package arguments turns a resolved server configuration and its ports into
// the command line and environment of a dedicated server process.
package arguments

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/ports"
)

// Result is what the process is launched with.
type Result struct {
	Args []string
	Env  []string
}

var riffVars = map[config.Riff]string{
	config.RiffFloorIsLava:       "riff_floorislava",
	config.RiffAllHolopilot:      "featured_mode_all_holopilot",
	config.RiffAllGrapple:        "featured_mode_all_grapple",
	config.RiffAllPhase:          "featured_mode_all_phase",
	config.RiffAllTicks:          "featured_mode_all_ticks",
	config.RiffTactikill:         "featured_mode_tactikill",
	config.RiffAmpedTacticals:    "featured_mode_amped_tacticals",
	config.RiffRocketArena:       "featured_mode_rocket_arena",
	config.RiffShotgunsSnipers:   "featured_mode_shotguns_snipers",
	config.RiffIronRules:         "iron_rules",
	config.RiffFirstPersonEmbark: "fp_embark_enabled",
	config.RiffInstagib:          "riff_instagib",
}

type builder struct {
	flags    []string
	convars  config.Vars
	playlist config.Vars
	env      config.Vars
}

func (b *builder) flag(name string, enabled bool) {
	if enabled {
		b.flags = append(b.flags, name)
	}
}

func (b *builder) convar(name, value string) {
	b.convars = b.convars.Set(name, value)
}

func (b *builder) playlistVar(name string, value *string) {
	if value != nil {
		b.playlist = b.playlist.Set(name, *value)
	}
}

// Build returns the launch arguments and environment for a server. The output
// only depends on its inputs, and the order of both lists is stable.
func Build(spec config.ServerSpec, asn ports.Assignment) Result {
	b := &builder{}

	b.env = b.env.Set("NS_SERVER_NAME", spec.DisplayName)
	b.env = b.env.Set("NS_PORT", strconv.Itoa(int(asn.GamePort)))
	b.env = b.env.Set("NS_PORT_AUTH", strconv.Itoa(int(asn.AuthPort)))
	b.env = b.env.Set("NS_SERVER_DESC", spec.Description)
	b.env = b.env.Set("NS_SERVER_PASSWORD", spec.Password)
	b.env = b.env.Set("NS_MASTERSERVER_REGISTER", boolString(spec.ReportToMaster))
	b.env = b.env.Set("NS_MASTERSERVER_URL", spec.MasterURL)
	b.env = b.env.Set("NS_INSECURE", boolString(spec.AllowInsecure))

	b.flag("-dedicated", true)
	b.flag("-multiple", true)
	b.flag("-softwared3d11", spec.GraphicsMode == config.GraphicsModeSoftware)
	b.flag("-maxplayersplaylist", spec.PlaylistOverrides.MatchMaxPlayers != nil)

	b.convar("-port", strconv.Itoa(int(asn.GamePort)))
	b.convar("+ns_player_auth_port", strconv.Itoa(int(asn.AuthPort)))
	b.convar("+spewlog_enable", "0")
	b.convar("+ns_server_name", spec.DisplayName)
	b.convar("+ns_server_desc", spec.Description)
	b.convar("+ns_server_password", spec.Password)
	b.convar("+ns_report_server_to_masterserver", boolString(spec.ReportToMaster))
	b.convar("+ns_masterserver_hostname", spec.MasterURL)
	b.convar("+ns_auth_allow_insecure", boolString(spec.AllowInsecure))
	if spec.TickRate > 0 {
		b.convar("+base_tickinterval_mp", floatString(1/float64(spec.TickRate)))
	}
	b.convar("+sv_updaterate_mp", uintString(spec.UpdateRate))
	b.convar("+sv_max_snapshots_multiplayer", uintString(spec.UpdateRate*15))
	b.convar("+sv_minupdaterate", uintString(spec.MinUpdateRate))
	b.convar("+net_usesocketsforloopback", boolString(spec.UseSocketsForLoopback))
	b.convar("+everything_unlocked", boolString(spec.EverythingUnlocked))
	b.convar("+ns_should_return_to_lobby", boolString(spec.ShouldReturnToLobby))
	b.convar("+ns_private_match_only_host_can_change_settings", permissionsValue(spec.PlayerPermissions))
	b.convar("+ns_private_match_only_host_can_start", boolString(spec.OnlyHostCanStart))
	b.convar("+ns_private_match_countdown_length", uintString(spec.CountdownLengthSeconds))
	b.convar("+setplaylist", spec.Playlist)
	for _, kv := range []config.Var{
		{Key: "+mp_gamemode", Value: spec.Mode},
		{Key: "+map", Value: spec.Map},
		{Key: "+ns_private_match_last_mode", Value: spec.DefaultMode},
		{Key: "+ns_private_match_last_map", Value: spec.DefaultMap},
	} {
		if kv.Value != "" {
			b.convar(kv.Key, kv.Value)
		}
	}

	b.playlistOverrides(spec.PlaylistOverrides)
	for _, kv := range spec.ExtraPlaylistVars {
		b.playlist = b.playlist.Set(kv.Key, kv.Value)
	}
	for _, kv := range spec.ExtraVars {
		b.convar("+"+strings.TrimPrefix(kv.Key, "+"), kv.Value)
	}

	args := append([]string{}, b.flags...)
	for _, kv := range b.convars {
		args = append(args, kv.Key, kv.Value)
	}
	if len(b.playlist) > 0 {
		pv := make([]string, 0, len(b.playlist)*2)
		for _, kv := range b.playlist {
			pv = append(pv, kv.Key, kv.Value)
		}
		args = append(args, "+setplaylistvaroverrides", strings.Join(pv, " "))
	}
	args = append(args, spec.ExtraArgs...)

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = strconv.Quote(a)
	}
	b.env = b.env.Set("NS_EXTRA_ARGUMENTS", strings.Join(quoted, " "))

	env := make([]string, len(b.env))
	for i, kv := range b.env {
		env[i] = kv.Key + "=" + kv.Value
	}
	return Result{Args: args, Env: env}
}

func (b *builder) playlistOverrides(p config.PlaylistOverrides) {
	for _, r := range config.Riffs {
		if p.HasRiff(r) {
			b.playlistVar(riffVars[r], ptr("1"))
		}
	}

	b.playlistVar("classic_mp", boolPtr(p.MatchClassicMPEnabled))
	b.playlistVar("run_epilogue", boolPtr(p.MatchEpilogueEnabled))
	b.playlistVar("scorelimit", floatPtr(p.MatchScoreLimit))
	b.playlistVar("roundscorelimit", floatPtr(p.MatchRoundScoreLimit))
	b.playlistVar("timelimit", floatPtr(p.MatchTimeLimit))
	b.playlistVar("roundtimelimit", floatPtr(p.MatchRoundTimeLimit))
	b.playlistVar("oob_timer_enabled", boolPtr(p.MatchOOBTimerEnabled))
	if p.MatchMaxPlayers != nil {
		b.playlistVar("max_players", ptr(uintString(*p.MatchMaxPlayers)))
	}

	b.playlistVar("earn_meter_titan_multiplier", floatPtr(p.TitanBoostMeterMultiplier))
	b.playlistVar("aegis_upgrades", boolPtr(p.TitanAegisUpgradesEnabled))
	b.playlistVar("infinite_doomed_state", boolPtr(p.TitanInfiniteDoomedStateEnabled))
	b.playlistVar("titan_shield_regen", boolPtr(p.TitanShieldRegenEnabled))
	b.playlistVar("classic_rodeo", boolPtr(p.TitanClassicRodeoEnabled))

	if p.PilotBleedoutMode != nil {
		b.playlistVar("riff_player_bleedout", ptr(bleedoutValue(*p.PilotBleedoutMode)))
	}
	b.playlistVar("player_bleedout_forceHolster", boolPtr(p.PilotBleedoutHolsterWhenDown))
	b.playlistVar("player_bleedout_forceDeathOnTeamBleedout", boolPtr(p.PilotBleedoutDieOnTeamBleedout))
	b.playlistVar("player_bleedout_bleedoutTime", floatPtr(p.PilotBleedoutTime))
	b.playlistVar("player_bleedout_firstAidTime", floatPtr(p.PilotBleedoutFirstAidTime))
	b.playlistVar("player_bleedout_firstAidTimeSelf", floatPtr(p.PilotBleedoutSelfResTime))
	b.playlistVar("player_bleedout_firstAidHealPercent", floatPtr(p.PilotBleedoutFirstAidHeal))
	b.playlistVar("player_bleedout_aiBleedingPlayerMissChance", floatPtr(p.PilotBleedoutAIMissChance))

	b.playlistVar("promode_enable", boolPtr(p.PromodeWeaponsEnabled))

	b.playlistVar("pilot_health_multiplier", floatPtr(p.PilotHealthMultiplier))
	b.playlistVar("respawn_delay", floatPtr(p.PilotRespawnDelay))
	// The game reads this var inverted.
	if p.PilotBoostsEnabled != nil {
		b.playlistVar("boosts_enabled", ptr(boolString(!*p.PilotBoostsEnabled)))
	}
	if p.PilotBoostMeterOverdrive != nil {
		b.playlistVar("earn_meter_pilot_overdrive", ptr(overdriveValue(*p.PilotBoostMeterOverdrive)))
	}
	b.playlistVar("earn_meter_pilot_multiplier", floatPtr(p.PilotBoostMeterMultiplier))
	b.playlistVar("custom_air_accel_pilot", floatPtr(p.PilotAirAcceleration))
	if p.PilotCollisionEnabled != nil {
		b.playlistVar("no_pilot_collision", ptr(boolString(!*p.PilotCollisionEnabled)))
	}
}

func permissionsValue(p config.PlayerPermissions) string {
	switch p {
	case config.PlayerPermissionsMapModeOnly:
		return "1"
	case config.PlayerPermissionsNone:
		return "2"
	}
	return "0"
}

func bleedoutValue(p config.PilotBleedout) string {
	switch p {
	case config.PilotBleedoutDisabled:
		return "1"
	case config.PilotBleedoutEnabled:
		return "2"
	}
	return "0"
}

func overdriveValue(o config.BoostMeterOverdrive) string {
	switch o {
	case config.BoostMeterOverdriveDisabled:
		return "1"
	case config.BoostMeterOverdriveOnly:
		return "2"
	}
	return "0"
}

func ptr(s string) *string { return &s }

func boolString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func boolPtr(v *bool) *string {
	if v == nil {
		return nil
	}
	return ptr(boolString(*v))
}

func floatString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func floatPtr(v *float64) *string {
	if v == nil {
		return nil
	}
	return ptr(floatString(*v))
}

func uintString(v uint32) string {
	return fmt.Sprint(v)
}
