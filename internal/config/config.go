// Package config parses the daemon's INI configuration file: the
// [LightDM] and [SeatDefaults] sections, plus a [Seat:*] section per
// configured seat. Built on github.com/go-ini/ini.
package config

import (
	"fmt"
	"strings"

	"github.com/go-ini/ini"
)

// LightDM holds the [LightDM] section.
type LightDM struct {
	UsersFile                string
	SessionsDirectory        string
	GreetersDirectory        string
	GuestAccountScript       string
	MinimumVT                int
	UserAuthorityInSystemDir bool
	PAMService               string
	PAMAutologinService      string
}

// SeatDefaults holds the [SeatDefaults] section, and any per-seat
// [Seat:*] section falls back to these values for keys it omits.
type SeatDefaults struct {
	XServerCommand       string
	XServerLayout        string
	SessionWrapper       string
	GreeterSession       string
	AutologinUser        string
	AutologinUserTimeout int
	AllowGuest           bool
}

// SeatConfig is one [Seat:<name>] section, merged over SeatDefaults.
type SeatConfig struct {
	Name string
	SeatDefaults
}

// Config is the fully parsed configuration file.
type Config struct {
	LightDM      LightDM
	SeatDefaults SeatDefaults
	Seats        []SeatConfig
}

// Load reads and parses path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	cfg := &Config{
		LightDM:      parseLightDM(f.Section("LightDM")),
		SeatDefaults: parseSeatDefaults(f.Section("SeatDefaults")),
	}

	for _, sec := range f.Sections() {
		name, ok := strings.CutPrefix(sec.Name(), "Seat:")
		if !ok {
			continue
		}
		cfg.Seats = append(cfg.Seats, SeatConfig{
			Name:         name,
			SeatDefaults: overlaySeat(cfg.SeatDefaults, sec),
		})
	}

	if cfg.LightDM.PAMService == "" {
		cfg.LightDM.PAMService = "lightdm"
	}
	if cfg.LightDM.PAMAutologinService == "" {
		cfg.LightDM.PAMAutologinService = "lightdm-autologin"
	}
	if cfg.LightDM.MinimumVT == 0 {
		cfg.LightDM.MinimumVT = 7
	}

	return cfg, nil
}

func parseLightDM(sec *ini.Section) LightDM {
	return LightDM{
		UsersFile:                sec.Key("users-file").String(),
		SessionsDirectory:        sec.Key("sessions-directory").MustString("/usr/share/xsessions"),
		GreetersDirectory:        sec.Key("greeters-directory").MustString("/usr/share/xgreeters"),
		GuestAccountScript:       sec.Key("guest-account-script").String(),
		MinimumVT:                sec.Key("minimum-vt").MustInt(7),
		UserAuthorityInSystemDir: sec.Key("user-authority-in-system-dir").MustBool(false),
		PAMService:               sec.Key("pam-service").MustString("lightdm"),
		PAMAutologinService:      sec.Key("pam-autologin-service").MustString("lightdm-autologin"),
	}
}

func parseSeatDefaults(sec *ini.Section) SeatDefaults {
	return SeatDefaults{
		XServerCommand:       sec.Key("xserver-command").MustString("/usr/bin/X"),
		XServerLayout:        sec.Key("xserver-layout").String(),
		SessionWrapper:       sec.Key("session-wrapper").String(),
		GreeterSession:       sec.Key("greeter-session").String(),
		AutologinUser:        sec.Key("autologin-user").String(),
		AutologinUserTimeout: sec.Key("autologin-user-timeout").MustInt(0),
		AllowGuest:           sec.Key("allow-guest").MustBool(true),
	}
}

// overlaySeat merges a [Seat:*] section's explicit keys over defaults,
// leaving any key the section doesn't set at the default's value.
func overlaySeat(defaults SeatDefaults, sec *ini.Section) SeatDefaults {
	out := defaults
	if sec.HasKey("xserver-command") {
		out.XServerCommand = sec.Key("xserver-command").String()
	}
	if sec.HasKey("xserver-layout") {
		out.XServerLayout = sec.Key("xserver-layout").String()
	}
	if sec.HasKey("session-wrapper") {
		out.SessionWrapper = sec.Key("session-wrapper").String()
	}
	if sec.HasKey("greeter-session") {
		out.GreeterSession = sec.Key("greeter-session").String()
	}
	if sec.HasKey("autologin-user") {
		out.AutologinUser = sec.Key("autologin-user").String()
	}
	if sec.HasKey("autologin-user-timeout") {
		out.AutologinUserTimeout = sec.Key("autologin-user-timeout").MustInt(0)
	}
	if sec.HasKey("allow-guest") {
		out.AllowGuest = sec.Key("allow-guest").MustBool(true)
	}
	return out
}
