// Package sessiondesc parses desktop-entry session descriptor files from
// a sessions directory, the way the greeter's "choose a session" list and
// UserSession.Prepare's Exec lookup both need.
package sessiondesc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
)

// Type is X-LightDM-Session-Type.
type Type string

const (
	TypeX       Type = "x"
	TypeWayland Type = "wayland"
)

// Descriptor is one parsed session .desktop file.
type Descriptor struct {
	Key              string // filename without extension, used as the wire session_key
	Name             string
	Comment          string
	Exec             []string
	SessionType      Type
	DesktopNames     []string
	AllowFromGreeter bool
}

// Load parses every *.desktop file directly under dir.
func Load(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sessiondesc: reading %s: %w", dir, err)
	}

	var descs []Descriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".desktop") {
			continue
		}
		d, err := loadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func loadFile(path string) (Descriptor, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("sessiondesc: parsing %s: %w", path, err)
	}

	sec := cfg.Section("Desktop Entry")
	execLine := sec.Key("Exec").String()
	if execLine == "" {
		return Descriptor{}, fmt.Errorf("sessiondesc: %s has no Exec key", path)
	}

	sessionType := Type(sec.Key("X-LightDM-Session-Type").MustString(string(TypeX)))

	key := strings.TrimSuffix(filepath.Base(path), ".desktop")

	var desktopNames []string
	if raw := sec.Key("DesktopNames").String(); raw != "" {
		desktopNames = strings.Split(raw, ";")
	}

	return Descriptor{
		Key:              key,
		Name:             sec.Key("Name").String(),
		Comment:          sec.Key("Comment").String(),
		Exec:             strings.Fields(execLine),
		SessionType:      sessionType,
		DesktopNames:     desktopNames,
		AllowFromGreeter: sec.Key("X-LightDM-Allow-Greeter").MustBool(true),
	}, nil
}

// Find returns the descriptor with the given key, or false if none match.
func Find(descs []Descriptor, key string) (Descriptor, bool) {
	for _, d := range descs {
		if d.Key == key {
			return d, true
		}
	}
	return Descriptor{}, false
}
