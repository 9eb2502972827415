package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lightdmd.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad_ParsesLightDMSection(t *testing.T) {
	path := writeConfig(t, `
[LightDM]
users-file=/etc/lightdmd/users
minimum-vt=9
user-authority-in-system-dir=true
pam-service=custom-lightdm

[SeatDefaults]
xserver-command=/usr/bin/Xorg
allow-guest=false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/etc/lightdmd/users", cfg.LightDM.UsersFile)
	require.Equal(t, 9, cfg.LightDM.MinimumVT)
	require.True(t, cfg.LightDM.UserAuthorityInSystemDir)
	require.Equal(t, "custom-lightdm", cfg.LightDM.PAMService)
	require.Equal(t, "lightdm-autologin", cfg.LightDM.PAMAutologinService)

	require.Equal(t, "/usr/bin/Xorg", cfg.SeatDefaults.XServerCommand)
	require.False(t, cfg.SeatDefaults.AllowGuest)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "[LightDM]\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 7, cfg.LightDM.MinimumVT)
	require.Equal(t, "lightdm", cfg.LightDM.PAMService)
	require.Equal(t, "/usr/bin/X", cfg.SeatDefaults.XServerCommand)
	require.True(t, cfg.SeatDefaults.AllowGuest)
}

func TestLoad_ParsesSeatSectionsOverlayingDefaults(t *testing.T) {
	path := writeConfig(t, `
[SeatDefaults]
xserver-command=/usr/bin/X
allow-guest=true

[Seat:seat0]
xserver-layout=us

[Seat:seat1]
xserver-command=/usr/bin/Xorg
allow-guest=false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Seats, 2)

	var seat0, seat1 SeatConfig
	for _, s := range cfg.Seats {
		switch s.Name {
		case "seat0":
			seat0 = s
		case "seat1":
			seat1 = s
		}
	}

	require.Equal(t, "/usr/bin/X", seat0.XServerCommand) // inherited from defaults
	require.Equal(t, "us", seat0.XServerLayout)
	require.True(t, seat0.AllowGuest)

	require.Equal(t, "/usr/bin/Xorg", seat1.XServerCommand) // overridden
	require.False(t, seat1.AllowGuest)
}
