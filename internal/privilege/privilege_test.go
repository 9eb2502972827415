package privilege

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests require root because dropping and reclaiming privileges is
// only meaningful (and only permitted by the kernel) when starting as uid 0.

func TestRunAs_RestoresIdentity(t *testing.T) {
	if syscall.Getuid() != 0 {
		t.Skip("skipping -- test requires root")
	}

	const targetUID, targetGID = 65534, 65534 // nobody

	var sawUID, sawGID int
	err := RunAs(targetUID, targetGID, func() error {
		sawUID = syscall.Getuid()
		sawGID = syscall.Getgid()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, targetUID, sawUID)
	require.Equal(t, targetGID, sawGID)

	require.Equal(t, 0, syscall.Getuid(), "privileges must be restored after RunAs returns")
	require.Equal(t, 0, syscall.Getgid(), "privileges must be restored after RunAs returns")
}

func TestRunAs_PropagatesFnError(t *testing.T) {
	if syscall.Getuid() != 0 {
		t.Skip("skipping -- test requires root")
	}

	sentinel := require.New(t)
	err := RunAs(65534, 65534, func() error {
		return errSentinel
	})
	sentinel.ErrorIs(err, errSentinel)
	sentinel.Equal(0, syscall.Getuid(), "privileges must be restored even when fn errors")
}

var errSentinel = sentinelErr{}

type sentinelErr struct{}

func (sentinelErr) Error() string { return "sentinel" }
