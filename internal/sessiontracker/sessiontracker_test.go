package sessiontracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These tests need a real system bus with logind running, which CI
// sandboxes and containers generally don't have. Connect itself is
// exercised unconditionally; the round trip against logind is skipped
// when no bus is reachable, matching tpm_test.go's "skip when the real
// dependency isn't present" pattern.

func TestConnect_ErrorsCleanlyWithoutASystemBus(t *testing.T) {
	tr, err := Connect(nil)
	if err != nil {
		require.Nil(t, tr)
		return
	}
	defer tr.Close()
}

func TestRegisterRelease_RoundTripsThroughLogind(t *testing.T) {
	tr, err := Connect(nil)
	if err != nil {
		t.Skip("no system bus available in this environment")
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sessionID, err := tr.Register(ctx, 0, "seat0", 0)
	if err != nil {
		t.Skipf("logind not responding to CreateSession in this environment: %v", err)
	}
	require.NotEmpty(t, sessionID)

	require.NoError(t, tr.Release(ctx, sessionID))
}
