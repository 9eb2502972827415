package rungroup

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// threadSafeBuffer is a minimal mutex-guarded io.Writer for capturing log
// output from concurrent actors in tests.
type threadSafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *threadSafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_NoActors(t *testing.T) {
	t.Parallel()

	testRunGroup := NewRunGroup()
	require.NoError(t, testRunGroup.Run())
}

func TestRun_MultipleActors(t *testing.T) {
	t.Parallel()

	testRunGroup := NewRunGroup()
	var logBytes threadSafeBuffer
	slogger := slog.New(slog.NewTextHandler(&logBytes, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))
	testRunGroup.SetSlogger(slogger)

	groupReceivedInterrupts := make(chan struct{}, 3)

	firstActorInterrupt := make(chan struct{})
	testRunGroup.Add("firstActor", func() error {
		<-firstActorInterrupt
		return nil
	}, func(error) {
		groupReceivedInterrupts <- struct{}{}
		firstActorInterrupt <- struct{}{}
	})

	expectedRuntimeForRungroup := 1 * time.Second
	expectedError := errors.New("test error from interruptingActor")
	testRunGroup.Add("interruptingActor", func() error {
		time.Sleep(expectedRuntimeForRungroup)
		return expectedError
	}, func(error) {
		groupReceivedInterrupts <- struct{}{}
	})

	anotherActorInterrupt := make(chan struct{})
	testRunGroup.Add("anotherActor", func() error {
		<-anotherActorInterrupt
		return nil
	}, func(error) {
		groupReceivedInterrupts <- struct{}{}
		anotherActorInterrupt <- struct{}{}
	})

	runCompleted := make(chan struct{})
	go func() {
		err := testRunGroup.Run()
		require.Error(t, err, "run group expected to return interruptingActor's error, but did not")
		runCompleted <- struct{}{}
	}()

	runDuration := expectedRuntimeForRungroup + InterruptTimeout + executeReturnTimeout + 1*time.Second
	deadline := time.After(runDuration)

	receivedInterrupts := 0
	for {
		select {
		case <-groupReceivedInterrupts:
			receivedInterrupts++
		case <-runCompleted:
			require.Equal(t, 3, receivedInterrupts, "unexpected number of interrupts: logs:", logBytes.String())
			return
		case <-deadline:
			t.Fatalf("did not receive expected interrupts within reasonable time, got %d", receivedInterrupts)
		}
	}
}

func TestRun_InterruptTimeout(t *testing.T) {
	t.Parallel()

	testRunGroup := NewRunGroup()

	blockingActorInterrupt := make(chan struct{})
	testRunGroup.Add("blockingActor", func() error {
		<-blockingActorInterrupt
		return nil
	}, func(error) {
		time.Sleep(4 * InterruptTimeout)
	})

	testRunGroup.Add("interruptingActor", func() error {
		return errors.New("boom")
	}, func(error) {})

	start := time.Now()
	err := testRunGroup.Run()
	require.Error(t, err)
	require.Less(t, time.Since(start), 4*InterruptTimeout, "Run should not wait for a wedged interrupt")
}
