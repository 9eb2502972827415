package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalListener_InterruptIsIdempotent(t *testing.T) {
	t.Parallel()

	sigChannel := make(chan os.Signal, 1)
	_, cancel := context.WithCancel(context.Background())
	cancelled := false
	wrappedCancel := func() { cancelled = true; cancel() }

	listener := newSignalListener(sigChannel, wrappedCancel, slog.New(slog.NewTextHandler(io.Discard, nil)))

	go listener.Execute()

	listener.Interrupt(errors.New("test error"))

	done := make(chan struct{})
	go func() {
		listener.Interrupt(nil)
		listener.Interrupt(nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Interrupt did not return promptly on repeated calls")
	}

	require.True(t, cancelled)
}

func TestSignalListener_ExecuteReturnsWhenChannelClosedByInterrupt(t *testing.T) {
	t.Parallel()

	sigChannel := make(chan os.Signal, 1)
	_, cancel := context.WithCancel(context.Background())
	listener := newSignalListener(sigChannel, cancel, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		_ = listener.Execute()
		close(done)
	}()

	listener.Interrupt(nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Interrupt closed the signal channel")
	}
}
