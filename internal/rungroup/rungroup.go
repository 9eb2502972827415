// Package rungroup supervises a set of long-running actors so that the
// first one to return triggers an interrupt of every actor, and the group
// as a whole exits once every actor has unwound (or timed out trying to).
// cmd/lightdmd runs its signal listener and the daemon as actors in one
// group, and the daemon runs its context watcher and its seats in another,
// so a fatal error in any of them tears the process down cleanly.
package rungroup

import (
	"log/slog"
	"sync"
	"time"
)

// InterruptTimeout bounds how long Run waits for a single actor's interrupt
// function to return before moving on to the next actor. A slow or wedged
// interrupt must not block the rest of the group from shutting down.
const InterruptTimeout = 2 * time.Second

// executeReturnTimeout bounds how long Run waits, after interrupting,
// for an actor's execute function to actually return.
const executeReturnTimeout = 2 * time.Second

type actor struct {
	name      string
	execute   func() error
	interrupt func(error)
}

// RunGroup runs a set of actors concurrently and stops them together.
type RunGroup struct {
	actors  []actor
	slogger *slog.Logger
}

// NewRunGroup returns an empty RunGroup.
func NewRunGroup() *RunGroup {
	return &RunGroup{
		slogger: slog.Default(),
	}
}

// SetSlogger overrides the logger used to report actor lifecycle events.
func (g *RunGroup) SetSlogger(logger *slog.Logger) {
	g.slogger = logger
}

// Add registers an actor. execute blocks until the actor is done or told to
// stop; interrupt is called exactly once, when the first actor returns, and
// must cause execute to return promptly.
func (g *RunGroup) Add(name string, execute func() error, interrupt func(error)) {
	g.actors = append(g.actors, actor{name: name, execute: execute, interrupt: interrupt})
}

// Run starts every actor and blocks until they have all returned (or timed
// out unwinding). It returns the error that triggered the shutdown, if any.
func (g *RunGroup) Run() error {
	if len(g.actors) == 0 {
		return nil
	}

	type result struct {
		idx int
		err error
	}
	results := make(chan result, len(g.actors))
	for i, a := range g.actors {
		go func(i int, a actor) {
			results <- result{idx: i, err: a.execute()}
		}(i, a)
	}

	// The first actor to return decides the group's fate.
	first := <-results
	g.slogger.Debug("actor returned, interrupting group",
		"actor", g.actors[first.idx].name, "err", first.err)

	var wg sync.WaitGroup
	for _, a := range g.actors {
		wg.Add(1)
		go func(a actor) {
			defer wg.Done()
			done := make(chan struct{})
			go func() {
				a.interrupt(first.err)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(InterruptTimeout):
				g.slogger.Debug("actor interrupt did not return in time", "actor", a.name)
			}
		}(a)
	}
	wg.Wait()

	// Give the remaining actors a bounded chance to actually return from
	// execute before we stop waiting on them.
	remaining := len(g.actors) - 1
	timeout := time.After(executeReturnTimeout)
	for remaining > 0 {
		select {
		case <-results:
			remaining--
		case <-timeout:
			g.slogger.Debug("gave up waiting for actors to return", "remaining", remaining)
			return first.err
		}
	}

	return first.err
}
