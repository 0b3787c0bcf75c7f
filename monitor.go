// Package panicmon provides a shareable monitor for abnormal goroutine
// termination. Any number of observer goroutines can block until one or more
// watched worker goroutines panic, with unbounded, bounded, and non-blocking
// query variants.
//
// Go offers no goroutine identity and no process-wide panic hook, so the
// package supplies both: [Spawn] runs a function on a new goroutine under a
// fresh [ThreadID], and a deferred recovery handler feeds an explicit,
// chainable hook slot ([SetHook], [TakeHook]). A [Monitor] installs itself
// into that slot via [Monitor.Init] and records every panicking thread into
// a process-lifetime history set; [Monitor.Wait], [Monitor.WaitTimeout], and
// [Monitor.Check] report the intersection of a caller-supplied watch list
// with that history.
//
// The monitor is level-triggered: a watched thread that panicked before the
// query was issued satisfies the query immediately. The history only grows —
// once a thread is reported terminated it is reported terminated forever.
//
// Typical use:
//
//	mon := panicmon.New()
//	mon.Init() // before spawning anything that must be observable
//
//	worker := panicmon.Spawn("worker-1", doWork)
//
//	crashed := mon.WaitTimeout([]panicmon.ThreadID{worker.ID()}, 5*time.Second)
//	if len(crashed) > 0 {
//		// worker-1 panicked
//	}
package panicmon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// corruptMsg is the abort message used when monitor state can no longer be
// trusted because the recording path itself panicked while holding the lock.
const corruptMsg = "panicmon: monitor state corrupted by a panic in the recording path (please file a bug report)"

// ///////////////////////////////////////////////
// Monitor
// ///////////////////////////////////////////////

// Monitor tracks which threads have terminated abnormally since [Monitor.Init]
// installed its hook. A Monitor is safe for concurrent use by any number of
// goroutines; all state lives behind a single mutex, and waiters are woken by
// a close-and-replace broadcast channel.
//
// The Monitor passed to Init must outlive the installed hook, which in
// practice means it must live for the remainder of the process. Construct it
// once, early, and keep it reachable.
type Monitor struct {
	// mu guards terminated and changed.
	mu sync.Mutex
	// terminated records every thread that has panicked since Init. Entries
	// are never removed; this is history, not a live registry.
	terminated map[ThreadID]Thread
	// changed is closed and replaced under mu each time a thread is recorded.
	// Closing the channel is the broadcast; waiters re-check the set and pick
	// up the replacement channel on wake-up.
	changed chan struct{}
	// corrupted is set if the recording path panics while holding mu. Once
	// set, every operation aborts loudly instead of returning stale state.
	corrupted atomic.Bool
}

// New returns a Monitor with an empty termination history. It has no effect
// on the process-wide hook slot until [Monitor.Init] is called.
func New() *Monitor {
	return &Monitor{
		terminated: make(map[ThreadID]Thread),
		changed:    make(chan struct{}),
	}
}

// Init installs the monitor into the process-wide panic hook slot. The
// installed hook records the terminating thread, wakes every blocked waiter,
// and then forwards to whatever hook was previously installed, so default
// diagnostic reporting (or any other handler) still runs.
//
// Call Init before spawning any worker whose termination must be observable:
// a thread that panics before Init runs is never recorded and can never
// satisfy a wait. Calling Init again re-wraps the current hook, which is
// harmless but redundant; it is also the way to resume recording if some
// other code replaced the slot wholesale with [SetHook].
func (m *Monitor) Init() {
	prev := TakeHook()
	SetHook(func(info *PanicInfo) {
		m.record(info.Thread)
		prev(info)
	})
}

// record inserts t into the termination history and broadcasts to waiters.
// Re-recording a known identity keeps the original entry. Runs on the dying
// goroutine, inside its recovery handler.
func (m *Monitor) record(t Thread) {
	defer func() {
		// A panic here would leave mu held and the set unreliable. Mark the
		// monitor corrupted so later queries abort instead of lying, then
		// let the panic escape: there is no recovery once shared state
		// integrity is gone.
		if r := recover(); r != nil {
			m.corrupted.Store(true)
			panic(r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.terminated[t.id]; !ok {
		m.terminated[t.id] = t
	}
	close(m.changed)
	m.changed = make(chan struct{})
}

// ///////////////////////////////////////////////
// Queries
// ///////////////////////////////////////////////

// Wait blocks until at least one identity in watch is present in the
// termination history, then returns every watched thread known to have
// terminated at that moment, deduplicated by identity and in no particular
// order. The result is never empty.
//
// Wait is level-triggered: if a watched thread already panicked, Wait returns
// immediately without waiting for any further event. A Wait on identities
// that never terminate blocks forever; use [Monitor.WaitTimeout] or
// [Monitor.WaitContext] for bounded variants.
func (m *Monitor) Wait(watch []ThreadID) []Thread {
	for {
		matched, changed := m.poll(watch)
		if len(matched) > 0 {
			return matched
		}
		<-changed
	}
}

// WaitTimeout is [Monitor.Wait] with a bound: it returns an empty result if
// d elapses with no watched thread having terminated. The result is empty if
// and only if the timeout fired. An immediate match consumes none of the
// budget. A broadcast that matches nothing in watch re-enters the wait with
// the remaining budget intact; the single timer carries the total.
func (m *Monitor) WaitTimeout(watch []ThreadID, d time.Duration) []Thread {
	matched, changed := m.poll(watch)
	if len(matched) > 0 {
		return matched
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-changed:
			matched, changed = m.poll(watch)
			if len(matched) > 0 {
				return matched
			}
		case <-timer.C:
			return nil
		}
	}
}

// WaitContext is [Monitor.Wait] bounded by a context: it returns ctx.Err()
// if ctx is cancelled or its deadline passes before any watched thread
// terminates, and a non-empty result with a nil error otherwise.
func (m *Monitor) WaitContext(ctx context.Context, watch []ThreadID) ([]Thread, error) {
	for {
		matched, changed := m.poll(watch)
		if len(matched) > 0 {
			return matched, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Check reports the current intersection of watch with the termination
// history without blocking beyond the internal lock's critical section. The
// result may be empty.
func (m *Monitor) Check(watch []ThreadID) []Thread {
	matched, _ := m.poll(watch)
	return matched
}

// poll returns the watched threads currently in the termination history,
// deduplicated by identity, together with the broadcast channel that will be
// closed on the next recording. Both are read under one lock acquisition, so
// an empty match plus a wait on the returned channel cannot miss a recording
// that happens in between.
func (m *Monitor) poll(watch []ThreadID) ([]Thread, <-chan struct{}) {
	m.abortIfCorrupted()
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Thread
	var seen map[ThreadID]bool
	for _, id := range watch {
		t, ok := m.terminated[id]
		if !ok || seen[id] {
			continue
		}
		if seen == nil {
			seen = make(map[ThreadID]bool, len(watch))
		}
		seen[id] = true
		matched = append(matched, t)
	}
	return matched, m.changed
}

// ///////////////////////////////////////////////
// Name-Pattern Queries
// ///////////////////////////////////////////////

// CheckName is [Monitor.Check] keyed by name instead of identity: it returns
// every terminated thread whose name matches the doublestar glob pattern
// (for example "worker-*" or "pool/*/writer"). Unnamed threads never match.
// The only error is an invalid pattern.
func (m *Monitor) CheckName(pattern string) ([]Thread, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}
	matched, _ := m.pollName(pattern)
	return matched, nil
}

// WaitNameTimeout blocks until some terminated thread's name matches the
// doublestar glob pattern, or d elapses. As with [Monitor.WaitTimeout], an
// empty result with a nil error means the timeout fired. The only error is
// an invalid pattern, reported before any waiting happens.
func (m *Monitor) WaitNameTimeout(pattern string, d time.Duration) ([]Thread, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}
	matched, changed := m.pollName(pattern)
	if len(matched) > 0 {
		return matched, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-changed:
			matched, changed = m.pollName(pattern)
			if len(matched) > 0 {
				return matched, nil
			}
		case <-timer.C:
			return nil, nil
		}
	}
}

// pollName is [Monitor.poll] over names: it scans the whole termination
// history for name matches. pattern must already be validated.
func (m *Monitor) pollName(pattern string) ([]Thread, <-chan struct{}) {
	m.abortIfCorrupted()
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Thread
	for _, t := range m.terminated {
		if t.name == "" {
			continue
		}
		if ok, _ := doublestar.Match(pattern, t.name); ok {
			matched = append(matched, t)
		}
	}
	return matched, m.changed
}

// abortIfCorrupted panics with a bug-report message if the recording path
// previously died while holding the lock. Deliberately loud: returning stale
// or partial state would be worse than crashing.
func (m *Monitor) abortIfCorrupted() {
	if m.corrupted.Load() {
		panic(corruptMsg)
	}
}
