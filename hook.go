package panicmon

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// ///////////////////////////////////////////////
// Panic Hook Slot
// ///////////////////////////////////////////////

// PanicInfo carries what is known about an abnormal goroutine termination at
// the moment the hook chain runs: the thread descriptor, the recovered panic
// value, and the stack captured inside the dying goroutine.
type PanicInfo struct {
	// Thread identifies the goroutine that panicked.
	Thread Thread
	// Value is the recovered panic value.
	Value any
	// Stack is the formatted stack trace captured via [debug.Stack] at the
	// recovery point.
	Stack []byte
}

// Hook is a handler invoked when a goroutine spawned through [Spawn]
// terminates abnormally. Hooks run on the dying goroutine itself, after
// recovery; a hook that panics takes the process down.
type Hook func(*PanicInfo)

// The process-wide hook slot. There is exactly one slot; installing a new
// hook replaces whatever was there. [Monitor.Init] composes rather than
// replaces: it takes the current hook, wraps it, and re-installs the wrapper
// so earlier handlers keep running.
var (
	hookMu      sync.Mutex
	currentHook Hook = defaultHook
)

// SetHook installs h as the process-wide panic hook, replacing the current
// one. Passing nil restores the default hook, which logs the panic and
// writes the stack trace to stderr.
func SetHook(h Hook) {
	if h == nil {
		h = defaultHook
	}
	hookMu.Lock()
	defer hookMu.Unlock()
	currentHook = h
}

// TakeHook removes and returns the current process-wide panic hook, leaving
// the default hook in its place. The usual pattern for composing handlers is
//
//	prev := panicmon.TakeHook()
//	panicmon.SetHook(func(info *panicmon.PanicInfo) {
//		// new behavior
//		prev(info)
//	})
//
// which is exactly what [Monitor.Init] does.
func TakeHook() Hook {
	hookMu.Lock()
	defer hookMu.Unlock()
	h := currentHook
	currentHook = defaultHook
	return h
}

// invokeHook runs the currently installed hook. The slot lock is held only
// while reading the slot, not while the hook runs, so a hook may itself call
// [SetHook] or [TakeHook] without deadlocking.
func invokeHook(info *PanicInfo) {
	hookMu.Lock()
	h := currentHook
	hookMu.Unlock()
	h(info)
}

// defaultHook preserves host-level diagnostic reporting: one structured log
// line through the default slog logger plus the raw stack trace on stderr.
// Hook chaining always ends here unless a caller deliberately replaced the
// slot without composing.
func defaultHook(info *PanicInfo) {
	slog.Error("goroutine terminated abnormally",
		"thread", info.Thread.String(),
		"id", info.Thread.ID().String(),
		"value", fmt.Sprint(info.Value))
	fmt.Fprintf(os.Stderr, "%s", info.Stack)
}
