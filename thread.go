package panicmon

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// ///////////////////////////////////////////////
// Thread Identity
// ///////////////////////////////////////////////

// ThreadID is an opaque, comparable identity for a goroutine spawned through
// [Spawn]. Values are drawn from a process-wide counter and are never reused
// for the lifetime of the process, so a ThreadID held after its goroutine
// exits can never be misattributed to a later goroutine.
//
// The zero value is not a valid identity and never matches anything.
type ThreadID struct {
	n uint64
}

// String returns a short diagnostic form like "thread(7)".
func (id ThreadID) String() string {
	return fmt.Sprintf("thread(%d)", id.n)
}

// lastID is the source of fresh thread identities. Incremented atomically by
// [Spawn]; identity 0 is reserved as the invalid zero value.
var lastID atomic.Uint64

// nextID returns a fresh, never-before-issued ThreadID.
func nextID() ThreadID {
	return ThreadID{n: lastID.Add(1)}
}

// ///////////////////////////////////////////////
// Thread Descriptor
// ///////////////////////////////////////////////

// Thread describes a goroutine spawned through [Spawn]: its identity plus an
// optional human-readable name. Thread is a small value type; copies refer to
// the same underlying goroutine and compare equal by [Thread.ID].
type Thread struct {
	// id is the unique identity assigned at spawn time.
	id ThreadID
	// name is the caller-supplied name; may be empty.
	name string
}

// ID returns the thread's unique identity.
func (t Thread) ID() ThreadID { return t.id }

// Name returns the caller-supplied name, which may be empty.
func (t Thread) Name() string { return t.name }

// String returns the name if one was supplied, otherwise the identity's
// diagnostic form.
func (t Thread) String() string {
	if t.name != "" {
		return t.name
	}
	return t.id.String()
}

// ///////////////////////////////////////////////
// Spawn
// ///////////////////////////////////////////////

// Spawn runs fn on a new goroutine under a fresh identity and returns the
// descriptor for it. name is optional and only used for display and for the
// name-pattern queries ([Monitor.CheckName], [Monitor.WaitNameTimeout]).
//
// If fn panics, the goroutine's deferred handler recovers the panic, builds a
// [PanicInfo], and invokes the process-wide hook chain (see [SetHook]); the
// panic does not take down the process. The panic payload itself is not
// retained beyond the hook invocation. A goroutine that returns normally
// invokes no hook — normal completion is not observable through this package.
func Spawn(name string, fn func()) Thread {
	t := Thread{id: nextID(), name: name}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				invokeHook(&PanicInfo{
					Thread: t,
					Value:  r,
					Stack:  debug.Stack(),
				})
			}
		}()
		fn()
	}()
	return t
}
