package status

import "sync/atomic"

// Message is a build-status line shown by the dev client, e.g. "Compiling..."
// or a build failure.
type Message struct {
	Text    string
	IsError bool
}

// Snapshot is one immutable observation of the server globals. Fields are
// never mutated after publication.
type Snapshot struct {
	// Version counts script rebuilds; the dev client reloads when it moves.
	Version int
	// Status is the current build status, or nil when there is none.
	Status *Message
}

// Globals holds the dev server's process-wide mutable state. Writers swap
// whole snapshots atomically; readers poll and can never observe a torn
// update. The status feed detects changes by comparing snapshots, so stale
// reads only delay an event by one tick.
type Globals struct {
	state atomic.Pointer[Snapshot]
}

// NewGlobals returns Globals at version zero with no status.
func NewGlobals() *Globals {
	g := &Globals{}
	g.state.Store(&Snapshot{})
	return g
}

// Snapshot returns the current state. The result must not be modified.
func (g *Globals) Snapshot() *Snapshot {
	return g.state.Load()
}

// IncrementVersion bumps the version counter and returns the new value.
func (g *Globals) IncrementVersion() int {
	for {
		old := g.state.Load()
		next := &Snapshot{Version: old.Version + 1, Status: old.Status}
		if g.state.CompareAndSwap(old, next) {
			return next.Version
		}
	}
}

// SetStatus replaces the status message.
func (g *Globals) SetStatus(text string, isError bool) {
	for {
		old := g.state.Load()
		next := &Snapshot{Version: old.Version, Status: &Message{Text: text, IsError: isError}}
		if g.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// ClearStatus removes the status message.
func (g *Globals) ClearStatus() {
	for {
		old := g.state.Load()
		if old.Status == nil {
			return
		}
		next := &Snapshot{Version: old.Version}
		if g.state.CompareAndSwap(old, next) {
			return
		}
	}
}
