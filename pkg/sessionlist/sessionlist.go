/*
Copyright © 2022 - 2025 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sessionlist implements the process-wide SessionList of spec.md
// §3/§4: the active set of tracked sessions plus the bounded FIFO of
// abandoned (SAVED_CLIENT_CLOSED) sessions awaiting claim.
package sessionlist

import (
	"fmt"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// State is one of the four SessionEntry states spec.md §3 defines.
type State int

const (
	Loaded State = iota
	SavedRM
	SavedClient
	SavedClientClosed
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "LOADED"
	case SavedRM:
		return "SAVED_RM"
	case SavedClient:
		return "SAVED_CLIENT"
	case SavedClientClosed:
		return "SAVED_CLIENT_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MaxAbandoned bounds the FIFO of disconnected, claimable sessions.
const MaxAbandoned = 4

// Entry is a SessionEntry: the handle, the owning connection, its state,
// and its saved context (opaque bytes once SavedClient/SavedClientClosed).
type Entry struct {
	Handle       uint32
	Owner        connection.ID
	State        State
	SavedContext []byte
}

// SessionList owns every SessionEntry: the active set keyed by handle, and
// the abandoned FIFO. A handle appears in at most one collection.
type SessionList struct {
	active    map[uint32]*Entry
	abandoned []*Entry // FIFO, oldest first
}

// New returns an empty SessionList.
func New() *SessionList {
	return &SessionList{active: make(map[uint32]*Entry)}
}

// Add inserts a new active SessionEntry, e.g. on a successful
// StartAuthSession or a forwarded ContextLoad that returned a session the
// list did not know. Claimed sessions are reinserted by Claim instead.
func (l *SessionList) Add(e *Entry) {
	l.active[e.Handle] = e
}

// Lookup returns the active entry for handle, or nil.
func (l *SessionList) Lookup(handle uint32) *Entry {
	return l.active[handle]
}

// Remove deletes handle from both the active set and the abandoned FIFO;
// a handle is only ever present in one of them, so this is safe to call
// unconditionally.
func (l *SessionList) Remove(handle uint32) {
	delete(l.active, handle)
	for i, e := range l.abandoned {
		if e.Handle == handle {
			l.abandoned = append(l.abandoned[:i], l.abandoned[i+1:]...)
			return
		}
	}
}

// CountOwnedBy returns the number of active sessions owned by conn, for
// the per-connection session quota check.
func (l *SessionList) CountOwnedBy(conn connection.ID) int {
	n := 0
	for _, e := range l.active {
		if e.Owner == conn {
			n++
		}
	}
	return n
}

// OwnedBy returns every active SessionEntry owned by conn, for the
// connection-close reaper.
func (l *SessionList) OwnedBy(conn connection.ID) []*Entry {
	var out []*Entry
	for _, e := range l.active {
		if e.Owner == conn {
			out = append(out, e)
		}
	}
	return out
}

// Abandon moves a SAVED_CLIENT entry owned by its now-disconnected
// connection into the abandoned FIFO, transitioning it to
// SavedClientClosed. If the FIFO is already at MaxAbandoned, the oldest
// entry is evicted and returned to the caller so it can be flushed from
// the TPM before being discarded.
func (l *SessionList) Abandon(handle uint32) (evicted *Entry, err error) {
	e, ok := l.active[handle]
	if !ok {
		return nil, fmt.Errorf("sessionlist: cannot abandon unknown handle 0x%08x", handle)
	}
	delete(l.active, handle)
	e.State = SavedClientClosed

	if len(l.abandoned) >= MaxAbandoned {
		evicted = l.abandoned[0]
		l.abandoned = l.abandoned[1:]
	}
	l.abandoned = append(l.abandoned, e)
	return evicted, nil
}

// FindAbandonedByContext searches the FIFO for an entry whose saved
// context matches ctx byte-for-byte, per the ContextLoad claim path.
func (l *SessionList) FindAbandonedByContext(ctx []byte) *Entry {
	for _, e := range l.abandoned {
		if wire.Equal(e.SavedContext, ctx) {
			return e
		}
	}
	return nil
}

// FindByContext searches both the active set and the abandoned FIFO for an
// entry whose saved context matches ctx byte-for-byte, per the ContextLoad
// special-processing search of spec.md §4.2.
func (l *SessionList) FindByContext(ctx []byte) *Entry {
	for _, e := range l.active {
		if wire.Equal(e.SavedContext, ctx) {
			return e
		}
	}
	return l.FindAbandonedByContext(ctx)
}

// Claim atomically removes an entry from the abandoned FIFO by identity
// and reassigns its owner, for a ContextLoad from a connection other than
// the one that abandoned it. It fails if the entry is no longer present
// (e.g. it was just evicted by another abandon).
func (l *SessionList) Claim(e *Entry, newOwner connection.ID) error {
	for i, a := range l.abandoned {
		if a == e {
			l.abandoned = append(l.abandoned[:i], l.abandoned[i+1:]...)
			e.Owner = newOwner
			e.State = SavedRM
			l.active[e.Handle] = e
			return nil
		}
	}
	return fmt.Errorf("sessionlist: entry for handle 0x%08x no longer in abandoned queue", e.Handle)
}

// AllLoaded returns every active SessionEntry currently in state Loaded,
// for the between-commands session save of spec.md §4.5.
func (l *SessionList) AllLoaded() []*Entry {
	var out []*Entry
	for _, e := range l.active {
		if e.State == Loaded {
			out = append(out, e)
		}
	}
	return out
}

// AbandonedLen reports the current size of the abandoned FIFO, for the
// MaxAbandoned invariant check.
func (l *SessionList) AbandonedLen() int {
	return len(l.abandoned)
}

// Quiescent reports whether every active entry is in a saved state
// (never LOADED), the quiescent-boundary invariant from spec.md §8.
func (l *SessionList) Quiescent() bool {
	for _, e := range l.active {
		if e.State == Loaded {
			return false
		}
	}
	return true
}
