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

// Package handlemap implements the per-connection bidirectional mapping
// between virtual transient handles and the entries tracking their
// physical residency, per spec.md §3/§4.1.
package handlemap

import (
	"fmt"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// Entry is a HandleMapEntry: the vhandle assigned by the RM, the physical
// handle currently backing it (0 when not resident in the TPM), and the
// saved context blob used to reload it.
type Entry struct {
	VHandle      wire.VirtualHandle
	PHandle      wire.PhysicalHandle
	SavedContext []byte
}

// HandleMap owns the HandleMapEntries of exactly one Connection, and mints
// vhandles from a monotonic counter starting above the reserved range.
type HandleMap struct {
	cap     int
	next    uint32
	entries map[wire.VirtualHandle]*Entry
}

// New returns an empty HandleMap enforcing the given per-connection
// transient quota.
func New(cap int) *HandleMap {
	return &HandleMap{
		cap:     cap,
		next:    wire.ReservedVirtualTransient + 1,
		entries: make(map[wire.VirtualHandle]*Entry),
	}
}

// Len is the number of live transient entries, used by the quota enforcer.
func (m *HandleMap) Len() int {
	return len(m.entries)
}

// Full reports whether the map is at its per-connection cap.
func (m *HandleMap) Full() bool {
	return len(m.entries) >= m.cap
}

// Lookup returns the entry for vhandle, or nil if unmapped.
func (m *HandleMap) Lookup(vhandle wire.VirtualHandle) *Entry {
	return m.entries[vhandle]
}

// Insert assigns a fresh vhandle to a newly-created transient object and
// inserts its entry. It returns an error on vhandle exhaustion (wraparound
// to 0), which spec.md §3/§7 calls out as a fatal invariant violation --
// the caller is expected to translate that into the process abort path.
func (m *HandleMap) Insert(phandle wire.PhysicalHandle) (*Entry, error) {
	vhandle := wire.VirtualHandle(m.next)
	if vhandle == 0 {
		return nil, fmt.Errorf("handlemap: vhandle counter rolled over to zero")
	}
	if _, exists := m.entries[vhandle]; exists {
		return nil, fmt.Errorf("handlemap: vhandle 0x%08x already mapped", vhandle)
	}
	m.next++

	e := &Entry{VHandle: vhandle, PHandle: phandle}
	m.entries[vhandle] = e
	return e, nil
}

// Remove deletes the entry for vhandle, if present.
func (m *HandleMap) Remove(vhandle wire.VirtualHandle) {
	delete(m.entries, vhandle)
}

// VHandles returns every tracked vhandle, unsorted.
func (m *HandleMap) VHandles() []uint32 {
	out := make([]uint32, 0, len(m.entries))
	for v := range m.entries {
		out = append(out, uint32(v))
	}
	return out
}

// Quiescent reports whether every entry is currently non-resident
// (phandle == 0), the quiescent-boundary invariant from spec.md §8.
func (m *HandleMap) Quiescent() bool {
	for _, e := range m.entries {
		if e.PHandle != 0 {
			return false
		}
	}
	return true
}
