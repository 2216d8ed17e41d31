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

package resmgr

import (
	"encoding/binary"

	tpm2 "github.com/canonical/go-tpm2"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	rmError "github.com/rancher-sandbox/tpm2-resmgr/pkg/error"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// dispatchSpecial implements spec.md §4.2. A true second return value means
// resp is the final answer to the client and the rest of the §4.1 pipeline
// must be skipped.
func (d *Dispatcher) dispatchSpecial(conn *connection.Connection, header wire.Header, cc tpm2.CommandCode, command []byte) (resp []byte, handled bool) {
	switch cc {
	case tpm2.CommandFlushContext:
		return d.flushContext(conn, header, command)
	case tpm2.CommandContextSave:
		return d.contextSave(conn, header, command)
	case tpm2.CommandContextLoad:
		return d.contextLoad(conn, header, command)
	case tpm2.CommandGetCapability:
		return d.getCapability(conn, header, command)
	}
	return nil, false
}

func (d *Dispatcher) flushContext(conn *connection.Connection, header wire.Header, command []byte) ([]byte, bool) {
	target, err := wire.FlushTargetHandle(command)
	if err != nil {
		return synthesizeRC(header.Tag, rmError.NewRC("resmgr: malformed FlushContext body", wire.RCParameter(1, tpm2.ErrorValue))), true
	}

	if wire.IsTransient(target) {
		vhandle := wire.VirtualHandle(target)
		if entry := conn.HandleMap.Lookup(vhandle); entry != nil {
			conn.HandleMap.Remove(vhandle)
			return wire.BuildSuccessResponse(header.Tag, nil), true
		}
		// Interpreted per DESIGN.md: the handle-index format-one error
		// TCG Part 2 names RC_HANDLE + RC_1, not a parameter error.
		return synthesizeRC(header.Tag, rmError.NewRC("resmgr: FlushContext on unknown transient vhandle", wire.RCHandle(1, tpm2.ErrorHandle))), true
	}

	if wire.IsSession(target) {
		entry := d.sessions.Lookup(target)
		wasLoaded := entry != nil && entry.State == sessionlist.Loaded
		d.sessions.Remove(target)
		if wasLoaded {
			return nil, false // fall through: the TPM still has it resident
		}
		return wire.BuildSuccessResponse(header.Tag, nil), true
	}

	return nil, false
}

func (d *Dispatcher) contextSave(conn *connection.Connection, header wire.Header, command []byte) ([]byte, bool) {
	if wire.NumHandles(tpm2.CommandContextSave) == 0 {
		return nil, false
	}
	handle := wire.GetHandle(command, wire.HeaderSize)
	if !wire.IsSession(handle) {
		return nil, false // transient: not virtualised, forward to TPM
	}

	entry := d.sessions.Lookup(handle)
	if entry == nil || entry.Owner != conn.ID {
		return nil, false // unknown to the RM: let the TPM answer
	}
	entry.State = sessionlist.SavedClient
	return wire.BuildSuccessResponse(header.Tag, entry.SavedContext), true
}

func (d *Dispatcher) contextLoad(conn *connection.Connection, header wire.Header, command []byte) ([]byte, bool) {
	body := command[wire.HeaderSize:]
	if _, err := wire.ParseContext(body); err != nil {
		return synthesizeRC(header.Tag, rmError.NewRC("resmgr: malformed ContextLoad body", wire.RCParameter(1, tpm2.ErrorValue))), true
	}

	entry := d.sessions.FindByContext(body)
	if entry == nil {
		return nil, false // not virtualised: forward, the TPM will reject
	}

	if entry.Owner == conn.ID {
		entry.State = sessionlist.SavedRM
		return wire.BuildHandleResponse(header.Tag, entry.Handle), true
	}

	previousOwner := entry.Owner
	if err := d.sessions.Claim(entry, conn.ID); err != nil {
		d.logger.Warnf("resmgr: ContextLoad claim denied for connection %s: %s", conn.ID, err)
		return synthesizeRC(header.Tag, rmError.NewRC("resmgr: ContextLoad claim denied", ResponseCodeAccessDenied)), true
	}
	if d.audit != nil {
		if err := d.audit.Record("claim session=0x%08x from=%s to=%s", entry.Handle, previousOwner, conn.ID); err != nil {
			d.logger.Warnf("resmgr: audit record failed: %s", err)
		}
	}
	return wire.BuildHandleResponse(header.Tag, entry.Handle), true
}

func (d *Dispatcher) getCapability(conn *connection.Connection, header wire.Header, command []byte) ([]byte, bool) {
	body := command[wire.HeaderSize:]
	if len(body) < 12 {
		return nil, false
	}
	capability := binary.BigEndian.Uint32(body[0:4])
	property := binary.BigEndian.Uint32(body[4:8])
	propertyCount := binary.BigEndian.Uint32(body[8:12])

	if capability != wire.CapabilityHandles || wire.Type(property) != tpm2.HandleTypeTransient {
		return nil, false
	}

	filtered, moreData := wire.FilterCapabilityHandles(conn.HandleMap.VHandles(), property, propertyCount)
	return wire.BuildCapabilityHandlesResponse(header.Tag, filtered, moreData), true
}
