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

// Package resmgr implements the core of the resource manager: the command
// dispatcher/virtualiser, the connection-close reaper, and the engine loop
// that ties them to the queue and sink. Every exported type here is meant
// to run on the single worker goroutine the engine owns; none of it takes
// its own locks.
package resmgr

import (
	tpm2 "github.com/canonical/go-tpm2"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/accessbroker"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/audit"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	rmError "github.com/rancher-sandbox/tpm2-resmgr/pkg/error"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/handlemap"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/quota"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// ResponseCodeAccessDenied is synthesised for a ContextLoad claim attempt
// that fails, following the same TSS2_RC vendor-range pattern as the quota
// errors in pkg/quota.
const ResponseCodeAccessDenied uint32 = 0x0a050003

// Dispatcher implements spec.md §4.1-4.5: the per-command pipeline, the
// special-command pre-processing of §4.2, response post-processing of
// §4.3, and the session load/save helpers of §4.4/§4.5.
type Dispatcher struct {
	broker   accessbroker.AccessBroker
	sessions *sessionlist.SessionList
	quota    quota.Config
	logger   v1.Logger

	// flushedCommands names command codes whose success response always
	// means the TPM itself evicted every transient the command
	// referenced (TPMA_CC_FLUSHED in the real TPM's command attribute
	// table). The core never probes the TPM for this table at startup;
	// callers that need it populate it from a static list for the
	// commands they care about. Empty by default, matching commands
	// that never auto-flush.
	flushedCommands map[tpm2.CommandCode]bool

	// audit is nil unless the daemon was started with an audit database
	// configured; every call site guards on it being non-nil.
	audit *audit.Log
}

// NewDispatcher builds a Dispatcher bound to a single AccessBroker and the
// process-wide SessionList.
func NewDispatcher(broker accessbroker.AccessBroker, sessions *sessionlist.SessionList, q quota.Config, logger v1.Logger, flushedCommands map[tpm2.CommandCode]bool) *Dispatcher {
	if flushedCommands == nil {
		flushedCommands = map[tpm2.CommandCode]bool{}
	}
	return &Dispatcher{broker: broker, sessions: sessions, quota: q, logger: logger, flushedCommands: flushedCommands}
}

// WithAudit attaches an audit log recording session-ownership decisions;
// passing nil disables it again.
func (d *Dispatcher) WithAudit(a *audit.Log) *Dispatcher {
	d.audit = a
	return d
}

// Dispatch runs one command from conn through the full §4.1 pipeline and
// returns the response buffer to hand to the sink. It never returns an
// error: every failure mode is delivered to the client as a TPM response.
func (d *Dispatcher) Dispatch(conn *connection.Connection, command []byte) []byte {
	header, err := wire.ParseHeader(command)
	if err != nil {
		d.logger.Warnf("resmgr: dropping unparseable command from %s: %s", conn.ID, err)
		return synthesizeRC(wire.TagNoSessions, rmError.NewRC("resmgr: unparseable command header", wire.RCHandle(0, tpm2.ErrorValue)))
	}
	cc := tpm2.CommandCode(header.Code)
	d.logger.Debugf("resmgr: dispatching command tag=0x%04x size=%d code=0x%08x", header.Tag, header.Size, header.Code)

	// Step 1: quota check.
	if rcErr, rejected := d.checkQuota(conn, cc); rejected {
		return synthesizeRC(header.Tag, rcErr)
	}

	// Step 2: special-command pre-processing.
	if resp, handled := d.dispatchSpecial(conn, header, cc, command); handled {
		return resp
	}

	// Work on a private copy: handle substitution below rewrites it in place.
	command = append([]byte(nil), command...)

	// Step 3: handle-area load.
	var loadedTransients []*handlemap.Entry
	for _, offset := range wire.HandleAreaOffsets(cc) {
		handle := wire.GetHandle(command, offset)
		switch {
		case wire.IsTransient(handle):
			entry := conn.HandleMap.Lookup(wire.VirtualHandle(handle))
			if entry == nil {
				continue // absent: leave as-is, the TPM will reject it
			}
			phandle, err := d.broker.ContextLoad(entry.SavedContext)
			if err != nil {
				d.logger.Warnf("resmgr: context_load failed for vhandle 0x%08x: %s", handle, err)
				continue
			}
			entry.PHandle = phandle
			wire.PutHandle(command, offset, uint32(phandle))
			loadedTransients = append(loadedTransients, entry)
		case wire.IsSession(handle):
			d.loadSession(conn, handle, false)
		}
	}

	// Step 4: auth-area load.
	auths, err := wire.ParseAuthArea(command, cc)
	if err != nil {
		d.logger.Warnf("resmgr: malformed authorization area from %s: %s", conn.ID, err)
		return synthesizeRC(header.Tag, rmError.NewRC("resmgr: malformed authorization area", wire.RCParameter(1, tpm2.ErrorValue)))
	}
	for _, a := range auths {
		if wire.IsSession(a.Handle) {
			willFlush := a.Attrs&wire.ContinueSession == 0
			d.loadSession(conn, a.Handle, willFlush)
		}
	}

	// Step 5: forward to the AccessBroker.
	resp, err := d.broker.Send(command)
	if err != nil {
		d.logger.Errorf("resmgr: access broker transport failure: %s", err)
		resp = synthesizeRC(header.Tag, rmError.NewRC("resmgr: access broker transport failure", tpmRCTransportFailure))
	}

	// Step 6: post-process the response.
	respHeader, herr := wire.ParseHeader(resp)
	if herr == nil {
		d.logger.Debugf("resmgr: response tag=0x%04x size=%d code=0x%08x", respHeader.Tag, respHeader.Size, respHeader.Code)
	}
	loadedTransients = d.postProcess(conn, cc, resp, respHeader, herr, loadedTransients)

	// Steps 8-9 run after emission conceptually, but nothing below
	// observes the response buffer again, so order doesn't matter here.
	d.saveLoadedSessions()
	d.reconcileTransients(conn, cc, loadedTransients)

	return resp
}

// tpmRCTransportFailure stands in for whatever TSS2_RC a real transport
// failure carries; spec.md §7 only requires it be forwarded verbatim when
// it originates at the TPM, and synthesised as a generic failure when the
// transport itself breaks.
const tpmRCTransportFailure uint32 = 0x00000001

// synthesizeRC formats a client-facing TPM error response from a
// *rmError.ResmgrError carrying a synthesized response code, reading the
// code back out through ResponseCode() rather than threading a raw uint32
// past the point where the error was created.
func synthesizeRC(tag uint16, err error) []byte {
	rcErr, ok := err.(*rmError.ResmgrError)
	if !ok {
		return wire.SynthesizeErrorResponse(tag, tpmRCTransportFailure)
	}
	return wire.SynthesizeErrorResponse(tag, rcErr.ResponseCode())
}

func (d *Dispatcher) checkQuota(conn *connection.Connection, cc tpm2.CommandCode) (err error, rejected bool) {
	switch cc {
	case tpm2.CommandCreatePrimary, tpm2.CommandLoad, tpm2.CommandLoadExternal:
		if conn.HandleMap.Full() {
			return rmError.NewRC("resmgr: transient quota exceeded", quota.ResponseCodeObjectMemory), true
		}
	case tpm2.CommandStartAuthSession:
		if d.sessions.CountOwnedBy(conn.ID) >= d.quota.SessionCap {
			return rmError.NewRC("resmgr: session quota exceeded", quota.ResponseCodeSessionMemory), true
		}
	}
	return nil, false
}

// postProcess implements §4.3: it rewrites a fresh transient's handle to
// its vhandle, tracks a fresh session, and returns the updated
// loaded-transients list (with any newly-created entry appended so §4.1
// step 9 saves it too).
func (d *Dispatcher) postProcess(conn *connection.Connection, cc tpm2.CommandCode, resp []byte, h wire.Header, headerErr error, loadedTransients []*handlemap.Entry) []*handlemap.Entry {
	if headerErr != nil || h.Code != wire.Success || !wire.HasResponseHandle(cc) {
		return loadedTransients
	}
	handle := wire.GetHandle(resp, wire.ResponseHandleOffset)
	switch {
	case wire.IsTransient(handle):
		entry, err := conn.HandleMap.Insert(wire.PhysicalHandle(handle))
		if err != nil {
			d.logger.Fatalf("resmgr: vhandle space exhausted for connection %s: %s", conn.ID, err)
		}
		wire.PutHandle(resp, wire.ResponseHandleOffset, uint32(entry.VHandle))
		loadedTransients = append(loadedTransients, entry)
	case wire.IsSession(handle):
		if existing := d.sessions.Lookup(handle); existing != nil {
			if existing.Owner != conn.ID {
				d.logger.Warnf("resmgr: session 0x%08x resurfaced under connection %s, expected %s", handle, conn.ID, existing.Owner)
			}
			return loadedTransients
		}
		d.sessions.Add(&sessionlist.Entry{Handle: handle, Owner: conn.ID, State: sessionlist.Loaded})
	}
	return loadedTransients
}

// reconcileTransients implements §4.1 step 9.
func (d *Dispatcher) reconcileTransients(conn *connection.Connection, cc tpm2.CommandCode, loadedTransients []*handlemap.Entry) {
	if d.flushedCommands[cc] {
		for _, e := range loadedTransients {
			conn.HandleMap.Remove(e.VHandle)
		}
		return
	}
	for _, e := range loadedTransients {
		blob, err := d.broker.ContextSaveFlush(e.PHandle)
		if err != nil {
			d.logger.Warnf("resmgr: context_saveflush failed for phandle 0x%08x: %s", e.PHandle, err)
		}
		e.SavedContext = blob
		e.PHandle = 0
	}
}

// loadSession implements §4.4.
func (d *Dispatcher) loadSession(conn *connection.Connection, handle uint32, willFlush bool) {
	entry := d.sessions.Lookup(handle)
	if entry == nil {
		return
	}
	if entry.Owner != conn.ID {
		d.logger.Warnf("resmgr: refusing to load session 0x%08x: owned by %s, requested by %s", handle, entry.Owner, conn.ID)
		return
	}
	if entry.State != sessionlist.SavedRM {
		d.logger.Warnf("resmgr: refusing to load session 0x%08x: state %s is not SAVED_RM", handle, entry.State)
		return
	}
	phandle, err := d.broker.ContextLoad(entry.SavedContext)
	if err != nil {
		d.logger.Warnf("resmgr: context_load failed for session 0x%08x: %s", handle, err)
		d.sessions.Remove(handle)
		return
	}
	_ = phandle // sessions are not virtualised; the handle itself is already the real TPM handle.
	entry.State = sessionlist.Loaded
	if willFlush {
		d.sessions.Remove(handle)
	}
}

// saveLoadedSessions implements §4.5, run after every command.
func (d *Dispatcher) saveLoadedSessions() {
	for _, e := range d.sessions.AllLoaded() {
		blob, err := d.broker.ContextSave(wire.PhysicalHandle(e.Handle))
		if err != nil {
			if ferr := d.broker.ContextFlush(wire.PhysicalHandle(e.Handle)); ferr != nil {
				d.logger.Warnf("resmgr: context_flush failed reclaiming session 0x%08x: %s", e.Handle, ferr)
			}
			d.sessions.Remove(e.Handle)
			continue
		}
		e.SavedContext = blob
		e.State = sessionlist.SavedRM
	}
}
