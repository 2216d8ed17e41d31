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
	"github.com/hashicorp/go-multierror"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// CloseConnection implements spec.md §4.6, run inline on the worker
// goroutine when it processes a CONNECTION_REMOVED control message. The
// connection's HandleMap needs no explicit cleanup: every transient is
// already non-resident at a quiescent boundary, so it is destroyed along
// with the Connection itself.
//
// The returned error aggregates best-effort flush failures encountered
// while reclaiming TPM slots; none of them are surfaced to any client,
// per spec.md §7, but the caller may still want to log them.
func (d *Dispatcher) CloseConnection(conn *connection.Connection) error {
	var result *multierror.Error

	for _, e := range d.sessions.OwnedBy(conn.ID) {
		switch e.State {
		case sessionlist.SavedClient:
			evicted, err := d.sessions.Abandon(e.Handle)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if evicted != nil {
				if ferr := d.broker.ContextFlush(wire.PhysicalHandle(evicted.Handle)); ferr != nil {
					d.logger.Warnf("resmgr: flush of evicted abandoned session 0x%08x failed: %s", evicted.Handle, ferr)
					result = multierror.Append(result, ferr)
				}
				if d.audit != nil {
					if err := d.audit.Record("evict session=0x%08x owner=%s", evicted.Handle, evicted.Owner); err != nil {
						d.logger.Warnf("resmgr: audit record failed: %s", err)
					}
				}
			}
		case sessionlist.SavedRM:
			if err := d.broker.ContextFlush(wire.PhysicalHandle(e.Handle)); err != nil {
				d.logger.Warnf("resmgr: flush of session 0x%08x on connection close failed: %s", e.Handle, err)
				result = multierror.Append(result, err)
			}
			d.sessions.Remove(e.Handle)
		case sessionlist.Loaded, sessionlist.SavedClientClosed:
			d.logger.Fatalf("resmgr: invariant violation: connection %s closing while owning session 0x%08x in state %s", conn.ID, e.Handle, e.State)
		}
	}

	return result.ErrorOrNil()
}
