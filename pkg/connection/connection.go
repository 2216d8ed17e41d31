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

// Package connection models the external client identity the core treats
// as an opaque, non-owning reference: a Connection owns its HandleMap by
// value, while SessionEntries only ever hold a Connection's ID.
package connection

import (
	"github.com/google/uuid"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/handlemap"
)

// ID uniquely identifies a Connection for the lifetime of the daemon. It is
// what SessionEntries reference instead of holding a live pointer, so a
// disconnected Connection can be garbage collected freely.
type ID string

// Connection represents one client of the resource manager. It owns its
// HandleMap by value; the connection manager and front-end transport that
// create and destroy Connections live outside the core (see spec.md §1).
type Connection struct {
	ID        ID
	HandleMap *handlemap.HandleMap
}

// New creates a Connection with a fresh identity and an empty HandleMap
// sized to transientCap.
func New(transientCap int) *Connection {
	return &Connection{
		ID:        NewID(),
		HandleMap: handlemap.New(transientCap),
	}
}

// NewID mints a fresh opaque connection identity, for front-end
// transports that materialise a Connection's HandleMap lazily in the
// engine rather than up front.
func NewID() ID {
	return ID(uuid.NewString())
}
