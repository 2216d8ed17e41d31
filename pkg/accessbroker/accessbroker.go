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

// Package accessbroker defines the serialising wrapper around the physical
// TPM device the core calls into. Every method blocks and is atomic with
// respect to the TPM; the AccessBroker must tolerate being called only from
// the engine's single worker thread (spec.md §5/§6).
package accessbroker

import "github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"

// AccessBroker is the external collaborator spec.md §1/§6 treats as out of
// scope for the core: a serialising transport to the physical TPM.
//
// Saved contexts are carried as the raw TPMS_CONTEXT bytes the TPM itself
// produced: the core stores them verbatim and never re-encodes them, so a
// context handed to ContextLoad is always byte-identical to what a prior
// ContextSave/ContextSaveFlush returned.
type AccessBroker interface {
	// Send forwards a raw TPM command buffer and returns the raw response.
	// A non-nil error indicates a transport failure. The dispatcher logs
	// it and answers the client with a fixed synthesized response code;
	// the error itself does not reach the client.
	Send(command []byte) ([]byte, error)

	// ContextLoad loads a previously saved context and returns the
	// physical handle the TPM assigned it.
	ContextLoad(ctx []byte) (wire.PhysicalHandle, error)

	// ContextSave saves the object/session resident at phandle without
	// flushing it.
	ContextSave(phandle wire.PhysicalHandle) ([]byte, error)

	// ContextSaveFlush saves and then flushes the object resident at
	// phandle, used by the post-processor to reclaim transient slots
	// between commands.
	ContextSaveFlush(phandle wire.PhysicalHandle) ([]byte, error)

	// ContextFlush evicts the object/session resident at phandle without
	// saving it.
	ContextFlush(phandle wire.PhysicalHandle) error
}
