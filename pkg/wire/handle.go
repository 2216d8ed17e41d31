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

// Package wire implements the bit-exact TPM2 command/response framing the
// resource manager needs to virtualise handles: header parsing, handle-area
// and auth-area walking, and the GetCapability(HANDLES) and
// ContextSave/ContextLoad payload formats.
package wire

import (
	tpm2 "github.com/canonical/go-tpm2"
)

// VirtualHandle is a handle minted by the resource manager and handed to a
// client; it never reaches the physical TPM.
type VirtualHandle uint32

// PhysicalHandle is a handle currently resident in the TPM. It is only
// meaningful between a context-load and the following save/flush.
type PhysicalHandle uint32

// ReservedVirtualTransient is the last vhandle value reserved before the
// RM's own minting counter begins. Vhandles must carry the same handle-type
// byte (0x80, TPM2_HT_TRANSIENT) as a genuine TPM-issued transient handle:
// that is what makes virtualisation transparent to a client that built its
// command buffers against the real TPM2 handle layout.
const ReservedVirtualTransient = 0x80000000

// Type extracts the handle-type byte (the top byte) from a raw handle,
// following the TPM2 handle layout go-tpm2.Handle.Type() documents.
func Type(h uint32) tpm2.HandleType {
	return tpm2.Handle(h).Type()
}

// IsTransient reports whether h is a TPM2_HT_TRANSIENT handle.
func IsTransient(h uint32) bool {
	return Type(h) == tpm2.HandleTypeTransient
}

// IsSession reports whether h is an HMAC or policy session handle.
func IsSession(h uint32) bool {
	t := Type(h)
	return t == tpm2.HandleTypeHMACSession || t == tpm2.HandleTypePolicySession
}
