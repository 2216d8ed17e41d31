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

package wire

import (
	"fmt"

	"github.com/canonical/go-tpm2/mu"
)

// Context mirrors the TPM2 TPMS_CONTEXT structure carried in the body of
// ContextSave/ContextLoad commands and responses: a sequence number, the
// handle the context was saved from, the hierarchy it belongs to, and an
// encrypted, opaque blob prefixed with its own 2-byte length. The resource
// manager never interprets the blob; it only needs byte-exact equality and
// enough structure to tell a genuine context from garbage.
type Context struct {
	Sequence    uint64
	SavedHandle uint32
	Hierarchy   uint32
	Blob        []byte
}

// ParseContext decodes a ContextLoad command body (or a ContextSave
// response body) into a Context. A malformed buffer is reported as an
// error so the caller can synthesize a TPM parameter error, per the
// ContextLoad parse-failure path.
func ParseContext(buf []byte) (*Context, error) {
	var c struct {
		Sequence    uint64
		SavedHandle uint32
		Hierarchy   uint32
		Blob        []byte
	}
	n, err := mu.UnmarshalFromBytes(buf, &c.Sequence, &c.SavedHandle, &c.Hierarchy, &c.Blob)
	if err != nil {
		return nil, fmt.Errorf("wire: malformed TPMS_CONTEXT: %w", err)
	}
	if n != len(buf) {
		return nil, fmt.Errorf("wire: %d trailing bytes after TPMS_CONTEXT", len(buf)-n)
	}
	return &Context{
		Sequence:    c.Sequence,
		SavedHandle: c.SavedHandle,
		Hierarchy:   c.Hierarchy,
		Blob:        c.Blob,
	}, nil
}

// MarshalContext encodes a Context back into its TPMS_CONTEXT wire form.
func MarshalContext(c *Context) ([]byte, error) {
	return mu.MarshalToBytes(c.Sequence, c.SavedHandle, c.Hierarchy, c.Blob)
}

// Equal reports whether two client-opaque context blobs are identical,
// exactly as the spec requires for matching a presented ContextLoad body
// against the SessionList by byte equality.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
