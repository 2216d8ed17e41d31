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
	"encoding/binary"
	"sort"
)

// CapabilityHandles is the capability selector for TPM2_GetCapability
// requests/responses enumerating handles (TPM2_CAP_HANDLES).
const CapabilityHandles uint32 = 0x00000001

// BuildCapabilityHandlesResponse formats a locally-answered
// GetCapability(HANDLES) success response body immediately following the
// 10-byte header: moreData(1) | capability(4 BE) | count(4 BE) |
// count x handle(4 BE).
//
// vhandles are written in the order given, without sorting; the caller's
// ascending, prop-and-count filtered slice and the moreData flag are both
// computed by FilterCapabilityHandles below.
func BuildCapabilityHandlesResponse(tag uint16, vhandles []uint32, moreData bool) []byte {
	body := make([]byte, 1+4+4+4*len(vhandles))
	pos := 0
	if moreData {
		body[pos] = 1
	}
	pos++
	binary.BigEndian.PutUint32(body[pos:], CapabilityHandles)
	pos += 4
	binary.BigEndian.PutUint32(body[pos:], uint32(len(vhandles)))
	pos += 4
	for _, h := range vhandles {
		binary.BigEndian.PutUint32(body[pos:], h)
		pos += 4
	}

	buf := make([]byte, HeaderSize+len(body))
	PutHeader(buf, Header{Tag: tag, Size: uint32(len(buf)), Code: Success})
	copy(buf[HeaderSize:], body)
	return buf
}

// FilterCapabilityHandles implements the TPM2_GetCapability(HANDLES,
// TRANSIENT) local-answer semantics: sort ascending, drop handles below
// prop, take up to count, and report whether any were dropped by the count
// cap.
func FilterCapabilityHandles(all []uint32, prop uint32, count uint32) (result []uint32, moreData bool) {
	sorted := append([]uint32(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	start := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= prop })
	filtered := sorted[start:]

	if uint32(len(filtered)) > count {
		return filtered[:count], true
	}
	return filtered, false
}
