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
	"fmt"

	tpm2 "github.com/canonical/go-tpm2"
)

// HeaderSize is the size in bytes of a TPM2 command/response header:
// tag(2) | size(4, BE, total bytes) | code(4, BE).
const HeaderSize = 10

// Success is the response code for a successful command.
const Success uint32 = 0

// Header mirrors the 10 bytes every TPM2 command and response begins with.
type Header struct {
	Tag  uint16
	Size uint32
	Code uint32
}

// ParseHeader reads the 10-byte header from the front of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: buffer too short for header: %d bytes", len(buf))
	}
	return Header{
		Tag:  binary.BigEndian.Uint16(buf[0:2]),
		Size: binary.BigEndian.Uint32(buf[2:6]),
		Code: binary.BigEndian.Uint32(buf[6:10]),
	}, nil
}

// PutHeader writes h into the front of buf, which must be at least
// HeaderSize bytes long.
func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.Tag)
	binary.BigEndian.PutUint32(buf[2:6], h.Size)
	binary.BigEndian.PutUint32(buf[6:10], h.Code)
}

// CommandCode returns the command code carried in a command buffer's header.
func CommandCode(buf []byte) (tpm2.CommandCode, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return 0, err
	}
	return tpm2.CommandCode(h.Code), nil
}

// GetHandle reads the big-endian 4-byte handle at the given byte offset.
func GetHandle(buf []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(buf[offset : offset+4])
}

// PutHandle overwrites the big-endian 4-byte handle at the given byte offset.
func PutHandle(buf []byte, offset int, handle uint32) {
	binary.BigEndian.PutUint32(buf[offset:offset+4], handle)
}

// SynthesizeErrorResponse builds a minimal failure response: header only,
// carrying rc as the response code. Used whenever the dispatcher must
// answer the client itself instead of forwarding to the AccessBroker.
func SynthesizeErrorResponse(tag uint16, rc uint32) []byte {
	buf := make([]byte, HeaderSize)
	PutHeader(buf, Header{Tag: tag, Size: HeaderSize, Code: rc})
	return buf
}
