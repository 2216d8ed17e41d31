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

// Structure tags, as defined by the TPM2 spec part 2, table 19.
const (
	TagNoSessions uint16 = 0x8001
	TagSessions   uint16 = 0x8002
)

// ContinueSession is the TPMA_SESSION bit that keeps a session resident
// after the command that used it completes.
const ContinueSession byte = 0x01

// AuthArea describes one entry of a command's session/authorization area.
type AuthArea struct {
	Offset int // byte offset of the handle field within the command buffer
	Handle uint32
	Attrs  byte
}

// commandMeta describes the handle-area shape of the small set of commands
// the resource manager must virtualise or quota-check. Commands not listed
// here carry no handles the RM needs to rewrite and are forwarded as-is.
type commandMeta struct {
	numHandles       int
	responseHandle   bool // the success response carries one handle at HeaderSize
	flushTargetInCmd bool // FlushContext: handle lives in the command body, not the handle area
}

var commandTable = map[tpm2.CommandCode]commandMeta{
	tpm2.CommandCreatePrimary:    {numHandles: 1, responseHandle: true},
	tpm2.CommandLoad:             {numHandles: 1, responseHandle: true},
	tpm2.CommandLoadExternal:     {numHandles: 0, responseHandle: true},
	tpm2.CommandStartAuthSession: {numHandles: 2, responseHandle: true},
	tpm2.CommandReadPublic:       {numHandles: 1},
	tpm2.CommandFlushContext:     {numHandles: 0, flushTargetInCmd: true},
	tpm2.CommandContextSave:      {numHandles: 1},
	tpm2.CommandContextLoad:      {numHandles: 0, responseHandle: true},
	tpm2.CommandGetCapability:    {numHandles: 0},
}

// NumHandles returns how many handles cc carries in its handle area.
func NumHandles(cc tpm2.CommandCode) int {
	return commandTable[cc].numHandles
}

// HasResponseHandle reports whether a success response to cc carries a
// handle immediately after the header.
func HasResponseHandle(cc tpm2.CommandCode) bool {
	return commandTable[cc].responseHandle
}

// HandleAreaOffsets returns the byte offset of each handle in the command's
// handle area.
func HandleAreaOffsets(cc tpm2.CommandCode) []int {
	n := NumHandles(cc)
	offsets := make([]int, n)
	for i := 0; i < n; i++ {
		offsets[i] = HeaderSize + i*4
	}
	return offsets
}

// FlushTargetHandle extracts the handle FlushContext carries in its command
// body (not its handle area): a single TPM2_HANDLE positioned right after
// the header.
func FlushTargetHandle(buf []byte) (uint32, error) {
	if len(buf) < HeaderSize+4 {
		return 0, fmt.Errorf("wire: FlushContext body too short")
	}
	return GetHandle(buf, HeaderSize), nil
}

// ResponseHandleOffset is the fixed offset of a response's handle field.
const ResponseHandleOffset = HeaderSize

// ParseAuthArea walks the session/authorization area of a command tagged
// TagSessions. It returns one AuthArea per session present, with Offset set
// to the byte position of that session's handle field so the dispatcher can
// rewrite it in place if ever needed.
func ParseAuthArea(buf []byte, cc tpm2.CommandCode) ([]AuthArea, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.Tag != TagSessions {
		return nil, nil
	}
	handleAreaEnd := HeaderSize + NumHandles(cc)*4
	if len(buf) < handleAreaEnd+4 {
		return nil, fmt.Errorf("wire: command too short for authorization size")
	}
	authSize := binary.BigEndian.Uint32(buf[handleAreaEnd : handleAreaEnd+4])
	pos := handleAreaEnd + 4
	end := pos + int(authSize)
	if end > len(buf) {
		return nil, fmt.Errorf("wire: authorizationSize overruns command buffer")
	}

	var auths []AuthArea
	for pos < end {
		if pos+4 > end {
			return nil, fmt.Errorf("wire: truncated session handle")
		}
		entry := AuthArea{Offset: pos, Handle: GetHandle(buf, pos)}
		pos += 4

		nonceSize, err := readU16(buf, pos, end)
		if err != nil {
			return nil, err
		}
		pos += 2 + int(nonceSize)

		if pos+1 > end {
			return nil, fmt.Errorf("wire: truncated session attributes")
		}
		entry.Attrs = buf[pos]
		pos++

		hmacSize, err := readU16(buf, pos, end)
		if err != nil {
			return nil, err
		}
		pos += 2 + int(hmacSize)

		auths = append(auths, entry)
	}
	return auths, nil
}

func readU16(buf []byte, pos, end int) (uint16, error) {
	if pos+2 > end {
		return 0, fmt.Errorf("wire: truncated sized field")
	}
	return binary.BigEndian.Uint16(buf[pos : pos+2]), nil
}
