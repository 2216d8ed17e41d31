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

import tpm2 "github.com/canonical/go-tpm2"

// Format-one response codes associate an error with the 1-based index of
// the offending parameter, handle, or session. These masks mirror the
// decode side canonical/go-tpm2's errors.go implements; the resource
// manager needs the inverse direction when it synthesizes an error
// response itself instead of forwarding one from the TPM.
const (
	rcFormatOne         uint32 = 1 << 7
	rcFmt1ErrorCodeMask uint32 = 0x3f
	rcFmt1IndexShift           = 8
	rcFmt1ParameterFlag uint32 = 1 << 6
	rcFmt1SessionFlag   uint32 = 1 << 11
)

// RCParameter builds a format-one response code citing a bad value for the
// 1-based command parameter at index.
func RCParameter(index int, code tpm2.ErrorCode) uint32 {
	return rcFormatOne | rcFmt1ParameterFlag | (uint32(index) << rcFmt1IndexShift) | (uint32(code) & rcFmt1ErrorCodeMask)
}

// RCHandle builds a format-one response code citing a bad handle at the
// 1-based handle index.
func RCHandle(index int, code tpm2.ErrorCode) uint32 {
	return rcFormatOne | (uint32(index) << rcFmt1IndexShift) | (uint32(code) & rcFmt1ErrorCodeMask)
}

// RCSession builds a format-one response code citing a bad session at the
// 1-based session index.
func RCSession(index int, code tpm2.ErrorCode) uint32 {
	return rcFormatOne | rcFmt1SessionFlag | (uint32(index) << rcFmt1IndexShift) | (uint32(code) & rcFmt1ErrorCodeMask)
}

// BuildSuccessResponse formats a header-only or header-plus-body success
// response the dispatcher answers locally instead of forwarding.
func BuildSuccessResponse(tag uint16, body []byte) []byte {
	buf := make([]byte, HeaderSize+len(body))
	PutHeader(buf, Header{Tag: tag, Size: uint32(len(buf)), Code: Success})
	copy(buf[HeaderSize:], body)
	return buf
}

// BuildHandleResponse formats a success response carrying a single handle
// immediately after the header, the shape ContextLoad's claim/reload
// success needs.
func BuildHandleResponse(tag uint16, handle uint32) []byte {
	body := make([]byte, 4)
	PutHandle(body, 0, handle)
	return BuildSuccessResponse(tag, body)
}
