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

package error

// ResmgrError is our custom error to pass around a synthesized TPM
// response code alongside a process exit code.
type ResmgrError struct {
	err  string
	code int
	rc   uint32
}

func (e *ResmgrError) Error() string {
	return e.err
}

func (e *ResmgrError) ExitCode() int {
	return e.code
}

// ResponseCode is the TSS2_RC the dispatcher should synthesize into the
// client-facing response in place of forwarding to the AccessBroker.
func (e *ResmgrError) ResponseCode() uint32 {
	return e.rc
}

// NewFromError generates a ResmgrError from an existing error, maintaining
// its error message.
func NewFromError(err error, code int) error {
	if err == nil {
		return nil
	}

	errorMsg := ""
	if err.Error() != "" {
		errorMsg = err.Error()
	}
	return &ResmgrError{err: errorMsg, code: code}
}

// New generates a ResmgrError from a string.
func New(err string, code int) error {
	return &ResmgrError{err: err, code: code}
}

// NewRC generates a ResmgrError carrying a TPM response code, for errors
// that must be synthesized back to the client as a TPM response rather
// than merely logged or used as a process exit code.
func NewRC(err string, rc uint32) error {
	return &ResmgrError{err: err, code: Unknown, rc: rc}
}
