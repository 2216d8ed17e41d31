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

package mocks

import (
	"fmt"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// Call records one AccessBroker invocation, for the "never forwarded to
// the TPM" assertions spec.md §8 asks for.
type Call struct {
	Method  string
	Command []byte
	Handle  wire.PhysicalHandle
}

// FakeAccessBroker is a scriptable, call-recording AccessBroker test
// double, in the style of the teacher's pkg/mocks Fake* types.
type FakeAccessBroker struct {
	Calls []Call

	// SendFunc, if set, answers Send; otherwise SendResponse/SendError do.
	SendFunc     func(command []byte) ([]byte, error)
	SendResponse []byte
	SendError    error

	// NextPHandle is handed out by ContextLoad on each call, in order; the
	// last value is reused once exhausted.
	NextPHandle []wire.PhysicalHandle
	LoadError   error

	// SaveContext is returned by ContextSave/ContextSaveFlush.
	SaveContext []byte
	SaveError   error
	FlushError  error

	loadIdx int
}

func NewFakeAccessBroker() *FakeAccessBroker {
	return &FakeAccessBroker{NextPHandle: []wire.PhysicalHandle{0x80000000}}
}

func (f *FakeAccessBroker) Send(command []byte) ([]byte, error) {
	f.Calls = append(f.Calls, Call{Method: "Send", Command: append([]byte(nil), command...)})
	if f.SendFunc != nil {
		return f.SendFunc(command)
	}
	return f.SendResponse, f.SendError
}

func (f *FakeAccessBroker) ContextLoad(ctx []byte) (wire.PhysicalHandle, error) {
	f.Calls = append(f.Calls, Call{Method: "ContextLoad"})
	if f.LoadError != nil {
		return 0, f.LoadError
	}
	if len(f.NextPHandle) == 0 {
		return 0, fmt.Errorf("fakeaccessbroker: no scripted phandle")
	}
	idx := f.loadIdx
	if idx >= len(f.NextPHandle) {
		idx = len(f.NextPHandle) - 1
	} else {
		f.loadIdx++
	}
	return f.NextPHandle[idx], nil
}

func (f *FakeAccessBroker) ContextSave(phandle wire.PhysicalHandle) ([]byte, error) {
	f.Calls = append(f.Calls, Call{Method: "ContextSave", Handle: phandle})
	if f.SaveError != nil {
		return nil, f.SaveError
	}
	blob := f.SaveContext
	if blob == nil {
		blob = []byte(fmt.Sprintf("saved-%08x", phandle))
	}
	return blob, nil
}

func (f *FakeAccessBroker) ContextSaveFlush(phandle wire.PhysicalHandle) ([]byte, error) {
	f.Calls = append(f.Calls, Call{Method: "ContextSaveFlush", Handle: phandle})
	if f.SaveError != nil {
		return nil, f.SaveError
	}
	blob := f.SaveContext
	if blob == nil {
		blob = []byte(fmt.Sprintf("saved-%08x", phandle))
	}
	return blob, nil
}

func (f *FakeAccessBroker) ContextFlush(phandle wire.PhysicalHandle) error {
	f.Calls = append(f.Calls, Call{Method: "ContextFlush", Handle: phandle})
	return f.FlushError
}

// CountCalls returns how many times method was invoked.
func (f *FakeAccessBroker) CountCalls(method string) int {
	n := 0
	for _, c := range f.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
