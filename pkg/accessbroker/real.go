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

package accessbroker

import (
	"fmt"
	"sync"

	tpm2 "github.com/canonical/go-tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// Real is the production AccessBroker: a single TPM transport serialised
// behind a mutex, so concurrent callers observe the same atomicity the
// single-worker engine loop already guarantees, defensively, for any
// future caller that forgets it.
type Real struct {
	mu        sync.Mutex
	transport transport.TPM
	logger    v1.Logger
}

// NewReal wraps an already-open go-tpm transport (a TPM character device
// or a simulator connection) as an AccessBroker.
func NewReal(t transport.TPM, logger v1.Logger) *Real {
	return &Real{transport: t, logger: logger}
}

func (r *Real) Send(command []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debugf("accessbroker: sending %d byte command", len(command))
	resp, err := r.transport.Send(command)
	if err != nil {
		return nil, fmt.Errorf("accessbroker: transport failure: %w", err)
	}
	return resp, nil
}

func (r *Real) ContextLoad(ctx []byte) (wire.PhysicalHandle, error) {
	cmd := buildCommand(wire.TagNoSessions, tpm2.CommandContextLoad, ctx)
	resp, err := r.Send(cmd)
	if err != nil {
		return 0, err
	}
	if err := checkSuccess(resp); err != nil {
		return 0, err
	}
	return wire.PhysicalHandle(wire.GetHandle(resp, wire.ResponseHandleOffset)), nil
}

func (r *Real) ContextSave(phandle wire.PhysicalHandle) ([]byte, error) {
	return r.contextSave(phandle)
}

func (r *Real) ContextSaveFlush(phandle wire.PhysicalHandle) ([]byte, error) {
	ctx, err := r.contextSave(phandle)
	if err != nil {
		return nil, err
	}
	if err := r.ContextFlush(phandle); err != nil {
		r.logger.Warnf("accessbroker: saved phandle 0x%08x but flush failed: %s", phandle, err)
	}
	return ctx, nil
}

func (r *Real) contextSave(phandle wire.PhysicalHandle) ([]byte, error) {
	body := make([]byte, 4)
	wire.PutHandle(body, 0, uint32(phandle))
	cmd := buildCommand(wire.TagNoSessions, tpm2.CommandContextSave, body)
	resp, err := r.Send(cmd)
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(resp); err != nil {
		return nil, err
	}
	return append([]byte(nil), resp[wire.HeaderSize:]...), nil
}

func (r *Real) ContextFlush(phandle wire.PhysicalHandle) error {
	body := make([]byte, 4)
	wire.PutHandle(body, 0, uint32(phandle))
	cmd := buildCommand(wire.TagNoSessions, tpm2.CommandFlushContext, body)
	resp, err := r.Send(cmd)
	if err != nil {
		return err
	}
	return checkSuccess(resp)
}

func buildCommand(tag uint16, cc tpm2.CommandCode, body []byte) []byte {
	buf := make([]byte, wire.HeaderSize+len(body))
	wire.PutHeader(buf, wire.Header{Tag: tag, Size: uint32(len(buf)), Code: uint32(cc)})
	copy(buf[wire.HeaderSize:], body)
	return buf
}

func checkSuccess(resp []byte) error {
	h, err := wire.ParseHeader(resp)
	if err != nil {
		return err
	}
	if h.Code != wire.Success {
		return fmt.Errorf("accessbroker: TPM returned RC 0x%08x", h.Code)
	}
	return nil
}
