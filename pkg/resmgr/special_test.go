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

package resmgr_test

import (
	tpm2 "github.com/canonical/go-tpm2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/handlemap"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/mocks"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/quota"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/resmgr"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

var _ = Describe("Session abandon and claim (scenario 2)", func() {
	var (
		broker *mocks.FakeAccessBroker
		lst    *sessionlist.SessionList
		d      *resmgr.Dispatcher
		c1, c2 *connection.Connection
	)

	BeforeEach(func() {
		broker = mocks.NewFakeAccessBroker()
		lst = sessionlist.New()
		d = resmgr.NewDispatcher(broker, lst, quota.NewDefault(), v1.NewNullLogger(), nil)
		c1 = &connection.Connection{ID: "c1", HandleMap: handlemap.New(3)}
		c2 = &connection.Connection{ID: "c2", HandleMap: handlemap.New(3)}
	})

	It("saves, abandons on disconnect, and lets another connection claim it", func() {
		sessionHandle := uint32(0x03000000)
		savedCtx, err := wire.MarshalContext(&wire.Context{Sequence: 1, SavedHandle: sessionHandle, Hierarchy: 0x40000001, Blob: []byte("context-bytes-B")})
		Expect(err).NotTo(HaveOccurred())
		broker.SaveContext = savedCtx
		lst.Add(&sessionlist.Entry{Handle: sessionHandle, Owner: c1.ID, State: sessionlist.SavedRM, SavedContext: savedCtx})

		saveCmd := buildCommand(wire.TagNoSessions, tpm2.CommandContextSave, []uint32{sessionHandle}, nil)
		resp := d.Dispatch(c1, saveCmd)
		h, err := wire.ParseHeader(resp)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Code).To(Equal(wire.Success))
		Expect(lst.Lookup(sessionHandle).State).To(Equal(sessionlist.SavedClient))

		body := resp[wire.HeaderSize:]
		Expect(d.CloseConnection(c1)).To(Succeed())
		Expect(lst.Lookup(sessionHandle)).To(BeNil())
		Expect(lst.FindAbandonedByContext(body)).NotTo(BeNil())

		loadCmd := buildCommand(wire.TagNoSessions, tpm2.CommandContextLoad, nil, body)
		resp2 := d.Dispatch(c2, loadCmd)
		h2, err := wire.ParseHeader(resp2)
		Expect(err).NotTo(HaveOccurred())
		Expect(h2.Code).To(Equal(wire.Success))
		Expect(wire.GetHandle(resp2, wire.ResponseHandleOffset)).To(Equal(sessionHandle))

		claimed := lst.Lookup(sessionHandle)
		Expect(claimed).NotTo(BeNil())
		Expect(claimed.Owner).To(Equal(c2.ID))
		Expect(claimed.State).To(Equal(sessionlist.SavedRM))
	})

	It("refuses to load a session owned by a different connection (scenario 6)", func() {
		sessionHandle := uint32(0x03000000)
		lst.Add(&sessionlist.Entry{Handle: sessionHandle, Owner: c1.ID, State: sessionlist.SavedRM, SavedContext: []byte("ctx")})

		var sawCommandHandle uint32
		broker.SendFunc = func(cmd []byte) ([]byte, error) {
			sawCommandHandle = wire.GetHandle(cmd, wire.HeaderSize)
			return wire.SynthesizeErrorResponse(wire.TagSessions, wire.RCHandle(1, tpm2.ErrorHandle)), nil
		}

		cmd := buildCommand(wire.TagNoSessions, tpm2.CommandReadPublic, []uint32{sessionHandle}, nil)
		d.Dispatch(c2, cmd)

		Expect(broker.CountCalls("ContextLoad")).To(Equal(0))
		Expect(sawCommandHandle).To(Equal(sessionHandle), "command proceeds with the original, unloaded handle")
		Expect(lst.Lookup(sessionHandle).State).To(Equal(sessionlist.SavedRM))
	})
})
