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
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/mocks"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/queue"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/quota"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/resmgr"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sink"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

var _ = Describe("Engine loop", func() {
	var (
		broker *mocks.FakeAccessBroker
		q      *queue.Queue
		s      *sink.Channel
		e      *resmgr.Engine
	)

	BeforeEach(func() {
		broker = mocks.NewFakeAccessBroker()
		lst := sessionlist.New()
		d := resmgr.NewDispatcher(broker, lst, quota.NewDefault(), v1.NewNullLogger(), nil)
		q = queue.New(4)
		s = sink.NewChannel(4)
		e = resmgr.NewEngine(q, s, d, quota.NewDefault(), v1.NewNullLogger())
	})

	It("dispatches a queued command and emits the response to the sink", func() {
		broker.SendFunc = func(cmd []byte) ([]byte, error) {
			return wire.BuildSuccessResponse(wire.TagNoSessions, nil), nil
		}
		cmd := buildCommand(wire.TagNoSessions, tpm2.CommandReadPublic, []uint32{0x40000001}, nil)

		go e.Run()
		q.Enqueue(&queue.Message{Kind: queue.KindCommand, Connection: connection.ID("c1"), Command: cmd})
		q.Enqueue(&queue.Message{Kind: queue.KindControl, Control: queue.CheckCancel})

		resp := <-s.Responses()
		Expect(resp.Connection).To(Equal(connection.ID("c1")))
		h, err := wire.ParseHeader(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Code).To(Equal(wire.Success))

		final := <-s.Responses()
		Expect(final.Body).To(BeNil())
	})

	It("stops draining once CHECK_CANCEL is processed", func() {
		go func() {
			q.Enqueue(&queue.Message{Kind: queue.KindControl, Control: queue.CheckCancel})
		}()
		e.Run()
		resp := <-s.Responses()
		Expect(resp.Body).To(BeNil())
	})
})
