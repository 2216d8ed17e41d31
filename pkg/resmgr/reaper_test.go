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
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/handlemap"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/mocks"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/quota"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/resmgr"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
)

var _ = Describe("Connection-close reaper", func() {
	var (
		broker *mocks.FakeAccessBroker
		lst    *sessionlist.SessionList
		d      *resmgr.Dispatcher
	)

	BeforeEach(func() {
		broker = mocks.NewFakeAccessBroker()
		lst = sessionlist.New()
		d = resmgr.NewDispatcher(broker, lst, quota.NewDefault(), v1.NewNullLogger(), nil)
	})

	It("flushes a SAVED_RM session and removes it", func() {
		c := &connection.Connection{ID: "c1", HandleMap: handlemap.New(3)}
		lst.Add(&sessionlist.Entry{Handle: 0x03000000, Owner: c.ID, State: sessionlist.SavedRM})

		Expect(d.CloseConnection(c)).To(Succeed())
		Expect(broker.CountCalls("ContextFlush")).To(Equal(1))
		Expect(lst.Lookup(0x03000000)).To(BeNil())
	})

	It("moves a SAVED_CLIENT session to the abandoned FIFO on close", func() {
		c := &connection.Connection{ID: "c1", HandleMap: handlemap.New(3)}
		lst.Add(&sessionlist.Entry{Handle: 0x03000000, Owner: c.ID, State: sessionlist.SavedClient, SavedContext: []byte("B")})

		Expect(d.CloseConnection(c)).To(Succeed())
		Expect(lst.Lookup(0x03000000)).To(BeNil())
		Expect(lst.FindAbandonedByContext([]byte("B"))).NotTo(BeNil())
	})

	It("evicts exactly the oldest of 5 abandoned sessions (scenario 5)", func() {
		for i := 1; i <= 5; i++ {
			c := &connection.Connection{ID: connection.ID(fmt.Sprintf("c%d", i)), HandleMap: handlemap.New(3)}
			lst.Add(&sessionlist.Entry{
				Handle:       uint32(0x03000000 + i),
				Owner:        c.ID,
				State:        sessionlist.SavedClient,
				SavedContext: []byte(fmt.Sprintf("B%d", i)),
			})
			Expect(d.CloseConnection(c)).To(Succeed())
		}

		Expect(broker.CountCalls("ContextFlush")).To(Equal(1))
		Expect(broker.Calls[0].Method).To(Equal("ContextFlush"))
		Expect(broker.Calls[0].Handle).To(BeEquivalentTo(0x03000001))
		Expect(lst.AbandonedLen()).To(Equal(sessionlist.MaxAbandoned))
		Expect(lst.FindAbandonedByContext([]byte("B1"))).To(BeNil())
		Expect(lst.FindAbandonedByContext([]byte("B2"))).NotTo(BeNil())
		Expect(lst.FindAbandonedByContext([]byte("B5"))).NotTo(BeNil())
	})
})
