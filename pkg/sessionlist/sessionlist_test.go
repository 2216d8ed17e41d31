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

package sessionlist_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
)

func TestSessionList(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SessionList Suite")
}

var _ = Describe("SessionList", func() {
	var l *sessionlist.SessionList
	var c1, c2 connection.ID

	BeforeEach(func() {
		l = sessionlist.New()
		c1, c2 = "conn-1", "conn-2"
	})

	It("tracks a newly added session as active", func() {
		l.Add(&sessionlist.Entry{Handle: 0x03000000, Owner: c1, State: sessionlist.SavedRM})
		Expect(l.Lookup(0x03000000)).NotTo(BeNil())
		Expect(l.CountOwnedBy(c1)).To(Equal(1))
	})

	It("moves an abandoned session into the FIFO and finds it by context", func() {
		l.Add(&sessionlist.Entry{Handle: 0x03000000, Owner: c1, State: sessionlist.SavedClient, SavedContext: []byte("ctx-a")})
		evicted, err := l.Abandon(0x03000000)
		Expect(err).NotTo(HaveOccurred())
		Expect(evicted).To(BeNil())
		Expect(l.Lookup(0x03000000)).To(BeNil())
		Expect(l.AbandonedLen()).To(Equal(1))

		found := l.FindAbandonedByContext([]byte("ctx-a"))
		Expect(found).NotTo(BeNil())
		Expect(found.State).To(Equal(sessionlist.SavedClientClosed))
	})

	It("evicts the oldest entry once the FIFO exceeds MaxAbandoned", func() {
		for i := 0; i < sessionlist.MaxAbandoned; i++ {
			h := uint32(0x03000000 + i)
			l.Add(&sessionlist.Entry{Handle: h, Owner: c1, State: sessionlist.SavedClient, SavedContext: []byte{byte(i)}})
			_, err := l.Abandon(h)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(l.AbandonedLen()).To(Equal(sessionlist.MaxAbandoned))

		l.Add(&sessionlist.Entry{Handle: 0x03000099, Owner: c1, State: sessionlist.SavedClient, SavedContext: []byte{99}})
		evicted, err := l.Abandon(0x03000099)
		Expect(err).NotTo(HaveOccurred())
		Expect(evicted).NotTo(BeNil())
		Expect(evicted.Handle).To(Equal(uint32(0x03000000)))
		Expect(l.AbandonedLen()).To(Equal(sessionlist.MaxAbandoned))
	})

	It("claims an abandoned session and reassigns ownership", func() {
		l.Add(&sessionlist.Entry{Handle: 0x03000000, Owner: c1, State: sessionlist.SavedClient, SavedContext: []byte("ctx-a")})
		_, _ = l.Abandon(0x03000000)

		e := l.FindAbandonedByContext([]byte("ctx-a"))
		Expect(l.Claim(e, c2)).To(Succeed())
		Expect(e.Owner).To(Equal(c2))
		Expect(e.State).To(Equal(sessionlist.SavedRM))
		Expect(l.Lookup(0x03000000)).To(Equal(e))
		Expect(l.AbandonedLen()).To(Equal(0))
	})

	It("fails to claim an entry that is no longer present", func() {
		e := &sessionlist.Entry{Handle: 0x03000000, Owner: c1, State: sessionlist.SavedClientClosed}
		Expect(l.Claim(e, c2)).To(HaveOccurred())
	})

	It("is quiescent only when no active entry is LOADED", func() {
		l.Add(&sessionlist.Entry{Handle: 0x03000000, Owner: c1, State: sessionlist.SavedRM})
		Expect(l.Quiescent()).To(BeTrue())
		l.Add(&sessionlist.Entry{Handle: 0x03000001, Owner: c1, State: sessionlist.Loaded})
		Expect(l.Quiescent()).To(BeFalse())
	})

	It("removes a handle from whichever collection holds it", func() {
		l.Add(&sessionlist.Entry{Handle: 0x03000000, Owner: c1, State: sessionlist.SavedClient})
		_, _ = l.Abandon(0x03000000)
		l.Remove(0x03000000)
		Expect(l.AbandonedLen()).To(Equal(0))
		Expect(l.Lookup(0x03000000)).To(BeNil())
	})
})
