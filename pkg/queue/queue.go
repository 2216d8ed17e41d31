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

// Package queue implements the tagged, multi-producer/single-consumer
// input queue the engine loop reads from (spec.md §5/§6/§9's "polymorphic
// message input" design note): each item is either a TPM command or a
// control message.
package queue

import "github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"

// ControlCode names the two control messages spec.md §6 defines.
type ControlCode int

const (
	CheckCancel ControlCode = iota
	ConnectionRemoved
)

// Kind tags a Message as carrying a TPM command or a control message.
type Kind int

const (
	KindCommand Kind = iota
	KindControl
)

// Message is the tagged variant the engine loop switches on: a TPM
// command from a connection, or a control message.
type Message struct {
	Kind Kind

	// Set when Kind == KindCommand.
	Connection connection.ID
	Command    []byte

	// Set when Kind == KindControl.
	Control    ControlCode
	ControlArg connection.ID // the closing connection, for ConnectionRemoved
}

// Queue is a thread-safe, bounded, blocking FIFO: Go channels are the
// native multi-producer/single-consumer primitive for in-process
// goroutine handoff, so they serve the "thread-safe bounded queue"
// contract of spec.md §5 directly without an external broker client.
type Queue struct {
	ch chan *Message
}

// New returns a Queue buffering up to capacity in-flight messages.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan *Message, capacity)}
}

// Enqueue adds msg to the queue. Safe to call from any goroutine.
func (q *Queue) Enqueue(msg *Message) {
	q.ch <- msg
}

// Dequeue blocks until a message is available or the queue is closed, in
// which case it returns nil, matching the "null dequeued value signals
// shutdown" contract of spec.md §6.
func (q *Queue) Dequeue() *Message {
	msg, ok := <-q.ch
	if !ok {
		return nil
	}
	return msg
}

// Close causes all pending and future Dequeue calls to return nil once
// drained.
func (q *Queue) Close() {
	close(q.ch)
}
