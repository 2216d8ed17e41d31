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

// Package sink implements the single-method response sink of spec.md §6:
// the engine loop hands finished responses to it and gives up ownership.
package sink

import "github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"

// Response pairs a response buffer with the connection it answers, so a
// multiplexing front-end can route it back to the right client socket.
type Response struct {
	Connection connection.ID
	Body       []byte
}

// Sink is the single-method contract spec.md §6 describes: ownership of
// the enqueued object transfers to the sink.
type Sink interface {
	Enqueue(r *Response)
}

// Channel is a Sink backed by a buffered channel, for wiring the engine
// loop to a front-end transport goroutine.
type Channel struct {
	ch chan *Response
}

// NewChannel returns a Channel-backed Sink buffering up to capacity
// responses.
func NewChannel(capacity int) *Channel {
	return &Channel{ch: make(chan *Response, capacity)}
}

func (c *Channel) Enqueue(r *Response) {
	c.ch <- r
}

// Responses exposes the receive side for the front-end transport to drain.
func (c *Channel) Responses() <-chan *Response {
	return c.ch
}
