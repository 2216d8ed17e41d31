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

package resmgr

import (
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/handlemap"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/queue"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/quota"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sink"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
)

// Engine is the single cooperative consumer of spec.md §5: it owns the
// per-connection registry (the connection manager itself lives outside the
// core, per spec.md §9's "GObject property plumbing" note), and is the only
// goroutine that ever touches a HandleMap, the SessionList, or a
// loaded-transients list.
type Engine struct {
	queue      *queue.Queue
	sink       sink.Sink
	dispatcher *Dispatcher
	quota      quota.Config
	logger     v1.Logger

	connections map[connection.ID]*connection.Connection
}

// NewEngine wires the queue, sink, and dispatcher into a runnable worker.
func NewEngine(q *queue.Queue, s sink.Sink, d *Dispatcher, quotaCfg quota.Config, logger v1.Logger) *Engine {
	return &Engine{
		queue:       q,
		sink:        s,
		dispatcher:  d,
		quota:       quotaCfg,
		logger:      logger,
		connections: make(map[connection.ID]*connection.Connection),
	}
}

// Run drains the queue until it closes or a CHECK_CANCEL control message
// arrives, dispatching each command and reaping each closed connection
// inline, as spec.md §5 requires: no locks, no secondary goroutines.
func (e *Engine) Run() {
	for {
		msg := e.queue.Dequeue()
		if msg == nil {
			return
		}
		switch msg.Kind {
		case queue.KindCommand:
			e.handleCommand(msg)
		case queue.KindControl:
			if !e.handleControl(msg) {
				return
			}
		}
	}
}

func (e *Engine) handleCommand(msg *queue.Message) {
	conn := e.connectionFor(msg.Connection)
	e.logger.Debugf("resmgr: dispatching command from %s", conn.ID)
	resp := e.dispatcher.Dispatch(conn, msg.Command)
	e.sink.Enqueue(&sink.Response{Connection: msg.Connection, Body: resp})
}

// handleControl returns false when the worker should exit.
func (e *Engine) handleControl(msg *queue.Message) bool {
	switch msg.Control {
	case queue.CheckCancel:
		e.logger.Debug("resmgr: check-cancel received, shutting down worker")
		e.sink.Enqueue(&sink.Response{Body: nil})
		return false
	case queue.ConnectionRemoved:
		e.closeConnection(msg.ControlArg)
	}
	return true
}

func (e *Engine) closeConnection(id connection.ID) {
	conn, ok := e.connections[id]
	if !ok {
		return
	}
	if err := e.dispatcher.CloseConnection(conn); err != nil {
		e.logger.Warnf("resmgr: best-effort cleanup for closed connection %s: %s", id, err)
	}
	delete(e.connections, id)
}

// connectionFor returns the Connection tracking id, materialising a fresh
// one on first sight: the connection manager that actually accepts client
// sockets lives outside the core, and only ever talks to it in terms of
// opaque connection IDs.
func (e *Engine) connectionFor(id connection.ID) *connection.Connection {
	conn, ok := e.connections[id]
	if !ok {
		conn = &connection.Connection{ID: id, HandleMap: handlemap.New(e.quota.TransientCap)}
		e.connections[id] = conn
	}
	return conn
}
