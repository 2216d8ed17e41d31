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

// Package frontend is the client-facing transport the core explicitly
// treats as external (spec.md §1/§9's "connection manager and front-end
// transport live outside the core"): it accepts one Unix domain socket
// connection per client, frames raw TPM2 commands off the wire using the
// header's own size field, and feeds them into the engine's input Queue
// as opaque connection.ID-tagged messages. It never inspects a command's
// body or a response's handles; all of that is the core's job.
package frontend

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/connection"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/queue"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sink"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

// Server accepts client connections on a Unix domain socket and pumps
// framed commands into a Queue, routing each connection's responses back
// out from a Sink.
type Server struct {
	listener *net.UnixListener
	queue    *queue.Queue
	logger   v1.Logger

	responsesMu sync.Mutex
	responses   map[connection.ID]chan []byte
}

// Listen opens a Unix domain socket at path, removing a stale socket file
// left behind by a previous, uncleanly-terminated daemon instance.
func Listen(path string, q *queue.Queue, logger v1.Logger) (*Server, error) {
	if err := removeStale(path); err != nil {
		return nil, err
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &Server{listener: ln, queue: q, logger: logger, responses: make(map[connection.ID]chan []byte)}, nil
}

// removeStale unlinks a leftover socket file from an unclean shutdown. If
// another daemon instance is actually listening on path, it leaves the
// socket alone and returns an error instead of stealing it.
func removeStale(path string) error {
	conn, err := net.Dial("unix", path)
	if err == nil {
		_ = conn.Close()
		return errors.New("frontend: socket already in use")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// RunSink drains resp and writes each response body to the connection
// that asked for it, until it receives a response with a nil body (the
// engine emits one on CHECK_CANCEL) or resp's underlying channel is closed.
func (s *Server) RunSink(resp *sink.Channel) {
	for r := range resp.Responses() {
		if r.Body == nil {
			return
		}
		s.responsesMu.Lock()
		ch, ok := s.responses[r.Connection]
		s.responsesMu.Unlock()
		if ok {
			ch <- r.Body
		}
	}
}

func (s *Server) handleConn(conn *net.UnixConn) {
	id := connection.NewID()
	out := make(chan []byte, 4)
	s.responsesMu.Lock()
	s.responses[id] = out
	s.responsesMu.Unlock()
	defer func() {
		s.responsesMu.Lock()
		delete(s.responses, id)
		s.responsesMu.Unlock()
		_ = conn.Close()
		s.queue.Enqueue(&queue.Message{Kind: queue.KindControl, Control: queue.ConnectionRemoved, ControlArg: id})
	}()

	go func() {
		for body := range out {
			if _, err := conn.Write(body); err != nil {
				s.logger.Warnf("frontend: write to %s failed: %s", id, err)
				return
			}
		}
	}()

	header := make([]byte, wire.HeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debugf("frontend: connection %s read error: %s", id, err)
			}
			return
		}
		size := binary.BigEndian.Uint32(header[2:6])
		if size < wire.HeaderSize {
			s.logger.Warnf("frontend: connection %s sent malformed header size %d", id, size)
			return
		}
		cmd := make([]byte, size)
		copy(cmd, header)
		if _, err := io.ReadFull(conn, cmd[wire.HeaderSize:]); err != nil {
			s.logger.Debugf("frontend: connection %s body read error: %s", id, err)
			return
		}
		s.queue.Enqueue(&queue.Message{Kind: queue.KindCommand, Connection: id, Command: cmd})
	}
}
