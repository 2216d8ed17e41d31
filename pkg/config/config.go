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

// Package config assembles the daemon's collaborators behind a single
// functional-options Config, the same shape the teacher's pkg/config uses
// for its own runtime: a Logger created up front, a set of WithX options
// applied over it, and defaults filled in for whatever the caller left
// unset.
package config

import (
	tpm2 "github.com/canonical/go-tpm2"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/accessbroker"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/queue"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/quota"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sessionlist"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sink"
	v1 "github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
)

// Config holds every collaborator the engine needs. Zero-value fields are
// filled with in-process defaults by NewConfig, except AccessBroker, which
// has no safe default and must be supplied by a WithAccessBroker option.
type Config struct {
	Logger          v1.Logger
	AccessBroker    accessbroker.AccessBroker
	Sessions        *sessionlist.SessionList
	Queue           *queue.Queue
	Sink            sink.Sink
	Quota           quota.Config
	FlushedCommands map[tpm2.CommandCode]bool
	AuditDBPath     string
}

// Option mutates a Config under construction, in the teacher's
// GenericOptions style.
type Option func(c *Config) error

func WithLogger(logger v1.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

func WithAccessBroker(broker accessbroker.AccessBroker) Option {
	return func(c *Config) error {
		c.AccessBroker = broker
		return nil
	}
}

func WithSessionList(sessions *sessionlist.SessionList) Option {
	return func(c *Config) error {
		c.Sessions = sessions
		return nil
	}
}

func WithQueue(q *queue.Queue) Option {
	return func(c *Config) error {
		c.Queue = q
		return nil
	}
}

func WithSink(s sink.Sink) Option {
	return func(c *Config) error {
		c.Sink = s
		return nil
	}
}

func WithQuota(q quota.Config) Option {
	return func(c *Config) error {
		c.Quota = q
		return nil
	}
}

func WithFlushedCommands(flushed map[tpm2.CommandCode]bool) Option {
	return func(c *Config) error {
		c.FlushedCommands = flushed
		return nil
	}
}

// WithAuditDB enables the optional bbolt-backed audit log at path; an empty
// path (the default) leaves it disabled.
func WithAuditDB(path string) Option {
	return func(c *Config) error {
		c.AuditDBPath = path
		return nil
	}
}

// NewConfig applies opts over a Config seeded with in-process defaults: a
// logrus Logger, default quotas, an empty SessionList, and an unbounded-ish
// buffered queue/sink pair. AccessBroker is left nil if no option supplies
// one; NewConfig does not check for it, and a Dispatcher built from such a
// Config panics on its first AccessBroker call.
func NewConfig(opts ...Option) *Config {
	log := v1.NewLogger()

	c := &Config{
		Logger:   log,
		Sessions: sessionlist.New(),
		Queue:    queue.New(64),
		Sink:     sink.NewChannel(64),
		Quota:    quota.NewDefault(),
	}

	for _, o := range opts {
		if err := o(c); err != nil {
			log.Errorf("config: error applying option: %s", err)
			return nil
		}
	}

	return c
}
