// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coordination maintains the client's session with the coordination
// quorum. The quorum stores two values the client needs to bootstrap: the
// master address and the root-region server address. A lost session is
// recreated transparently a bounded number of times; past the bound the
// session aborts and every dependent call fails fast.
package coordination

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/metrics"
	"github.com/1teed/hbase/util/logutil"
)

// EventType is a session state transition observed by listeners.
type EventType int

// Session events.
const (
	// EventConnected fires when the session (re)establishes.
	EventConnected EventType = iota
	// EventDisconnected fires on a transient connection loss.
	EventDisconnected
	// EventSessionExpired fires when the quorum declared the session dead.
	EventSessionExpired
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventSessionExpired:
		return "session-expired"
	}
	return "unknown"
}

// ErrSessionLostPermanent is returned once the reconnect cap is exceeded.
// Every later call on the session fails with it immediately.
var ErrSessionLostPermanent = errors.New("coordination session lost permanently")

// Client is one live session to the coordination quorum.
type Client interface {
	// MasterAddress reads the current master address. Empty means no master
	// is registered right now.
	MasterAddress(ctx context.Context) (string, error)
	// RootRegionAddress reads the address of the server hosting the root
	// region. Empty means the root region is not assigned yet.
	RootRegionAddress(ctx context.Context) (string, error)
	// Subscribe registers a listener for session events. The listener runs
	// on the session's own event goroutine.
	Subscribe(func(EventType))
	// Close releases the session.
	Close() error
}

// Factory creates a fresh Client. The Session uses it for the initial
// connection and for every transparent reconnect.
type Factory func() (Client, error)

// Session wraps a Client with the reconnect policy: a session-expired event
// closes and recreates the client, at most maxReconnection times in a row. A
// connected event resets the counter.
type Session struct {
	factory Factory

	mu              sync.Mutex
	cli             Client
	reconnections   int
	maxReconnection int
	aborted         bool
}

// NewSession creates a lazy session. No connection is made until Acquire.
func NewSession(factory Factory, maxReconnection int) *Session {
	return &Session{
		factory:         factory,
		maxReconnection: maxReconnection,
	}
}

// Acquire returns the live client, creating it if necessary. It fails with
// ErrSessionLostPermanent after the reconnect cap has been exceeded.
func (s *Session) Acquire() (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireLocked()
}

func (s *Session) acquireLocked() (Client, error) {
	if s.aborted {
		return nil, errors.Trace(ErrSessionLostPermanent)
	}
	if s.cli != nil {
		return s.cli, nil
	}
	if s.reconnections > s.maxReconnection {
		s.aborted = true
		return nil, errors.Trace(ErrSessionLostPermanent)
	}
	cli, err := s.factory()
	if err != nil {
		return nil, errors.Trace(err)
	}
	cli.Subscribe(s.onEvent)
	s.cli = cli
	return cli, nil
}

// onEvent is invoked from the client's event goroutine.
func (s *Session) onEvent(ev EventType) {
	metrics.CoordinationEventCounter.WithLabelValues(ev.String()).Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev {
	case EventConnected:
		s.reconnections = 0
	case EventSessionExpired:
		s.reconnections++
		logutil.Logger(context.Background()).Info("coordination session expired, reconnecting",
			zap.Int("attempt", s.reconnections),
			zap.Int("max", s.maxReconnection))
		if s.cli != nil {
			if err := s.cli.Close(); err != nil {
				logutil.Logger(context.Background()).Warn("close expired coordination session", zap.Error(err))
			}
			s.cli = nil
		}
		if s.reconnections > s.maxReconnection {
			logutil.Logger(context.Background()).Error("coordination session reconnect cap exceeded, aborting")
			s.aborted = true
			return
		}
		if _, err := s.acquireLocked(); err != nil {
			logutil.Logger(context.Background()).Error("coordination session reconnect failed", zap.Error(err))
		}
	case EventDisconnected:
		logutil.Logger(context.Background()).Warn("coordination session disconnected")
	}
}

// Aborted reports whether the session gave up reconnecting.
func (s *Session) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Reconnections returns how many times the session expired since the last
// successful connect.
func (s *Session) Reconnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnections
}

// MasterAddress reads the master address through the live client.
func (s *Session) MasterAddress(ctx context.Context) (string, error) {
	cli, err := s.Acquire()
	if err != nil {
		return "", errors.Trace(err)
	}
	addr, err := cli.MasterAddress(ctx)
	return addr, errors.Trace(err)
}

// RootRegionAddress reads the root-region server address through the live
// client.
func (s *Session) RootRegionAddress(ctx context.Context) (string, error) {
	cli, err := s.Acquire()
	if err != nil {
		return "", errors.Trace(err)
	}
	addr, err := cli.RootRegionAddress(ctx)
	return addr, errors.Trace(err)
}

// Close releases the session. Further Acquire calls recreate it unless the
// session already aborted.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli == nil {
		return nil
	}
	err := s.cli.Close()
	s.cli = nil
	return errors.Trace(err)
}
