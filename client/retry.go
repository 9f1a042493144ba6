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

package client

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/util/logutil"
)

// ServerCallable carries one server-addressed operation: the row it targets,
// the location it is currently bound to, and the call itself. The retry
// driver re-binds it to a freshly resolved location between attempts.
type ServerCallable struct {
	conn     *Connection
	table    []byte
	row      []byte
	location *RegionLocation
	client   ShardClient
	call     func(ctx context.Context, client ShardClient, loc *RegionLocation) error
}

// NewServerCallable builds a callable for (table, row). The call closure
// receives the bound stub and location on every attempt.
func (c *Connection) NewServerCallable(table, row []byte, call func(ctx context.Context, client ShardClient, loc *RegionLocation) error) *ServerCallable {
	return &ServerCallable{conn: c, table: table, row: row, call: call}
}

// Location returns the location of the last binding.
func (s *ServerCallable) Location() *RegionLocation {
	return s.location
}

// bindAddress pins the callable to a server address instead of a located
// region; the batch engine uses it so connectivity failures still know which
// server's cache entries to flush.
func (s *ServerCallable) bindAddress(addr ServerAddress) {
	s.location = &RegionLocation{Region: nil, Addr: addr}
}

// instantiateLocation resolves the callable's region location.
func (s *ServerCallable) instantiateLocation(ctx context.Context, reload bool) error {
	loc, err := s.conn.GetRegionLocation(ctx, s.table, s.row, reload)
	if err != nil {
		return errors.Trace(err)
	}
	s.location = loc
	return nil
}

// instantiateServer binds the RPC stub for the current location.
func (s *ServerCallable) instantiateServer() error {
	client, err := s.conn.proxies.GetShardClient(s.location.Addr)
	if err != nil {
		return errors.Trace(err)
	}
	s.client = client
	return nil
}

// WithRetries runs a server-addressed operation, re-resolving the region and
// pausing between attempts. The loop is bounded by the retry count and, when
// configured, by the rpc-retry wall-clock deadline measured from the start.
func (c *Connection) WithRetries(ctx context.Context, s *ServerCallable) error {
	callStart := time.Now()
	// Do not retry if the region cannot be located; there are enough
	// retries inside the locator already.
	if err := s.instantiateLocation(ctx, false); err != nil {
		return errors.Trace(err)
	}
	var attempts []error
	for tries := 0; ; tries++ {
		err := c.callOnce(ctx, s, false)
		if err == nil {
			return nil
		}
		if IsDoNotRetry(err) {
			// Clear the stale entry when the server disowned the region,
			// then let the failure pass through.
			if IsNotServing(err) {
				if prev := s.location; prev != nil && prev.Region != nil {
					c.cache.Invalidate(s.table, prev.Region.StartKey, &prev.Addr)
				}
			}
			return errors.Trace(err)
		}
		if IsInterrupted(err) {
			return errors.Trace(err)
		}
		attempts = append(attempts, err)
		if tries == c.numRetries-1 {
			return errors.Trace(s.exhausted(tries, attempts))
		}

		prev := s.location
		if prev != nil && prev.Region != nil {
			c.cache.Invalidate(s.table, prev.Region.StartKey, &prev.Addr)
		}
		// Do not retry if getting the location throws; the cache may
		// already have been repopulated by a peer thread, so no reload.
		if lerr := s.instantiateLocation(ctx, false); lerr != nil {
			return errors.Trace(lerr)
		}

		if prev != nil && prev.Addr == s.location.Addr {
			pause := pauseTime(c.pause, tries)
			if c.rpcRetryTimeout > 0 && time.Since(callStart)+pause > c.rpcRetryTimeout {
				return errors.Trace(s.exhausted(tries, attempts))
			}
			logutil.Logger(ctx).Debug("retrying on the same server after pause",
				zap.ByteString("table", s.table),
				zap.Int("tries", tries),
				zap.Duration("pause", pause),
				zap.Error(err))
			if serr := retrySleep(ctx, pause); serr != nil {
				return errors.Trace(serr)
			}
			// While we were sleeping, hopefully the cache has been
			// re-populated.
			if lerr := s.instantiateLocation(ctx, false); lerr != nil {
				return errors.Trace(lerr)
			}
		} else {
			logutil.Logger(ctx).Debug("region moved, retrying immediately",
				zap.ByteString("table", s.table),
				zap.Stringer("from", prev),
				zap.Stringer("to", s.location),
				zap.Int("tries", tries))
		}
	}
}

// WithoutRetries runs the operation at most once. Any locally raised
// connectivity failure makes the whole target server's cache entries go: the
// server is treated as dead and the next call re-resolves from scratch.
func (c *Connection) WithoutRetries(ctx context.Context, s *ServerCallable) error {
	return c.callOnce(ctx, s, true)
}

func (c *Connection) callOnce(ctx context.Context, s *ServerCallable, instantiateLocation bool) error {
	if instantiateLocation && s.location == nil {
		if err := s.instantiateLocation(ctx, false); err != nil {
			return errors.Trace(err)
		}
	}
	if err := s.instantiateServer(); err != nil {
		return errors.Trace(err)
	}
	err := s.call(ctx, s.client, s.location)
	if err == nil {
		return nil
	}
	if IsConnectivityError(err) && s.location != nil {
		// The server looks dead: clear every cache entry that maps to it
		// rather than waiting for per-region misses.
		c.cache.DropServer(s.location.Addr)
	}
	return errors.Trace(err)
}

func (s *ServerCallable) exhausted(tries int, attempts []error) error {
	serverName := ""
	var regionName []byte
	if s.location != nil {
		serverName = s.location.Addr.String()
		if s.location.Region != nil {
			regionName = s.location.Region.RegionName
		}
	}
	return &RetriesExhaustedError{
		ServerName: serverName,
		RegionName: regionName,
		Row:        s.row,
		Tries:      tries + 1,
		Causes:     attempts,
	}
}
