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

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/util/logutil"
)

// GetMaster returns the shared master proxy, discovering the master through
// the coordination service on first use. Discovery is serialized: exactly
// one caller probes at a time while the rest wait on the condition and reuse
// the published outcome.
func (c *Connection) GetMaster(ctx context.Context) (MasterClient, error) {
	c.masterMu.Lock()
	for c.masterDiscovering {
		c.masterCond.Wait()
	}
	if c.IsClosed() {
		c.masterMu.Unlock()
		return nil, errors.Trace(ErrConnectionClosed)
	}
	if c.masterChecked && c.master != nil {
		m := c.master
		c.masterMu.Unlock()
		return m, nil
	}
	c.masterDiscovering = true
	c.masterMu.Unlock()

	master, addr, err := c.discoverMaster(ctx)

	c.masterMu.Lock()
	c.masterDiscovering = false
	if err == nil && master != nil {
		c.master = master
		// A later null lookup re-runs discovery on the next call.
		c.masterChecked = true
	}
	c.masterCond.Broadcast()
	c.masterMu.Unlock()

	if err != nil {
		return nil, errors.Trace(err)
	}
	if master == nil {
		if addr == "" {
			return nil, errors.Trace(ErrMasterNotRunning)
		}
		return nil, errors.Annotate(ErrMasterNotRunning, addr)
	}
	return master, nil
}

// discoverMaster reads the master address from the coordination service and
// verifies liveness, with bounded retries.
func (c *Connection) discoverMaster(ctx context.Context) (MasterClient, string, error) {
	bo := NewBackoffer(ctx, c.pause)
	var lastAddr string
	for tries := 0; tries < c.numRetries && !c.IsClosed(); tries++ {
		masterAddr, err := c.session.MasterAddress(ctx)
		if err != nil {
			if errors.Cause(err) == ErrConnectionClosed {
				return nil, lastAddr, errors.Trace(err)
			}
			if c.session.Aborted() {
				return nil, lastAddr, errors.Trace(err)
			}
		}
		if err == nil && masterAddr != "" {
			lastAddr = masterAddr
			addr, perr := ParseServerAddress(masterAddr)
			if perr != nil {
				return nil, lastAddr, errors.Trace(perr)
			}
			tryMaster, merr := c.proxies.GetMasterClient(addr)
			if merr == nil {
				running, rerr := tryMaster.IsMasterRunning(ctx)
				if rerr == nil && running {
					return tryMaster, lastAddr, nil
				}
				err = rerr
			} else {
				err = merr
			}
		}
		if tries == c.numRetries-1 {
			// This was our last chance, don't bother sleeping.
			logutil.Logger(ctx).Info("master discovery failed, no more retrying",
				zap.Int("tries", tries),
				zap.Int("max", c.numRetries),
				zap.Error(err))
			break
		}
		if err == nil {
			err = errors.New("master address not published yet")
		}
		logutil.Logger(ctx).Info("master discovery failed, retrying after sleep",
			zap.Int("tries", tries),
			zap.Int("max", c.numRetries),
			zap.Error(err))
		if berr := bo.Backoff(boMasterDiscovery, tries, err); berr != nil {
			return nil, lastAddr, errors.Trace(berr)
		}
	}
	return nil, lastAddr, nil
}

// IsMasterRunning is GetMaster turned into a boolean.
func (c *Connection) IsMasterRunning(ctx context.Context) bool {
	_, err := c.GetMaster(ctx)
	return err == nil
}

// KeepAliveMasterMonitor returns the shared master proxy for monitoring
// calls. The proxy is kept alive for the connection's lifetime.
func (c *Connection) KeepAliveMasterMonitor(ctx context.Context) (MasterClient, error) {
	return c.GetMaster(ctx)
}

// KeepAliveMasterAdmin returns the shared master proxy for administrative
// calls.
func (c *Connection) KeepAliveMasterAdmin(ctx context.Context) (MasterClient, error) {
	return c.GetMaster(ctx)
}
