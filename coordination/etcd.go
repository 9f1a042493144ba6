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

package coordination

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/util/logutil"
)

// Quorum key layout. The master and the root-region holder publish their
// addresses under these keys with a lease; the client only reads them.
const (
	masterKey     = "/tablestore/master"
	rootRegionKey = "/tablestore/root-region-server"
)

const sessionLeaseTTL = 30 // seconds

// etcdClient is the etcd-backed coordination client. Session liveness is
// tracked with a lease keepalive: losing the keepalive stream means the
// quorum expired our lease, which is surfaced as EventSessionExpired.
type etcdClient struct {
	cli     *clientv3.Client
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc

	mu        sync.Mutex
	listeners []func(EventType)
	closed    bool
}

// NewEtcdClient connects to the quorum and starts the session keepalive.
func NewEtcdClient(endpoints []string, dialTimeout time.Duration, tlsConfig *tls.Config) (Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:        endpoints,
		AutoSyncInterval: 30 * time.Second,
		DialTimeout:      dialTimeout,
		TLS:              tlsConfig,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lease, err := cli.Grant(ctx, sessionLeaseTTL)
	if err != nil {
		cancel()
		if cerr := cli.Close(); cerr != nil {
			logutil.Logger(context.Background()).Warn("close etcd client", zap.Error(cerr))
		}
		return nil, errors.Trace(err)
	}
	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		if cerr := cli.Close(); cerr != nil {
			logutil.Logger(context.Background()).Warn("close etcd client", zap.Error(cerr))
		}
		return nil, errors.Trace(err)
	}

	c := &etcdClient{
		cli:     cli,
		leaseID: lease.ID,
		cancel:  cancel,
	}
	go c.keepAliveLoop(ch)
	return c, nil
}

func (c *etcdClient) keepAliveLoop(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	c.emit(EventConnected)
	for range ch {
	}
	// The keepalive stream only ends when the lease expired or the client
	// closed; a deliberate Close must not masquerade as an expiry.
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.emit(EventSessionExpired)
	}
}

func (c *etcdClient) emit(ev EventType) {
	c.mu.Lock()
	listeners := make([]func(EventType), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func (c *etcdClient) readKey(ctx context.Context, key string) (string, error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// MasterAddress implements Client.
func (c *etcdClient) MasterAddress(ctx context.Context) (string, error) {
	return c.readKey(ctx, masterKey)
}

// RootRegionAddress implements Client.
func (c *etcdClient) RootRegionAddress(ctx context.Context) (string, error) {
	return c.readKey(ctx, rootRegionKey)
}

// Subscribe implements Client.
func (c *etcdClient) Subscribe(l func(EventType)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Close implements Client.
func (c *etcdClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return errors.Trace(c.cli.Close())
}
