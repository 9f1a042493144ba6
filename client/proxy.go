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
	"sync"

	"github.com/pingcap/errors"
)

// proxyRegistry hands out RPC stubs keyed by server address and interface
// kind, creating each at most once. Stubs stay cached until the registry is
// torn down with the connection.
type proxyRegistry struct {
	factory ProxyFactory

	mu      sync.Mutex
	shards  map[string]ShardClient
	masters map[string]MasterClient
	closed  bool
}

func newProxyRegistry(factory ProxyFactory) *proxyRegistry {
	return &proxyRegistry{
		factory: factory,
		shards:  make(map[string]ShardClient),
		masters: make(map[string]MasterClient),
	}
}

// GetShardClient returns the cached stub for a shard server, creating it on
// miss with the configured timeout.
func (r *proxyRegistry) GetShardClient(addr ServerAddress) (ShardClient, error) {
	key := addr.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Trace(ErrConnectionClosed)
	}
	if cli, ok := r.shards[key]; ok {
		return cli, nil
	}
	cli, err := r.factory.NewShardClient(addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.shards[key] = cli
	return cli, nil
}

// GetMasterClient returns the cached stub for the master at addr.
func (r *proxyRegistry) GetMasterClient(addr ServerAddress) (MasterClient, error) {
	key := addr.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Trace(ErrConnectionClosed)
	}
	if cli, ok := r.masters[key]; ok {
		return cli, nil
	}
	cli, err := r.factory.NewMasterClient(addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.masters[key] = cli
	return cli, nil
}

// Close drops every stub and tears down the factory's transports.
func (r *proxyRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.shards = make(map[string]ShardClient)
	r.masters = make(map[string]MasterClient)
	return errors.Trace(r.factory.Close())
}
