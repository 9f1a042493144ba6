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
	"encoding/binary"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/config"
	"github.com/1teed/hbase/util/kvcache"
	"github.com/1teed/hbase/util/logutil"
)

// MaxCachedConnections bounds the process-wide connection registry. The
// eviction is a safety net, not semantics callers rely on: an evicted
// connection is closed.
const MaxCachedConnections = 31

type connCacheKey uint64

// Hash implements kvcache.Key.
func (k connCacheKey) Hash() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return b[:]
}

// connCache is the process-wide multiton: one connection per configuration
// fingerprint, LRU-bounded.
var connCache struct {
	sync.Mutex
	lru      *kvcache.SimpleLRUCache
	shutdown bool
}

func init() {
	connCache.lru = kvcache.NewSimpleLRUCache(MaxCachedConnections)
	connCache.lru.OnEvict = func(_ kvcache.Key, v kvcache.Value) {
		conn := v.(*Connection)
		logutil.Logger(context.Background()).Info("evicting cached connection",
			zap.String("config", conn.conf.String()))
		if err := conn.Close(); err != nil {
			logutil.Logger(context.Background()).Warn("close evicted connection", zap.Error(err))
		}
	}
}

// GetConnection returns the shared connection for conf, creating it on
// first use. After Shutdown it fails with ErrConnectionClosed.
func GetConnection(conf *config.Config, opts ...Option) (*Connection, error) {
	key := connCacheKey(conf.Fingerprint())
	connCache.Lock()
	defer connCache.Unlock()
	if connCache.shutdown {
		return nil, errors.Trace(ErrConnectionClosed)
	}
	if v, ok := connCache.lru.Get(key); ok {
		return v.(*Connection), nil
	}
	conn, err := NewConnection(conf, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	connCache.lru.Put(key, conn)
	return conn, nil
}

// DeleteConnection closes and forgets the connection for conf, if any.
func DeleteConnection(conf *config.Config) {
	key := connCacheKey(conf.Fingerprint())
	connCache.Lock()
	defer connCache.Unlock()
	if v, ok := connCache.lru.Get(key); ok {
		connCache.lru.Delete(key)
		if err := v.(*Connection).Close(); err != nil {
			logutil.Logger(context.Background()).Warn("close deleted connection", zap.Error(err))
		}
	}
}

// DeleteAllConnections closes every cached connection.
func DeleteAllConnections() {
	connCache.Lock()
	defer connCache.Unlock()
	for _, v := range connCache.lru.Values() {
		if err := v.(*Connection).Close(); err != nil {
			logutil.Logger(context.Background()).Warn("close cached connection", zap.Error(err))
		}
	}
	connCache.lru.DeleteAll()
}

// Shutdown closes every cached connection and refuses new ones. Call it
// once at process exit.
func Shutdown() {
	connCache.Lock()
	alreadyDown := connCache.shutdown
	connCache.shutdown = true
	connCache.Unlock()
	if alreadyDown {
		return
	}
	DeleteAllConnections()
}
