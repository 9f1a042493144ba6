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
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/config"
	"github.com/1teed/hbase/coordination"
	"github.com/1teed/hbase/shardpb"
	"github.com/1teed/hbase/util/logutil"
)

// Connection encapsulates finding the servers of one cluster: it owns the
// region-location cache, the coordination session, the RPC stubs and the
// master proxy. Connections are shared; obtain one through GetConnection.
type Connection struct {
	conf    *config.Config
	session *coordination.Session
	proxies *proxyRegistry
	cache   *RegionCache

	pause           uint64
	numRetries      int
	rpcTimeout      time.Duration
	rpcRetryTimeout time.Duration
	prefetchLimit   int
	metaCaching     int

	closed int32

	// masterMu serializes master discovery; waiters park on masterCond
	// until the discovering caller publishes the outcome.
	masterMu          sync.Mutex
	masterCond        *sync.Cond
	master            MasterClient
	masterChecked     bool
	masterDiscovering bool

	// rootMu guards the root-region location, which is never stored in the
	// per-table cache.
	rootMu     sync.Mutex
	rootRegion *RegionLocation

	// metaRegionMu and userRegionMu serialize cache-miss discovery per
	// level, so one thread resolves while the rest reuse its result.
	metaRegionMu sync.Mutex
	userRegionMu sync.Mutex

	// prefetchMu guards the set of tables with prefetch disabled.
	prefetchMu       sync.Mutex
	prefetchDisabled map[string]struct{}
}

// Option customizes a Connection, mainly for tests.
type Option func(*connOptions)

type connOptions struct {
	factory        ProxyFactory
	sessionFactory coordination.Factory
}

// WithProxyFactory substitutes the transport used for RPC stubs.
func WithProxyFactory(f ProxyFactory) Option {
	return func(o *connOptions) { o.factory = f }
}

// WithCoordinationFactory substitutes the coordination client constructor.
func WithCoordinationFactory(f coordination.Factory) Option {
	return func(o *connOptions) { o.sessionFactory = f }
}

// NewConnection creates an unshared connection. Most callers want
// GetConnection, which multiplexes connections by configuration fingerprint.
func NewConnection(conf *config.Config, opts ...Option) (*Connection, error) {
	if err := conf.Valid(); err != nil {
		return nil, errors.Trace(err)
	}
	var o connOptions
	for _, opt := range opts {
		opt(&o)
	}
	rpcTimeout := time.Duration(conf.RPC.Timeout) * time.Millisecond
	if o.factory == nil {
		o.factory = NewGRPCProxyFactory(conf.Security, rpcTimeout)
	}
	if o.sessionFactory == nil {
		endpoints := conf.Coordination.Endpoints
		dialTimeout := time.Duration(conf.Coordination.DialTimeout) * time.Second
		security := conf.Security
		o.sessionFactory = func() (coordination.Client, error) {
			tlsConfig, err := security.ToTLSConfig()
			if err != nil {
				return nil, errors.Trace(err)
			}
			return coordination.NewEtcdClient(endpoints, dialTimeout, tlsConfig)
		}
	}
	c := &Connection{
		conf:             conf,
		session:          coordination.NewSession(o.sessionFactory, conf.Coordination.MaxReconnection),
		proxies:          newProxyRegistry(o.factory),
		cache:            NewRegionCache(),
		pause:            conf.Client.Pause,
		numRetries:       conf.Client.RetriesNumber,
		rpcTimeout:       rpcTimeout,
		rpcRetryTimeout:  time.Duration(conf.Client.RPCRetryTimeout) * time.Millisecond,
		prefetchLimit:    conf.Client.PrefetchLimit,
		metaCaching:      conf.Client.MetaScannerCaching,
		prefetchDisabled: make(map[string]struct{}),
	}
	c.masterCond = sync.NewCond(&c.masterMu)
	return c, nil
}

// Configuration returns the config the connection was created with.
func (c *Connection) Configuration() *config.Config {
	return c.conf
}

// IsClosed reports whether Close or Abort ran.
func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) != 0
}

func (c *Connection) checkClosed() error {
	if c.IsClosed() {
		return errors.Trace(ErrConnectionClosed)
	}
	return nil
}

// Close tears down the RPC stubs and the coordination session. The region
// cache dies with the connection.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.masterMu.Lock()
	c.master = nil
	c.masterChecked = false
	c.masterCond.Broadcast()
	c.masterMu.Unlock()
	err := c.proxies.Close()
	if serr := c.session.Close(); err == nil {
		err = serr
	}
	return errors.Trace(err)
}

// Abort closes the connection after an unrecoverable failure.
func (c *Connection) Abort(msg string, cause error) {
	logutil.Logger(context.Background()).Error("aborting connection",
		zap.String("message", msg),
		zap.Error(cause))
	if err := c.Close(); err != nil {
		logutil.Logger(context.Background()).Warn("close aborted connection", zap.Error(err))
	}
}

// GetShardClient returns the RPC stub for a shard server.
func (c *Connection) GetShardClient(addr ServerAddress) (ShardClient, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return c.proxies.GetShardClient(addr)
}

// GetShardAdmin returns the stub for a shard server, optionally verifying
// first that a live master is reachable.
func (c *Connection) GetShardAdmin(ctx context.Context, addr ServerAddress, checkMaster bool) (ShardClient, error) {
	if checkMaster {
		if _, err := c.GetMaster(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return c.GetShardClient(addr)
}

// IsDeadServer reports whether server was dropped for connectivity failures
// and has not reappeared in the cache since.
func (c *Connection) IsDeadServer(addr ServerAddress) bool {
	return c.cache.DeadServer(addr)
}

// ClearRegionCache flushes every cached location.
func (c *Connection) ClearRegionCache() {
	c.cache.DropAll()
	c.rootMu.Lock()
	c.rootRegion = nil
	c.rootMu.Unlock()
}

// ClearRegionCacheForTable flushes the cached locations of one table.
func (c *Connection) ClearRegionCacheForTable(table []byte) {
	c.cache.DropTable(table)
}

// DropCachedLocation removes one cached location if it is still current.
func (c *Connection) DropCachedLocation(loc *RegionLocation) {
	c.cache.DropLocation(loc)
}

// ClearCachesForServer drops every cached location hosted by server.
func (c *Connection) ClearCachesForServer(addr ServerAddress) {
	c.cache.DropServer(addr)
}

// SetRegionCachePrefetch enables or disables cache prefetch for a table.
// Prefetch is enabled by default.
func (c *Connection) SetRegionCachePrefetch(table []byte, enable bool) {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	if enable {
		delete(c.prefetchDisabled, string(table))
	} else {
		c.prefetchDisabled[string(table)] = struct{}{}
	}
}

// RegionCachePrefetchEnabled reports whether prefetch is on for a table.
func (c *Connection) RegionCachePrefetchEnabled(table []byte) bool {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	_, disabled := c.prefetchDisabled[string(table)]
	return !disabled
}

// PrewarmRegionCache seeds the cache with known locations of one table.
func (c *Connection) PrewarmRegionCache(table []byte, locs []*RegionLocation) {
	for _, loc := range locs {
		if loc == nil || loc.Region == nil {
			continue
		}
		c.cache.Insert(table, loc)
	}
}

// NumCachedRegionLocations returns the cached location count of one table.
func (c *Connection) NumCachedRegionLocations(table []byte) int {
	return c.cache.NumCached(table)
}

// IsRegionCached reports whether a cached region covers row.
func (c *Connection) IsRegionCached(table, row []byte) bool {
	return c.cache.IsCached(table, row)
}

// TableExists probes the catalog for any region row of the table.
func (c *Connection) TableExists(ctx context.Context, table []byte) (bool, error) {
	if len(table) == 0 {
		return false, errors.New("table name cannot be empty")
	}
	if isCatalogTable(table) {
		return true, nil
	}
	tables, err := c.ListTables(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, t := range tables {
		if bytes.Equal(t.Name, table) {
			return true, nil
		}
	}
	return false, nil
}

// ListTables returns a descriptor stub for every user table in the catalog.
func (c *Connection) ListTables(ctx context.Context) ([]*shardpb.TableDescriptor, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	var tables []*shardpb.TableDescriptor
	err := c.metaScan(ctx, nil, 0, func(r *shardpb.Result) (bool, error) {
		value := r.GetValue(CatalogFamily, RegionInfoQualifier)
		if len(value) == 0 {
			return true, nil
		}
		ri, err := shardpb.UnmarshalRegionInfo(value)
		if err != nil {
			return false, errors.Trace(err)
		}
		// Only examine the rows where the start key is zero length.
		if len(ri.StartKey) == 0 {
			tables = append(tables, &shardpb.TableDescriptor{Name: ri.TableName})
		}
		return true, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return tables, nil
}

// GetTableDescriptor returns the descriptor stub of one table.
func (c *Connection) GetTableDescriptor(ctx context.Context, table []byte) (*shardpb.TableDescriptor, error) {
	if isCatalogTable(table) {
		return &shardpb.TableDescriptor{Name: table}, nil
	}
	var desc *shardpb.TableDescriptor
	startRow := CreateRegionName(table, nil, "")
	err := c.metaScan(ctx, startRow, 0, func(r *shardpb.Result) (bool, error) {
		value := r.GetValue(CatalogFamily, RegionInfoQualifier)
		if len(value) == 0 {
			return true, nil
		}
		ri, err := shardpb.UnmarshalRegionInfo(value)
		if err != nil {
			return false, errors.Trace(err)
		}
		if !bytes.Equal(ri.TableName, table) {
			return false, nil
		}
		desc = &shardpb.TableDescriptor{Name: ri.TableName}
		return false, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if desc == nil {
		return nil, errors.Trace(ErrTableNotFound)
	}
	return desc, nil
}

// tableOnlineState scans the table's catalog rows and counts offline ones.
func (c *Connection) tableOnlineState(ctx context.Context, table []byte) (scanned, offline int, err error) {
	startRow := CreateRegionName(table, nil, "")
	err = c.metaScan(ctx, startRow, 0, func(r *shardpb.Result) (bool, error) {
		value := r.GetValue(CatalogFamily, RegionInfoQualifier)
		if len(value) == 0 {
			return true, nil
		}
		ri, rerr := shardpb.UnmarshalRegionInfo(value)
		if rerr != nil {
			return false, errors.Trace(rerr)
		}
		if !bytes.Equal(ri.TableName, table) {
			return false, nil
		}
		scanned++
		if ri.Offline {
			offline++
		}
		return true, nil
	})
	return scanned, offline, errors.Trace(err)
}

// IsTableEnabled reports whether every region of the table is online.
func (c *Connection) IsTableEnabled(ctx context.Context, table []byte) (bool, error) {
	exists, err := c.TableExists(ctx, table)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !exists {
		return false, errors.Trace(ErrTableNotFound)
	}
	if isRootTable(table) {
		// The root region is always enabled.
		return true, nil
	}
	scanned, offline, err := c.tableOnlineState(ctx, table)
	if err != nil {
		return false, errors.Trace(err)
	}
	return scanned > 0 && offline == 0, nil
}

// IsTableDisabled reports whether every region of the table is offline.
func (c *Connection) IsTableDisabled(ctx context.Context, table []byte) (bool, error) {
	exists, err := c.TableExists(ctx, table)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !exists {
		return false, errors.Trace(ErrTableNotFound)
	}
	if isRootTable(table) {
		return false, nil
	}
	scanned, offline, err := c.tableOnlineState(ctx, table)
	if err != nil {
		return false, errors.Trace(err)
	}
	return scanned > 0 && offline == scanned, nil
}

// IsTableAvailable reports whether every region row of the table carries a
// server assignment.
func (c *Connection) IsTableAvailable(ctx context.Context, table []byte) (bool, error) {
	available := true
	err := c.metaScan(ctx, nil, 0, func(r *shardpb.Result) (bool, error) {
		value := r.GetValue(CatalogFamily, RegionInfoQualifier)
		if len(value) == 0 {
			return true, nil
		}
		ri, rerr := shardpb.UnmarshalRegionInfo(value)
		if rerr != nil {
			return true, nil
		}
		if bytes.Equal(ri.TableName, table) {
			if len(r.GetValue(CatalogFamily, ServerQualifier)) == 0 {
				available = false
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return false, errors.Trace(err)
	}
	return available, nil
}

// IsTableAvailableWithSplitKeys additionally checks that the table was fully
// split: every given split key must start a region, plus the first region.
func (c *Connection) IsTableAvailableWithSplitKeys(ctx context.Context, table []byte, splitKeys [][]byte) (bool, error) {
	available, err := c.IsTableAvailable(ctx, table)
	if err != nil || !available {
		return false, errors.Trace(err)
	}
	locs, err := c.LocateRegions(ctx, table, true, false)
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(locs) != len(splitKeys)+1 {
		return false, nil
	}
	starts := make(map[string]struct{}, len(locs))
	for _, loc := range locs {
		starts[string(loc.Region.StartKey)] = struct{}{}
	}
	for _, key := range splitKeys {
		if _, ok := starts[string(key)]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// LocateRegions enumerates the regions of a table from its catalog rows.
// With useCache every discovered location is also cached; offline regions
// are skipped unless includeOffline.
func (c *Connection) LocateRegions(ctx context.Context, table []byte, useCache, includeOffline bool) ([]*RegionLocation, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if isRootTable(table) {
		loc, err := c.LocateRegion(ctx, table, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return []*RegionLocation{loc}, nil
	}
	var locs []*RegionLocation
	startRow := CreateRegionName(table, nil, "")
	err := c.metaScan(ctx, startRow, 0, func(r *shardpb.Result) (bool, error) {
		value := r.GetValue(CatalogFamily, RegionInfoQualifier)
		if len(value) == 0 {
			return true, nil
		}
		ri, rerr := shardpb.UnmarshalRegionInfo(value)
		if rerr != nil {
			return false, errors.Trace(rerr)
		}
		if !bytes.Equal(ri.TableName, table) {
			return false, nil
		}
		if ri.Offline && !includeOffline {
			return true, nil
		}
		serverValue := r.GetValue(CatalogFamily, ServerQualifier)
		if len(serverValue) == 0 {
			return true, nil
		}
		addr, aerr := ParseServerAddress(string(serverValue))
		if aerr != nil {
			return false, errors.Trace(aerr)
		}
		loc := &RegionLocation{Region: ri, Addr: addr}
		locs = append(locs, loc)
		if useCache && !ri.Offline {
			c.cache.Insert(table, loc)
		}
		return true, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return locs, nil
}
