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

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/1teed/hbase/metrics"
	"github.com/1teed/hbase/util/logutil"
)

const btreeDegree = 32

var (
	regionCacheCounterWithLookupHit  = metrics.RegionCacheCounter.WithLabelValues("lookup", "hit")
	regionCacheCounterWithLookupMiss = metrics.RegionCacheCounter.WithLabelValues("lookup", "miss")
	regionCacheCounterWithInsert     = metrics.RegionCacheCounter.WithLabelValues("insert", "ok")
	regionCacheCounterWithInvalidate = metrics.RegionCacheCounter.WithLabelValues("invalidate", "ok")
	regionCacheCounterWithDropServer = metrics.RegionCacheCounter.WithLabelValues("drop_server", "ok")
	regionCacheCounterWithDropAll    = metrics.RegionCacheCounter.WithLabelValues("drop_all", "ok")
)

// RegionCache maps, per table, a region start key to the location last seen
// for it. It answers predecessor queries so a row key finds the region whose
// half-open range covers it.
//
// A single mutex guards both structures. The invariant it maintains: every
// address appearing in a cached location is present in servers, and a server
// absent from servers has no cache entry anywhere. Every call into the cache
// is short and never blocks on the network while holding the lock.
type RegionCache struct {
	mu struct {
		sync.Mutex
		tables  map[string]*btree.BTree
		servers map[string]struct{}
		// dead remembers servers dropped for connectivity failures until a
		// fresh location maps to them again.
		dead map[string]struct{}
	}
}

// NewRegionCache creates an empty RegionCache.
func NewRegionCache() *RegionCache {
	c := &RegionCache{}
	c.mu.tables = make(map[string]*btree.BTree)
	c.mu.servers = make(map[string]struct{})
	c.mu.dead = make(map[string]struct{})
	return c
}

// btreeItem is BTree's Item keyed by region start key.
type btreeItem struct {
	key []byte
	loc *RegionLocation
}

func newBtreeItem(loc *RegionLocation) *btreeItem {
	return &btreeItem{key: loc.Region.StartKey, loc: loc}
}

func newBtreeSearchItem(key []byte) *btreeItem {
	return &btreeItem{key: key}
}

func (item *btreeItem) Less(other btree.Item) bool {
	return bytes.Compare(item.key, other.(*btreeItem).key) < 0
}

// Lookup returns the cached location whose range covers row, or nil. The
// search finds the greatest start key not exceeding row, then verifies row
// is below the end key (an empty end key covers to the end of the table).
func (c *RegionCache) Lookup(table, row []byte) *RegionLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc := c.lookupLocked(table, row)
	if loc == nil {
		regionCacheCounterWithLookupMiss.Inc()
		return nil
	}
	regionCacheCounterWithLookupHit.Inc()
	return loc
}

func (c *RegionCache) lookupLocked(table, row []byte) *RegionLocation {
	t, ok := c.mu.tables[string(table)]
	if !ok {
		return nil
	}
	var loc *RegionLocation
	t.DescendLessOrEqual(newBtreeSearchItem(row), func(item btree.Item) bool {
		loc = item.(*btreeItem).loc
		return false
	})
	if loc == nil || !loc.Contains(row) {
		return nil
	}
	return loc
}

// Insert caches a location, overwriting any entry with the same start key,
// and marks its server known (and alive). It is idempotent.
func (c *RegionCache) Insert(table []byte, loc *RegionLocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.mu.tables[string(table)]
	if !ok {
		t = btree.New(btreeDegree)
		c.mu.tables[string(table)] = t
	}
	addr := loc.Addr.String()
	c.mu.servers[addr] = struct{}{}
	delete(c.mu.dead, addr)
	if old := t.ReplaceOrInsert(newBtreeItem(loc)); old == nil {
		logutil.Logger(context.Background()).Debug("cached region location",
			zap.ByteString("table", table),
			zap.ByteString("region", loc.Region.RegionName),
			zap.String("server", addr))
	}
	regionCacheCounterWithInsert.Inc()
}

// Invalidate removes the entry covering row, but only if its current server
// matches expected. A nil expected forces removal. The check keeps a delayed
// invalidation from undoing a fresher fix installed by a peer thread.
func (c *RegionCache) Invalidate(table, row []byte, expected *ServerAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc := c.lookupLocked(table, row)
	if loc == nil {
		return
	}
	if expected != nil && loc.Addr != *expected {
		// Somebody else already cleared and repopulated the entry.
		return
	}
	t := c.mu.tables[string(table)]
	t.Delete(newBtreeSearchItem(loc.Region.StartKey))
	regionCacheCounterWithInvalidate.Inc()
	logutil.Logger(context.Background()).Debug("removed cached region location",
		zap.ByteString("table", table),
		zap.ByteString("region", loc.Region.RegionName),
		zap.ByteString("row", row))
}

// DropLocation removes the exact cached entry for a location's start key if
// it still maps to the same server.
func (c *RegionCache) DropLocation(loc *RegionLocation) {
	c.Invalidate(loc.Region.TableName, loc.Region.StartKey, &loc.Addr)
}

// DropServer removes every entry mapping to server across all tables,
// removes it from the known set and remembers it as dead. It short-circuits
// when the server is not known, which guarantees no entry can reference it.
func (c *RegionCache) DropServer(server ServerAddress) {
	addr := server.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mu.servers[addr]; !ok {
		return
	}
	deleted := 0
	for _, t := range c.mu.tables {
		var stale []*btreeItem
		t.Ascend(func(item btree.Item) bool {
			it := item.(*btreeItem)
			if it.loc.Addr == server {
				stale = append(stale, it)
			}
			return true
		})
		for _, it := range stale {
			t.Delete(it)
			deleted++
		}
	}
	delete(c.mu.servers, addr)
	c.mu.dead[addr] = struct{}{}
	regionCacheCounterWithDropServer.Inc()
	if deleted > 0 {
		logutil.Logger(context.Background()).Debug("removed all cached region locations for server",
			zap.String("server", addr),
			zap.Int("entries", deleted))
	}
}

// DropTable removes every cached entry of one table. Known servers keep
// their entries for other tables, so the server set is left alone.
func (c *RegionCache) DropTable(table []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mu.tables, string(table))
}

// DropAll empties the cache and the known-server set.
func (c *RegionCache) DropAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.tables = make(map[string]*btree.BTree)
	c.mu.servers = make(map[string]struct{})
	regionCacheCounterWithDropAll.Inc()
}

// KnownServer reports whether some cached entry may map to server.
func (c *RegionCache) KnownServer(server ServerAddress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.mu.servers[server.String()]
	return ok
}

// DeadServer reports whether server was dropped for connectivity failures
// and has not been seen hosting a region since.
func (c *RegionCache) DeadServer(server ServerAddress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.mu.dead[server.String()]
	return ok
}

// NumCached returns the number of cached locations for a table.
func (c *RegionCache) NumCached(table []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.mu.tables[string(table)]
	if !ok {
		return 0
	}
	return t.Len()
}

// IsCached reports whether some cached region covers row.
func (c *RegionCache) IsCached(table, row []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(table, row) != nil
}

// TableLocations snapshots the cached locations of one table in key order.
func (c *RegionCache) TableLocations(table []byte) []*RegionLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.mu.tables[string(table)]
	if !ok {
		return nil
	}
	locs := make([]*RegionLocation, 0, t.Len())
	t.Ascend(func(item btree.Item) bool {
		locs = append(locs, item.(*btreeItem).loc)
		return true
	})
	return locs
}
