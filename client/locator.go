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
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/shardpb"
	"github.com/1teed/hbase/util/logutil"
)

// LocateRegion resolves the region covering row, preferring the cache.
func (c *Connection) LocateRegion(ctx context.Context, table, row []byte) (*RegionLocation, error) {
	return c.locateRegion(ctx, table, row, true)
}

// RelocateRegion resolves the region covering row, bypassing and refreshing
// any cached entry.
func (c *Connection) RelocateRegion(ctx context.Context, table, row []byte) (*RegionLocation, error) {
	return c.locateRegion(ctx, table, row, false)
}

// GetRegionLocation resolves with or without a forced reload.
func (c *Connection) GetRegionLocation(ctx context.Context, table, row []byte, reload bool) (*RegionLocation, error) {
	if reload {
		return c.RelocateRegion(ctx, table, row)
	}
	return c.LocateRegion(ctx, table, row)
}

func (c *Connection) locateRegion(ctx context.Context, table, row []byte, useCache bool) (*RegionLocation, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if len(table) == 0 {
		return nil, errors.New("table name cannot be empty")
	}
	switch {
	case isRootTable(table):
		// This block guards against two threads trying to find the root
		// region at the same time: one does the find, the second reuses it.
		c.rootMu.Lock()
		defer c.rootMu.Unlock()
		if !useCache || c.rootRegion == nil {
			loc, err := c.locateRootRegion(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			c.rootRegion = loc
		}
		return c.rootRegion, nil
	case isMetaTable(table):
		return c.locateRegionInMeta(ctx, RootTableName, table, row, useCache, &c.metaRegionMu)
	default:
		return c.locateRegionInMeta(ctx, MetaTableName, table, row, useCache, &c.userRegionMu)
	}
}

// locateRootRegion reads the root-region address from the coordination
// service and verifies the hosting server actually serves it.
func (c *Connection) locateRootRegion(ctx context.Context) (*RegionLocation, error) {
	bo := NewBackoffer(ctx, c.pause)
	for tries := 0; tries < c.numRetries; tries++ {
		var rootAddr string
		for localTimeouts := 0; rootAddr == "" && localTimeouts < c.numRetries; localTimeouts++ {
			addr, err := c.session.RootRegionAddress(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if addr != "" {
				rootAddr = addr
				break
			}
			if err := bo.Backoff(boLocateRoot, tries, errors.New("root region not assigned yet")); err != nil {
				return nil, errors.Trace(err)
			}
		}
		if rootAddr == "" {
			return nil, errors.Annotate(ErrNoServerForRegion, "timed out trying to locate root region")
		}

		addr, err := ParseServerAddress(rootAddr)
		if err != nil {
			return nil, errors.Trace(err)
		}
		server, err := c.proxies.GetShardClient(addr)
		if err == nil {
			// If this works we have an acceptable address, so we can stop
			// retrying and return the result.
			_, err = server.GetRegionInfo(ctx, RootRegionInfo.RegionName)
			if err == nil {
				logutil.Logger(ctx).Debug("found root region", zap.String("server", rootAddr))
				return &RegionLocation{Region: RootRegionInfo, Addr: addr}, nil
			}
		}
		if IsDoNotRetry(err) {
			return nil, errors.Trace(err)
		}
		if tries == c.numRetries-1 {
			return nil, errors.Annotatef(ErrNoServerForRegion,
				"timed out trying to locate root region because: %v", err)
		}
		if berr := bo.Backoff(boLocateRoot, tries, err); berr != nil {
			return nil, errors.Trace(berr)
		}
	}
	return nil, errors.Annotate(ErrNoServerForRegion, "unable to locate root region server")
}

// locateRegionInMeta searches a parent catalog region (root or meta) for the
// location covering (table, row) with a closest-row-before probe.
func (c *Connection) locateRegionInMeta(ctx context.Context, parent, table, row []byte, useCache bool, regionMu *sync.Mutex) (*RegionLocation, error) {
	// If we are supposed to be using the cache, look there first.
	if useCache {
		if loc := c.cache.Lookup(table, row); loc != nil {
			return loc, nil
		}
	}

	// The probe key: the sentinel suffix allows an exact predecessor match
	// without knowing the precise region name.
	metaKey := metaProbeKey(table, row)
	bo := NewBackoffer(ctx, c.pause)
	for tries := 0; ; tries++ {
		if tries >= c.numRetries {
			return nil, errors.Annotatef(ErrNoServerForRegion,
				"unable to find region for %q after %d tries", row, c.numRetries)
		}

		loc, err := c.locateInMetaOnce(ctx, parent, table, row, metaKey, useCache, regionMu)
		if err == nil {
			return loc, nil
		}
		if errors.Cause(err) == ErrTableNotFound || IsDoNotRetry(err) {
			// The table just plain doesn't exist, or retrying is hopeless.
			return nil, errors.Trace(err)
		}
		if tries >= c.numRetries-1 {
			return nil, errors.Trace(err)
		}
		logutil.Logger(ctx).Debug("locate region in parent failed, retrying",
			zap.ByteString("parent", parent),
			zap.ByteString("table", table),
			zap.Int("tries", tries),
			zap.Error(err))
		// Only re-resolve the parent region when the failure does not come
		// from the catalog row itself.
		if !IsRegionOffline(err) && !IsNoServerForRegion(err) {
			if _, rerr := c.locateRegion(ctx, parent, metaKey, false); rerr != nil {
				logutil.Logger(ctx).Warn("relocate parent region failed",
					zap.ByteString("parent", parent), zap.Error(rerr))
			}
		}
		if berr := bo.Backoff(boLocateMeta, tries, err); berr != nil {
			return nil, errors.Trace(berr)
		}
	}
}

// locateInMetaOnce performs one probe attempt against the parent region.
func (c *Connection) locateInMetaOnce(ctx context.Context, parent, table, row, metaKey []byte, useCache bool, regionMu *sync.Mutex) (*RegionLocation, error) {
	// Locate the parent (root or meta) region first.
	parentLoc, err := c.locateRegion(ctx, parent, metaKey, true)
	if err != nil {
		return nil, errors.Trace(err)
	}
	server, err := c.proxies.GetShardClient(parentLoc.Addr)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// This block guards against two threads loading the same catalog range
	// at the same time: the first loads, the second reuses what it cached.
	regionMu.Lock()

	// If the parent is the catalog table we may want to pre-fetch some
	// region info into the global region cache for this table.
	if isMetaTable(parent) && c.RegionCachePrefetchEnabled(table) {
		c.prefetchRegionCache(ctx, table, row)
	}

	// Check the cache again in case a peer made the same query while we
	// waited on the lock. If not supposed to be using the cache, delete any
	// existing cached location so it won't interfere.
	if useCache {
		if loc := c.cache.Lookup(table, row); loc != nil {
			regionMu.Unlock()
			return loc, nil
		}
	} else {
		c.cache.Invalidate(table, row, nil)
	}

	// Query the parent region for the location covering the row.
	infoRow, err := server.GetClosestRowBefore(ctx, parentLoc.Region.RegionName, metaKey, CatalogFamily)
	regionMu.Unlock()
	if err != nil {
		return nil, errors.Trace(err)
	}

	if infoRow.Empty() {
		return nil, errors.Trace(ErrTableNotFound)
	}
	value := infoRow.GetValue(CatalogFamily, RegionInfoQualifier)
	if len(value) == 0 {
		return nil, errors.Errorf("region info was empty in %s, row=%q", parent, infoRow.Row)
	}
	ri, err := shardpb.UnmarshalRegionInfo(value)
	if err != nil {
		return nil, &DoNotRetryError{Cause: err}
	}
	// Possible we got a region of a different table.
	if !bytes.Equal(ri.TableName, table) {
		return nil, errors.Annotatef(ErrTableNotFound, "table %q was not found", table)
	}
	if ri.Offline {
		return nil, errors.Annotatef(ErrRegionOffline, "region offline: %s", ri.RegionName)
	}
	serverValue := infoRow.GetValue(CatalogFamily, ServerQualifier)
	if len(serverValue) == 0 {
		return nil, errors.Annotatef(ErrNoServerForRegion,
			"no server address listed in %s for region %s containing row %q",
			parent, ri.RegionName, row)
	}
	addr, err := ParseServerAddress(string(serverValue))
	if err != nil {
		return nil, &DoNotRetryError{Cause: err}
	}
	loc := &RegionLocation{Region: ri, Addr: addr}
	c.cache.Insert(table, loc)
	return loc, nil
}

// prefetchRegionCache walks the catalog from the requested key and caches up
// to the prefetch window of region descriptors. Rows of other tables and
// offline regions terminate the walk; problems only produce a warning.
func (c *Connection) prefetchRegionCache(ctx context.Context, table, row []byte) {
	startRow := CreateRegionName(table, row, "")
	err := c.metaScan(ctx, startRow, c.prefetchLimit, func(r *shardpb.Result) (bool, error) {
		value := r.GetValue(CatalogFamily, RegionInfoQualifier)
		if len(value) == 0 {
			return true, nil
		}
		ri, err := shardpb.UnmarshalRegionInfo(value)
		if err != nil {
			return false, errors.Trace(err)
		}
		// Possible we got a region of a different table.
		if !bytes.Equal(ri.TableName, table) {
			return false, nil
		}
		if ri.Offline {
			return false, nil
		}
		serverValue := r.GetValue(CatalogFamily, ServerQualifier)
		if len(serverValue) == 0 {
			return true, nil
		}
		addr, err := ParseServerAddress(string(serverValue))
		if err != nil {
			return false, errors.Trace(err)
		}
		c.cache.Insert(table, &RegionLocation{Region: ri, Addr: addr})
		return true, nil
	})
	if err != nil {
		logutil.Logger(ctx).Warn("problems prefetching the catalog", zap.Error(err))
	}
}

// LocateRegionByName finds the location of a region given its full name.
func (c *Connection) LocateRegionByName(ctx context.Context, regionName []byte) (*RegionLocation, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if bytes.Equal(regionName, RootRegionInfo.RegionName) {
		return c.LocateRegion(ctx, RootTableName, nil)
	}
	idx := bytes.IndexByte(regionName, ',')
	if idx <= 0 {
		return nil, errors.Errorf("malformed region name %q", regionName)
	}
	table := regionName[:idx]
	var loc *RegionLocation
	err := c.metaScan(ctx, regionName, 1, func(r *shardpb.Result) (bool, error) {
		if !bytes.Equal(r.Row, regionName) {
			return false, nil
		}
		value := r.GetValue(CatalogFamily, RegionInfoQualifier)
		ri, rerr := shardpb.UnmarshalRegionInfo(value)
		if rerr != nil {
			return false, errors.Trace(rerr)
		}
		serverValue := r.GetValue(CatalogFamily, ServerQualifier)
		if len(serverValue) == 0 {
			return false, errors.Trace(ErrNoServerForRegion)
		}
		addr, aerr := ParseServerAddress(string(serverValue))
		if aerr != nil {
			return false, errors.Trace(aerr)
		}
		loc = &RegionLocation{Region: ri, Addr: addr}
		return false, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if loc == nil {
		return nil, errors.Annotatef(ErrNoServerForRegion, "region %q not found in catalog", regionName)
	}
	c.cache.Insert(table, loc)
	return loc, nil
}

// retrySleep honors the caller's cancellation while pausing.
func retrySleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}
