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

	. "github.com/pingcap/check"
	"github.com/pingcap/errors"
)

type testLocatorSuite struct {
	cluster *mockCluster
	rootSrv *mockServer
	metaSrv *mockServer
	userSrv *mockServer
	conn    *Connection
}

var _ = Suite(&testLocatorSuite{})

func (s *testLocatorSuite) SetUpTest(c *C) {
	s.cluster = newMockCluster()
	s.rootSrv = s.cluster.addServer(20160)
	s.metaSrv = s.cluster.addServer(20161)
	s.userSrv = s.cluster.addServer(20162)
	s.cluster.bootstrap(s.rootSrv, s.metaSrv)
	s.conn = newTestConnection(c, s.cluster, nil)
}

func (s *testLocatorSuite) TearDownTest(c *C) {
	c.Assert(s.conn.Close(), IsNil)
}

func (s *testLocatorSuite) totalCalls() int {
	return s.rootSrv.totalCalls() + s.metaSrv.totalCalls() + s.userSrv.totalCalls()
}

func (s *testLocatorSuite) TestColdLookup(c *C) {
	table := []byte("t0")
	s.cluster.createRegion(table, []byte("a"), []byte("z"), s.userSrv)

	loc, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, s.userSrv.addr)
	c.Assert(string(loc.Region.StartKey), Equals, "a")
	c.Assert(string(loc.Region.EndKey), Equals, "z")
	c.Assert(s.conn.IsRegionCached(table, []byte("g")), IsTrue)

	// A second lookup in the same region is answered from the cache.
	before := s.totalCalls()
	loc2, err := s.conn.LocateRegion(context.Background(), table, []byte("h"))
	c.Assert(err, IsNil)
	c.Assert(loc2, Equals, loc)
	c.Assert(s.totalCalls(), Equals, before)
}

func (s *testLocatorSuite) TestRelocateBypassesCache(c *C) {
	table := []byte("t0")
	info := s.cluster.createRegion(table, []byte("a"), []byte("z"), s.userSrv)

	_, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)

	// Move the region; the cache still points at the old server.
	other := s.cluster.addServer(20170)
	s.cluster.moveRegion(info, s.userSrv, other)
	loc, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, s.userSrv.addr)

	loc, err = s.conn.RelocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, other.addr)
}

func (s *testLocatorSuite) TestPrefetchWindow(c *C) {
	table := []byte("t1")
	s.cluster.createRegion(table, nil, []byte("c"), s.userSrv)
	s.cluster.createRegion(table, []byte("c"), []byte("f"), s.userSrv)
	s.cluster.createRegion(table, []byte("f"), []byte("i"), s.userSrv)
	s.cluster.createRegion(table, []byte("i"), nil, s.userSrv)

	_, err := s.conn.LocateRegion(context.Background(), table, []byte("a"))
	c.Assert(err, IsNil)
	// The probe caches the covering region and prefetch pulls the rest of
	// the window in the same pass.
	c.Assert(s.conn.NumCachedRegionLocations(table), Equals, 4)

	before := s.totalCalls()
	for _, row := range []string{"b", "d", "g", "x"} {
		loc, lerr := s.conn.LocateRegion(context.Background(), table, []byte(row))
		c.Assert(lerr, IsNil)
		c.Assert(loc, NotNil)
	}
	c.Assert(s.totalCalls(), Equals, before)
}

func (s *testLocatorSuite) TestPrefetchStopsAtForeignTable(c *C) {
	t1, t2 := []byte("ta"), []byte("tb")
	s.cluster.createRegion(t1, nil, []byte("m"), s.userSrv)
	s.cluster.createRegion(t1, []byte("m"), nil, s.userSrv)
	s.cluster.createRegion(t2, nil, nil, s.userSrv)

	_, err := s.conn.LocateRegion(context.Background(), t1, []byte("a"))
	c.Assert(err, IsNil)
	c.Assert(s.conn.NumCachedRegionLocations(t1), Equals, 2)
	// The foreign table's region must not leak into the requested table's
	// cache, nor be cached under its own name by prefetch.
	c.Assert(s.conn.NumCachedRegionLocations(t2), Equals, 0)
}

func (s *testLocatorSuite) TestPrefetchStopsAtOfflineRegion(c *C) {
	table := []byte("tc")
	s.cluster.createRegion(table, nil, []byte("f"), s.userSrv)
	offline := s.cluster.createRegion(table, []byte("f"), []byte("m"), s.userSrv)
	offline.Offline = true
	s.cluster.writeCatalogRow(s.cluster.metaDB, offline, s.userSrv.addr)
	s.cluster.createRegion(table, []byte("m"), nil, s.userSrv)

	_, err := s.conn.LocateRegion(context.Background(), table, []byte("a"))
	c.Assert(err, IsNil)
	// Only the covering region: prefetch stopped at the offline row.
	c.Assert(s.conn.NumCachedRegionLocations(table), Equals, 1)
}

func (s *testLocatorSuite) TestPrefetchDisabled(c *C) {
	table := []byte("td")
	s.cluster.createRegion(table, nil, []byte("m"), s.userSrv)
	s.cluster.createRegion(table, []byte("m"), nil, s.userSrv)

	s.conn.SetRegionCachePrefetch(table, false)
	c.Assert(s.conn.RegionCachePrefetchEnabled(table), IsFalse)
	_, err := s.conn.LocateRegion(context.Background(), table, []byte("a"))
	c.Assert(err, IsNil)
	c.Assert(s.conn.NumCachedRegionLocations(table), Equals, 1)

	s.conn.SetRegionCachePrefetch(table, true)
	c.Assert(s.conn.RegionCachePrefetchEnabled(table), IsTrue)
}

func (s *testLocatorSuite) TestTableNotFound(c *C) {
	s.cluster.createRegion([]byte("known"), nil, nil, s.userSrv)
	_, err := s.conn.LocateRegion(context.Background(), []byte("unknown"), []byte("g"))
	c.Assert(err, NotNil)
	c.Assert(errors.Cause(err), Equals, ErrTableNotFound)
}

func (s *testLocatorSuite) TestNoServerForRegion(c *C) {
	table := []byte("te")
	// Catalog row exists but carries no server column.
	s.cluster.createRegion(table, nil, nil, nil)
	_, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, NotNil)
	c.Assert(IsNoServerForRegion(err), IsTrue)
}

func (s *testLocatorSuite) TestRegionOfflineSurfaces(c *C) {
	table := []byte("tf")
	info := s.cluster.createRegion(table, nil, nil, s.userSrv)
	info.Offline = true
	s.cluster.writeCatalogRow(s.cluster.metaDB, info, s.userSrv.addr)

	_, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, NotNil)
	c.Assert(IsRegionOffline(err), IsTrue)
}

func (s *testLocatorSuite) TestRootDiscoveryWaitsForAssignment(c *C) {
	// The root pointer appears only on the third read.
	s.cluster.coord.mu.Lock()
	s.cluster.coord.rootAfter = 2
	s.cluster.coord.rootReads = 0
	s.cluster.coord.mu.Unlock()

	table := []byte("tg")
	s.cluster.createRegion(table, nil, nil, s.userSrv)
	loc, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, s.userSrv.addr)
}

func (s *testLocatorSuite) TestLocateRegionByName(c *C) {
	table := []byte("th")
	info := s.cluster.createRegion(table, []byte("a"), []byte("z"), s.userSrv)
	loc, err := s.conn.LocateRegionByName(context.Background(), info.RegionName)
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, s.userSrv.addr)
	c.Assert(string(loc.Region.RegionName), Equals, string(info.RegionName))
}

func (s *testLocatorSuite) TestLocateRegions(c *C) {
	table := []byte("ti")
	s.cluster.createRegion(table, nil, []byte("m"), s.userSrv)
	s.cluster.createRegion(table, []byte("m"), nil, s.metaSrv)

	locs, err := s.conn.LocateRegions(context.Background(), table, false, false)
	c.Assert(err, IsNil)
	c.Assert(locs, HasLen, 2)
	c.Assert(string(locs[0].Region.StartKey), Equals, "")
	c.Assert(string(locs[1].Region.StartKey), Equals, "m")
}

func (s *testLocatorSuite) TestClearRegionCache(c *C) {
	table := []byte("tj")
	s.cluster.createRegion(table, nil, nil, s.userSrv)
	_, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)
	c.Assert(s.conn.NumCachedRegionLocations(table) > 0, IsTrue)

	s.conn.ClearRegionCache()
	c.Assert(s.conn.NumCachedRegionLocations(table), Equals, 0)
	c.Assert(s.conn.IsRegionCached(table, []byte("g")), IsFalse)
}
