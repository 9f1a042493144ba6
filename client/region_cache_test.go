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
	. "github.com/pingcap/check"

	"github.com/1teed/hbase/shardpb"
)

type testRegionCacheSuite struct {
	cache *RegionCache
}

var _ = Suite(&testRegionCacheSuite{})

func (s *testRegionCacheSuite) SetUpTest(c *C) {
	s.cache = NewRegionCache()
}

func mkLoc(table string, start, end string, port int) *RegionLocation {
	return &RegionLocation{
		Region: &shardpb.RegionInfo{
			RegionName: CreateRegionName([]byte(table), []byte(start), "1"),
			TableName:  []byte(table),
			StartKey:   []byte(start),
			EndKey:     []byte(end),
		},
		Addr: ServerAddress{Host: "127.0.0.1", Port: port},
	}
}

func (s *testRegionCacheSuite) TestLookupHalfOpen(c *C) {
	table := []byte("t")
	s.cache.Insert(table, mkLoc("t", "a", "m", 1))
	s.cache.Insert(table, mkLoc("t", "m", "z", 2))

	loc := s.cache.Lookup(table, []byte("a"))
	c.Assert(loc, NotNil)
	c.Assert(loc.Addr.Port, Equals, 1)

	// A row equal to an end key belongs to the next region.
	loc = s.cache.Lookup(table, []byte("m"))
	c.Assert(loc, NotNil)
	c.Assert(loc.Addr.Port, Equals, 2)

	// Past the last end key nothing matches.
	c.Assert(s.cache.Lookup(table, []byte("z")), IsNil)
	// Before the first start key nothing matches.
	c.Assert(s.cache.Lookup(table, []byte("A")), IsNil)
}

func (s *testRegionCacheSuite) TestLookupLastRegionUnbounded(c *C) {
	table := []byte("t")
	s.cache.Insert(table, mkLoc("t", "m", "", 2))
	loc := s.cache.Lookup(table, []byte("zzz"))
	c.Assert(loc, NotNil)
	c.Assert(loc.Addr.Port, Equals, 2)
}

func (s *testRegionCacheSuite) TestInsertIdempotent(c *C) {
	table := []byte("t")
	s.cache.Insert(table, mkLoc("t", "a", "m", 1))
	s.cache.Insert(table, mkLoc("t", "a", "m", 3))
	c.Assert(s.cache.NumCached(table), Equals, 1)
	loc := s.cache.Lookup(table, []byte("b"))
	c.Assert(loc.Addr.Port, Equals, 3)
	// The overwritten entry's server stays known until dropped; the new one
	// must be known.
	c.Assert(s.cache.KnownServer(loc.Addr), IsTrue)
}

func (s *testRegionCacheSuite) TestInvalidateExpectedServer(c *C) {
	table := []byte("t")
	s.cache.Insert(table, mkLoc("t", "a", "m", 1))

	// A stale invalidation naming another server is a no-op.
	other := ServerAddress{Host: "127.0.0.1", Port: 9}
	s.cache.Invalidate(table, []byte("b"), &other)
	c.Assert(s.cache.Lookup(table, []byte("b")), NotNil)

	// Matching server removes the entry.
	expected := ServerAddress{Host: "127.0.0.1", Port: 1}
	s.cache.Invalidate(table, []byte("b"), &expected)
	c.Assert(s.cache.Lookup(table, []byte("b")), IsNil)

	// A nil expected server forces removal.
	s.cache.Insert(table, mkLoc("t", "a", "m", 1))
	s.cache.Invalidate(table, []byte("b"), nil)
	c.Assert(s.cache.Lookup(table, []byte("b")), IsNil)
}

func (s *testRegionCacheSuite) TestDropServer(c *C) {
	t1, t2 := []byte("t1"), []byte("t2")
	s.cache.Insert(t1, mkLoc("t1", "a", "m", 1))
	s.cache.Insert(t1, mkLoc("t1", "m", "z", 2))
	s.cache.Insert(t2, mkLoc("t2", "a", "", 1))

	addr := ServerAddress{Host: "127.0.0.1", Port: 1}
	c.Assert(s.cache.KnownServer(addr), IsTrue)
	s.cache.DropServer(addr)

	// No entry of any table may still reference the server.
	c.Assert(s.cache.Lookup(t1, []byte("b")), IsNil)
	c.Assert(s.cache.Lookup(t2, []byte("b")), IsNil)
	c.Assert(s.cache.Lookup(t1, []byte("n")), NotNil)
	c.Assert(s.cache.KnownServer(addr), IsFalse)
	c.Assert(s.cache.DeadServer(addr), IsTrue)

	// A fresh insert revives the server.
	s.cache.Insert(t1, mkLoc("t1", "a", "m", 1))
	c.Assert(s.cache.KnownServer(addr), IsTrue)
	c.Assert(s.cache.DeadServer(addr), IsFalse)
}

func (s *testRegionCacheSuite) TestDropAll(c *C) {
	table := []byte("t")
	s.cache.Insert(table, mkLoc("t", "a", "m", 1))
	s.cache.DropAll()
	c.Assert(s.cache.Lookup(table, []byte("b")), IsNil)
	c.Assert(s.cache.KnownServer(ServerAddress{Host: "127.0.0.1", Port: 1}), IsFalse)
	c.Assert(s.cache.NumCached(table), Equals, 0)
}

func (s *testRegionCacheSuite) TestRoundTrip(c *C) {
	table := []byte("t")
	loc := mkLoc("t", "a", "m", 1)
	s.cache.Insert(table, loc)
	got := s.cache.Lookup(table, loc.Region.StartKey)
	c.Assert(got, Equals, loc)
}
