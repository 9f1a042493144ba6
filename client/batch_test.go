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
	"fmt"
	"sync"

	. "github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/1teed/hbase/shardpb"
)

type testBatchSuite struct {
	cluster *mockCluster
	rootSrv *mockServer
	metaSrv *mockServer
	s1      *mockServer
	s2      *mockServer
	s3      *mockServer
	conn    *Connection
	table   []byte
}

var _ = Suite(&testBatchSuite{})

func (s *testBatchSuite) SetUpTest(c *C) {
	s.cluster = newMockCluster()
	s.rootSrv = s.cluster.addServer(20360)
	s.metaSrv = s.cluster.addServer(20361)
	s.s1 = s.cluster.addServer(20362)
	s.s2 = s.cluster.addServer(20363)
	s.s3 = s.cluster.addServer(20364)
	s.cluster.bootstrap(s.rootSrv, s.metaSrv)
	s.table = []byte("t")
	s.conn = newTestConnection(c, s.cluster, nil)
}

func (s *testBatchSuite) TearDownTest(c *C) {
	c.Assert(s.conn.Close(), IsNil)
}

// countingPool wraps the default pool and tallies submissions.
type countingPool struct {
	mu    sync.Mutex
	tasks int
}

func (p *countingPool) Go(f func()) {
	p.mu.Lock()
	p.tasks++
	p.mu.Unlock()
	go f()
}

func (p *countingPool) submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks
}

func batchRow(i int) []byte {
	return []byte(fmt.Sprintf("row-%02d", i))
}

func putMutation(i int) *shardpb.Mutation {
	return &shardpb.Mutation{
		Type: shardpb.MutationPut,
		Row:  batchRow(i),
		Cells: []*shardpb.Cell{
			{Family: []byte("f"), Qualifier: []byte("q"), Value: []byte(fmt.Sprintf("v%d", i))},
		},
	}
}

func (s *testBatchSuite) TestBatchMutationsSingleServerInline(c *C) {
	s.cluster.createRegion(s.table, nil, nil, s.s1)
	muts := make([]*shardpb.Mutation, 0, 4)
	for i := 0; i < 4; i++ {
		muts = append(muts, putMutation(i))
	}
	pool := &countingPool{}
	failures, err := s.conn.BatchMutations(context.Background(), muts, s.table, pool)
	c.Assert(err, IsNil)
	c.Assert(failures, HasLen, 0)
	// A single-server round runs in the caller's goroutine, no pool hop.
	c.Assert(pool.submitted(), Equals, 0)
}

func (s *testBatchSuite) TestBatchGetsPlacesResultsByIndex(c *C) {
	s.cluster.createRegion(s.table, nil, []byte("row-05"), s.s1)
	s.cluster.createRegion(s.table, []byte("row-05"), nil, s.s2)

	var muts []*shardpb.Mutation
	for i := 0; i < 10; i++ {
		muts = append(muts, putMutation(i))
	}
	_, err := s.conn.BatchMutations(context.Background(), muts, s.table, nil)
	c.Assert(err, IsNil)

	gets := make([]*shardpb.Get, 0, 10)
	// Deliberately out of order to exercise index placement.
	for i := 9; i >= 0; i-- {
		gets = append(gets, &shardpb.Get{Row: batchRow(i)})
	}
	results := make([]*shardpb.Result, len(gets))
	pool := &countingPool{}
	err = s.conn.BatchGets(context.Background(), gets, s.table, pool, results)
	c.Assert(err, IsNil)
	c.Assert(pool.submitted(), Equals, 2)
	for i, g := range gets {
		c.Assert(results[i], NotNil)
		c.Assert(string(results[i].Row), Equals, string(g.Row))
		c.Assert(results[i].Cells, HasLen, 1)
	}
}

func (s *testBatchSuite) TestBatchResultsLengthMismatch(c *C) {
	gets := []*shardpb.Get{{Row: batchRow(0)}}
	err := s.conn.BatchGets(context.Background(), gets, s.table, nil, make([]*shardpb.Result, 2))
	c.Assert(err, NotNil)
}

func (s *testBatchSuite) TestBatchSplitRegionPartialSuccess(c *C) {
	// All ten rows start out in one region on s1.
	info := s.cluster.createRegion(s.table, nil, nil, s.s1)
	muts := make([]*shardpb.Mutation, 0, 10)
	for i := 0; i < 10; i++ {
		muts = append(muts, putMutation(i))
	}

	// First round: s1 accepts only six items, and in the background the
	// region is split and reassigned before the next round resolves.
	s.s1.mu.Lock()
	s.s1.mutateProcessed[string(info.RegionName)] = 6
	s.s1.afterMulti = func() {
		s.s1.dropRegion(info.RegionName)
		s.cluster.metaDB.db.Delete(info.RegionName)
		s.cluster.createRegion(s.table, nil, []byte("row-06"), s.s2)
		s.cluster.createRegion(s.table, []byte("row-06"), []byte("row-08"), s.s2)
		s.cluster.createRegion(s.table, []byte("row-08"), nil, s.s3)
	}
	s.s1.mu.Unlock()

	pool := &countingPool{}
	failures, err := s.conn.BatchMutations(context.Background(), muts, s.table, pool)
	c.Assert(err, IsNil)
	c.Assert(failures, HasLen, 0)
	// The second round fanned out to two servers in parallel.
	c.Assert(pool.submitted(), Equals, 2)
	// Rows 6..9 landed on their post-split servers.
	loc, err := s.conn.LocateRegion(context.Background(), s.table, batchRow(6))
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, s.s2.addr)
	loc, err = s.conn.LocateRegion(context.Background(), s.table, batchRow(9))
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, s.s3.addr)
}

func (s *testBatchSuite) TestBatchWholeServerFailureRequeues(c *C) {
	info := s.cluster.createRegion(s.table, nil, nil, s.s1)
	var muts []*shardpb.Mutation
	for i := 0; i < 4; i++ {
		muts = append(muts, putMutation(i))
	}

	// Prime the cache with the old placement, then kill the server and move
	// the region: round one fails wholesale, round two resolves fresh.
	_, err := s.conn.LocateRegion(context.Background(), s.table, batchRow(0))
	c.Assert(err, IsNil)
	s.s1.mu.Lock()
	s.s1.refuse = true
	s.s1.mu.Unlock()
	s.cluster.moveRegion(info, s.s1, s.s2)

	failures, err := s.conn.BatchMutations(context.Background(), muts, s.table, nil)
	c.Assert(err, IsNil)
	c.Assert(failures, HasLen, 0)
	for i := 0; i < 4; i++ {
		region := s.s2.regions[string(info.RegionName)]
		c.Assert(region, NotNil)
		_, gerr := region.db.Get(batchRow(i))
		c.Assert(gerr, IsNil)
	}
}

func (s *testBatchSuite) TestBatchExhaustedReturnsFailures(c *C) {
	info := s.cluster.createRegion(s.table, nil, nil, s.s1)
	s.s1.mu.Lock()
	s.s1.notServing[string(info.RegionName)] = true
	s.s1.mu.Unlock()

	var muts []*shardpb.Mutation
	for i := 0; i < 3; i++ {
		muts = append(muts, putMutation(i))
	}
	failures, err := s.conn.BatchMutations(context.Background(), muts, s.table, nil)
	c.Assert(err, NotNil)
	_, ok := errors.Cause(err).(*RetriesExhaustedError)
	c.Assert(ok, IsTrue)
	c.Assert(failures, HasLen, 3)
}

func (s *testBatchSuite) TestBatchGetMissingRowsAreEmpty(c *C) {
	s.cluster.createRegion(s.table, nil, nil, s.s1)
	_, err := s.conn.BatchMutations(context.Background(), []*shardpb.Mutation{putMutation(0)}, s.table, nil)
	c.Assert(err, IsNil)

	gets := []*shardpb.Get{{Row: batchRow(0)}, {Row: []byte("missing")}}
	results := make([]*shardpb.Result, len(gets))
	err = s.conn.BatchGets(context.Background(), gets, s.table, nil, results)
	c.Assert(err, IsNil)
	c.Assert(results[0].Cells, HasLen, 1)
	// A row the store never saw yields an empty result, not an error.
	c.Assert(results[1].Empty(), IsTrue)
}

func (s *testBatchSuite) TestBatchDoNotRetryPropagates(c *C) {
	info := s.cluster.createRegion(s.table, nil, nil, s.s1)
	s.s1.mu.Lock()
	s.s1.notServingFatal[string(info.RegionName)] = true
	s.s1.mu.Unlock()

	muts := []*shardpb.Mutation{putMutation(0)}
	_, err := s.conn.BatchMutations(context.Background(), muts, s.table, nil)
	c.Assert(err, NotNil)
	c.Assert(IsDoNotRetry(err), IsTrue)
	// A fatal failure ends the batch on its first round.
	s.s1.mu.Lock()
	multiCalls := s.s1.counts.multi
	s.s1.mu.Unlock()
	c.Assert(multiCalls, Equals, 1)
}
