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

	"github.com/1teed/hbase/coordination"
	"github.com/1teed/hbase/shardpb"
)

type testConnSuite struct {
	cluster *mockCluster
	rootSrv *mockServer
	metaSrv *mockServer
	userSrv *mockServer
	conn    *Connection
}

var _ = Suite(&testConnSuite{})

func (s *testConnSuite) SetUpTest(c *C) {
	s.cluster = newMockCluster()
	s.rootSrv = s.cluster.addServer(20560)
	s.metaSrv = s.cluster.addServer(20561)
	s.userSrv = s.cluster.addServer(20562)
	s.cluster.bootstrap(s.rootSrv, s.metaSrv)
	s.conn = newTestConnection(c, s.cluster, nil)
}

func (s *testConnSuite) TearDownTest(c *C) {
	if !s.conn.IsClosed() {
		c.Assert(s.conn.Close(), IsNil)
	}
}

func (s *testConnSuite) TestListTables(c *C) {
	s.cluster.createRegion([]byte("alpha"), nil, []byte("m"), s.userSrv)
	s.cluster.createRegion([]byte("alpha"), []byte("m"), nil, s.userSrv)
	s.cluster.createRegion([]byte("beta"), nil, nil, s.userSrv)

	tables, err := s.conn.ListTables(context.Background())
	c.Assert(err, IsNil)
	c.Assert(tables, HasLen, 2)
	c.Assert(string(tables[0].Name), Equals, "alpha")
	c.Assert(string(tables[1].Name), Equals, "beta")
}

func (s *testConnSuite) TestTableExists(c *C) {
	s.cluster.createRegion([]byte("alpha"), nil, nil, s.userSrv)

	ok, err := s.conn.TableExists(context.Background(), []byte("alpha"))
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	ok, err = s.conn.TableExists(context.Background(), []byte("missing"))
	c.Assert(err, IsNil)
	c.Assert(ok, IsFalse)
	// Catalog tables always exist.
	ok, err = s.conn.TableExists(context.Background(), MetaTableName)
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
}

func (s *testConnSuite) TestGetTableDescriptor(c *C) {
	s.cluster.createRegion([]byte("alpha"), nil, nil, s.userSrv)
	desc, err := s.conn.GetTableDescriptor(context.Background(), []byte("alpha"))
	c.Assert(err, IsNil)
	c.Assert(string(desc.Name), Equals, "alpha")

	_, err = s.conn.GetTableDescriptor(context.Background(), []byte("missing"))
	c.Assert(errors.Cause(err), Equals, ErrTableNotFound)
}

func (s *testConnSuite) TestTableOnlineState(c *C) {
	table := []byte("alpha")
	s.cluster.createRegion(table, nil, []byte("m"), s.userSrv)
	off := s.cluster.createRegion(table, []byte("m"), nil, s.userSrv)

	enabled, err := s.conn.IsTableEnabled(context.Background(), table)
	c.Assert(err, IsNil)
	c.Assert(enabled, IsTrue)

	off.Offline = true
	s.cluster.writeCatalogRow(s.cluster.metaDB, off, s.userSrv.addr)
	enabled, err = s.conn.IsTableEnabled(context.Background(), table)
	c.Assert(err, IsNil)
	c.Assert(enabled, IsFalse)
	disabled, err := s.conn.IsTableDisabled(context.Background(), table)
	c.Assert(err, IsNil)
	c.Assert(disabled, IsFalse)

	// All regions offline means disabled.
	first := s.cluster.createRegion([]byte("beta"), nil, nil, s.userSrv)
	first.Offline = true
	s.cluster.writeCatalogRow(s.cluster.metaDB, first, s.userSrv.addr)
	disabled, err = s.conn.IsTableDisabled(context.Background(), []byte("beta"))
	c.Assert(err, IsNil)
	c.Assert(disabled, IsTrue)

	_, err = s.conn.IsTableEnabled(context.Background(), []byte("missing"))
	c.Assert(errors.Cause(err), Equals, ErrTableNotFound)
}

func (s *testConnSuite) TestIsTableAvailable(c *C) {
	table := []byte("alpha")
	s.cluster.createRegion(table, nil, []byte("m"), s.userSrv)
	available, err := s.conn.IsTableAvailable(context.Background(), table)
	c.Assert(err, IsNil)
	c.Assert(available, IsTrue)

	// A region row without a server column makes the table unavailable.
	s.cluster.createRegion(table, []byte("m"), nil, nil)
	available, err = s.conn.IsTableAvailable(context.Background(), table)
	c.Assert(err, IsNil)
	c.Assert(available, IsFalse)
}

func (s *testConnSuite) TestIsTableAvailableWithSplitKeys(c *C) {
	table := []byte("alpha")
	s.cluster.createRegion(table, nil, []byte("m"), s.userSrv)
	s.cluster.createRegion(table, []byte("m"), nil, s.userSrv)

	available, err := s.conn.IsTableAvailableWithSplitKeys(context.Background(), table, [][]byte{[]byte("m")})
	c.Assert(err, IsNil)
	c.Assert(available, IsTrue)

	available, err = s.conn.IsTableAvailableWithSplitKeys(context.Background(), table, [][]byte{[]byte("x")})
	c.Assert(err, IsNil)
	c.Assert(available, IsFalse)

	available, err = s.conn.IsTableAvailableWithSplitKeys(context.Background(), table, [][]byte{[]byte("g"), []byte("m")})
	c.Assert(err, IsNil)
	c.Assert(available, IsFalse)
}

func (s *testConnSuite) TestPrewarmRegionCache(c *C) {
	table := []byte("alpha")
	info := s.cluster.createRegion(table, nil, nil, s.userSrv)
	s.conn.PrewarmRegionCache(table, []*RegionLocation{{Region: info, Addr: s.userSrv.addr}})
	c.Assert(s.conn.IsRegionCached(table, []byte("g")), IsTrue)

	before := s.rootSrv.totalCalls() + s.metaSrv.totalCalls()
	_, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)
	c.Assert(s.rootSrv.totalCalls()+s.metaSrv.totalCalls(), Equals, before)
}

func (s *testConnSuite) TestDropCachedLocation(c *C) {
	table := []byte("alpha")
	s.cluster.createRegion(table, nil, nil, s.userSrv)
	loc, err := s.conn.LocateRegion(context.Background(), table, []byte("g"))
	c.Assert(err, IsNil)
	s.conn.DropCachedLocation(loc)
	c.Assert(s.conn.IsRegionCached(table, []byte("g")), IsFalse)
}

func (s *testConnSuite) TestGetShardAdminChecksMaster(c *C) {
	s.cluster.master.mu.Lock()
	s.cluster.master.running = false
	s.cluster.master.mu.Unlock()

	_, err := s.conn.GetShardAdmin(context.Background(), s.userSrv.addr, true)
	c.Assert(err, NotNil)
	c.Assert(errors.Cause(err), Equals, ErrMasterNotRunning)

	// Without the check the stub comes straight from the registry.
	cli, err := s.conn.GetShardAdmin(context.Background(), s.userSrv.addr, false)
	c.Assert(err, IsNil)
	c.Assert(cli, NotNil)
}

func (s *testConnSuite) TestCloseFailsFast(c *C) {
	c.Assert(s.conn.Close(), IsNil)
	c.Assert(s.conn.IsClosed(), IsTrue)
	_, err := s.conn.LocateRegion(context.Background(), []byte("t"), []byte("g"))
	c.Assert(errors.Cause(err), Equals, ErrConnectionClosed)
	_, err = s.conn.GetShardClient(s.userSrv.addr)
	c.Assert(errors.Cause(err), Equals, ErrConnectionClosed)
	// Closing twice is fine.
	c.Assert(s.conn.Close(), IsNil)
}

type testRegistrySuite struct{}

var _ = Suite(&testRegistrySuite{})

func (s *testRegistrySuite) TestConnectionSharing(c *C) {
	cluster := newMockCluster()
	rootSrv := cluster.addServer(20660)
	metaSrv := cluster.addServer(20661)
	cluster.bootstrap(rootSrv, metaSrv)
	opts := []Option{
		WithProxyFactory(&mockFactory{cluster: cluster}),
		WithCoordinationFactory(func() (coordination.Client, error) {
			return cluster.coord, nil
		}),
	}

	confA := testConfig()
	confA.Coordination.Endpoints = []string{"share-a:2379"}
	confB := testConfig()
	confB.Coordination.Endpoints = []string{"share-a:2379"}
	confC := testConfig()
	confC.Coordination.Endpoints = []string{"share-c:2379"}

	connA, err := GetConnection(confA, opts...)
	c.Assert(err, IsNil)
	connB, err := GetConnection(confB, opts...)
	c.Assert(err, IsNil)
	connC, err := GetConnection(confC, opts...)
	c.Assert(err, IsNil)

	// Equal fingerprints share one connection; different ones do not.
	c.Assert(connA, Equals, connB)
	c.Assert(connA == connC, IsFalse)

	DeleteConnection(confA)
	c.Assert(connA.IsClosed(), IsTrue)
	c.Assert(connC.IsClosed(), IsFalse)

	DeleteAllConnections()
	c.Assert(connC.IsClosed(), IsTrue)
}

func (s *testRegistrySuite) TestBatchSurfaceOnSharedConnection(c *C) {
	cluster := newMockCluster()
	rootSrv := cluster.addServer(20662)
	metaSrv := cluster.addServer(20663)
	userSrv := cluster.addServer(20664)
	cluster.bootstrap(rootSrv, metaSrv)
	cluster.createRegion([]byte("t"), nil, nil, userSrv)

	conf := testConfig()
	conf.Coordination.Endpoints = []string{"share-batch:2379"}
	conn, err := GetConnection(conf,
		WithProxyFactory(&mockFactory{cluster: cluster}),
		WithCoordinationFactory(func() (coordination.Client, error) {
			return cluster.coord, nil
		}))
	c.Assert(err, IsNil)
	defer DeleteConnection(conf)

	mut := &shardpb.Mutation{
		Type:  shardpb.MutationPut,
		Row:   []byte("r1"),
		Cells: []*shardpb.Cell{{Family: []byte("f"), Qualifier: []byte("q"), Value: []byte("v")}},
	}
	failures, err := conn.BatchMutations(context.Background(), []*shardpb.Mutation{mut}, []byte("t"), NewWorkerPool(4))
	c.Assert(err, IsNil)
	c.Assert(failures, HasLen, 0)

	results := make([]*shardpb.Result, 1)
	err = conn.BatchGets(context.Background(), []*shardpb.Get{{Row: []byte("r1")}}, []byte("t"), NewWorkerPool(4), results)
	c.Assert(err, IsNil)
	c.Assert(results[0].Cells, HasLen, 1)
}
