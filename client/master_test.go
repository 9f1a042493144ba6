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
	"sync"

	. "github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/1teed/hbase/coordination"
)

type testMasterSuite struct {
	cluster *mockCluster
	rootSrv *mockServer
	metaSrv *mockServer
	conn    *Connection
}

var _ = Suite(&testMasterSuite{})

func (s *testMasterSuite) SetUpTest(c *C) {
	s.cluster = newMockCluster()
	s.rootSrv = s.cluster.addServer(20460)
	s.metaSrv = s.cluster.addServer(20461)
	s.cluster.bootstrap(s.rootSrv, s.metaSrv)
	s.conn = newTestConnection(c, s.cluster, nil)
}

func (s *testMasterSuite) TearDownTest(c *C) {
	c.Assert(s.conn.Close(), IsNil)
}

func (s *testMasterSuite) TestDiscoveryRace(c *C) {
	// The address appears only on the third read of the coordination
	// service.
	s.cluster.coord.mu.Lock()
	s.cluster.coord.masterAfter = 2
	s.cluster.coord.mu.Unlock()

	const callers = 10
	var wg sync.WaitGroup
	masters := make([]MasterClient, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			masters[i], errs[i] = s.conn.GetMaster(context.Background())
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		c.Assert(errs[i], IsNil)
		c.Assert(masters[i], Equals, masters[0])
	}
	// Exactly one live-check probe hit the master; the other nine callers
	// observed the cached proxy.
	c.Assert(s.cluster.master.probeCount(), Equals, 1)
}

func (s *testMasterSuite) TestIsMasterRunning(c *C) {
	c.Assert(s.conn.IsMasterRunning(context.Background()), IsTrue)
}

func (s *testMasterSuite) TestMasterNotRunning(c *C) {
	s.cluster.master.mu.Lock()
	s.cluster.master.running = false
	s.cluster.master.mu.Unlock()

	_, err := s.conn.GetMaster(context.Background())
	c.Assert(err, NotNil)
	c.Assert(errors.Cause(err), Equals, ErrMasterNotRunning)
	c.Assert(s.conn.IsMasterRunning(context.Background()), IsFalse)
}

func (s *testMasterSuite) TestRediscoveryAfterFailure(c *C) {
	s.cluster.master.mu.Lock()
	s.cluster.master.running = false
	s.cluster.master.mu.Unlock()
	_, err := s.conn.GetMaster(context.Background())
	c.Assert(err, NotNil)

	// The master comes back; a failed discovery must not stick.
	s.cluster.master.mu.Lock()
	s.cluster.master.running = true
	s.cluster.master.mu.Unlock()
	m, err := s.conn.GetMaster(context.Background())
	c.Assert(err, IsNil)
	c.Assert(m, NotNil)
}

func (s *testMasterSuite) TestSessionLostPermanently(c *C) {
	// Exhaust the session's reconnect budget.
	max := s.conn.Configuration().Coordination.MaxReconnection
	// Touch the session once so there is a live client to expire.
	_, err := s.conn.GetMaster(context.Background())
	c.Assert(err, IsNil)
	for i := 0; i <= max; i++ {
		s.cluster.coord.emit(coordination.EventSessionExpired)
	}

	// Reset the holder so the next call goes back to the session.
	s.conn.masterMu.Lock()
	s.conn.master = nil
	s.conn.masterChecked = false
	s.conn.masterMu.Unlock()

	_, err = s.conn.GetMaster(context.Background())
	c.Assert(err, NotNil)
	c.Assert(errors.Cause(err), Equals, coordination.ErrSessionLostPermanent)
}
