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

// Package client implements the cluster connection core: region location
// discovery and caching, master discovery, retrying single-row calls and
// fanning batches out over shard servers.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	grpc_opentracing "github.com/grpc-ecosystem/go-grpc-middleware/tracing/opentracing"
	"github.com/pingcap/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/1teed/hbase/config"
	"github.com/1teed/hbase/shardpb"
)

// Timeout durations.
const (
	dialTimeout = 5 * time.Second

	grpcInitialWindowSize     = 1 << 30
	grpcInitialConnWindowSize = 1 << 30
)

// MaxSendMsgSize set max gRPC request message size sent to server.
var MaxSendMsgSize = 10 * 1024 * 1024

// MaxRecvMsgSize set max gRPC receive message size received from server.
var MaxRecvMsgSize = 1<<31 - 1

// ShardClient is the capability surface of one shard server. Every method is
// bound to the address the client was created for. Implementations may be
// gRPC stubs or in-process fakes.
type ShardClient interface {
	// GetClosestRowBefore returns the row with the greatest key not
	// exceeding row within the named region.
	GetClosestRowBefore(ctx context.Context, regionName, row, family []byte) (*shardpb.Result, error)
	// Get reads rows from one region, one result per get, in order.
	Get(ctx context.Context, regionName []byte, gets []*shardpb.Get) ([]*shardpb.Result, error)
	// Put applies puts to one region and returns how many were applied
	// before the first failure.
	Put(ctx context.Context, regionName []byte, puts []*shardpb.Mutation) (int, error)
	// Delete applies deletes to one region and returns how many were
	// applied before the first failure.
	Delete(ctx context.Context, regionName []byte, deletes []*shardpb.Mutation) (int, error)
	// MutateRow atomically applies mutations to a single row.
	MutateRow(ctx context.Context, regionName []byte, mutations []*shardpb.Mutation) error
	// MultiAction executes a heterogeneous multi-region request.
	MultiAction(ctx context.Context, multi *shardpb.MultiRequest) (*shardpb.MultiResponse, error)
	// Scan reads up to limit consecutive rows of one region from startRow.
	Scan(ctx context.Context, regionName, startRow, family []byte, limit int) ([]*shardpb.Result, error)
	// GetRegionInfo returns the descriptor of a hosted region.
	GetRegionInfo(ctx context.Context, regionName []byte) (*shardpb.RegionInfo, error)
	// GetRegionsAssignment lists every region the server hosts.
	GetRegionsAssignment(ctx context.Context) ([]*shardpb.RegionInfo, error)
}

// MasterClient is the capability surface of the master process.
type MasterClient interface {
	// IsMasterRunning probes liveness.
	IsMasterRunning(ctx context.Context) (bool, error)
}

// ProxyFactory builds RPC stubs for server addresses. The default factory
// dials gRPC; tests plug in in-process fakes.
type ProxyFactory interface {
	NewShardClient(addr ServerAddress) (ShardClient, error)
	NewMasterClient(addr ServerAddress) (MasterClient, error)
	// Close tears down every transport resource the factory created.
	Close() error
}

// Full RPC method names of the shard server and master services.
const (
	methodClosestRowBefore  = "/shardpb.ShardServer/GetClosestRowBefore"
	methodGet               = "/shardpb.ShardServer/Get"
	methodMutate            = "/shardpb.ShardServer/Mutate"
	methodMultiAction       = "/shardpb.ShardServer/MultiAction"
	methodScan              = "/shardpb.ShardServer/Scan"
	methodRegionInfo        = "/shardpb.ShardServer/GetRegionInfo"
	methodRegionsAssignment = "/shardpb.ShardServer/GetRegionsAssignment"
	methodIsMasterRunning   = "/shardpb.Master/IsMasterRunning"
)

// grpcFactory is the default ProxyFactory. It keeps one connArray per
// address; stubs share the array round-robin, the way the teacher of this
// code shares grpc connections between requests.
type grpcFactory struct {
	security config.Security
	timeout  time.Duration

	mu struct {
		sync.Mutex
		m      map[string]*connArray
		closed bool
	}
}

// NewGRPCProxyFactory creates the default gRPC-backed ProxyFactory.
func NewGRPCProxyFactory(security config.Security, rpcTimeout time.Duration) ProxyFactory {
	f := &grpcFactory{security: security, timeout: rpcTimeout}
	f.mu.m = make(map[string]*connArray)
	return f
}

func (f *grpcFactory) getConnArray(addr string) (*connArray, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mu.closed {
		return nil, errors.Trace(ErrConnectionClosed)
	}
	if ca, ok := f.mu.m[addr]; ok {
		return ca, nil
	}
	cfg := config.GetGlobalConfig()
	ca, err := newConnArray(cfg.RPC.GrpcConnectionCount, addr, f.security)
	if err != nil {
		return nil, errors.Trace(err)
	}
	f.mu.m[addr] = ca
	return ca, nil
}

// NewShardClient implements ProxyFactory.
func (f *grpcFactory) NewShardClient(addr ServerAddress) (ShardClient, error) {
	ca, err := f.getConnArray(addr.String())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &grpcShardClient{conns: ca, timeout: f.timeout}, nil
}

// NewMasterClient implements ProxyFactory.
func (f *grpcFactory) NewMasterClient(addr ServerAddress) (MasterClient, error) {
	ca, err := f.getConnArray(addr.String())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &grpcMasterClient{conns: ca, timeout: f.timeout}, nil
}

// Close implements ProxyFactory.
func (f *grpcFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mu.closed {
		return nil
	}
	f.mu.closed = true
	var firstErr error
	for addr, ca := range f.mu.m {
		if err := ca.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.mu.m, addr)
	}
	return errors.Trace(firstErr)
}

type connArray struct {
	target string
	index  uint32
	v      []*grpc.ClientConn
}

func newConnArray(maxSize uint, addr string, security config.Security) (*connArray, error) {
	a := &connArray{
		target: addr,
		v:      make([]*grpc.ClientConn, maxSize),
	}
	if err := a.Init(addr, security); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *connArray) Init(addr string, security config.Security) error {
	opt := grpc.WithInsecure()
	if len(security.ClusterSSLCA) != 0 {
		tlsConfig, err := security.ToTLSConfig()
		if err != nil {
			return errors.Trace(err)
		}
		opt = grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig))
	}

	cfg := config.GetGlobalConfig()
	var (
		unaryInterceptor  grpc.UnaryClientInterceptor
		streamInterceptor grpc.StreamClientInterceptor
	)
	if cfg.RPC.EnableOpenTracing {
		unaryInterceptor = grpc_opentracing.UnaryClientInterceptor()
		streamInterceptor = grpc_opentracing.StreamClientInterceptor()
	}

	for i := range a.v {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := grpc.DialContext(
			ctx,
			addr,
			opt,
			grpc.WithInitialWindowSize(grpcInitialWindowSize),
			grpc.WithInitialConnWindowSize(grpcInitialConnWindowSize),
			grpc.WithUnaryInterceptor(unaryInterceptor),
			grpc.WithStreamInterceptor(streamInterceptor),
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(MaxRecvMsgSize)),
			grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(MaxSendMsgSize)),
			grpc.WithBackoffMaxDelay(time.Second*3),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                time.Duration(cfg.RPC.GrpcKeepAliveTime) * time.Second,
				Timeout:             time.Duration(cfg.RPC.GrpcKeepAliveTimeout) * time.Second,
				PermitWithoutStream: true,
			}),
		)
		cancel()
		if err != nil {
			// Cleanup if the initialization fails.
			if cerr := a.Close(); cerr != nil {
				return errors.Trace(err)
			}
			return errors.Trace(err)
		}
		a.v[i] = conn
	}
	return nil
}

func (a *connArray) Get() *grpc.ClientConn {
	next := atomic.AddUint32(&a.index, 1) % uint32(len(a.v))
	return a.v[next]
}

func (a *connArray) Close() error {
	var firstErr error
	for i, c := range a.v {
		if c != nil {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			a.v[i] = nil
		}
	}
	return errors.Trace(firstErr)
}

// decodeRemoteError unwraps a response's error envelope into the client's
// own error kinds.
func decodeRemoteError(e *shardpb.Error) error {
	if e == nil {
		return nil
	}
	var err error = errors.New(e.Message)
	if e.NotServing {
		err = &RegionNotServingError{RegionName: e.RegionName}
	}
	if e.DoNotRetry {
		err = &DoNotRetryError{Cause: err}
	}
	return err
}

// grpcShardClient is the gRPC stub for one shard server.
type grpcShardClient struct {
	conns   *connArray
	timeout time.Duration
}

func (c *grpcShardClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.conns.Get().Invoke(ctx, method, req, resp)
}

func (c *grpcShardClient) GetClosestRowBefore(ctx context.Context, regionName, row, family []byte) (*shardpb.Result, error) {
	req := &shardpb.ClosestRowBeforeRequest{RegionName: regionName, Row: row, Family: family}
	resp := new(shardpb.ClosestRowBeforeResponse)
	if err := c.invoke(ctx, methodClosestRowBefore, req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Result, nil
}

func (c *grpcShardClient) Get(ctx context.Context, regionName []byte, gets []*shardpb.Get) ([]*shardpb.Result, error) {
	req := &shardpb.GetRequest{RegionName: regionName, Gets: gets}
	resp := new(shardpb.GetResponse)
	if err := c.invoke(ctx, methodGet, req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Results, nil
}

func (c *grpcShardClient) mutate(ctx context.Context, regionName []byte, mutations []*shardpb.Mutation, atomic bool) (int, error) {
	req := &shardpb.MutateRequest{RegionName: regionName, Mutations: mutations, Atomic: atomic}
	resp := new(shardpb.MutateResponse)
	if err := c.invoke(ctx, methodMutate, req, resp); err != nil {
		return 0, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return int(resp.Processed), errors.Trace(err)
	}
	return int(resp.Processed), nil
}

func (c *grpcShardClient) Put(ctx context.Context, regionName []byte, puts []*shardpb.Mutation) (int, error) {
	return c.mutate(ctx, regionName, puts, false)
}

func (c *grpcShardClient) Delete(ctx context.Context, regionName []byte, deletes []*shardpb.Mutation) (int, error) {
	return c.mutate(ctx, regionName, deletes, false)
}

func (c *grpcShardClient) MutateRow(ctx context.Context, regionName []byte, mutations []*shardpb.Mutation) error {
	_, err := c.mutate(ctx, regionName, mutations, true)
	return errors.Trace(err)
}

func (c *grpcShardClient) MultiAction(ctx context.Context, multi *shardpb.MultiRequest) (*shardpb.MultiResponse, error) {
	req := &shardpb.MultiActionRequest{Multi: multi}
	resp := new(shardpb.MultiActionResponse)
	if err := c.invoke(ctx, methodMultiAction, req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return nil, errors.Trace(err)
	}
	if resp.Multi == nil {
		return nil, errors.Trace(ErrBodyMissing)
	}
	return resp.Multi, nil
}

func (c *grpcShardClient) Scan(ctx context.Context, regionName, startRow, family []byte, limit int) ([]*shardpb.Result, error) {
	req := &shardpb.ScanRequest{RegionName: regionName, StartRow: startRow, Family: family, Limit: int32(limit)}
	resp := new(shardpb.ScanResponse)
	if err := c.invoke(ctx, methodScan, req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Results, nil
}

func (c *grpcShardClient) GetRegionInfo(ctx context.Context, regionName []byte) (*shardpb.RegionInfo, error) {
	req := &shardpb.RegionInfoRequest{RegionName: regionName}
	resp := new(shardpb.RegionInfoResponse)
	if err := c.invoke(ctx, methodRegionInfo, req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return nil, errors.Trace(err)
	}
	if resp.Region == nil {
		return nil, errors.Trace(ErrBodyMissing)
	}
	return resp.Region, nil
}

func (c *grpcShardClient) GetRegionsAssignment(ctx context.Context) ([]*shardpb.RegionInfo, error) {
	req := new(shardpb.RegionsAssignmentRequest)
	resp := new(shardpb.RegionsAssignmentResponse)
	if err := c.invoke(ctx, methodRegionsAssignment, req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Regions, nil
}

// grpcMasterClient is the gRPC stub for the master.
type grpcMasterClient struct {
	conns   *connArray
	timeout time.Duration
}

func (c *grpcMasterClient) IsMasterRunning(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req := new(shardpb.MasterRunningRequest)
	resp := new(shardpb.MasterRunningResponse)
	if err := c.conns.Get().Invoke(ctx, methodIsMasterRunning, req, resp); err != nil {
		return false, errors.Trace(err)
	}
	if err := decodeRemoteError(resp.Error); err != nil {
		return false, errors.Trace(err)
	}
	return resp.Running, nil
}
