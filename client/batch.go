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
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/1teed/hbase/metrics"
	"github.com/1teed/hbase/shardpb"
	"github.com/1teed/hbase/util/logutil"
)

var (
	batchRoundsWithGet      = metrics.BatchRoundHistogram.WithLabelValues("get")
	batchRoundsWithMutate   = metrics.BatchRoundHistogram.WithLabelValues("mutate")
	batchDurationWithGet    = metrics.BatchDurationHistogram.WithLabelValues("get")
	batchDurationWithMutate = metrics.BatchDurationHistogram.WithLabelValues("mutate")
)

// Pool runs batch sub-requests. Callers hand the engine their own pool so
// they control fan-out concurrency across batches.
type Pool interface {
	Go(f func())
}

// WorkerPool is a ready-made Pool: goroutines bounded by a fixed limit.
// Batches given a nil pool use unbounded goroutines instead (goPool).
type WorkerPool struct {
	g *errgroup.Group
}

// NewWorkerPool creates a pool running at most limit tasks at once.
func NewWorkerPool(limit int) *WorkerPool {
	g := new(errgroup.Group)
	g.SetLimit(limit)
	return &WorkerPool{g: g}
}

// Go implements Pool.
func (p *WorkerPool) Go(f func()) {
	p.g.Go(func() error {
		f()
		return nil
	})
}

// Wait blocks until every submitted task finished.
func (p *WorkerPool) Wait() {
	if err := p.g.Wait(); err != nil {
		logutil.Logger(context.Background()).Warn("worker pool", zap.Error(err))
	}
}

// batchItem is one row operation plus its position in the caller's list.
type batchItem struct {
	index    int
	row      []byte
	get      *shardpb.Get
	mutation *shardpb.Mutation
}

// serverBatch is everything one round sends to a single server.
type serverBatch struct {
	addr    ServerAddress
	actions []*regionBatch
}

// regionBatch is the slice of a serverBatch targeting one region.
type regionBatch struct {
	regionName []byte
	items      []batchItem
}

type serverResponse struct {
	batch *serverBatch
	resp  *shardpb.MultiResponse
	err   error
}

// splitByServer groups the working list by hosting server and region. Each
// row is re-resolved through the locator for the current round.
func (c *Connection) splitByServer(ctx context.Context, table []byte, working []batchItem) ([]*serverBatch, error) {
	byServer := make(map[string]*serverBatch)
	var order []string
	for _, item := range working {
		loc, err := c.locateRegion(ctx, table, item.row, true)
		if err != nil {
			return nil, errors.Trace(err)
		}
		key := loc.Addr.String()
		sb, ok := byServer[key]
		if !ok {
			sb = &serverBatch{addr: loc.Addr}
			byServer[key] = sb
			order = append(order, key)
		}
		var rb *regionBatch
		for _, existing := range sb.actions {
			if string(existing.regionName) == string(loc.Region.RegionName) {
				rb = existing
				break
			}
		}
		if rb == nil {
			rb = &regionBatch{regionName: loc.Region.RegionName}
			sb.actions = append(sb.actions, rb)
		}
		rb.items = append(rb.items, item)
	}
	batches := make([]*serverBatch, 0, len(order))
	for _, key := range order {
		batches = append(batches, byServer[key])
	}
	return batches, nil
}

// buildMultiRequest turns a serverBatch into the wire request.
func buildMultiRequest(sb *serverBatch) *shardpb.MultiRequest {
	multi := &shardpb.MultiRequest{}
	for _, rb := range sb.actions {
		action := &shardpb.RegionAction{RegionName: rb.regionName}
		for _, item := range rb.items {
			if item.get != nil {
				action.Gets = append(action.Gets, item.get)
				action.Indices = append(action.Indices, int32(item.index))
			} else {
				action.Mutations = append(action.Mutations, item.mutation)
			}
		}
		multi.Actions = append(multi.Actions, action)
	}
	return multi
}

// dispatch sends one round's server batches: inline when a single server is
// involved (no pool hop), in parallel through the pool otherwise.
func (c *Connection) dispatch(ctx context.Context, table []byte, batches []*serverBatch, pool Pool) []serverResponse {
	responses := make([]serverResponse, len(batches))
	runOne := func(i int) {
		sb := batches[i]
		multi := buildMultiRequest(sb)
		var resp *shardpb.MultiResponse
		call := c.NewServerCallable(table, nil, func(ctx context.Context, client ShardClient, _ *RegionLocation) error {
			var cerr error
			resp, cerr = client.MultiAction(ctx, multi)
			return cerr
		})
		// The server address is already decided; bind it so a dead server
		// still gets its cache entries flushed by the single-shot driver.
		call.bindAddress(sb.addr)
		err := c.WithoutRetries(ctx, call)
		responses[i] = serverResponse{batch: sb, resp: resp, err: err}
	}
	if len(batches) == 1 {
		runOne(0)
		return responses
	}
	done := make(chan int, len(batches))
	for i := range batches {
		i := i
		pool.Go(func() {
			runOne(i)
			done <- i
		})
	}
	for range batches {
		<-done
	}
	return responses
}

// gather walks one round's responses. Failed items are appended to the next
// working list; results land in results by original index when non-nil.
func (c *Connection) gather(ctx context.Context, table []byte, responses []serverResponse, results []*shardpb.Result) ([]batchItem, error) {
	var next []batchItem
	for _, sr := range responses {
		if sr.err != nil {
			if IsDoNotRetry(sr.err) {
				return nil, errors.Trace(sr.err)
			}
			if IsInterrupted(sr.err) {
				return nil, errors.Trace(sr.err)
			}
			// The whole server failed: requeue everything it was sent and
			// invalidate one representative row per region.
			logutil.Logger(ctx).Debug("batch sub-request failed for whole server",
				zap.Stringer("server", sr.batch.addr),
				zap.Error(sr.err))
			for _, rb := range sr.batch.actions {
				next = append(next, rb.items...)
				c.cache.Invalidate(table, rb.items[0].row, &sr.batch.addr)
			}
			continue
		}
		for _, rb := range sr.batch.actions {
			regionResult := sr.resp.ResultOf(rb.regionName)
			if regionResult == nil {
				// The region's sub-result is missing entirely.
				next = append(next, rb.items...)
				c.cache.Invalidate(table, rb.items[0].row, &sr.batch.addr)
				continue
			}
			if results != nil {
				gi := 0
				for _, item := range rb.items {
					if item.get == nil {
						continue
					}
					if gi < len(regionResult.GetResults) {
						results[item.index] = regionResult.GetResults[gi]
					} else {
						next = append(next, item)
					}
					gi++
				}
				if gi > len(regionResult.GetResults) {
					c.cache.Invalidate(table, rb.items[0].row, &sr.batch.addr)
				}
				continue
			}
			// Mutation path: the region applied Processed items, the rest
			// failed and roll into the next round.
			muts := 0
			for _, item := range rb.items {
				if item.mutation != nil {
					muts++
				}
			}
			processed := int(regionResult.Processed)
			if processed >= muts {
				continue
			}
			seen := 0
			for _, item := range rb.items {
				if item.mutation == nil {
					continue
				}
				if seen >= processed {
					next = append(next, item)
				}
				seen++
			}
			c.cache.Invalidate(table, rb.items[0].row, &sr.batch.addr)
		}
	}
	return next, nil
}

// goPool is the fallback Pool when the caller does not provide one: plain
// unbounded goroutines.
type goPool struct{}

func (goPool) Go(f func()) { go f() }

// runBatch drives split/dispatch/gather rounds until the working list
// drains or the retry budget is spent. It reports the rounds used.
func (c *Connection) runBatch(ctx context.Context, table []byte, items []batchItem, pool Pool, results []*shardpb.Result) ([]batchItem, int, error) {
	if pool == nil {
		pool = goPool{}
	}
	working := items
	rounds := 0
	for tries := 0; len(working) > 0 && tries < c.numRetries; tries++ {
		rounds++
		if tries > 1 {
			// Do not sleep before the first retry: the region might simply
			// have moved.
			sleep := pauseTime(c.pause, tries)
			logutil.Logger(ctx).Debug("batch retry",
				zap.Int("tries", tries),
				zap.Int("remaining", len(working)),
				zap.Duration("sleep", sleep))
			if err := retrySleep(ctx, sleep); err != nil {
				return working, rounds, errors.Trace(err)
			}
		}
		batches, err := c.splitByServer(ctx, table, working)
		if err != nil {
			return working, rounds, errors.Trace(err)
		}
		responses := c.dispatch(ctx, table, batches, pool)
		working, err = c.gather(ctx, table, responses, results)
		if err != nil {
			return working, rounds, errors.Trace(err)
		}
	}
	return working, rounds, nil
}

// BatchGets fetches every row of gets in parallel across the servers that
// host them. results must be the same length as gets; on return each slot is
// either the fetched row or nil when that item ultimately failed.
func (c *Connection) BatchGets(ctx context.Context, gets []*shardpb.Get, table []byte, pool Pool, results []*shardpb.Result) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if results != nil && len(results) != len(gets) {
		return errors.New("results must be the same size as the get list")
	}
	if len(gets) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		batchDurationWithGet.Observe(time.Since(start).Seconds())
	}()

	items := make([]batchItem, 0, len(gets))
	for i, g := range gets {
		items = append(items, batchItem{index: i, row: g.Row, get: g})
	}
	remaining, rounds, err := c.runBatch(ctx, table, items, pool, results)
	if err != nil {
		return errors.Trace(err)
	}
	batchRoundsWithGet.Observe(float64(rounds))
	if len(remaining) > 0 {
		return errors.Trace(&RetriesExhaustedError{
			Row:   remaining[0].row,
			Tries: c.numRetries,
			Causes: []error{errors.Errorf("%d get operations remaining after %d retries",
				len(remaining), c.numRetries)},
		})
	}
	return nil
}

// BatchMutations applies every mutation in parallel across the hosting
// servers. It returns the items that could not be applied; a non-empty
// return comes with a retries-exhausted error.
func (c *Connection) BatchMutations(ctx context.Context, mutations []*shardpb.Mutation, table []byte, pool Pool) ([]*shardpb.Mutation, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if len(mutations) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		batchDurationWithMutate.Observe(time.Since(start).Seconds())
	}()

	items := make([]batchItem, 0, len(mutations))
	for i, m := range mutations {
		items = append(items, batchItem{index: i, row: m.Row, mutation: m})
	}
	remaining, rounds, err := c.runBatch(ctx, table, items, pool, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	batchRoundsWithMutate.Observe(float64(rounds))
	if len(remaining) > 0 {
		failures := make([]*shardpb.Mutation, 0, len(remaining))
		for _, item := range remaining {
			failures = append(failures, item.mutation)
		}
		return failures, errors.Trace(&RetriesExhaustedError{
			Row:   remaining[0].row,
			Tries: c.numRetries,
			Causes: []error{errors.Errorf("%d mutate operations remaining after %d retries",
				len(remaining), c.numRetries)},
		})
	}
	return nil, nil
}
