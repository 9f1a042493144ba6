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
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/1teed/hbase/metrics"
	"github.com/1teed/hbase/util/logutil"
)

// RetryBackoff is the shared backoff step table. The sleep before try n is
// RetryBackoff[min(n, len-1)] times the configured base pause.
var RetryBackoff = []int64{1, 1, 1, 2, 2, 4, 4, 8, 16, 32}

// pauseTime returns the sleep before retry number tries.
func pauseTime(pause uint64, tries int) time.Duration {
	if tries >= len(RetryBackoff) {
		tries = len(RetryBackoff) - 1
	}
	return time.Duration(RetryBackoff[tries]) * time.Duration(pause) * time.Millisecond
}

type backoffKind int

// Backoff kinds, used for metrics and log labels.
const (
	boLocateRoot backoffKind = iota
	boLocateMeta
	boShardRPC
	boMasterDiscovery
	boBatch
)

func (k backoffKind) String() string {
	switch k {
	case boLocateRoot:
		return "locateRoot"
	case boLocateMeta:
		return "locateMeta"
	case boShardRPC:
		return "shardRPC"
	case boMasterDiscovery:
		return "masterDiscovery"
	case boBatch:
		return "batch"
	}
	return ""
}

// Backoffer paces one logical operation's retries and remembers every error
// it slept on, so an exhausted loop can surface the whole trail.
type Backoffer struct {
	ctx        context.Context
	pause      uint64
	totalSleep time.Duration
	errors     []error
	kinds      []backoffKind
}

// NewBackoffer creates a Backoffer with the base pause in milliseconds.
func NewBackoffer(ctx context.Context, pause uint64) *Backoffer {
	return &Backoffer{ctx: ctx, pause: pause}
}

// Backoff sleeps the schedule step for retry number tries and records err.
// It returns early with the caller's cancellation instead of sleeping.
func (b *Backoffer) Backoff(kind backoffKind, tries int, err error) error {
	select {
	case <-b.ctx.Done():
		return errors.Trace(b.ctx.Err())
	default:
	}

	metrics.BackoffCounter.WithLabelValues(kind.String()).Inc()
	b.errors = append(b.errors, errors.Errorf("%s at %s", err.Error(), time.Now().Format(time.RFC3339Nano)))
	b.kinds = append(b.kinds, kind)

	sleep := pauseTime(b.pause, tries)
	logutil.Logger(b.ctx).Debug("retry later",
		zap.Error(err),
		zap.Stringer("kind", kind),
		zap.Int("tries", tries),
		zap.Duration("sleep", sleep))
	select {
	case <-time.After(sleep):
		b.totalSleep += sleep
		return nil
	case <-b.ctx.Done():
		return errors.Trace(b.ctx.Err())
	}
}

// Errors returns the ordered failures recorded so far.
func (b *Backoffer) Errors() []error {
	return b.errors
}

// TotalSleep returns the time spent sleeping.
func (b *Backoffer) TotalSleep() time.Duration {
	return b.totalSleep
}

func (b *Backoffer) String() string {
	if b.totalSleep == 0 {
		return ""
	}
	return fmt.Sprintf(" backoff(%s %v)", b.totalSleep, b.kinds)
}

// Fork creates a new Backoffer sharing the accumulated sleep and errors, and
// holding a child context of the current one.
func (b *Backoffer) Fork() (*Backoffer, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b.ctx)
	return &Backoffer{
		ctx:        ctx,
		pause:      b.pause,
		totalSleep: b.totalSleep,
		errors:     b.errors,
	}, cancel
}
