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
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/pingcap/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors of the connection core.
var (
	// ErrMasterNotRunning means master discovery exhausted its retries.
	ErrMasterNotRunning = errors.New("master is not running")
	// ErrTableNotFound means the catalog has no row for the table. It is
	// never retried.
	ErrTableNotFound = errors.New("table not found")
	// ErrRegionOffline means the catalog row marks the region offline.
	ErrRegionOffline = errors.New("region is offline")
	// ErrNoServerForRegion means the catalog row has no server column, or
	// the root/catalog region could not be found within the retry budget.
	ErrNoServerForRegion = errors.New("no server for region")
	// ErrConnectionClosed means the connection has been closed or aborted.
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrBodyMissing means an RPC response arrived without its payload.
	ErrBodyMissing = errors.New("response body is missing")
)

// RegionNotServingError is raised by a shard server that no longer hosts the
// addressed region. A server may also flag it do-not-retry; either way the
// drivers invalidate the stale cache entry so a later attempt re-resolves.
type RegionNotServingError struct {
	RegionName []byte
}

func (e *RegionNotServingError) Error() string {
	return fmt.Sprintf("region %s is not served here", e.RegionName)
}

// DoNotRetryError marks a failure as hopeless to retry: contract breaches,
// serialization mismatches, or server-flagged fatal conditions. It is
// propagated verbatim by the retry drivers.
type DoNotRetryError struct {
	Cause error
}

func (e *DoNotRetryError) Error() string {
	return "do not retry: " + e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *DoNotRetryError) Unwrap() error { return e.Cause }

// RetriesExhaustedError carries the ordered trail of failures of a retry
// loop or a batch that ran out of budget.
type RetriesExhaustedError struct {
	ServerName string
	RegionName []byte
	Row        []byte
	Tries      int
	Causes     []error
}

func (e *RetriesExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "retries exhausted after %d tries", e.Tries)
	if e.ServerName != "" {
		fmt.Fprintf(&b, ", server=%s", e.ServerName)
	}
	if len(e.RegionName) > 0 {
		fmt.Fprintf(&b, ", region=%s", e.RegionName)
	}
	if len(e.Row) > 0 {
		fmt.Fprintf(&b, ", row=%q", e.Row)
	}
	for i, c := range e.Causes {
		fmt.Fprintf(&b, "\n  attempt %d: %v", i, c)
	}
	return b.String()
}

// IsDoNotRetry reports whether err must not be retried.
func IsDoNotRetry(err error) bool {
	cause := errors.Cause(err)
	if cause == ErrTableNotFound {
		return true
	}
	_, ok := cause.(*DoNotRetryError)
	return ok
}

// IsNotServing reports whether err (or its do-not-retry cause) is a
// region-not-serving signal.
func IsNotServing(err error) bool {
	cause := errors.Cause(err)
	if dnr, ok := cause.(*DoNotRetryError); ok {
		cause = errors.Cause(dnr.Cause)
	}
	_, ok := cause.(*RegionNotServingError)
	return ok
}

// IsRegionOffline reports whether err is the region-offline kind.
func IsRegionOffline(err error) bool {
	return errors.Cause(err) == ErrRegionOffline
}

// IsNoServerForRegion reports whether err is the no-server-for-region kind.
func IsNoServerForRegion(err error) bool {
	return errors.Cause(err) == ErrNoServerForRegion
}

// IsConnectivityError reports whether err looks like the server itself is
// unreachable or dead: timeouts, refused connections, closed channels, EOF.
// Such failures drop every cached location of the target server.
func IsConnectivityError(err error) bool {
	cause := errors.Cause(err)
	if cause == nil {
		return false
	}
	if cause == io.EOF || cause == io.ErrUnexpectedEOF || cause == context.DeadlineExceeded {
		return true
	}
	if cause == syscall.ECONNREFUSED || cause == syscall.ECONNRESET || cause == syscall.EPIPE {
		return true
	}
	if ne, ok := cause.(net.Error); ok {
		if ne.Timeout() {
			return true
		}
		if _, ok := cause.(*net.OpError); ok {
			return true
		}
	}
	if s, ok := status.FromError(cause); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return true
		}
	}
	return false
}

// IsInterrupted reports whether err is a cancellation of the caller's
// context rather than a cluster failure.
func IsInterrupted(err error) bool {
	return errors.Cause(err) == context.Canceled
}
