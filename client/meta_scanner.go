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

	"github.com/pingcap/errors"

	"github.com/1teed/hbase/shardpb"
)

// metaScanVisitor processes one catalog row. Returning false stops the scan.
type metaScanVisitor func(*shardpb.Result) (bool, error)

// metaScan walks catalog rows in key order starting at startRow (nil means
// the beginning), visiting each until the visitor stops it, rowLimit rows
// were seen (0 means unlimited), or the catalog ends. Reads go through the
// retry driver, one region at a time, in batches of the configured caching
// size.
func (c *Connection) metaScan(ctx context.Context, startRow []byte, rowLimit int, visitor metaScanVisitor) error {
	scanned := 0
	row := startRow
	for {
		loc, err := c.locateRegion(ctx, MetaTableName, row, true)
		if err != nil {
			return errors.Trace(err)
		}

		batchSize := c.metaCaching
		if rowLimit > 0 && rowLimit-scanned < batchSize {
			batchSize = rowLimit - scanned
		}

		var results []*shardpb.Result
		call := c.NewServerCallable(MetaTableName, row, func(ctx context.Context, client ShardClient, loc *RegionLocation) error {
			var cerr error
			results, cerr = client.Scan(ctx, loc.Region.RegionName, row, CatalogFamily, batchSize)
			return cerr
		})
		if err := c.WithRetries(ctx, call); err != nil {
			return errors.Trace(err)
		}

		for _, r := range results {
			cont, verr := visitor(r)
			if verr != nil {
				return errors.Trace(verr)
			}
			if !cont {
				return nil
			}
			scanned++
			if rowLimit > 0 && scanned >= rowLimit {
				return nil
			}
		}

		if len(results) > 0 {
			// Continue right after the last row we saw.
			last := results[len(results)-1].Row
			next := make([]byte, len(last)+1)
			copy(next, last)
			row = next
			continue
		}
		// The region is exhausted; move to its successor.
		if len(loc.Region.EndKey) == 0 {
			return nil
		}
		row = loc.Region.EndKey
	}
}
