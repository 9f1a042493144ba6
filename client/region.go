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
	"bytes"
	"fmt"
	"net"
	"strconv"

	"github.com/pingcap/errors"

	"github.com/1teed/hbase/shardpb"
)

// Catalog table names and columns. The root region indexes the catalog
// regions; the catalog regions index every user-table region.
var (
	// RootTableName is the name of the root table.
	RootTableName = []byte("-ROOT-")
	// MetaTableName is the name of the catalog table.
	MetaTableName = []byte(".META.")
	// CatalogFamily is the column family of catalog rows.
	CatalogFamily = []byte("info")
	// RegionInfoQualifier holds the serialized region descriptor.
	RegionInfoQualifier = []byte("regioninfo")
	// ServerQualifier holds the "host:port" of the hosting server.
	ServerQualifier = []byte("server")
	// StartCodeQualifier holds the hosting server's start code.
	StartCodeQualifier = []byte("serverstartcode")
)

// sentinelMax sorts above every region id, so a closest-row-before probe
// built with it lands on the covering region's name.
const sentinelMax = "99999999999999"

// RootRegionInfo is the descriptor of the single root region.
var RootRegionInfo = &shardpb.RegionInfo{
	RegionName:  CreateRegionName(RootTableName, nil, "0"),
	TableName:   RootTableName,
	EncodedName: "70236052",
}

// ServerAddress identifies a shard server or master process.
type ServerAddress struct {
	Host string
	Port int
}

// ParseServerAddress parses a "host:port" string.
func ParseServerAddress(s string) (ServerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return ServerAddress{}, errors.Annotatef(err, "invalid server address %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ServerAddress{}, errors.Annotatef(err, "invalid server port %q", s)
	}
	return ServerAddress{Host: host, Port: port}, nil
}

func (a ServerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset.
func (a ServerAddress) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// RegionLocation pairs a region descriptor with the server hosting it. It is
// transient: any region movement or server death makes it stale.
type RegionLocation struct {
	Region *shardpb.RegionInfo
	Addr   ServerAddress
}

func (l *RegionLocation) String() string {
	return fmt.Sprintf("region %s on %s", l.Region.RegionName, l.Addr)
}

// Contains checks if key is in [StartKey, EndKey). An empty end key means
// the region extends to the end of the table.
func (l *RegionLocation) Contains(key []byte) bool {
	return bytes.Compare(l.Region.StartKey, key) <= 0 &&
		(bytes.Compare(key, l.Region.EndKey) < 0 || len(l.Region.EndKey) == 0)
}

// CreateRegionName assembles the row key a region has in its parent catalog
// table: table name, start key and a creation id joined by commas.
func CreateRegionName(table, startKey []byte, id string) []byte {
	b := make([]byte, 0, len(table)+len(startKey)+len(id)+2)
	b = append(b, table...)
	b = append(b, ',')
	b = append(b, startKey...)
	b = append(b, ',')
	b = append(b, id...)
	return b
}

// metaProbeKey builds the key used for the closest-row-before lookup of the
// region covering row in table. The sentinel id sorts above any real region
// name with the same table and start key.
func metaProbeKey(table, row []byte) []byte {
	return CreateRegionName(table, row, sentinelMax)
}

// isRootTable reports whether name is the root table.
func isRootTable(name []byte) bool {
	return bytes.Equal(name, RootTableName)
}

// isMetaTable reports whether name is the catalog table.
func isMetaTable(name []byte) bool {
	return bytes.Equal(name, MetaTableName)
}

// isCatalogTable reports whether name is the root or the catalog table.
func isCatalogTable(name []byte) bool {
	return isRootTable(name) || isMetaTable(name)
}

// parentTable returns the table whose rows index name's regions.
func parentTable(name []byte) []byte {
	if isMetaTable(name) {
		return RootTableName
	}
	return MetaTableName
}
