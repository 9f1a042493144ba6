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

// Package shardpb holds the wire messages exchanged with shard servers and
// stored in catalog rows. The messages are plain gogo-style protobufs; the
// transport codec that carries them is not part of this package.
package shardpb

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
)

// RegionInfo is the immutable descriptor of a region at a point in time.
// It is the value of the "info:regioninfo" column in catalog rows.
type RegionInfo struct {
	RegionName  []byte `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
	TableName   []byte `protobuf:"bytes,2,opt,name=table_name" json:"table_name,omitempty"`
	StartKey    []byte `protobuf:"bytes,3,opt,name=start_key" json:"start_key,omitempty"`
	EndKey      []byte `protobuf:"bytes,4,opt,name=end_key" json:"end_key,omitempty"`
	Offline     bool   `protobuf:"varint,5,opt,name=offline" json:"offline,omitempty"`
	Split       bool   `protobuf:"varint,6,opt,name=split" json:"split,omitempty"`
	EncodedName string `protobuf:"bytes,7,opt,name=encoded_name" json:"encoded_name,omitempty"`
}

func (m *RegionInfo) Reset()         { *m = RegionInfo{} }
func (m *RegionInfo) String() string { return proto.CompactTextString(m) }
func (*RegionInfo) ProtoMessage()    {}

// Cell is a single column value of a row.
type Cell struct {
	Family    []byte `protobuf:"bytes,1,opt,name=family" json:"family,omitempty"`
	Qualifier []byte `protobuf:"bytes,2,opt,name=qualifier" json:"qualifier,omitempty"`
	Value     []byte `protobuf:"bytes,3,opt,name=value" json:"value,omitempty"`
}

func (m *Cell) Reset()         { *m = Cell{} }
func (m *Cell) String() string { return proto.CompactTextString(m) }
func (*Cell) ProtoMessage()    {}

// Result is one row returned by a read.
type Result struct {
	Row   []byte  `protobuf:"bytes,1,opt,name=row" json:"row,omitempty"`
	Cells []*Cell `protobuf:"bytes,2,rep,name=cells" json:"cells,omitempty"`
}

func (m *Result) Reset()         { *m = Result{} }
func (m *Result) String() string { return proto.CompactTextString(m) }
func (*Result) ProtoMessage()    {}

// GetValue returns the value of the given column, or nil.
func (m *Result) GetValue(family, qualifier []byte) []byte {
	if m == nil {
		return nil
	}
	for _, c := range m.Cells {
		if string(c.Family) == string(family) && string(c.Qualifier) == string(qualifier) {
			return c.Value
		}
	}
	return nil
}

// Empty reports whether the result carries no cells.
func (m *Result) Empty() bool { return m == nil || len(m.Cells) == 0 }

// Get describes a single-row read.
type Get struct {
	Row         []byte   `protobuf:"bytes,1,opt,name=row" json:"row,omitempty"`
	Families    [][]byte `protobuf:"bytes,2,rep,name=families" json:"families,omitempty"`
	MaxVersions uint32   `protobuf:"varint,3,opt,name=max_versions" json:"max_versions,omitempty"`
}

func (m *Get) Reset()         { *m = Get{} }
func (m *Get) String() string { return proto.CompactTextString(m) }
func (*Get) ProtoMessage()    {}

// MutationType distinguishes puts from deletes.
type MutationType int32

const (
	// MutationPut writes cells.
	MutationPut MutationType = 0
	// MutationDelete removes cells or a whole row.
	MutationDelete MutationType = 1
)

// Mutation is a single-row write.
type Mutation struct {
	Type  MutationType `protobuf:"varint,1,opt,name=type,enum=shardpb.MutationType" json:"type,omitempty"`
	Row   []byte       `protobuf:"bytes,2,opt,name=row" json:"row,omitempty"`
	Cells []*Cell      `protobuf:"bytes,3,rep,name=cells" json:"cells,omitempty"`
}

func (m *Mutation) Reset()         { *m = Mutation{} }
func (m *Mutation) String() string { return proto.CompactTextString(m) }
func (*Mutation) ProtoMessage()    {}

// RegionAction groups the operations of one multi-request that target a
// single region. Indices carries the caller's original position for every
// get so results can be placed back in order.
type RegionAction struct {
	RegionName []byte      `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
	Gets       []*Get      `protobuf:"bytes,2,rep,name=gets" json:"gets,omitempty"`
	Mutations  []*Mutation `protobuf:"bytes,3,rep,name=mutations" json:"mutations,omitempty"`
	Indices    []int32     `protobuf:"varint,4,rep,name=indices" json:"indices,omitempty"`
}

func (m *RegionAction) Reset()         { *m = RegionAction{} }
func (m *RegionAction) String() string { return proto.CompactTextString(m) }
func (*RegionAction) ProtoMessage()    {}

// MultiRequest carries one RegionAction for each region of a single server
// that the request targets.
type MultiRequest struct {
	Actions []*RegionAction `protobuf:"bytes,1,rep,name=actions" json:"actions,omitempty"`
}

func (m *MultiRequest) Reset()         { *m = MultiRequest{} }
func (m *MultiRequest) String() string { return proto.CompactTextString(m) }
func (*MultiRequest) ProtoMessage()    {}

// RegionResult is the per-region outcome of a multi-request. Processed is the
// number of mutations applied before the first failure; Processed equal to
// the number sent means the whole region batch succeeded.
type RegionResult struct {
	RegionName []byte    `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
	GetResults []*Result `protobuf:"bytes,2,rep,name=get_results" json:"get_results,omitempty"`
	Processed  int32     `protobuf:"varint,3,opt,name=processed" json:"processed,omitempty"`
}

func (m *RegionResult) Reset()         { *m = RegionResult{} }
func (m *RegionResult) String() string { return proto.CompactTextString(m) }
func (*RegionResult) ProtoMessage()    {}

// MultiResponse carries one RegionResult per RegionAction.
type MultiResponse struct {
	Results []*RegionResult `protobuf:"bytes,1,rep,name=results" json:"results,omitempty"`
}

func (m *MultiResponse) Reset()         { *m = MultiResponse{} }
func (m *MultiResponse) String() string { return proto.CompactTextString(m) }
func (*MultiResponse) ProtoMessage()    {}

// ResultOf returns the result for a region name, or nil.
func (m *MultiResponse) ResultOf(regionName []byte) *RegionResult {
	if m == nil {
		return nil
	}
	for _, r := range m.Results {
		if string(r.RegionName) == string(regionName) {
			return r
		}
	}
	return nil
}

// TableDescriptor is the schema stub carried for a table in catalog rows.
type TableDescriptor struct {
	Name     []byte   `protobuf:"bytes,1,opt,name=name" json:"name,omitempty"`
	Families [][]byte `protobuf:"bytes,2,rep,name=families" json:"families,omitempty"`
}

func (m *TableDescriptor) Reset()         { *m = TableDescriptor{} }
func (m *TableDescriptor) String() string { return proto.CompactTextString(m) }
func (*TableDescriptor) ProtoMessage()    {}

// MarshalRegionInfo encodes a RegionInfo for storage in a catalog cell.
func MarshalRegionInfo(ri *RegionInfo) ([]byte, error) {
	return proto.Marshal(ri)
}

// UnmarshalRegionInfo decodes a catalog cell into a RegionInfo. A nil or
// empty value yields an error rather than a zero descriptor.
func UnmarshalRegionInfo(value []byte) (*RegionInfo, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("empty region info cell")
	}
	ri := new(RegionInfo)
	if err := proto.Unmarshal(value, ri); err != nil {
		return nil, err
	}
	return ri, nil
}
