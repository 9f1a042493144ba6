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

package shardpb

import (
	"github.com/gogo/protobuf/proto"
)

// Error is the remote failure envelope attached to responses. The client
// unwraps it into its own error kinds before anything else sees it.
type Error struct {
	Message    string `protobuf:"bytes,1,opt,name=message" json:"message,omitempty"`
	NotServing bool   `protobuf:"varint,2,opt,name=not_serving" json:"not_serving,omitempty"`
	DoNotRetry bool   `protobuf:"varint,3,opt,name=do_not_retry" json:"do_not_retry,omitempty"`
	RegionName []byte `protobuf:"bytes,4,opt,name=region_name" json:"region_name,omitempty"`
}

func (m *Error) Reset()         { *m = Error{} }
func (m *Error) String() string { return proto.CompactTextString(m) }
func (*Error) ProtoMessage()    {}

// ClosestRowBeforeRequest asks a region for the greatest row at or below Row.
type ClosestRowBeforeRequest struct {
	RegionName []byte `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
	Row        []byte `protobuf:"bytes,2,opt,name=row" json:"row,omitempty"`
	Family     []byte `protobuf:"bytes,3,opt,name=family" json:"family,omitempty"`
}

func (m *ClosestRowBeforeRequest) Reset()         { *m = ClosestRowBeforeRequest{} }
func (m *ClosestRowBeforeRequest) String() string { return proto.CompactTextString(m) }
func (*ClosestRowBeforeRequest) ProtoMessage()    {}

// ClosestRowBeforeResponse carries the matched row, if any.
type ClosestRowBeforeResponse struct {
	Error  *Error  `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Result *Result `protobuf:"bytes,2,opt,name=result" json:"result,omitempty"`
}

func (m *ClosestRowBeforeResponse) Reset()         { *m = ClosestRowBeforeResponse{} }
func (m *ClosestRowBeforeResponse) String() string { return proto.CompactTextString(m) }
func (*ClosestRowBeforeResponse) ProtoMessage()    {}

// GetRequest reads rows from one region.
type GetRequest struct {
	RegionName []byte `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
	Gets       []*Get `protobuf:"bytes,2,rep,name=gets" json:"gets,omitempty"`
}

func (m *GetRequest) Reset()         { *m = GetRequest{} }
func (m *GetRequest) String() string { return proto.CompactTextString(m) }
func (*GetRequest) ProtoMessage()    {}

// GetResponse carries one result per requested get, in order.
type GetResponse struct {
	Error   *Error    `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Results []*Result `protobuf:"bytes,2,rep,name=results" json:"results,omitempty"`
}

func (m *GetResponse) Reset()         { *m = GetResponse{} }
func (m *GetResponse) String() string { return proto.CompactTextString(m) }
func (*GetResponse) ProtoMessage()    {}

// MutateRequest applies mutations to one region.
type MutateRequest struct {
	RegionName []byte      `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
	Mutations  []*Mutation `protobuf:"bytes,2,rep,name=mutations" json:"mutations,omitempty"`
	// Atomic applies all mutations as one row transaction.
	Atomic bool `protobuf:"varint,3,opt,name=atomic" json:"atomic,omitempty"`
}

func (m *MutateRequest) Reset()         { *m = MutateRequest{} }
func (m *MutateRequest) String() string { return proto.CompactTextString(m) }
func (*MutateRequest) ProtoMessage()    {}

// MutateResponse reports how many mutations were applied before the first
// failure. Processed equal to the request length means complete success.
type MutateResponse struct {
	Error     *Error `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Processed int32  `protobuf:"varint,2,opt,name=processed" json:"processed,omitempty"`
}

func (m *MutateResponse) Reset()         { *m = MutateResponse{} }
func (m *MutateResponse) String() string { return proto.CompactTextString(m) }
func (*MutateResponse) ProtoMessage()    {}

// MultiActionRequest wraps a MultiRequest on the wire.
type MultiActionRequest struct {
	Multi *MultiRequest `protobuf:"bytes,1,opt,name=multi" json:"multi,omitempty"`
}

func (m *MultiActionRequest) Reset()         { *m = MultiActionRequest{} }
func (m *MultiActionRequest) String() string { return proto.CompactTextString(m) }
func (*MultiActionRequest) ProtoMessage()    {}

// MultiActionResponse wraps a MultiResponse on the wire.
type MultiActionResponse struct {
	Error *Error         `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Multi *MultiResponse `protobuf:"bytes,2,opt,name=multi" json:"multi,omitempty"`
}

func (m *MultiActionResponse) Reset()         { *m = MultiActionResponse{} }
func (m *MultiActionResponse) String() string { return proto.CompactTextString(m) }
func (*MultiActionResponse) ProtoMessage()    {}

// ScanRequest reads consecutive rows of one region starting at StartRow.
type ScanRequest struct {
	RegionName []byte `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
	StartRow   []byte `protobuf:"bytes,2,opt,name=start_row" json:"start_row,omitempty"`
	Limit      int32  `protobuf:"varint,3,opt,name=limit" json:"limit,omitempty"`
	Family     []byte `protobuf:"bytes,4,opt,name=family" json:"family,omitempty"`
}

func (m *ScanRequest) Reset()         { *m = ScanRequest{} }
func (m *ScanRequest) String() string { return proto.CompactTextString(m) }
func (*ScanRequest) ProtoMessage()    {}

// ScanResponse carries the scanned rows in key order.
type ScanResponse struct {
	Error   *Error    `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Results []*Result `protobuf:"bytes,2,rep,name=results" json:"results,omitempty"`
}

func (m *ScanResponse) Reset()         { *m = ScanResponse{} }
func (m *ScanResponse) String() string { return proto.CompactTextString(m) }
func (*ScanResponse) ProtoMessage()    {}

// RegionInfoRequest asks a server for a region it hosts.
type RegionInfoRequest struct {
	RegionName []byte `protobuf:"bytes,1,opt,name=region_name" json:"region_name,omitempty"`
}

func (m *RegionInfoRequest) Reset()         { *m = RegionInfoRequest{} }
func (m *RegionInfoRequest) String() string { return proto.CompactTextString(m) }
func (*RegionInfoRequest) ProtoMessage()    {}

// RegionInfoResponse carries the hosted region's descriptor.
type RegionInfoResponse struct {
	Error  *Error      `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Region *RegionInfo `protobuf:"bytes,2,opt,name=region" json:"region,omitempty"`
}

func (m *RegionInfoResponse) Reset()         { *m = RegionInfoResponse{} }
func (m *RegionInfoResponse) String() string { return proto.CompactTextString(m) }
func (*RegionInfoResponse) ProtoMessage()    {}

// RegionsAssignmentRequest asks a server for every region it hosts.
type RegionsAssignmentRequest struct {
}

func (m *RegionsAssignmentRequest) Reset()         { *m = RegionsAssignmentRequest{} }
func (m *RegionsAssignmentRequest) String() string { return proto.CompactTextString(m) }
func (*RegionsAssignmentRequest) ProtoMessage()    {}

// RegionsAssignmentResponse lists the hosted regions.
type RegionsAssignmentResponse struct {
	Error   *Error        `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Regions []*RegionInfo `protobuf:"bytes,2,rep,name=regions" json:"regions,omitempty"`
}

func (m *RegionsAssignmentResponse) Reset()         { *m = RegionsAssignmentResponse{} }
func (m *RegionsAssignmentResponse) String() string { return proto.CompactTextString(m) }
func (*RegionsAssignmentResponse) ProtoMessage()    {}

// MasterRunningRequest probes master liveness.
type MasterRunningRequest struct {
}

func (m *MasterRunningRequest) Reset()         { *m = MasterRunningRequest{} }
func (m *MasterRunningRequest) String() string { return proto.CompactTextString(m) }
func (*MasterRunningRequest) ProtoMessage()    {}

// MasterRunningResponse reports master liveness.
type MasterRunningResponse struct {
	Error   *Error `protobuf:"bytes,1,opt,name=error" json:"error,omitempty"`
	Running bool   `protobuf:"varint,2,opt,name=running" json:"running,omitempty"`
}

func (m *MasterRunningResponse) Reset()         { *m = MasterRunningResponse{} }
func (m *MasterRunningResponse) String() string { return proto.CompactTextString(m) }
func (*MasterRunningResponse) ProtoMessage()    {}
