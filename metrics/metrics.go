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

// Package metrics defines the prometheus collectors of the client core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Client metrics.
var (
	RegionCacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "region_cache_operations_total",
			Help:      "Counter of region cache operations.",
		}, []string{"type", "result"})

	BackoffCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "backoff_total",
			Help:      "Counter of backoff sleeps by kind.",
		}, []string{"type"})

	BatchRoundHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "batch_rounds",
			Help:      "Bucketed histogram of rounds needed by a batch.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"type"})

	BatchDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "batch_seconds",
			Help:      "Bucketed histogram of batch execution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 20),
		}, []string{"type"})

	CoordinationEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "coordination_events_total",
			Help:      "Counter of coordination session events.",
		}, []string{"type"})

	ConnPoolGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "grpc_connections",
			Help:      "Number of gRPC connection arrays kept by address.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(RegionCacheCounter)
	prometheus.MustRegister(BackoffCounter)
	prometheus.MustRegister(BatchRoundHistogram)
	prometheus.MustRegister(BatchDurationHistogram)
	prometheus.MustRegister(CoordinationEventCounter)
	prometheus.MustRegister(ConnPoolGauge)
}
