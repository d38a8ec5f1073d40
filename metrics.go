// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boxes

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricFlips               = "flips_total"
	MetricNoopSets            = "noop_sets_total"
	MetricValidationRejects   = "validation_rejects_total"
	MetricCounterClamps       = "counter_clamps_total"
	MetricCounterAdjustments  = "counter_adjustments_total"
	MetricHTTPRequests        = "http_requests_total"
	MetricHTTPRequestDuration = "http_request_duration_seconds"
)

var CounterFlips = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      MetricFlips,
		Help:      "Bits flipped, by new value.",
	},
	[]string{
		"checked",
	},
)

var CounterNoopSets = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      MetricNoopSets,
		Help:      "Sets which found the bit already at the requested value.",
	},
)

var CounterValidationRejects = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      MetricValidationRejects,
		Help:      "Requests rejected as invalid.",
	},
)

var CounterCounterClamps = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      MetricCounterClamps,
		Help:      "Decrements of a counter which was already zero.",
	},
)

var CounterCounterAdjustments = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      MetricCounterAdjustments,
		Help:      "Counter increments and decrements applied.",
	},
	[]string{
		"method",
	},
)

var CounterHTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      MetricHTTPRequests,
		Help:      "HTTP requests by route and status code.",
	},
	[]string{
		"route",
		"code",
	},
)

var HistogramHTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "boxes",
		Name:      MetricHTTPRequestDuration,
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{
		"route",
	},
)

func init() {
	prometheus.MustRegister(CounterFlips)
	prometheus.MustRegister(CounterNoopSets)
	prometheus.MustRegister(CounterValidationRejects)
	prometheus.MustRegister(CounterCounterClamps)
	prometheus.MustRegister(CounterCounterAdjustments)
	prometheus.MustRegister(CounterHTTPRequests)
	prometheus.MustRegister(HistogramHTTPRequestDuration)
}
