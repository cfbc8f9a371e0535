// Copyright 2026 The OSAlloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prom exports an Allocator's counters as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osalloc/osalloc"
)

// Collector implements prometheus.Collector over an Allocator's Stats
// snapshot. Collect reads the allocator without synchronization, so it must
// run on the goroutine that owns the allocator, or while it is quiescent.
type Collector struct {
	a *osalloc.Allocator

	allocs      *prometheus.Desc
	mmaps       *prometheus.Desc
	brkBytes    *prometheus.Desc
	mappedBytes *prometheus.Desc
	freeBytes   *prometheus.Desc
	freeBlocks  *prometheus.Desc
	listBlocks  *prometheus.Desc
}

// NewCollector returns a Collector reading from a.
func NewCollector(a *osalloc.Allocator) *Collector {
	return &Collector{
		a: a,
		allocs: prometheus.NewDesc(
			"osalloc_live_allocations",
			"Number of live allocations, break-backed and mapped.",
			nil, nil),
		mmaps: prometheus.NewDesc(
			"osalloc_live_mappings",
			"Number of live standalone anonymous mappings.",
			nil, nil),
		brkBytes: prometheus.NewDesc(
			"osalloc_break_bytes_total",
			"Bytes obtained via the break region since the allocator was created.",
			nil, nil),
		mappedBytes: prometheus.NewDesc(
			"osalloc_mapped_bytes",
			"Bytes held in live standalone mappings.",
			nil, nil),
		freeBytes: prometheus.NewDesc(
			"osalloc_free_bytes",
			"Bytes in free break-region blocks, headers included.",
			nil, nil),
		freeBlocks: prometheus.NewDesc(
			"osalloc_free_blocks",
			"Free blocks on the break-region list.",
			nil, nil),
		listBlocks: prometheus.NewDesc(
			"osalloc_list_blocks",
			"All blocks on the break-region list.",
			nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocs
	ch <- c.mmaps
	ch <- c.brkBytes
	ch <- c.mappedBytes
	ch <- c.freeBytes
	ch <- c.freeBlocks
	ch <- c.listBlocks
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.a.Stats()
	ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.GaugeValue, float64(s.Allocs))
	ch <- prometheus.MustNewConstMetric(c.mmaps, prometheus.GaugeValue, float64(s.Mmaps))
	ch <- prometheus.MustNewConstMetric(c.brkBytes, prometheus.CounterValue, float64(s.BrkBytes))
	ch <- prometheus.MustNewConstMetric(c.mappedBytes, prometheus.GaugeValue, float64(s.MappedBytes))
	ch <- prometheus.MustNewConstMetric(c.freeBytes, prometheus.GaugeValue, float64(s.FreeBytes))
	ch <- prometheus.MustNewConstMetric(c.freeBlocks, prometheus.GaugeValue, float64(s.FreeBlocks))
	ch <- prometheus.MustNewConstMetric(c.listBlocks, prometheus.GaugeValue, float64(s.ListBlocks))
}
