// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blackbox_retention_deleted_total",
		Help: "Bundles deleted by retention enforcement",
	})
	retentionDeletedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blackbox_retention_deleted_bytes_total",
		Help: "Bytes reclaimed by retention enforcement",
	})
	retentionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blackbox_retention_delete_failures_total",
		Help: "Bundle deletions that failed during retention enforcement",
	})
	bundles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blackbox_bundles",
		Help: "Bundles on disk after the last retention pass",
	})
	bundleBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blackbox_bundle_bytes",
		Help: "Total bundle bytes on disk after the last retention pass",
	})
)

// RecordRetentionPass publishes the outcome of one enforcement pass.
func RecordRetentionPass(deleted, failed int, deletedBytes int64, remaining int, remainingBytes int64) {
	retentionDeleted.Add(float64(deleted))
	retentionDeletedBytes.Add(float64(deletedBytes))
	retentionFailures.Add(float64(failed))
	bundles.Set(float64(remaining))
	bundleBytes.Set(float64(remainingBytes))
}
