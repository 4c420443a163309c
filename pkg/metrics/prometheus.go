package metrics

import (
	"fmt"
	"io"
)

// PrometheusExporter renders a Collector's Snapshot in the Prometheus
// text exposition format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates an exporter for collector under the
// default "repcrec" metric namespace.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{collector: collector, namespace: "repcrec"}
}

// SetNamespace overrides the metric name prefix.
func (pe *PrometheusExporter) SetNamespace(namespace string) {
	pe.namespace = namespace
}

// WriteMetrics writes every counter and the wait-ticks histogram to w in
// Prometheus text format.
func (pe *PrometheusExporter) WriteMetrics(w io.Writer) error {
	snap := pe.collector.Snapshot()

	if err := pe.writeGauge(w, "uptime_seconds", "Process uptime in seconds", snap.UptimeSeconds); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "reads_total", "Total completed reads", snap.Reads); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "writes_total", "Total completed writes", snap.Writes); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "read_only_reads_total", "Total completed read-only snapshot reads", snap.Ronly); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "transactions_started_total", "Total transactions started", snap.TransactionsStarted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "transactions_committed_total", "Total transactions committed", snap.TransactionsCommitted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "aborts_deadlock_total", "Total transactions aborted as a deadlock victim", snap.AbortsDeadlock); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "aborts_site_failure_total", "Total transactions aborted because a visited site failed", snap.AbortsSiteFailure); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "deadlocks_detected_total", "Total deadlock cycles detected", snap.DeadlocksDetected); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "sites_failed_total", "Total fail() events applied to a live site", snap.SitesFailed); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "sites_recovered_total", "Total recover() events", snap.SitesRecovered); err != nil {
		return err
	}

	if err := pe.writeWaitHistogram(w, snap); err != nil {
		return err
	}
	for _, p := range []string{"p50", "p95", "p99"} {
		if err := pe.writeGauge(w, "op_wait_ticks_"+p, fmt.Sprintf("%s of ticks an op spent queued before dispatch", p), float64(snap.WaitTicksPercentiles[p])); err != nil {
			return err
		}
	}
	return nil
}

func (pe *PrometheusExporter) writeWaitHistogram(w io.Writer, snap Snapshot) error {
	name := pe.namespace + "_op_wait_ticks"
	if _, err := fmt.Fprintf(w, "# HELP %s Distribution of logical ticks an op spent queued before dispatch\n# TYPE %s histogram\n", name, name); err != nil {
		return err
	}
	order := []struct {
		le  string
		key string
	}{
		{"0", "0"}, {"2", "1-2"}, {"5", "3-5"}, {"10", "6-10"}, {"+Inf", "10+"},
	}
	var cumulative uint64
	for _, b := range order {
		cumulative += snap.WaitTicksBuckets[b.key]
		if _, err := fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", name, b.le, cumulative); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s_count %d\n", name, cumulative)
	return err
}

func (pe *PrometheusExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", metricName, help, metricName, metricName, value)
	return err
}

func (pe *PrometheusExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", metricName, help, metricName, metricName, value)
	return err
}
