package observe

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/hostscan/pkg/models"
)

// MetricsCollector accumulates metrics for scan runs on its own registry.
// One collector per run unless the caller deliberately shares it.
type MetricsCollector struct {
	registry *prometheus.Registry

	checkDuration  *prometheus.HistogramVec
	checkOutcomes  *prometheus.CounterVec
	budgetVerdicts *prometheus.CounterVec
	findings       *prometheus.CounterVec
	findingScore   *prometheus.GaugeVec
	scans          *prometheus.CounterVec
	scanDuration   *prometheus.GaugeVec
	scanFindings   *prometheus.GaugeVec
}

// NewMetricsCollector creates a collector with a fresh registry
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostscan_check_duration_seconds",
			Help:    "Wall-clock time of each check",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"check", "tier"}),
		checkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostscan_check_outcomes_total",
			Help: "Checks by terminal state",
		}, []string{"check", "state"}),
		budgetVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostscan_budget_verdicts_total",
			Help: "Per-check budget verdicts by severity",
		}, []string{"tier", "severity"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostscan_findings_total",
			Help: "Findings produced, by category",
		}, []string{"category"}),
		findingScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostscan_finding_score",
			Help: "Score of the latest finding per check",
		}, []string{"check"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostscan_scans_total",
			Help: "Completed scans by tier and overall severity",
		}, []string{"tier", "severity"}),
		scanDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostscan_scan_duration_seconds",
			Help: "Wall-clock time of the latest scan per tier",
		}, []string{"tier"}),
		scanFindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostscan_scan_findings",
			Help: "Number of findings in the latest scan per tier",
		}, []string{"tier"}),
	}

	m.registry.MustRegister(
		m.checkDuration,
		m.checkOutcomes,
		m.budgetVerdicts,
		m.findings,
		m.findingScore,
		m.scans,
		m.scanDuration,
		m.scanFindings,
	)
	return m
}

// ObserveCheck records one terminal check outcome
func (m *MetricsCollector) ObserveCheck(tier models.Tier, o models.CheckOutcome) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(o.CheckID, string(tier)).Observe(o.ElapsedSeconds)
	m.checkOutcomes.WithLabelValues(o.CheckID, string(o.State)).Inc()
	if o.Verdict.Severity != "" {
		m.budgetVerdicts.WithLabelValues(string(tier), string(o.Verdict.Severity)).Inc()
	}
	if o.Finding != nil {
		m.findings.WithLabelValues(o.Finding.Category).Inc()
		m.findingScore.WithLabelValues(o.CheckID).Set(o.Finding.Score)
	}
}

// ObserveScan records the run-level summary
func (m *MetricsCollector) ObserveScan(r *models.ScanResult) {
	if m == nil || r == nil {
		return
	}
	tier := string(r.Tier)
	m.scans.WithLabelValues(tier, string(r.Overall.Severity)).Inc()
	m.scanDuration.WithLabelValues(tier).Set(r.ElapsedSeconds)
	m.scanFindings.WithLabelValues(tier).Set(float64(len(r.Findings)))
}

// Registry exposes the underlying registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Families gathers the current metric families
func (m *MetricsCollector) Families() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}

// Handler serves the collector in the Prometheus exposition format
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText encodes every family in the text exposition format
func (m *MetricsCollector) WriteText(w io.Writer) error {
	families, err := m.Families()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile writes the metrics to path for a node-exporter style textfile collector.
// The file is replaced atomically.
func (m *MetricsCollector) WriteTextfile(path string) error {
	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".hostscan-metrics-*")
	if err != nil {
		return fmt.Errorf("create temp metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
