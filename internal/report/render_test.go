package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/hostscan/pkg/models"
)

func sampleResult(t *testing.T) *models.ScanResult {
	t.Helper()
	disk, err := models.NewFinding(models.FindingSpec{
		ID: "disk.free_space", Tier: models.TierQuick, Category: "Disk",
		Impact: 10, Confidence: 10, Effort: 1, FixID: "disk.cleanup",
		Message: `C:\ is almost full <3% free>`,
	})
	require.NoError(t, err)
	uptime, err := models.NewFinding(models.FindingSpec{
		ID: "system.uptime", Tier: models.TierQuick, Category: "System",
		Impact: 3, Confidence: 8, Effort: 2, Message: "No reboot in 45 days",
	})
	require.NoError(t, err)

	failed := models.CheckOutcome{CheckID: "cpu.utilization", State: models.CheckStateTimedOut,
		Error: "exceeded per-check timeout of 2m0s", ElapsedSeconds: 120,
		Verdict: models.BudgetVerdict{CheckName: "cpu.utilization", Severity: models.SeverityCritical, Exceeded: true}}

	return &models.ScanResult{
		ScanID:      "b7c1a4d2-0000-4000-8000-000000000001",
		Tier:        models.TierQuick,
		Concurrency: 2,
		StartedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 3, 1, 9, 2, 0, 0, time.UTC),
		Findings:    []*models.Finding{uptime, disk},
		Outcomes: []models.CheckOutcome{
			{CheckID: "disk.free_space", State: models.CheckStateCompleted, Finding: disk, ElapsedSeconds: 0.2,
				Verdict: models.BudgetVerdict{CheckName: "disk.free_space", Severity: models.SeverityNone}},
			{CheckID: "system.uptime", State: models.CheckStateCompleted, Finding: uptime, ElapsedSeconds: 0.01,
				Verdict: models.BudgetVerdict{CheckName: "system.uptime", Severity: models.SeverityNone}},
			failed,
		},
		Failures: []models.CheckOutcome{failed},
		Overall: models.BudgetVerdict{CheckName: "tier:quick", Tier: models.TierQuick,
			BudgetSeconds: 30, ElapsedSeconds: 120, Exceeded: true, Severity: models.SeverityCritical},
		ElapsedSeconds: 120,
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"html", "JSON", " yaml ", "table"} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	assert.ErrorIs(t, Render(&bytes.Buffer{}, Format("pdf"), sampleResult(t)), ErrUnknownFormat)
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, sampleResult(t)))

	var decoded models.ScanResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "tier:quick", decoded.Overall.CheckName)
	assert.Len(t, decoded.Findings, 2)
	assert.Equal(t, models.CheckStateTimedOut, decoded.Failures[0].State)
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatYAML, sampleResult(t)))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "quick", decoded["tier"])
	overall, ok := decoded["overall"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "tier:quick", overall["check_name"])
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatHTML, sampleResult(t)))
	out := buf.String()

	assert.Contains(t, out, "Host scan: quick")
	assert.Contains(t, out, "Checks that did not complete")
	assert.Contains(t, out, "&lt;3% free&gt;", "messages are escaped")
	assert.Less(t, strings.Index(out, "disk.free_space"), strings.Index(out, "system.uptime"),
		"findings sorted by score")
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTable, sampleResult(t)))
	out := buf.String()

	assert.Contains(t, out, "budget critical")
	assert.Contains(t, out, "2 completed, 0 failed, 1 timed out; 2 findings")
	assert.Contains(t, out, "50.00")
	assert.Contains(t, out, "exceeded per-check timeout")
}

func TestSummaryWithoutFindings(t *testing.T) {
	r := sampleResult(t)
	r.Findings = nil
	var buf bytes.Buffer
	require.NoError(t, Summary(&buf, r, 5))
	assert.Contains(t, buf.String(), "No issues found.")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "scan.html")
	require.NoError(t, WriteFile(path, FormatHTML, sampleResult(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("<!DOCTYPE html>")))
}
