package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/hostscan/pkg/models"
)

// Format is a report encoding
type Format string

const (
	FormatHTML  Format = "html"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat parses a format name (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatHTML, FormatJSON, FormatYAML, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Render writes r to w in format
func Render(w io.Writer, format Format, r *models.ScanResult) error {
	switch format {
	case FormatHTML:
		return renderHTML(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return renderTable(w, r, 0)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteFile renders r into path, creating parent directories
func WriteFile(path string, format Format, r *models.ScanResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Render(f, format, r); err != nil {
		f.Close()
		return fmt.Errorf("render %s report: %w", format, err)
	}
	return f.Close()
}

// Summary prints the overall verdict and the top findings
func Summary(w io.Writer, r *models.ScanResult, top int) error {
	counts := r.Counts()
	fmt.Fprintf(w, "Scan %s (%s) finished in %.2fs: budget %s\n",
		r.ScanID, r.Tier, r.ElapsedSeconds, r.Overall.Severity)
	fmt.Fprintf(w, "Checks: %d completed, %d failed, %d timed out; %d findings\n\n",
		counts[models.CheckStateCompleted], counts[models.CheckStateFailed],
		counts[models.CheckStateTimedOut], len(r.Findings))

	if len(r.Findings) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return nil
	}
	return findingsTable(w, r.TopFindings(top))
}

func renderTable(w io.Writer, r *models.ScanResult, top int) error {
	if err := Summary(w, r, top); err != nil {
		return err
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.Header("Check", "State", "Elapsed", "Budget", "Error")
	for _, o := range r.Outcomes {
		table.Append([]string{
			o.CheckID,
			string(o.State),
			fmt.Sprintf("%.2fs", o.ElapsedSeconds),
			string(o.Verdict.Severity),
			o.Error,
		})
	}
	return table.Render()
}

func findingsTable(w io.Writer, findings []*models.Finding) error {
	table := tablewriter.NewWriter(w)
	table.Header("Score", "Check", "Category", "Finding", "Fix")
	for _, f := range findings {
		table.Append([]string{
			fmt.Sprintf("%.2f", f.Score),
			f.ID,
			f.Category,
			f.Message,
			f.FixID,
		})
	}
	return table.Render()
}
