package report

import (
	"fmt"
	"html/template"
	"io"

	"github.com/psantana5/hostscan/pkg/models"
)

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"seconds": func(s float64) string { return fmt.Sprintf("%.2fs", s) },
	"score":   func(s float64) string { return fmt.Sprintf("%.2f", s) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>hostscan report {{.Result.ScanID}}</title>
<style>
body { font-family: Arial; margin: 40px; }
h1 { color: #333; }
.verdict { font-size: 20px; font-weight: bold; }
.none { color: #2e7d32; }
.warning { color: #ef6c00; }
.critical { color: #c62828; }
table { border-collapse: collapse; width: 100%; margin-top: 20px; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; }
</style>
</head>
<body>

<h1>Host scan: {{.Result.Tier}}</h1>
<p>Scan {{.Result.ScanID}} started {{.Result.StartedAt.Format "2006-01-02 15:04:05 MST"}}, {{len .Result.Outcomes}} checks, concurrency {{.Result.Concurrency}}.</p>

<div class="verdict {{.Result.Overall.Severity}}">
Finished in {{seconds .Result.ElapsedSeconds}} of a {{seconds .Result.Overall.BudgetSeconds}} budget: {{.Result.Overall.Severity}}
</div>

<h3>Findings</h3>
{{if .Findings}}
<table>
<tr><th>Score</th><th>Check</th><th>Category</th><th>Finding</th><th>Evidence</th><th>Fix</th></tr>
{{range .Findings}}
<tr>
<td>{{score .Score}}</td>
<td>{{.ID}}</td>
<td>{{.Category}}</td>
<td>{{.Message}}</td>
<td>{{.Evidence}}</td>
<td>{{.FixID}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No issues found.</p>
{{end}}

<h3>Checks</h3>
<table>
<tr><th>Check</th><th>State</th><th>Elapsed</th><th>Budget</th></tr>
{{range .Result.Outcomes}}
<tr>
<td>{{.CheckID}}</td>
<td>{{.State}}</td>
<td>{{seconds .ElapsedSeconds}}</td>
<td class="{{.Verdict.Severity}}">{{.Verdict.Severity}}</td>
</tr>
{{end}}
</table>

{{if .Result.Failures}}
<h3>Checks that did not complete</h3>
<table>
<tr><th>Check</th><th>State</th><th>Error</th></tr>
{{range .Result.Failures}}
<tr><td>{{.CheckID}}</td><td>{{.State}}</td><td>{{.Error}}</td></tr>
{{end}}
</table>
{{end}}

</body>
</html>
`))

type htmlView struct {
	Result   *models.ScanResult
	Findings []*models.Finding
}

func renderHTML(w io.Writer, r *models.ScanResult) error {
	return htmlReport.Execute(w, htmlView{Result: r, Findings: r.TopFindings(0)})
}
