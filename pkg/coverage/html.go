package coverage

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/tools/cover"
)

// WriteHTMLReport renders a static HTML site summarizing the profiles into
// dir (created if missing). The entry point is dir/index.html.
func WriteHTMLReport(dir string, profiles []*cover.Profile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	data := htmlReportData{
		Generated: time.Now().Format(time.RFC1123),
		Total:     Percent(profiles),
	}
	for _, p := range profiles {
		covered, total := fileStats(p)
		data.Files = append(data.Files, htmlFileRow{
			Name:    p.FileName,
			Percent: rate(covered, total) * 100,
			Covered: covered,
			Total:   total,
		})
	}

	f, err := os.Create(filepath.Join(dir, "index.html"))
	if err != nil {
		return fmt.Errorf("creating index.html: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := htmlReportTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("rendering coverage report: %w", err)
	}
	return nil
}

type htmlReportData struct {
	Generated string
	Total     float64
	Files     []htmlFileRow
}

type htmlFileRow struct {
	Name    string
	Percent float64
	Covered int64
	Total   int64
}

var htmlReportTemplate = template.Must(template.New("coverage").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Coverage report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; min-width: 40em; }
th, td { text-align: left; padding: 0.3em 1em; border-bottom: 1px solid #ddd; }
td.pct { text-align: right; font-variant-numeric: tabular-nums; }
.bar { background: #eee; width: 10em; height: 0.8em; display: inline-block; }
.bar span { background: #4c9a52; height: 100%; display: block; }
.low span { background: #c0524c; }
footer { margin-top: 2em; color: #888; font-size: 0.85em; }
</style>
</head>
<body>
<h1>Coverage report</h1>
<p>Total statement coverage: <strong>{{printf "%.1f" .Total}}%</strong></p>
<table>
<tr><th>File</th><th>Coverage</th><th>Statements</th></tr>
{{range .Files}}<tr>
<td>{{.Name}}</td>
<td class="pct">{{printf "%.1f" .Percent}}% <span class="bar{{if lt .Percent 50.0}} low{{end}}"><span style="width: {{printf "%.0f" .Percent}}%"></span></span></td>
<td class="pct">{{.Covered}}/{{.Total}}</td>
</tr>
{{end}}</table>
<footer>Generated {{.Generated}} by covpipe</footer>
</body>
</html>
`))
