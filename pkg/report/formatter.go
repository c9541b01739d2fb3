package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strings"
)

// Format is the on-disk encoding for a generated report file.
type Format string

const (
	FormatReportHTML Format = "html"
	FormatReportText Format = "text"
)

// Formatter renders a Run (optionally against a baseline) to a file.
type Formatter struct{}

// NewFormatter returns a Formatter. It holds no state today but exists
// as a type, matching the teacher's shape, so a future option (a
// custom template, a different time layout) has somewhere to live
// without changing every call site.
func NewFormatter() *Formatter { return &Formatter{} }

// Generate writes r (and its regressions relative to prior, if any) to
// outputPath in the given format.
func (f *Formatter) Generate(r *Run, prior *Run, format Format, outputPath string) error {
	switch format {
	case FormatReportHTML:
		return f.generateHTML(r, prior, outputPath)
	case FormatReportText:
		return f.generateText(r, prior, outputPath)
	default:
		return fmt.Errorf("report: unsupported format %q", format)
	}
}

func (f *Formatter) generateText(r *Run, prior *Run, outputPath string) error {
	var buf bytes.Buffer

	buf.WriteString(strings.Repeat("=", 72) + "\n")
	fmt.Fprintf(&buf, "  RUN REPORT: %s\n", r.RunID)
	buf.WriteString(strings.Repeat("=", 72) + "\n\n")

	status := "PASSED"
	if !r.Success {
		status = "FAILED"
	}
	fmt.Fprintf(&buf, "Status:    %s\n", status)
	fmt.Fprintf(&buf, "Revision:  %s\n", r.Revision)
	fmt.Fprintf(&buf, "Start:     %s\n", r.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&buf, "Duration:  %s\n", r.Duration)
	if r.Message != "" {
		fmt.Fprintf(&buf, "Message:   %s\n", r.Message)
	}
	buf.WriteString("\n")

	buf.WriteString("RESULTS BY VARIANT\n")
	buf.WriteString(strings.Repeat("-", 72) + "\n")
	for variant, count := range r.Counts {
		fmt.Fprintf(&buf, "%-24s %d\n", variant, count)
	}
	buf.WriteString("\n")

	fresh := NewlyFailing(r, prior)
	if len(fresh) > 0 {
		buf.WriteString("NEWLY FAILING SINCE BASELINE\n")
		buf.WriteString(strings.Repeat("-", 72) + "\n")
		for _, name := range fresh {
			fmt.Fprintf(&buf, "  %s\n", name)
		}
		buf.WriteString("\n")
	}

	return os.WriteFile(outputPath, buf.Bytes(), 0o644)
}

func (f *Formatter) generateHTML(r *Run, prior *Run, outputPath string) error {
	tmpl, err := template.New("run").Funcs(template.FuncMap{
		"statusClass": func(ok bool) string {
			if ok {
				return "pass"
			}
			return "fail"
		},
	}).Parse(runReportTemplate)
	if err != nil {
		return fmt.Errorf("report: parsing HTML template: %w", err)
	}

	data := struct {
		Run          *Run
		NewlyFailing []string
	}{Run: r, NewlyFailing: NewlyFailing(r, prior)}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("report: executing HTML template: %w", err)
	}
	return os.WriteFile(outputPath, buf.Bytes(), 0o644)
}

const runReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Run Report - {{.Run.RunID}}</title>
<style>
body { font-family: sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; }
.status { padding: 4px 10px; border-radius: 4px; font-weight: bold; color: white; }
.status.pass { background: #27ae60; }
.status.fail { background: #e74c3c; }
table { width: 100%; border-collapse: collapse; margin: 16px 0; }
th, td { padding: 8px; border-bottom: 1px solid #ddd; text-align: left; }
</style>
</head>
<body>
<h1>Run {{.Run.RunID}} <span class="status {{statusClass .Run.Success}}">{{if .Run.Success}}PASSED{{else}}FAILED{{end}}</span></h1>
<p>Revision: {{.Run.Revision}}<br>Duration: {{.Run.Duration}}</p>
<h2>Results by variant</h2>
<table><tr><th>Variant</th><th>Count</th></tr>
{{range $variant, $count := .Run.Counts}}<tr><td>{{$variant}}</td><td>{{$count}}</td></tr>{{end}}
</table>
{{if .NewlyFailing}}
<h2>Newly failing since baseline</h2>
<ul>{{range .NewlyFailing}}<li>{{.}}</li>{{end}}</ul>
{{end}}
</body>
</html>
`
