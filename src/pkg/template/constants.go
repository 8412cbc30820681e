package template

// DefaultReportTemplate is the embedded default template for run reports.
// Place a report.md.tmpl in the templates path to override it.
const (
	ToolReportSignature    = `<!-- tfstack-pipeline: auto-generated report -->`
	FileNameReportTemplate = "report.md.tmpl"
)

const defaultReportTemplate = ToolReportSignature + `
# Terraform stack pipeline: {{ icon .Status }} {{ .Status }}

Run at {{ .Timestamp.Format "2006-01-02 15:04:05 MST" }} | root: ` + "`{{ .Root }}`" + ` | concurrency: {{ .Concurrency }}{{ if .DryRun }} | **dry-run**{{ end }}

| Stack | Backend | Lint | Scan | Plan | Deploy | Status |
|---|---|---|---|---|---|---|
{{ range .Stacks }}| {{ .Name }} | {{ .Backend }} | {{ range .Stages }}{{ icon .Status }} | {{ end }}{{ icon .Status }} {{ .Status }} |
{{ end }}
{{- range .Stacks }}
{{- if failed . }}

<details><summary><b>{{ .Name }}</b> diagnostics</summary>

{{ if .Error }}` + "```" + `
{{ .Error }}
` + "```" + `
{{ end }}
{{- range .Stages }}
{{- if .Diagnostic }}
**{{ .Kind }}** ({{ .Status }})

` + "```" + `
{{ .Diagnostic }}
` + "```" + `
{{ end }}
{{- end }}
</details>
{{- end }}
{{- end }}
`
