package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "template")

// Renderer turns a RunReport into a markdown document.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

var funcMap = template.FuncMap{
	"icon": func(status any) string {
		// RunStatus values coincide with the stage passed/failed strings
		switch fmt.Sprintf("%v", status) {
		case string(models.StageStatusPassed):
			return "✅"
		case string(models.StageStatusFailed):
			return "❌"
		case string(models.StageStatusSkipped):
			return "⏭️"
		case string(models.StageStatusRunning):
			return "🏃"
		default:
			return "⏸️"
		}
	},
	"failed": func(s models.StackReport) bool {
		return s.Status == models.RunStatusFailed
	},
}

// Render renders the report with the embedded default template.
func (r *Renderer) Render(data *models.RunReport) (string, error) {
	return r.render(defaultReportTemplate, data)
}

// RenderWithTemplates renders with report.md.tmpl from templatesPath when it
// exists, falling back to the embedded default.
func (r *Renderer) RenderWithTemplates(templatesPath string, data *models.RunReport) (string, error) {
	if templatesPath != "" {
		tmplPath := filepath.Join(templatesPath, FileNameReportTemplate)
		if content, err := os.ReadFile(tmplPath); err == nil {
			logger.WithField("template", tmplPath).Debug("Using report template override")
			return r.render(string(content), data)
		}
	}
	return r.Render(data)
}

func (r *Renderer) render(tmplText string, data *models.RunReport) (string, error) {
	tmpl, err := template.New("report").Funcs(funcMap).Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("failed to parse report template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return sb.String(), nil
}
