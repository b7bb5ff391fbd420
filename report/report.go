package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/TFMV/evfeatures/metrics"
)

// -----------------------------
// Report Generator Interfaces
// -----------------------------

// ReportGenerator defines the methods for generating reports.
type ReportGenerator interface {
	GenerateRunReport(run metrics.RunReport) ([]byte, error)
	GenerateAlertNotification(run metrics.RunReport) ([]byte, error)
	SaveReportToFile(run metrics.RunReport, filePath string) error
}

// -----------------------------
// JSON Report Generator
// -----------------------------

// JSONReportGenerator generates JSON reports.
type JSONReportGenerator struct{}

// GenerateRunReport serializes the RunReport to JSON.
func (j *JSONReportGenerator) GenerateRunReport(run metrics.RunReport) ([]byte, error) {
	return json.MarshalIndent(run, "", "  ")
}

// GenerateAlertNotification generates an alert message in JSON format.
func (j *JSONReportGenerator) GenerateAlertNotification(run metrics.RunReport) ([]byte, error) {
	failed := make([]string, 0)
	for _, f := range run.Invariants.Failed() {
		failed = append(failed, f.Name)
	}
	alert := map[string]interface{}{
		"alert":      "Derivation Failed",
		"input":      run.Run.Input,
		"message":    run.Status.Message,
		"invariants": failed,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	return json.MarshalIndent(alert, "", "  ")
}

// SaveReportToFile saves the JSON report to a file.
func (j *JSONReportGenerator) SaveReportToFile(run metrics.RunReport, filePath string) error {
	data, err := j.GenerateRunReport(run)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}

// -----------------------------
// HTML Report Generator
// -----------------------------

// HTMLReportGenerator generates HTML reports.
type HTMLReportGenerator struct{}

// HTML template for the report.
const htmlTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>EV Feature Derivation Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        table { width: 100%; border-collapse: collapse; margin-top: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f4f4f4; }
        .status-pass { color: green; }
        .status-fail { color: red; }
    </style>
</head>
<body>
    <h1>EV Feature Derivation Report</h1>
    <p><strong>Input:</strong> {{.Run.Input}} ({{.Run.InputType}})</p>
    {{if .Run.Output}}<p><strong>Output:</strong> {{.Run.Output}} ({{.Run.OutputType}})</p>{{end}}
    <p><strong>Reference Year:</strong> {{.Run.CurrentYear}}</p>
    <p><strong>Urban Column:</strong> {{.Run.UrbanColumn}}</p>
    <p><strong>Started:</strong> {{.Run.StartTime}}</p>
    <p><strong>Status:</strong> {{if .Status.Passed}}<span class="status-pass">PASS</span>{{else}}<span class="status-fail">FAIL</span>{{end}}
    {{with .Status.Message}} {{.}}{{end}}</p>

    <h2>Table</h2>
    <table>
        <tr>
            <th>Rows</th>
            <th>Input Columns</th>
            <th>Output Columns</th>
        </tr>
        <tr>
            <td>{{.Table.NumRows}}</td>
            <td>{{.Table.InputColumns}}</td>
            <td>{{.Table.OutputColumns}}</td>
        </tr>
    </table>

    <h2>Derivation Steps</h2>
    <table>
        <tr>
            <th>Step</th>
            <th>Columns</th>
            <th>Groups</th>
            <th>Duration</th>
            <th>Warnings</th>
        </tr>
        {{range .Steps}}
        <tr>
            <td>{{.Name}}</td>
            <td>{{join .Columns}}</td>
            <td>{{.Groups}}</td>
            <td>{{.Duration}}</td>
            <td>{{join .Warnings}}</td>
        </tr>
        {{end}}
    </table>

    <h2>Invariants</h2>
    <table>
        <tr>
            <th>Check</th>
            <th>Violations</th>
            <th>Message</th>
            <th>Status</th>
        </tr>
        {{range .Invariants.Results}}
        <tr>
            <td>{{.Name}}</td>
            <td>{{.Violations}}</td>
            <td>{{.Message}}</td>
            <td class="{{if .Passed}}status-pass{{else}}status-fail{{end}}">
                {{if .Passed}}PASS{{else}}FAIL{{end}}
            </td>
        </tr>
        {{end}}
    </table>

    <footer>
        <p>Generated on {{.Run.EndTime}}</p>
    </footer>
</body>
</html>
`

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"join": func(items []string) string {
		var buf bytes.Buffer
		for i, s := range items {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(s)
		}
		return buf.String()
	},
}).Parse(htmlTemplate))

// GenerateRunReport generates an HTML report from the derivation run.
func (h *HTMLReportGenerator) GenerateRunReport(run metrics.RunReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, run); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GenerateAlertNotification generates an HTML alert.
func (h *HTMLReportGenerator) GenerateAlertNotification(run metrics.RunReport) ([]byte, error) {
	alertHTML := fmt.Sprintf(
		`<html><body><h3>Derivation Failed</h3><p>%s</p><p>%d invariant(s) violated for input %s.</p></body></html>`,
		template.HTMLEscapeString(run.Status.Message),
		len(run.Invariants.Failed()),
		template.HTMLEscapeString(run.Run.Input),
	)
	return []byte(alertHTML), nil
}

// SaveReportToFile saves the HTML report to a file.
func (h *HTMLReportGenerator) SaveReportToFile(run metrics.RunReport, filePath string) error {
	data, err := h.GenerateRunReport(run)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}

// SaveReports saves the JSON and HTML reports. An empty path skips that format.
func SaveReports(run metrics.RunReport, jsonPath, htmlPath string) error {
	if jsonPath != "" {
		jsonGen := JSONReportGenerator{}
		if err := jsonGen.SaveReportToFile(run, jsonPath); err != nil {
			return fmt.Errorf("failed to save JSON report: %w", err)
		}
	}
	if htmlPath != "" {
		htmlGen := HTMLReportGenerator{}
		if err := htmlGen.SaveReportToFile(run, htmlPath); err != nil {
			return fmt.Errorf("failed to save HTML report: %w", err)
		}
	}
	return nil
}

// SaveAlert writes the JSON alert for a failed run. Passing runs write nothing.
func SaveAlert(run metrics.RunReport, filePath string) error {
	if run.Status.Passed || filePath == "" {
		return nil
	}
	jsonGen := JSONReportGenerator{}
	data, err := jsonGen.GenerateAlertNotification(run)
	if err != nil {
		return fmt.Errorf("failed to generate alert: %w", err)
	}
	return os.WriteFile(filePath, data, 0644)
}

// ReportFromFilePath loads a JSON run report.
func ReportFromFilePath(filePath string) (metrics.RunReport, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return metrics.RunReport{}, err
	}
	var report metrics.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return metrics.RunReport{}, err
	}
	return report, nil
}
