package output

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/waspswithbazookas/wwb/internal/report"
	"github.com/waspswithbazookas/wwb/internal/threshold"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt      string
	Report           *report.Report
	Elapsed          time.Duration
	ThresholdResults []threshold.Result
	ThresholdSummary *ThresholdSummary
}

// ThresholdSummary counts passed and failed thresholds.
type ThresholdSummary struct {
	Total  int
	Passed int
	Failed int
}

// GenerateHTMLReport writes a standalone HTML page for r.
func GenerateHTMLReport(w io.Writer, r *report.Report, thresholdResults []threshold.Result) error {
	var summary *ThresholdSummary
	if len(thresholdResults) > 0 {
		summary = &ThresholdSummary{Total: len(thresholdResults)}
		for _, tr := range thresholdResults {
			if tr.Pass {
				summary.Passed++
			} else {
				summary.Failed++
			}
		}
	}

	data := HTMLReportData{
		GeneratedAt:      time.Now().Format(time.RFC3339),
		Report:           r,
		ThresholdResults: thresholdResults,
		ThresholdSummary: summary,
	}
	if !r.EndTime.IsZero() {
		data.Elapsed = r.EndTime.Sub(r.StartTime).Round(time.Millisecond)
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatPercent": func(part, total int) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", float64(part)/float64(total)*100)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>wwb report {{.Report.ID}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #f59e0b 0%, #b45309 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 { font-size: 2rem; margin-bottom: 10px; }
        header .meta { opacity: 0.9; font-size: 0.9rem; }
        .content { padding: 40px; }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(220px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #f59e0b;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value { font-size: 2rem; font-weight: bold; }
        .card .subvalue { font-size: 0.85rem; color: #6c757d; margin-top: 5px; }
        .card.success { border-left-color: #10b981; }
        .card.error { border-left-color: #ef4444; }
        .section { margin-bottom: 40px; }
        .section h2 {
            font-size: 1.4rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e9ecef;
        }
        table { width: 100%; border-collapse: collapse; }
        th, td { padding: 10px 12px; text-align: left; border-bottom: 1px solid #e9ecef; }
        th { background: #f8f9fa; font-weight: 600; font-size: 0.85rem; text-transform: uppercase; }
        .pass { color: #10b981; font-weight: 600; }
        .fail { color: #ef4444; font-weight: 600; }
        pre { white-space: pre-wrap; font-size: 0.8rem; color: #6c757d; }
    </style>
</head>
<body>
<div class="container">
    <header>
        <h1>Hive Report</h1>
        <div class="meta">
            {{.Report.Target}} &middot; {{.Report.Threads}} threads, {{.Report.Concurrency}} connections, {{.Report.Duration}}s
            &middot; finished: {{.Report.FinishReason}}{{if .Elapsed}} after {{.Elapsed}}{{end}}
            &middot; generated {{.GeneratedAt}}
        </div>
    </header>
    <div class="content">
        <div class="grid">
            <div class="card">
                <h3>Total Requests</h3>
                <div class="value">{{.Report.TotalRequests}}</div>
                <div class="subvalue">{{formatFloat .Report.TotalRPS}} req/s</div>
            </div>
            <div class="card">
                <h3>Latency</h3>
                <div class="value">{{formatFloat .Report.Latency.Avg}} ms</div>
                <div class="subvalue">max {{formatFloat .Report.Latency.Max}} ms</div>
            </div>
            <div class="card">
                <h3>Transfer</h3>
                <div class="value">{{formatFloat .Report.Read.Val}} {{.Report.Read.Unit}}</div>
                <div class="subvalue">{{formatFloat .Report.TPS.Val}} {{.Report.TPS.Unit}}</div>
            </div>
            <div class="card {{if .Report.Status.Failed}}error{{else}}success{{end}}">
                <h3>Wasps</h3>
                <div class="value">{{.Report.Status.Completed}} / {{.Report.Status.Expected}}</div>
                <div class="subvalue">{{.Report.Status.Failed}} failed ({{formatPercent .Report.Status.Failed .Report.Status.Expected}}%)</div>
            </div>
        </div>

        {{if .ThresholdSummary}}
        <div class="section">
            <h2>Thresholds ({{.ThresholdSummary.Passed}}/{{.ThresholdSummary.Total}} passed)</h2>
            <table>
                <tr><th>Threshold</th><th>Actual</th><th>Result</th></tr>
                {{range .ThresholdResults}}
                <tr>
                    <td>{{.Threshold.Raw}}</td>
                    <td>{{formatFloat .Actual}}</td>
                    <td>{{if .Pass}}<span class="pass">PASS</span>{{else}}<span class="fail">FAIL</span>{{end}}</td>
                </tr>
                {{end}}
            </table>
        </div>
        {{end}}

        <div class="section">
            <h2>Latency spread across wasps (ms)</h2>
            <table>
                <tr><th>P50</th><th>P90</th><th>P99</th><th>Req/sec avg</th><th>Req/sec max</th></tr>
                <tr>
                    <td>{{formatFloat .Report.Latency.Spread.P50}}</td>
                    <td>{{formatFloat .Report.Latency.Spread.P90}}</td>
                    <td>{{formatFloat .Report.Latency.Spread.P99}}</td>
                    <td>{{formatFloat .Report.RPS.Avg}}</td>
                    <td>{{formatFloat .Report.RPS.Max}}</td>
                </tr>
            </table>
        </div>

        <div class="section">
            <h2>Wasps</h2>
            <table>
                <tr><th>Wasp</th><th>Address</th><th>Status</th><th>Requests</th><th>Latency avg</th><th>Detail</th></tr>
                {{range .Report.Wasp.Reports}}
                <tr>
                    <td>{{.Wasp.ID}}</td>
                    <td>{{.Wasp.Addr}}</td>
                    <td>{{if .Stats}}<span class="pass">{{.Status}}</span>{{else}}<span class="fail">{{.Status}}</span>{{end}}</td>
                    {{if .Stats}}
                    <td>{{.Stats.TotalRequests}}</td>
                    <td>{{formatFloat .Stats.Latency.Avg}} ms</td>
                    <td></td>
                    {{else}}
                    <td>-</td>
                    <td>-</td>
                    <td><pre>{{.Error}}</pre></td>
                    {{end}}
                </tr>
                {{end}}
            </table>
        </div>
    </div>
</div>
</body>
</html>
`
