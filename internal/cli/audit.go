package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericksa/docchat/internal/audit"
	"github.com/ericksa/docchat/internal/config"
)

// AuditReport summarizes recent audit log entries.
type AuditReport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	SessionID   string             `json:"session_id,omitempty"`
	Summary     AuditSummary       `json:"summary"`
	Entries     []audit.AuditEntry `json:"entries"`
}

type AuditSummary struct {
	Total       int       `json:"total"`
	Errors      int       `json:"errors"`
	Sessions    int       `json:"sessions"`
	Operations  []OpCount `json:"operations"`
	FirstRecord time.Time `json:"first_record,omitempty"`
	LastRecord  time.Time `json:"last_record,omitempty"`
}

type OpCount struct {
	Operation string `json:"operation"`
	Count     int    `json:"count"`
	Errors    int    `json:"errors"`
}

const consoleReport = `Audit report ({{.GeneratedAt.Format "Mon Jan 2, 2006 3:04 PM"}})
{{- if .SessionID}}
Session: {{.SessionID}}
{{- end}}
Entries: {{.Summary.Total}}  Errors: {{.Summary.Errors}}  Sessions: {{.Summary.Sessions}}
{{range .Summary.Operations}}
  {{printf "%-28s" .Operation}} {{.Count}}{{if .Errors}} ({{.Errors}} failed){{end}}
{{- end}}
{{if .Entries}}
{{range .Entries}}{{.Timestamp.Format "2006-01-02 15:04:05"}}  {{printf "%-24s" .Operation}} {{.SessionID}}{{if .Error}}  ERROR: {{.Error}}{{end}}
{{end}}{{else}}
No audit entries found.
{{end}}`

const markdownReport = `# Audit Report
**Generated:** {{.GeneratedAt.Format "Mon Jan 2, 2006 3:04 PM"}}
{{- if .SessionID}}
**Session:** {{.SessionID}}
{{- end}}

## Summary

| Operation | Count | Failed |
|-----------|-------|--------|
{{- range .Summary.Operations}}
| {{.Operation}} | {{.Count}} | {{.Errors}} |
{{- end}}
| **Total** | **{{.Summary.Total}}** | **{{.Summary.Errors}}** |

{{if .Entries}}
## Entries

{{range .Entries}}
- **{{.Timestamp.Format "Jan 2 15:04:05"}}** {{.Operation}} ({{.SessionID}})
  {{- if .Error}}
  - Error: {{.Error}}
  {{- end}}
{{end}}
{{else}}
No audit entries found.
{{end}}`

func (a *app) auditCmd() *cobra.Command {
	var (
		driver    string
		dsn       string
		sessionID string
		limit     int
		output    string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report on the gateway's audit log",
		Long: `Read the audit log database directly and summarize recent operations.

Output formats:
  console      human readable summary (default)
  json         JSON to stdout
  <file>.json  JSON written to a file
  <file>.md    Markdown written to a file

The database defaults to the audit settings of config.yaml.`,
		Example: `  docchat audit
  docchat audit --session cq1v3m0e8a7c73b0g5h0
  docchat audit --driver postgres --dsn "postgres://docchat@localhost/docchat?sslmode=disable" -o audit.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if driver == "" || dsn == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if driver == "" {
					driver = cfg.DocChat.Audit.Driver
				}
				if dsn == "" {
					dsn = cfg.DocChat.Audit.DSN
				}
			}

			auditor, err := audit.Open(driver, dsn, nil)
			if err != nil {
				return err
			}
			defer auditor.Close()

			var entries []audit.AuditEntry
			if sessionID != "" {
				entries, err = auditor.SessionLogs(sessionID, limit)
			} else {
				entries, err = auditor.GetLogs(limit)
			}
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			report := buildAuditReport(entries, sessionID, time.Now())

			switch {
			case output == "" || output == "console":
				if a.jsonOutput() {
					return writeJSON(a.out, report)
				}
				return renderReport(a.out, consoleReport, report)
			case output == "json":
				return writeJSON(a.out, report)
			case strings.HasSuffix(output, ".json"):
				return writeReportFile(output, func(w io.Writer) error { return writeJSON(w, report) })
			case strings.HasSuffix(output, ".md"), strings.HasSuffix(output, ".txt"):
				return writeReportFile(output, func(w io.Writer) error { return renderReport(w, markdownReport, report) })
			default:
				return fmt.Errorf("unknown output %q: use console, json, or a .json/.md file", output)
			}
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "audit database driver: sqlite3 or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "", "audit database DSN")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only entries of this session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "max entries")
	cmd.Flags().StringVarP(&output, "output", "o", "console", "console, json, or a file path")
	return cmd
}

func buildAuditReport(entries []audit.AuditEntry, sessionID string, now time.Time) *AuditReport {
	if entries == nil {
		entries = []audit.AuditEntry{}
	}
	report := &AuditReport{GeneratedAt: now, SessionID: sessionID, Entries: entries}

	ops := make(map[string]*OpCount)
	sessions := make(map[string]bool)
	for _, e := range entries {
		oc, ok := ops[e.Operation]
		if !ok {
			oc = &OpCount{Operation: e.Operation}
			ops[e.Operation] = oc
		}
		oc.Count++
		if e.Error != "" {
			oc.Errors++
			report.Summary.Errors++
		}
		sessions[e.SessionID] = true

		if report.Summary.FirstRecord.IsZero() || e.Timestamp.Before(report.Summary.FirstRecord) {
			report.Summary.FirstRecord = e.Timestamp
		}
		if e.Timestamp.After(report.Summary.LastRecord) {
			report.Summary.LastRecord = e.Timestamp
		}
	}

	report.Summary.Total = len(entries)
	report.Summary.Sessions = len(sessions)
	for _, oc := range ops {
		report.Summary.Operations = append(report.Summary.Operations, *oc)
	}
	sort.Slice(report.Summary.Operations, func(i, j int) bool {
		oi, oj := report.Summary.Operations[i], report.Summary.Operations[j]
		if oi.Count != oj.Count {
			return oi.Count > oj.Count
		}
		return oi.Operation < oj.Operation
	})
	return report
}

func renderReport(w io.Writer, tmpl string, report *AuditReport) error {
	t, err := template.New("report").Parse(tmpl)
	if err != nil {
		return err
	}
	return t.Execute(w, report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReportFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
