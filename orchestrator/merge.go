package orchestrator

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hupe1980/toolmesh/supervisor"
)

// DefaultSentinel renders absent fields.
const DefaultSentinel = "N/A"

// ColumnWorker is the pseudo key rendering the contributing worker's name.
const ColumnWorker = "_worker"

// Column is one column of the fixed report schema. Reference columns are
// resolved against the session's produced artifacts.
type Column struct {
	Key       string
	Header    string
	Reference bool
}

func (c Column) title() string {
	if c.Header != "" {
		return c.Header
	}
	if c.Key == ColumnWorker {
		return "worker"
	}
	return c.Key
}

// Row is one merged row; Values align with Report.Columns.
type Row struct {
	Worker string
	Values []string
}

// FailureMarker records a worker that contributed no rows.
type FailureMarker struct {
	Worker string
	Reason string
}

// Contribution summarizes one planned worker.
type Contribution struct {
	Worker   string
	Outcome  supervisor.Outcome
	Attempts int
	Declared int
	Rows     int
}

// Report is the merged result of one orchestration run.
type Report struct {
	RunID         string
	SessionID     string
	Request       string
	Columns       []Column
	Rows          []Row
	Failures      []FailureMarker
	Contributions []Contribution
	// ReRendered is set when a row count mismatch forced a second render.
	ReRendered bool
}

// ExpectedRows is the sum of declared counts of accepted workers.
func (r *Report) ExpectedRows() int {
	total := 0
	for _, c := range r.Contributions {
		if c.Outcome == supervisor.OutcomeAccepted {
			total += c.Declared
		}
	}
	return total
}

// Consistent reports whether every accepted worker contributed exactly its
// declared count and the merged row count equals ExpectedRows.
func (r *Report) Consistent() bool {
	for _, c := range r.Contributions {
		if c.Outcome == supervisor.OutcomeAccepted && c.Rows != c.Declared {
			return false
		}
	}
	return len(r.Rows) == r.ExpectedRows()
}

// Contribution returns the contribution of the named worker.
func (r *Report) Contribution(worker string) (Contribution, bool) {
	for _, c := range r.Contributions {
		if c.Worker == worker {
			return c, true
		}
	}
	return Contribution{}, false
}

// Table renders the report as a plain text table followed by one line per
// failed worker.
func (r *Report) Table() string {
	headers := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		headers[i] = c.title()
	}
	t := table.New().Border(lipgloss.NormalBorder()).Headers(headers...)
	for _, row := range r.Rows {
		t.Row(row.Values...)
	}

	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d rows from %d workers\n", len(r.Rows), len(r.Contributions)-len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "worker %s failed and contributed 0 results: %s\n", f.Worker, f.Reason)
	}
	return b.String()
}

// workerResult is the per-worker input of the merge step.
type workerResult struct {
	worker   string
	result   supervisor.Result
	declared int
	records  []map[string]any
	reason   string
}

func (w workerResult) accepted() bool { return w.result.Outcome == supervisor.OutcomeAccepted }

type merger struct {
	columns  []Column
	sentinel string
	resolve  func(ref string) string
}

// render merges results in plan order. With demote set, accepted workers
// whose records disagree with their declared count are demoted to failed.
func (m merger) render(results []workerResult, demote bool) *Report {
	columns := m.columns
	if len(columns) == 0 {
		columns = deriveColumns(results)
	}
	report := &Report{Columns: columns}

	for _, res := range results {
		contrib := Contribution{Worker: res.worker, Outcome: res.result.Outcome, Attempts: res.result.Attempts}

		if !res.accepted() {
			report.Failures = append(report.Failures, FailureMarker{Worker: res.worker, Reason: res.reason})
			contrib.Outcome = supervisor.OutcomeFailed
			report.Contributions = append(report.Contributions, contrib)
			continue
		}
		if demote && len(res.records) != res.declared {
			report.Failures = append(report.Failures, FailureMarker{
				Worker: res.worker,
				Reason: fmt.Sprintf("declared %d results but returned %d", res.declared, len(res.records)),
			})
			contrib.Outcome = supervisor.OutcomeFailed
			report.Contributions = append(report.Contributions, contrib)
			continue
		}

		for _, rec := range res.records {
			report.Rows = append(report.Rows, Row{Worker: res.worker, Values: m.renderRow(columns, res.worker, rec)})
		}
		contrib.Declared = res.declared
		contrib.Rows = len(res.records)
		report.Contributions = append(report.Contributions, contrib)
	}
	return report
}

func (m merger) renderRow(columns []Column, worker string, rec map[string]any) []string {
	values := make([]string, len(columns))
	for i, col := range columns {
		if col.Key == ColumnWorker {
			values[i] = worker
			continue
		}
		cell := formatCell(rec[col.Key], m.sentinel)
		if col.Reference && cell != m.sentinel && m.resolve != nil {
			cell = m.resolve(cell)
		}
		values[i] = cell
	}
	return values
}

func deriveColumns(results []workerResult) []Column {
	keys := map[string]bool{}
	for _, res := range results {
		if !res.accepted() {
			continue
		}
		for _, rec := range res.records {
			for k := range rec {
				keys[k] = true
			}
		}
	}
	columns := []Column{{Key: ColumnWorker}}
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		columns = append(columns, Column{Key: k})
	}
	return columns
}

func formatCell(v any, sentinel string) string {
	switch val := v.(type) {
	case nil:
		return sentinel
	case string:
		if strings.TrimSpace(val) == "" {
			return sentinel
		}
		return val
	case bool:
		return fmt.Sprint(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprint(val)
	case int, int32, int64:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// recordsOf converts a detail collection into row records.
func recordsOf(v any) []map[string]any {
	switch items := v.(type) {
	case []map[string]any:
		return items
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if rec, ok := item.(map[string]any); ok {
				out = append(out, rec)
			} else {
				out = append(out, map[string]any{"value": item})
			}
		}
		return out
	default:
		return nil
	}
}
