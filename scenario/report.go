package scenario

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/gatts-table/util"
)

// PrintReport writes the event log and assertion results.
func (r *Runner) PrintReport(w io.Writer) {
	fmt.Fprintln(w, "\n=== Scenario Report ===")
	fmt.Fprintf(w, "Name: %s\n", r.scenario.Name)
	fmt.Fprintf(w, "Description: %s\n", r.scenario.Description)
	fmt.Fprintf(w, "Duration: %v\n", r.scenario.Duration())

	fmt.Fprintln(w, "\n--- Event Log ---")
	for _, entry := range r.EventLog() {
		status := ""
		if entry.Err != nil {
			status = fmt.Sprintf(" ❌ %v", entry.Err)
		}
		fmt.Fprintf(w, "[%dms] [%s] %s: %s%s\n", entry.TimeMs, entry.Device, entry.Action, entry.Message, status)
	}

	fmt.Fprintln(w, "\n--- Assertion Results ---")
	passed := 0
	r.mu.Lock()
	results := append([]AssertionResult(nil), r.results...)
	r.mu.Unlock()
	for _, res := range results {
		status := "❌ FAIL"
		if res.Passed {
			status = "✅ PASS"
			passed++
		}
		fmt.Fprintf(w, "%s - %s: %s\n", status, res.Assertion.Type, res.Message)
	}
	fmt.Fprintf(w, "\nTotal: %d/%d assertions passed\n", passed, len(results))
}

// WriteReport writes a markdown report under the peripheral's cache dir and
// returns its path.
func (r *Runner) WriteReport() (string, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	dir := util.GetDeviceCacheDir(r.scenario.Peripheral.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("scenario_report_%s.md", timestamp))
	if err := os.WriteFile(path, []byte(r.markdown(timestamp)), 0644); err != nil {
		return "", fmt.Errorf("error writing report: %w", err)
	}
	return path, nil
}

func (r *Runner) markdown(timestamp string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Scenario Report: %s\n\n", r.scenario.Name))
	sb.WriteString(fmt.Sprintf("Run at %s against `%s`.\n\n", timestamp, r.scenario.Peripheral.ID))
	if r.scenario.Description != "" {
		sb.WriteString(r.scenario.Description + "\n\n")
	}

	sb.WriteString("## Timeline\n\n")
	sb.WriteString("| Time | Device | Action | Detail | Result |\n")
	sb.WriteString("|------|--------|--------|--------|--------|\n")
	for _, e := range r.EventLog() {
		result := "✅"
		if e.Err != nil {
			result = "❌ " + e.Err.Error()
		}
		sb.WriteString(fmt.Sprintf("| %dms | %s | %s | %s | %s |\n", e.TimeMs, e.Device, e.Action, e.Message, result))
	}
	sb.WriteString("\n")

	r.mu.Lock()
	results := append([]AssertionResult(nil), r.results...)
	r.mu.Unlock()

	var failed []AssertionResult
	sb.WriteString("## Assertions\n\n")
	for _, res := range results {
		mark := "✅"
		if !res.Passed {
			mark = "❌"
			failed = append(failed, res)
		}
		sb.WriteString(fmt.Sprintf("- %s **%s** %s\n", mark, res.Assertion.Type, res.Message))
	}
	sb.WriteString("\n")

	if len(failed) == 0 {
		sb.WriteString("## ✅ All Assertions Passed!\n\n")
	} else {
		sb.WriteString("## Failures\n\n")
		for i, res := range failed {
			sb.WriteString(fmt.Sprintf("%d. %s: %s\n", i+1, res.Assertion.Type, res.Message))
			if res.Assertion.Comment != "" {
				sb.WriteString(fmt.Sprintf("   - %s\n", res.Assertion.Comment))
			}
		}
		sb.WriteString("\n")
	}

	session := r.app.Session()
	sb.WriteString("## Server State\n\n")
	sb.WriteString(fmt.Sprintf("- **State:** %s\n", session.State()))
	sb.WriteString(fmt.Sprintf("- **Advertising:** %v\n", session.Advertising()))
	sb.WriteString(fmt.Sprintf("- **MTU:** %d\n", session.MTU()))
	sb.WriteString(fmt.Sprintf("- **Last committed:** %d bytes\n", len(session.LastCommitted())))
	return sb.String()
}
