package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"watchtower/core"
	"watchtower/service"

	"github.com/fatih/color"
)

// renderRulesTable displays rules in a formatted table
func renderRulesTable(rules []core.CorrelationRule) {
	if len(rules) == 0 {
		warningColor.Println("No correlation rules configured")
		return
	}

	headerColor.Println("CORRELATION RULES")
	headerColor.Println(strings.Repeat("=", 110))
	fmt.Printf("%-10s %-30s %-9s %-10s %-10s %-10s %-25s\n",
		"ID", "Name", "Enabled", "Threshold", "Window", "Severity", "Alert Type")
	fmt.Println(strings.Repeat("-", 110))

	for _, r := range rules {
		fmt.Printf("%-10s %-30s %-9s %-10d %-10s %-10s %-25s\n",
			shortID(r.ID), truncate(r.Name, 29), formatEnabledPlain(r.Enabled), r.Threshold,
			r.Window().String(), r.ProducedSeverity, truncate(r.ProducedAlertType, 24))
	}

	fmt.Println(strings.Repeat("=", 110))
}

// renderRuleDetails displays a single rule
func renderRuleDetails(r *core.CorrelationRule) {
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	headerColor.Printf("  Rule: %s\n", r.Name)
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	printSection("Definition")
	printField("ID", r.ID)
	printField("Name", r.Name)
	printField("Description", r.Description)
	printField("Enabled", formatBool(r.Enabled))
	printField("Threshold", fmt.Sprintf("%d", r.Threshold))
	printField("Window", r.Window().String())
	printField("Produced Severity", string(r.ProducedSeverity))
	printField("Produced Alert Type", r.ProducedAlertType)
	fmt.Println()

	printSection("Predicate")
	types := make([]string, len(r.Predicate.EventTypes))
	for i, t := range r.Predicate.EventTypes {
		types[i] = string(t)
	}
	printField("Event Types", strings.Join(types, ", "))
	printField("Min Severity", string(r.Predicate.MinSeverity))
	printField("Group By", strings.Join(r.Predicate.GroupBy, ", "))
	fields := make([]string, 0, len(r.Predicate.FieldPatterns))
	for f := range r.Predicate.FieldPatterns {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		printField("Pattern "+f, r.Predicate.FieldPatterns[f])
	}
	fmt.Println()

	printSection("Timestamps")
	printField("Created", formatTime(r.CreatedAt))
	printField("Updated", formatTime(r.UpdatedAt))
}

// renderImportResult summarises an import
func renderImportResult(res *service.ImportResult) {
	if quiet {
		return
	}
	for _, id := range res.Created {
		successColor.Printf("✓ Created rule %s\n", id)
	}
	for _, id := range res.Updated {
		successColor.Printf("✓ Updated rule %s\n", id)
	}
	for _, f := range res.Failed {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("#%d", f.Index)
		}
		errorColor.Printf("✗ Failed to import rule %s: %s\n", name, f.Error)
	}
	fmt.Printf("\nCreated %d, updated %d, failed %d\n", len(res.Created), len(res.Updated), len(res.Failed))
}

// printSection prints a section header
func printSection(title string) {
	headerColor.Printf("  %s\n", title)
	headerColor.Println("  " + strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Printf("  %-25s %s\n", key+":", value)
}

func formatEnabledPlain(enabled bool) string {
	if enabled {
		return "Yes"
	}
	return "No"
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
