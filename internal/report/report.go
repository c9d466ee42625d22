// Package report renders comparison results and aggregate metrics as plain
// text. Rendering does no I/O.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/snarg/stt-compare/internal/analysis"
	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/transcribe"
)

// FileName is the name of the aggregate report written next to the results.
const FileName = "comparison_report.txt"

// RenderMetrics renders the aggregate comparison report.
func RenderMetrics(m analysis.Metrics, generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString("STT Services Comparison Report\n")
	fmt.Fprintf(&b, "Generated on: %s\n\n", generatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total Files Tested: %d\n\n", m.TotalFiles)

	b.WriteString("Success Rate:\n")
	for _, p := range m.Providers {
		fmt.Fprintf(&b, "- %s: %d/%d (%.1f%%)\n", p.Provider.DisplayName(), p.SuccessCount, p.TotalCount, p.SuccessRate()*100)
	}

	b.WriteString("\nAverage Processing Time:\n")
	for _, p := range m.Providers {
		fmt.Fprintf(&b, "- %s: %.2f seconds\n", p.Provider.DisplayName(), p.MeanProcessingTime)
	}

	b.WriteString("\nAverage Confidence Score:\n")
	for _, p := range m.Providers {
		fmt.Fprintf(&b, "- %s: %.2f\n", p.Provider.DisplayName(), p.MeanConfidence)
	}

	b.WriteString("\nRecommendation:\n")
	if best, ok := m.MostReliable(); ok {
		fmt.Fprintf(&b, "%s shows the best reliability with highest success rate.\n", best.Provider.DisplayName())
	} else {
		b.WriteString("No results available to rank reliability.\n")
	}
	if fastest, ok := m.Fastest(); ok {
		fmt.Fprintf(&b, "%s processes files the fastest.\n", fastest.Provider.DisplayName())
	} else {
		b.WriteString("No provider completed a transcription, so no speed ranking is possible.\n")
	}
	return b.String()
}

// RenderResult renders a single comparison, one section per provider. order
// controls section order; nil means the built-in display order.
func RenderResult(r *compare.ComparisonResult, order []transcribe.ProviderID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Comparison: %s (%s)\n", r.AudioName, humanize.Bytes(uint64(max(r.FileSize, 0))))
	if r.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", r.RunID)
	}
	if !r.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Timestamp: %s\n", r.Timestamp.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Providers succeeded: %d/%d\n", r.SuccessCount(), len(r.Outcomes))

	for _, o := range r.Ordered(order) {
		fmt.Fprintf(&b, "\n%s\n", o.Provider.DisplayName())
		if !o.Succeeded {
			b.WriteString("  Status: Failed\n")
			fmt.Fprintf(&b, "  Error: %s\n", o.Error)
			continue
		}
		b.WriteString("  Status: Success\n")
		fmt.Fprintf(&b, "  Processing Time: %.2f seconds\n", o.ProcessingTime)
		fmt.Fprintf(&b, "  Confidence: %.1f%%\n", o.Confidence*100)
		text := o.Transcript
		if text == "" {
			text = "(empty)"
		}
		fmt.Fprintf(&b, "  Transcript: %s\n", text)
	}
	return b.String()
}

// Preview shortens a transcript for log lines.
func Preview(text string, n int) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
