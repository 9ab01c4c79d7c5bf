package components

import (
	"strings"
	"testing"

	"github.com/autisense/autisense/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

func TestLayoutRow(t *testing.T) {
	widths := LayoutRow(80, 3)
	if len(widths) != 3 {
		t.Fatalf("len = %d, want 3", len(widths))
	}
	sum := 0
	for _, w := range widths {
		sum += w
	}
	if sum != 80 {
		t.Fatalf("widths %v sum to %d, want 80", widths, sum)
	}
	if widths[0] != 27 || widths[2] != 26 {
		t.Errorf("widths = %v, want remainder on the first items", widths)
	}
	if LayoutRow(10, 0) != nil {
		t.Error("LayoutRow(_, 0) should be nil")
	}
}

func TestMetricCardRowWidth(t *testing.T) {
	theme.SetActive("flexoki-dark")

	row := MetricCardRow([]Metric{
		{Label: "Queue", Value: "3"},
		{Label: "Exhausted", Value: "1", Alert: true},
		{Label: "Online", Value: "yes", Note: "probe 15s"},
	}, 90)

	lines := strings.Split(row, "\n")
	if len(lines) < 4 {
		t.Fatalf("row has %d lines, want bordered cards", len(lines))
	}
	for i, line := range lines {
		if w := lipgloss.Width(line); w != 90 {
			t.Errorf("line %d width = %d, want 90", i, w)
		}
	}
}

func TestRenderStatusBarWidth(t *testing.T) {
	bar := RenderStatusBar(60, "[q]uit", "online")
	if w := lipgloss.Width(bar); w != 60 {
		t.Fatalf("width = %d, want 60", w)
	}
	if !strings.Contains(bar, "online") {
		t.Error("status text missing")
	}
}
