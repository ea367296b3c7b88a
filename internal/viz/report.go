package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/keystone/internal/metrics"
	"github.com/san-kum/keystone/internal/ranking"
)

type Field struct {
	Label string
	Value string
}

func F(label string, format string, args ...any) Field {
	return Field{Label: label, Value: fmt.Sprintf(format, args...)}
}

// Summary renders fields under a title inside a bordered panel.
func Summary(title string, fields []Field) string {
	rows := make([]string, 0, len(fields)+1)
	rows = append(rows, HeaderStyle.Render(title))
	for _, f := range fields {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			MetricLabel.Render(f.Label),
			MetricValue.Render(f.Value)))
	}
	return Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// Diagnostics describes how many trajectories hit the clamps.
func Diagnostics(s metrics.Summary) []Field {
	fields := []Field{F("trajectories", "%d", s.Runs)}
	if s.Runs == 0 {
		return fields
	}
	sat := float64(s.Saturated) / float64(s.Runs)
	flo := float64(s.Floored) / float64(s.Runs)
	return append(fields,
		Field{"saturated", Bar(sat, 20) + " " + count(s.Saturated) + share(s.CeilingShare)},
		Field{"floored", Bar(flo, 20) + " " + count(s.Floored) + share(s.FloorShare)},
	)
}

// share describes the fraction of steps spent at a bound.
func share(f float64) string {
	if f == 0 {
		return ""
	}
	return Subtle.Render(fmt.Sprintf(" (%.0f%% of steps)", 100*f))
}

func count(n int) string {
	if n > 0 {
		return Warning.Render(fmt.Sprint(n))
	}
	return fmt.Sprint(n)
}

// Ranking lists the n strongest knockout sets. Bars are relative to the
// strongest effect.
func Ranking(res ranking.Result, n int) string {
	if n <= 0 || n > len(res.Entries) {
		n = len(res.Entries)
	}
	if n == 0 {
		return Subtle.Render("no knockout sets")
	}
	top := res.Entries[0].Effect

	var b strings.Builder
	b.WriteString(Title.Render("keystoneness"))
	b.WriteString("\n")
	for i, e := range res.Entries[:n] {
		frac := 0.0
		if top > 0 {
			frac = e.Effect / top
		}
		fmt.Fprintf(&b, "%3d. %-24s %s %s\n", i+1, truncate(e.Set.Key(), 24), Bar(frac, 20), MetricValue.Render(fmt.Sprintf("%.4E", e.Effect)))
	}
	if !math.IsNaN(res.Spearman) {
		b.WriteString(Subtle.Render(fmt.Sprintf("spearman vs input order: %.3f", res.Spearman)))
		b.WriteString("\n")
	}
	return b.String()
}

// Trajectory plots log10 abundance against time.
func Trajectory(values []float64, caption string) string {
	if len(values) == 0 {
		return Subtle.Render("empty trajectory")
	}
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = math.Log10(v)
	}
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
	)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
