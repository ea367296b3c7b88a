// Package viz renders console summaries of keystoneness runs.
//
// Styles use lipgloss and trajectory previews use asciigraph:
//
//   - [Summary]: a bordered key/value panel for run settings and diagnostics
//   - [Ranking]: the top knockout sets with their effect sizes
//   - [Trajectory]: a log10 plot of one taxon over a simulation
package viz
