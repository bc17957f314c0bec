package ui

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/ledger"
)

var styleBorder = lipgloss.NewStyle().Foreground(colorMuted)

// Ledger prints the processed-state ledger and, when runs is non-empty, the
// most recent archived runs.
func (p *Printer) Ledger(st ledger.State, runs []archive.RunSummary, loc *time.Location) {
	stats := st.LastStatsUpdate
	if stats == "" {
		stats = styleMuted.Render("never")
	}
	p.field("stats", stats)

	type row struct {
		slug string
		e    ledger.Entry
	}
	rows := make([]row, 0, len(st.ProcessedContests))
	for slug, e := range st.ProcessedContests {
		rows = append(rows, row{slug, e})
	}
	slices.SortFunc(rows, func(a, b row) int {
		if c := cmp.Compare(b.e.ProcessedAt, a.e.ProcessedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.slug, b.slug)
	})

	if len(rows) == 0 {
		p.Info("no contests processed yet")
	} else {
		t := newTable("CONTEST", "PROCESSED")
		for _, r := range rows {
			t.Row(r.slug, time.Unix(r.e.ProcessedAt, 0).In(loc).Format("2006-01-02 15:04 MST"))
		}
		fmt.Fprintln(p.out, t.Render())
	}

	if len(runs) == 0 {
		return
	}
	t := newTable("RUN", "CONTEST", "AT", "RESULTS", "FALLBACKS")
	for _, r := range runs {
		t.Row(shortID(r.RunID), r.ContestSlug, r.ProcessedAt.In(loc).Format("2006-01-02 15:04"),
			fmt.Sprint(r.Results), fmt.Sprint(r.Fallbacks))
	}
	fmt.Fprintln(p.out, t.Render())
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeading.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortedKeys(m map[int]int) []int {
	return slices.Sorted(maps.Keys(m))
}
