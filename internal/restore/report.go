package restore

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/unok/history-restore/internal/history"
)

const timeLayout = "2006-01-02 15:04:05"

// Report is the outcome of one Plan or Run.
type Report struct {
	RunID       string
	HistoryDir  string
	ProjectRoot string
	DryRun      bool

	Scanned int
	Skipped map[history.SkipReason]int
	Dropped map[DropReason]int

	Matches []Match
	Items   []Item

	Restored   int
	Failed     int
	Unresolved int
}

func newReport(historyDir, projectRoot string) *Report {
	return &Report{
		HistoryDir:  historyDir,
		ProjectRoot: projectRoot,
		Skipped:     make(map[history.SkipReason]int),
		Dropped:     make(map[DropReason]int),
	}
}

func (r *Report) tally() {
	r.Restored, r.Failed, r.Unresolved = 0, 0, 0
	for _, it := range r.Items {
		switch it.Status {
		case StatusRestored:
			r.Restored++
		case StatusFailed:
			r.Failed++
		case StatusUnresolved:
			r.Unresolved++
		}
	}
}

// Groups returns the number of distinct original files matched.
func (r *Report) Groups() int {
	return len(r.Items)
}

// Summary returns the one-line result.
func (r *Report) Summary() string {
	if r.DryRun {
		planned := r.Groups() - r.Unresolved
		return fmt.Sprintf("%d file(s) would be restored out of %d group(s)", planned, r.Groups())
	}
	return fmt.Sprintf("%d file(s) restored out of %d group(s)", r.Restored, r.Groups())
}

// Print writes a human-readable progress report.
func (r *Report) Print(w io.Writer) {
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "history: %s\n", r.HistoryDir)
	fmt.Fprintf(w, "project: %s\n", r.ProjectRoot)
	fmt.Fprintf(w, "scanned %d history director(ies)\n", r.Scanned)
	if line := formatCounts(r.Skipped); line != "" {
		fmt.Fprintf(w, "skipped: %s\n", line)
	}
	if line := formatCounts(r.Dropped); line != "" {
		fmt.Fprintf(w, "dropped: %s\n", line)
	}
	fmt.Fprintf(w, "matched %d snapshot(s) in %d group(s)\n", len(r.Matches), r.Groups())

	if len(r.Matches) > 0 {
		byHour := make(map[int]int)
		byDate := make(map[string]int)
		for _, m := range r.Matches {
			byHour[m.GroupTime.Hour()]++
			byDate[m.GroupTime.Format("2006-01-02")]++
		}

		hours := make([]int, 0, len(byHour))
		for h := range byHour {
			hours = append(hours, h)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(hours)))
		fmt.Fprintln(w, "\nby hour:")
		for _, h := range hours {
			fmt.Fprintf(w, "  %02dh: %d\n", h, byHour[h])
		}

		dates := make([]string, 0, len(byDate))
		for d := range byDate {
			dates = append(dates, d)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(dates)))
		fmt.Fprintln(w, "by date:")
		for _, d := range dates {
			fmt.Fprintf(w, "  %s: %d\n", d, byDate[d])
		}
	}

	fmt.Fprintln(w, strings.Repeat("-", 70))
	for _, it := range r.Items {
		fmt.Fprintf(w, "\n[file] %s\n", r.displayPath(it))
		fmt.Fprintf(w, "   history time: %s\n", it.GroupTime.Format(timeLayout))
		fmt.Fprintf(w, "   history file: %s (%d version(s))\n", filepath.Base(it.Snapshot), it.Versions)
		if it.Err != nil {
			fmt.Fprintf(w, "   [%s] %v\n", it.Status, it.Err)
		} else {
			fmt.Fprintf(w, "   [%s]\n", it.Status)
		}
	}

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, r.Summary())
	if r.Failed > 0 || r.Unresolved > 0 {
		fmt.Fprintf(w, "%d failed, %d unresolved\n", r.Failed, r.Unresolved)
	}
}

func (r *Report) displayPath(it Item) string {
	if it.Dest == "" {
		return it.OriginalPath
	}
	if rel, err := filepath.Rel(r.ProjectRoot, it.Dest); err == nil {
		return rel
	}
	return it.Dest
}

func formatCounts[K ~string](counts map[K]int) string {
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[K(k)])
	}
	return strings.Join(parts, " ")
}
