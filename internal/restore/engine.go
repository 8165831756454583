package restore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/unok/history-restore/internal/history"
)

// Options configures an Engine.
type Options struct {
	HistoryDir   string
	MetadataFile string
	ProjectRoot  string
	// SourceRoot is the absolute root the decoded paths were recorded under.
	// Defaults to ProjectRoot.
	SourceRoot string
	Filter     Filter
	Fallback   Fallback
}

// DropReason explains why a parsed record was not matched.
type DropReason string

const (
	DropUnrecognizedURI DropReason = "unrecognized-uri"
	DropOutsideWindow   DropReason = "outside-window"
	DropPathMismatch    DropReason = "path-mismatch"
	DropNoEntries       DropReason = "no-entries"
	DropNoSnapshot      DropReason = "no-snapshot"
)

// Status is the terminal classification of one restore group.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusRestored   Status = "restored"
	StatusFailed     Status = "failed"
	StatusUnresolved Status = "unresolved"
)

// Match is a history directory whose record passed filtering, paired with
// the snapshot file chosen for its latest entry.
type Match struct {
	HistoryDir   string
	OriginalPath string
	Snapshot     string
	GroupTime    time.Time
	Entry        history.Entry
}

// Item is the winning Match of one restore group and what happened to it.
type Item struct {
	Match
	Versions int
	Dest     string
	Fallback bool
	Status   Status
	Err      error
	Size     int64
	Hash     string
}

// Recorder persists restore outcomes. Failures are logged, never fatal.
type Recorder interface {
	BeginRun(historyDir, projectRoot string) (string, error)
	RecordItem(runID string, item Item, content []byte) error
	FinishRun(runID string, report *Report) error
}

// Engine scans a history store and restores the newest snapshot of every
// matching file into the project tree. It is not safe for concurrent use.
type Engine struct {
	opts     Options
	scanner  *history.Scanner
	recorder Recorder
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.SourceRoot == "" {
		opts.SourceRoot = opts.ProjectRoot
	}
	if opts.MetadataFile == "" {
		opts.MetadataFile = history.DefaultMetadataFile
	}
	return &Engine{
		opts:    opts,
		scanner: history.NewScanner(opts.HistoryDir, opts.MetadataFile),
	}
}

// SetRecorder sets where restore outcomes are journaled.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// Plan scans, filters and selects without writing anything. Every resolvable
// item is returned with StatusPlanned.
func (e *Engine) Plan() (*Report, error) {
	report := newReport(e.opts.HistoryDir, e.opts.ProjectRoot)
	report.DryRun = true

	matches, err := e.collect(report)
	if err != nil {
		return nil, err
	}
	report.Matches = matches
	report.Items = e.selectLatest(matches)
	report.tally()
	return report, nil
}

// Run plans and then restores every resolvable item. A failing item does not
// stop the others; only a missing history root returns an error.
func (e *Engine) Run() (*Report, error) {
	report, err := e.Plan()
	if err != nil {
		return nil, err
	}
	report.DryRun = false

	if e.recorder != nil {
		runID, err := e.recorder.BeginRun(e.opts.HistoryDir, e.opts.ProjectRoot)
		if err != nil {
			log.Printf("journal: failed to begin run: %v", err)
		} else {
			report.RunID = runID
		}
	}

	for i := range report.Items {
		item := &report.Items[i]
		if item.Status != StatusPlanned {
			e.record(report.RunID, *item, nil)
			continue
		}
		content, err := copySnapshot(item.Snapshot, item.Dest, item.GroupTime)
		if err != nil {
			item.Status = StatusFailed
			item.Err = err
		} else {
			item.Status = StatusRestored
			item.Size = int64(len(content))
			item.Hash = sha256sum(content)
		}
		e.record(report.RunID, *item, content)
	}
	report.tally()

	if e.recorder != nil && report.RunID != "" {
		if err := e.recorder.FinishRun(report.RunID, report); err != nil {
			log.Printf("journal: failed to finish run %s: %v", report.RunID, err)
		}
	}
	return report, nil
}

func (e *Engine) record(runID string, item Item, content []byte) {
	if e.recorder == nil || runID == "" {
		return
	}
	if err := e.recorder.RecordItem(runID, item, content); err != nil {
		log.Printf("journal: failed to record %s: %v", item.OriginalPath, err)
	}
}

// collect turns scan results into matches, counting every skip and drop.
func (e *Engine) collect(report *Report) ([]Match, error) {
	results, err := e.scanner.Scan()
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, res := range results {
		report.Scanned++
		if res.Skipped() {
			report.Skipped[res.Skip]++
			if res.Err != nil {
				log.Printf("scan: skipping %s: %v", res.Dir, res.Err)
			}
			continue
		}

		m, reason, err := e.match(res.Record)
		if err != nil {
			log.Printf("scan: skipping %s: %v", res.Dir, err)
		}
		if reason != "" {
			report.Dropped[reason]++
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (e *Engine) match(rec *history.Record) (Match, DropReason, error) {
	if !e.opts.Filter.Window.Contains(rec.ModTime) {
		return Match{}, DropOutsideWindow, nil
	}
	decoded, ok := history.DecodeURI(rec.Resource)
	if !ok {
		return Match{}, DropUnrecognizedURI, nil
	}
	if !e.opts.Filter.MatchPath(decoded) {
		return Match{}, DropPathMismatch, nil
	}
	latest, ok := rec.Latest()
	if !ok {
		return Match{}, DropNoEntries, nil
	}
	snapshot, err := history.FindSnapshot(rec.Dir, latest.ID, e.opts.MetadataFile)
	if err != nil {
		return Match{}, DropNoSnapshot, err
	}
	if snapshot == "" {
		return Match{}, DropNoSnapshot, nil
	}
	return Match{
		HistoryDir:   rec.Dir,
		OriginalPath: decoded,
		Snapshot:     snapshot,
		GroupTime:    rec.ModTime,
		Entry:        latest,
	}, "", nil
}

// selectLatest groups matches by original path and keeps the one with the
// newest group time. Matches arrive in history directory name order, and on
// equal times the first one seen wins. The result is ordered newest first.
func (e *Engine) selectLatest(matches []Match) []Item {
	index := make(map[string]int)
	var items []Item
	for _, m := range matches {
		i, ok := index[m.OriginalPath]
		if !ok {
			index[m.OriginalPath] = len(items)
			items = append(items, Item{Match: m, Versions: 1})
			continue
		}
		items[i].Versions++
		if m.GroupTime.After(items[i].GroupTime) {
			items[i].Match = m
		}
	}

	for i := range items {
		dest, fallback, err := resolveDest(e.opts.ProjectRoot, e.opts.SourceRoot, items[i].OriginalPath, e.opts.Fallback)
		items[i].Dest = dest
		items[i].Fallback = fallback
		if err != nil {
			items[i].Status = StatusUnresolved
			items[i].Err = err
			continue
		}
		items[i].Status = StatusPlanned
	}

	sort.SliceStable(items, func(a, b int) bool {
		if !items[a].GroupTime.Equal(items[b].GroupTime) {
			return items[a].GroupTime.After(items[b].GroupTime)
		}
		return items[a].OriginalPath < items[b].OriginalPath
	})
	return items
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer for log lines.
func (it Item) String() string {
	return fmt.Sprintf("%s -> %s [%s]", it.OriginalPath, it.Dest, it.Status)
}
