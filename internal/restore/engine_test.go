package restore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unok/history-restore/internal/history"
)

var day = time.Date(2025, 11, 8, 0, 0, 0, 0, time.Local)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// addHistory creates a history directory holding one snapshot file and pins
// the directory modification time to mtime.
func addHistory(t *testing.T, root, name, resource, entryID, content string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	meta := `{"version":1,"resource":"` + resource + `","entries":[{"id":"old.ts","timestamp":1},{"id":"` + entryID + `","timestamp":2}]}`
	if err := os.WriteFile(filepath.Join(dir, history.DefaultMetadataFile), []byte(meta), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, entryID), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(dir, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestEngine(t *testing.T, historyDir, projectRoot string, filter Filter) *Engine {
	t.Helper()
	return New(Options{
		HistoryDir:  historyDir,
		ProjectRoot: projectRoot,
		SourceRoot:  `C:\proj`,
		Filter:      filter,
		Fallback:    Fallback{Anchor: "src", Dir: "src"},
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestRun_EndToEnd(t *testing.T) {
	historyDir := t.TempDir()
	project := filepath.Join(t.TempDir(), "proj")
	addHistory(t, historyDir, "h1", "file:///C:/proj/src/a.ts", "A1.ts", "a at 10", at(10, 0))
	addHistory(t, historyDir, "h2", "file:///C:/proj/src/a.ts", "A2.ts", "a at 11", at(11, 0))
	addHistory(t, historyDir, "h3", "file:///C:/proj/src/b.css", "B1.css", "b at 9", at(9, 0))

	e := newTestEngine(t, historyDir, project, Filter{
		Window: Window{Start: at(9, 30), End: at(12, 0), StartInclusive: true},
	})
	report, err := e.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got, want := report.Summary(), "1 file(s) restored out of 1 group(s)"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
	if report.Dropped[DropOutsideWindow] != 1 {
		t.Errorf("Dropped[outside-window] = %d, want 1", report.Dropped[DropOutsideWindow])
	}

	dest := filepath.Join(project, "src", "a.ts")
	if got := readFile(t, dest); got != "a at 11" {
		t.Errorf("restored content = %q, want %q", got, "a at 11")
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(at(11, 0)) {
		t.Errorf("restored mtime = %v, want %v", info.ModTime(), at(11, 0))
	}
	if _, err := os.Stat(filepath.Join(project, "src", "b.css")); !os.IsNotExist(err) {
		t.Errorf("b.css should not be restored, stat err = %v", err)
	}

	item := report.Items[0]
	if item.Versions != 2 {
		t.Errorf("Versions = %d, want 2", item.Versions)
	}
	if item.Hash == "" || item.Size != int64(len("a at 11")) {
		t.Errorf("Hash/Size not set: %+v", item)
	}
}

func TestRun_Idempotent(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///C:/proj/src/a.ts", "A1.ts", "first", at(10, 0))
	addHistory(t, historyDir, "h2", "file:///C:/proj/src/a.ts", "A2.ts", "second", at(11, 0))

	e := newTestEngine(t, historyDir, project, Filter{})
	dest := filepath.Join(project, "src", "a.ts")

	if _, err := e.Run(); err != nil {
		t.Fatal(err)
	}
	first := readFile(t, dest)
	info1, _ := os.Stat(dest)

	report, err := e.Run()
	if err != nil {
		t.Fatal(err)
	}
	second := readFile(t, dest)
	info2, _ := os.Stat(dest)

	if first != second || second != "second" {
		t.Errorf("content changed between runs: %q vs %q", first, second)
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Errorf("mtime changed between runs: %v vs %v", info1.ModTime(), info2.ModTime())
	}
	if report.Restored != 1 {
		t.Errorf("second run Restored = %d, want 1", report.Restored)
	}
}

func TestRun_OverwritesExisting(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///C:/proj/index.html", "I1.html", "<p>old work</p>", at(8, 0))

	dest := filepath.Join(project, "index.html")
	if err := os.WriteFile(dest, []byte("broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := newTestEngine(t, historyDir, project, Filter{}).Run(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, dest); got != "<p>old work</p>" {
		t.Errorf("content = %q", got)
	}
}

func TestRun_MissingHistoryRoot(t *testing.T) {
	e := newTestEngine(t, filepath.Join(t.TempDir(), "missing"), t.TempDir(), Filter{})
	_, err := e.Run()
	if !errors.Is(err, history.ErrHistoryRootMissing) {
		t.Fatalf("Run() error = %v, want ErrHistoryRootMissing", err)
	}
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///C:/proj/lib/x.ts", "X1.ts", "x", at(10, 0))
	addHistory(t, historyDir, "h2", "file:///C:/proj/src/a.ts", "A1.ts", "a", at(9, 0))

	// A regular file where a directory is needed makes lib/x.ts fail.
	if err := os.WriteFile(filepath.Join(project, "lib"), []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := newTestEngine(t, historyDir, project, Filter{}).Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Restored != 1 || report.Failed != 1 {
		t.Fatalf("Restored=%d Failed=%d, want 1 and 1", report.Restored, report.Failed)
	}
	if got := readFile(t, filepath.Join(project, "src", "a.ts")); got != "a" {
		t.Errorf("a.ts content = %q", got)
	}
	for _, it := range report.Items {
		if it.Status == StatusFailed && it.Err == nil {
			t.Error("failed item should carry its error")
		}
	}
}

func TestRun_SkipsAndDropsAreCounted(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "good", "file:///C:/proj/src/a.ts", "A1.ts", "a", at(10, 0))
	addHistory(t, historyDir, "remote", "vscode-remote://ssh/home/a.ts", "R1.ts", "r", at(10, 0))
	addHistory(t, historyDir, "other", "file:///C:/elsewhere/z.ts", "Z1.ts", "z", at(10, 0))

	bad := filepath.Join(historyDir, "bad")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bad, history.DefaultMetadataFile), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(historyDir, "empty")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(empty, history.DefaultMetadataFile), []byte(`{"resource":"file:///C:/proj/e.ts","entries":[{"id":"e","timestamp":1}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	noEntries := filepath.Join(historyDir, "noentries")
	if err := os.MkdirAll(noEntries, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(noEntries, history.DefaultMetadataFile), []byte(`{"resource":"file:///C:/proj/n.ts"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := newTestEngine(t, historyDir, project, Filter{Keywords: []string{"proj"}}).Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Scanned != 6 {
		t.Errorf("Scanned = %d, want 6", report.Scanned)
	}
	if report.Skipped[history.SkipMalformed] != 1 {
		t.Errorf("Skipped[malformed] = %d, want 1", report.Skipped[history.SkipMalformed])
	}
	wantDropped := map[DropReason]int{
		DropUnrecognizedURI: 1,
		DropPathMismatch:    1,
		DropNoSnapshot:      1,
		DropNoEntries:       1,
	}
	for reason, n := range wantDropped {
		if report.Dropped[reason] != n {
			t.Errorf("Dropped[%s] = %d, want %d", reason, report.Dropped[reason], n)
		}
	}
	if report.Restored != 1 {
		t.Errorf("Restored = %d, want 1", report.Restored)
	}
}

func TestSelectLatest_NewestGroupTimeWins(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), t.TempDir(), Filter{})
	t1, t2 := at(10, 0), at(11, 0)

	items := e.selectLatest([]Match{
		{OriginalPath: "C:/proj/a.ts", Snapshot: "late", GroupTime: t2},
		{OriginalPath: "C:/proj/a.ts", Snapshot: "early", GroupTime: t1},
		{OriginalPath: "C:/proj/b.ts", Snapshot: "b", GroupTime: t1},
	})

	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].OriginalPath != "C:/proj/a.ts" || items[0].Snapshot != "late" {
		t.Errorf("items[0] = %+v, want a.ts with late snapshot", items[0].Match)
	}
	if items[0].Versions != 2 {
		t.Errorf("Versions = %d, want 2", items[0].Versions)
	}
	if items[1].OriginalPath != "C:/proj/b.ts" {
		t.Errorf("items[1] = %s, want b.ts", items[1].OriginalPath)
	}
}

func TestSelectLatest_TieKeepsFirstSeen(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), t.TempDir(), Filter{})
	ts := at(10, 0)

	items := e.selectLatest([]Match{
		{OriginalPath: "C:/proj/a.ts", Snapshot: "first", GroupTime: ts},
		{OriginalPath: "C:/proj/a.ts", Snapshot: "second", GroupTime: ts},
	})
	if items[0].Snapshot != "first" {
		t.Errorf("tie winner = %s, want first", items[0].Snapshot)
	}
}

func TestPlan_WritesNothing(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///C:/proj/src/a.ts", "A1.ts", "a", at(10, 0))

	e := newTestEngine(t, historyDir, project, Filter{})
	rec := &fakeRecorder{}
	e.SetRecorder(rec)

	report, err := e.Plan()
	if err != nil {
		t.Fatal(err)
	}
	if report.Items[0].Status != StatusPlanned {
		t.Errorf("Status = %s, want planned", report.Items[0].Status)
	}
	if got, want := report.Summary(), "1 file(s) would be restored out of 1 group(s)"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(project, "src")); !os.IsNotExist(err) {
		t.Error("Plan() must not create files")
	}
	if rec.begun != 0 {
		t.Error("Plan() must not journal")
	}
}

func TestRun_UnresolvedDestination(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///D:/loose/notes.md", "N1.md", "n", at(10, 0))

	e := New(Options{
		HistoryDir:  historyDir,
		ProjectRoot: project,
		SourceRoot:  `C:\proj`,
		Fallback:    Fallback{Dir: "src", RequireExisting: true},
	})
	report, err := e.Run()
	if err != nil {
		t.Fatal(err)
	}
	if report.Unresolved != 1 || report.Restored != 0 {
		t.Errorf("Unresolved=%d Restored=%d, want 1 and 0", report.Unresolved, report.Restored)
	}
	if got, want := report.Summary(), "0 file(s) restored out of 1 group(s)"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

type fakeRecorder struct {
	begun    int
	items    []Item
	contents [][]byte
	finished *Report
	failItem bool
}

func (f *fakeRecorder) BeginRun(historyDir, projectRoot string) (string, error) {
	f.begun++
	return "run-1", nil
}

func (f *fakeRecorder) RecordItem(runID string, item Item, content []byte) error {
	if f.failItem {
		return errors.New("disk full")
	}
	f.items = append(f.items, item)
	f.contents = append(f.contents, content)
	return nil
}

func (f *fakeRecorder) FinishRun(runID string, report *Report) error {
	f.finished = report
	return nil
}

func TestRun_Recorder(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///C:/proj/src/a.ts", "A1.ts", "hello", at(10, 0))

	e := newTestEngine(t, historyDir, project, Filter{})
	rec := &fakeRecorder{}
	e.SetRecorder(rec)

	report, err := e.Run()
	if err != nil {
		t.Fatal(err)
	}
	if report.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", report.RunID)
	}
	if rec.begun != 1 || len(rec.items) != 1 || rec.finished != report {
		t.Fatalf("recorder calls: begun=%d items=%d finished=%v", rec.begun, len(rec.items), rec.finished != nil)
	}
	if string(rec.contents[0]) != "hello" {
		t.Errorf("recorded content = %q", rec.contents[0])
	}
}

func TestRun_RecorderFailureIsNotFatal(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///C:/proj/src/a.ts", "A1.ts", "hello", at(10, 0))

	e := newTestEngine(t, historyDir, project, Filter{})
	e.SetRecorder(&fakeRecorder{failItem: true})

	report, err := e.Run()
	if err != nil {
		t.Fatal(err)
	}
	if report.Restored != 1 {
		t.Errorf("Restored = %d, want 1", report.Restored)
	}
}

func TestReportPrint(t *testing.T) {
	historyDir := t.TempDir()
	project := t.TempDir()
	addHistory(t, historyDir, "h1", "file:///C:/proj/src/a.ts", "A1.ts", "a", at(10, 0))
	addHistory(t, historyDir, "h2", "file:///C:/proj/src/a.ts", "A2.ts", "a2", at(11, 15))

	report, err := newTestEngine(t, historyDir, project, Filter{}).Run()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	report.Print(&buf)
	out := buf.String()

	for _, want := range []string{
		"scanned 2 history director(ies)",
		"matched 2 snapshot(s) in 1 group(s)",
		"11h: 1",
		"10h: 1",
		"2025-11-08: 2",
		"[file] " + filepath.Join("src", "a.ts"),
		"history time: 2025-11-08 11:15:00",
		"history file: A2.ts (2 version(s))",
		"[restored]",
		"1 file(s) restored out of 1 group(s)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "11h") > strings.Index(out, "10h") {
		t.Error("hours should be listed newest first")
	}
}
