package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/unok/history-restore/internal/config"
	"github.com/unok/history-restore/internal/history"
	"github.com/unok/history-restore/internal/journal"
	"github.com/unok/history-restore/internal/restore"
	"github.com/unok/history-restore/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to config file (.json or .yaml)")
	dryRun := flag.Bool("dry-run", false, "show what would be restored without writing")
	follow := flag.Bool("follow", false, "keep running and restore again when the history store changes")
	listRuns := flag.Int("runs", 0, "list the last N journaled runs and exit")
	showRun := flag.String("show", "", "list the restores of a journaled run and exit")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "error: --config flag is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var jnl *journal.Journal
	if !cfg.NoJournal && (!*dryRun || *listRuns > 0 || *showRun != "") {
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o700); err != nil {
			log.Fatalf("failed to create journal directory: %v", err)
		}
		jnl, err = journal.New(cfg.JournalPath, cfg.MaxRuns)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer jnl.Close()
	}

	if *listRuns > 0 || *showRun != "" {
		if jnl == nil {
			log.Fatal("journal is disabled")
		}
		if err := printJournal(jnl, *listRuns, *showRun); err != nil {
			log.Fatalf("failed to read journal: %v", err)
		}
		return
	}

	engine := restore.New(restore.Options{
		HistoryDir:   cfg.HistoryDir,
		MetadataFile: cfg.MetadataFile,
		ProjectRoot:  cfg.ProjectRoot,
		SourceRoot:   cfg.SourceRoot,
		Filter: restore.Filter{
			Window: restore.Window{
				Start:          cfg.Window.StartTime,
				End:            cfg.Window.EndTime,
				StartInclusive: *cfg.Window.StartInclusive,
				EndInclusive:   *cfg.Window.EndInclusive,
			},
			Keywords:        cfg.Keywords,
			AnyKeywords:     cfg.AnyKeywords,
			Extensions:      cfg.Extensions,
			ExcludePatterns: cfg.ExcludePatterns,
		},
		Fallback: restore.Fallback{
			Anchor:          *cfg.FallbackAnchor,
			Routes:          fallbackRoutes(cfg.FallbackRoutes),
			Dir:             cfg.FallbackDir,
			RequireExisting: cfg.FallbackRequireExisting,
		},
	})
	if jnl != nil {
		engine.SetRecorder(journalRecorder{jnl})
	}

	runOnce := func() error {
		var report *restore.Report
		var err error
		if *dryRun {
			report, err = engine.Plan()
		} else {
			report, err = engine.Run()
		}
		if err != nil {
			return err
		}
		report.Print(os.Stdout)
		return nil
	}

	if err := runOnce(); err != nil {
		if errors.Is(err, history.ErrHistoryRootMissing) {
			fmt.Fprintf(os.Stderr, "error: history directory not found: %s\n", cfg.HistoryDir)
			os.Exit(1)
		}
		log.Fatalf("restore failed: %v", err)
	}

	if !*follow {
		return
	}

	w, err := watcher.New(cfg.HistoryDir, time.Duration(cfg.DebounceSec)*time.Second)
	if err != nil {
		log.Fatalf("failed to create watcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Println("shutting down...")
		close(done)
	}()

	log.Printf("following %s", cfg.HistoryDir)
	w.Run(done, func() {
		if err := runOnce(); err != nil {
			log.Printf("restore failed: %v", err)
		}
	})

	if err := w.Close(); err != nil {
		log.Printf("error closing watcher: %v", err)
	}
	log.Println("shutdown complete")
}

// journalRecorder adapts the journal to the engine's Recorder.
type journalRecorder struct {
	j *journal.Journal
}

func (r journalRecorder) BeginRun(historyDir, projectRoot string) (string, error) {
	return r.j.BeginRun(historyDir, projectRoot)
}

func (r journalRecorder) RecordItem(runID string, item restore.Item, content []byte) error {
	rec := journal.Restore{
		OriginalPath: item.OriginalPath,
		DestPath:     item.Dest,
		SnapshotPath: item.Snapshot,
		GroupTime:    item.GroupTime.Unix(),
		Status:       string(item.Status),
		Size:         item.Size,
		Hash:         item.Hash,
		Content:      content,
	}
	if item.Err != nil {
		rec.Error = item.Err.Error()
	}
	_, err := r.j.RecordRestore(runID, rec)
	return err
}

func (r journalRecorder) FinishRun(runID string, report *restore.Report) error {
	return r.j.FinishRun(runID, report.Groups(), report.Restored, report.Failed)
}

func printJournal(j *journal.Journal, limit int, runID string) error {
	if runID != "" {
		restores, err := j.GetRestores(runID)
		if err != nil {
			return err
		}
		for _, r := range restores {
			fmt.Printf("%-10s %s  %s -> %s\n", r.Status, time.Unix(r.GroupTime, 0).Format("2006-01-02 15:04:05"), r.OriginalPath, r.DestPath)
			if r.Error != "" {
				fmt.Printf("           %s\n", r.Error)
			}
		}
		return nil
	}

	runs, err := j.ListRuns(limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  %d/%d restored, %d failed  %s\n",
			r.ID, time.Unix(r.Started, 0).Format("2006-01-02 15:04:05"), r.Restored, r.Groups, r.Failed, r.ProjectRoot)
	}
	stats, err := j.GetStats()
	if err != nil {
		return err
	}
	fmt.Printf("\n%d run(s), %d restore(s), %d bytes restored\n", stats.TotalRuns, stats.TotalRestores, stats.TotalSize)
	return nil
}

func fallbackRoutes(routes []config.FallbackRoute) []restore.Route {
	out := make([]restore.Route, 0, len(routes))
	for _, r := range routes {
		out = append(out, restore.Route{AnyKeywords: r.AnyKeywords, Dir: r.Dir})
	}
	return out
}
