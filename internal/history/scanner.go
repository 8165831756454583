package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrHistoryRootMissing is returned by Scan when the history root does not
// exist or is not a directory.
var ErrHistoryRootMissing = errors.New("history root missing")

// Scanner enumerates the history directories under a root.
type Scanner struct {
	root         string
	metadataFile string
}

// NewScanner creates a Scanner. An empty metadataFile selects DefaultMetadataFile.
func NewScanner(root, metadataFile string) *Scanner {
	if metadataFile == "" {
		metadataFile = DefaultMetadataFile
	}
	return &Scanner{root: root, metadataFile: metadataFile}
}

// Root returns the history root directory.
func (s *Scanner) Root() string {
	return s.root
}

// Scan reads every immediate subdirectory of the root in name order and
// returns one Result per subdirectory. Only a missing or unreadable root is
// an error; problems with individual directories are reported as skips.
func (s *Scanner) Scan() ([]Result, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrHistoryRootMissing, s.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrHistoryRootMissing, s.root)
	}

	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading history root: %w", err)
	}

	var results []Result
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		results = append(results, s.scanDir(filepath.Join(s.root, de.Name())))
	}
	return results, nil
}

// metadata mirrors the on-disk metadata record.
type metadata struct {
	Version  int     `json:"version"`
	Resource string  `json:"resource"`
	Source   string  `json:"source"`
	Entries  []Entry `json:"entries"`
}

func (s *Scanner) scanDir(dir string) Result {
	info, err := os.Stat(dir)
	if err != nil {
		return Result{Dir: dir, Skip: SkipUnreadable, Err: err}
	}

	data, err := os.ReadFile(filepath.Join(dir, s.metadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Dir: dir, Skip: SkipNoMetadata}
		}
		return Result{Dir: dir, Skip: SkipUnreadable, Err: err}
	}

	var md metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Result{Dir: dir, Skip: SkipMalformed, Err: fmt.Errorf("parsing %s: %w", s.metadataFile, err)}
	}

	resource := md.Resource
	if resource == "" {
		resource = md.Source
	}
	if resource == "" {
		return Result{Dir: dir, Skip: SkipNoResource}
	}

	return Result{
		Dir: dir,
		Record: &Record{
			Dir:      dir,
			Resource: resource,
			Entries:  md.Entries,
			ModTime:  info.ModTime(),
		},
	}
}
