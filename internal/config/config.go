package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WindowConfig bounds history directory modification times. Empty bounds are
// open. Inclusivity defaults to [start, end).
type WindowConfig struct {
	Start          string `json:"start" yaml:"start"`
	End            string `json:"end" yaml:"end"`
	StartInclusive *bool  `json:"startInclusive,omitempty" yaml:"startInclusive,omitempty"`
	EndInclusive   *bool  `json:"endInclusive,omitempty" yaml:"endInclusive,omitempty"`

	StartTime time.Time `json:"-" yaml:"-"`
	EndTime   time.Time `json:"-" yaml:"-"`
}

// FallbackRoute places filename-only fallbacks whose path contains any of
// AnyKeywords under Dir.
type FallbackRoute struct {
	AnyKeywords []string `json:"anyKeywords" yaml:"anyKeywords"`
	Dir         string   `json:"dir" yaml:"dir"`
}

// Config holds all application configuration.
type Config struct {
	HistoryDir      string       `json:"historyDir" yaml:"historyDir"`
	ProjectRoot     string       `json:"projectRoot" yaml:"projectRoot"`
	SourceRoot      string       `json:"sourceRoot" yaml:"sourceRoot"`
	MetadataFile    string       `json:"metadataFile" yaml:"metadataFile"`
	Window          WindowConfig `json:"window" yaml:"window"`
	Keywords        []string     `json:"keywords" yaml:"keywords"`
	AnyKeywords     []string     `json:"anyKeywords" yaml:"anyKeywords"`
	Extensions      []string     `json:"extensions" yaml:"extensions"`
	ExcludePatterns []string     `json:"excludePatterns" yaml:"excludePatterns"`

	// FallbackAnchor defaults to "src"; an explicit "" disables anchoring.
	FallbackAnchor          *string         `json:"fallbackAnchor,omitempty" yaml:"fallbackAnchor,omitempty"`
	FallbackRoutes          []FallbackRoute `json:"fallbackRoutes" yaml:"fallbackRoutes"`
	FallbackDir             string          `json:"fallbackDir" yaml:"fallbackDir"`
	FallbackRequireExisting bool            `json:"fallbackRequireExisting" yaml:"fallbackRequireExisting"`

	JournalPath string `json:"journalPath" yaml:"journalPath"`
	NoJournal   bool   `json:"noJournal" yaml:"noJournal"`
	MaxRuns     int    `json:"maxRuns" yaml:"maxRuns"`
	DebounceSec int    `json:"debounceSec" yaml:"debounceSec"`
}

// timeLayouts are tried in order when parsing window bounds. Layouts without
// a zone are interpreted in local time, matching file modification times.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Load reads a JSON or YAML config file and returns a validated Config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	for _, p := range []*string{&cfg.HistoryDir, &cfg.ProjectRoot, &cfg.JournalPath} {
		expanded, err := expandPath(*p)
		if err != nil {
			return Config{}, fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	if cfg.SourceRoot == "" {
		cfg.SourceRoot = cfg.ProjectRoot
	}
	cfg.Extensions = normalizeExtensions(cfg.Extensions)

	if err := parseWindow(&cfg.Window); err != nil {
		return Config{}, fmt.Errorf("parsing window: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HistoryDir == "" {
		cfg.HistoryDir = defaultHistoryDir()
	}
	if cfg.MetadataFile == "" {
		cfg.MetadataFile = "entries.json"
	}
	if cfg.Window.StartInclusive == nil {
		cfg.Window.StartInclusive = boolPtr(true)
	}
	if cfg.Window.EndInclusive == nil {
		cfg.Window.EndInclusive = boolPtr(false)
	}
	if cfg.ExcludePatterns == nil {
		cfg.ExcludePatterns = defaultExcludePatterns()
	}
	if cfg.FallbackAnchor == nil {
		anchor := "src"
		cfg.FallbackAnchor = &anchor
	}
	if cfg.FallbackDir == "" {
		cfg.FallbackDir = "src"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "~/.local/share/history-restore/journal.db"
	}
	if cfg.DebounceSec == 0 {
		cfg.DebounceSec = 2
	}
}

func validate(cfg Config) error {
	if cfg.ProjectRoot == "" {
		return errors.New("projectRoot must not be empty")
	}
	if info, err := os.Stat(cfg.ProjectRoot); err == nil && !info.IsDir() {
		return fmt.Errorf("projectRoot %q is not a directory", cfg.ProjectRoot)
	}
	if cfg.HistoryDir == "" {
		return errors.New("historyDir must not be empty")
	}
	if strings.ContainsAny(cfg.MetadataFile, `/\`) {
		return errors.New("metadataFile must be a file name")
	}
	w := cfg.Window
	if !w.StartTime.IsZero() && !w.EndTime.IsZero() && w.EndTime.Before(w.StartTime) {
		return errors.New("window.end must not be before window.start")
	}
	if filepath.IsAbs(cfg.FallbackDir) {
		return errors.New("fallbackDir must be relative to projectRoot")
	}
	for i, r := range cfg.FallbackRoutes {
		if strings.TrimSpace(r.Dir) == "" || filepath.IsAbs(r.Dir) {
			return fmt.Errorf("fallbackRoutes[%d].dir must be a relative path", i)
		}
		if len(r.AnyKeywords) == 0 {
			return fmt.Errorf("fallbackRoutes[%d].anyKeywords must not be empty", i)
		}
	}
	if cfg.MaxRuns < 0 {
		return errors.New("maxRuns must be >= 0")
	}
	if cfg.DebounceSec < 1 {
		return errors.New("debounceSec must be >= 1")
	}
	return nil
}

func parseWindow(w *WindowConfig) error {
	var err error
	if w.StartTime, err = parseTime(w.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if w.EndTime, err = parseTime(w.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func normalizeExtensions(exts []string) []string {
	if exts == nil {
		return nil
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// defaultHistoryDir is where Cursor keeps its local edit history.
func defaultHistoryDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Cursor", "User", "History")
		}
		return "~/AppData/Roaming/Cursor/User/History"
	case "darwin":
		return "~/Library/Application Support/Cursor/User/History"
	default:
		return "~/.config/Cursor/User/History"
	}
}

func defaultExcludePatterns() []string {
	return []string{
		"**/node_modules/**",
		"**/.git/**",
	}
}

func boolPtr(b bool) *bool {
	return &b
}
