package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FindSnapshot returns the snapshot file in dir that belongs to entryID.
//
// Rules are tried in order over all candidates, each in name order: the name
// contains the id; the name starts with the id's stem (the part before the
// first '.'); the id starts with the name's stem. Without any match the most
// recently modified snapshot is returned. The metadata file is never a
// candidate. An empty string is returned when dir holds no snapshot files.
func FindSnapshot(dir, entryID, metadataFile string) (string, error) {
	if metadataFile == "" {
		metadataFile = DefaultMetadataFile
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading history dir: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == metadataFile {
			continue
		}
		names = append(names, de.Name())
	}
	if len(names) == 0 {
		return "", nil
	}

	if entryID != "" {
		idStem := stem(entryID)
		rules := []func(name string) bool{
			func(name string) bool { return strings.Contains(name, entryID) },
			func(name string) bool { return idStem != "" && strings.HasPrefix(name, idStem) },
			func(name string) bool {
				nameStem := stem(name)
				return nameStem != "" && strings.HasPrefix(entryID, nameStem)
			},
		}
		for _, matches := range rules {
			for _, name := range names {
				if matches(name) {
					return filepath.Join(dir, name), nil
				}
			}
		}
	}

	var (
		latest     string
		latestTime time.Time
	)
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latest = name
			latestTime = info.ModTime()
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(dir, latest), nil
}

func stem(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
