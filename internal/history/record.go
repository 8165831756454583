package history

import "time"

// DefaultMetadataFile is the metadata record name inside each history directory.
const DefaultMetadataFile = "entries.json"

// Entry is one edit recorded in a history directory's metadata file.
type Entry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Record is the parsed metadata of one history directory.
type Record struct {
	Dir      string
	Resource string
	Entries  []Entry
	// ModTime is the directory modification time. It is the group timestamp
	// used for window filtering and for picking the newest version.
	ModTime time.Time
}

// Latest returns the entry with the greatest timestamp. On equal timestamps
// the earlier entry wins. ok is false when there are no entries.
func (r Record) Latest() (e Entry, ok bool) {
	for i, cur := range r.Entries {
		if i == 0 || cur.Timestamp > e.Timestamp {
			e = cur
		}
	}
	return e, len(r.Entries) > 0
}

// SkipReason explains why a history directory produced no record.
type SkipReason string

const (
	SkipNoMetadata SkipReason = "no-metadata"
	SkipUnreadable SkipReason = "unreadable"
	SkipMalformed  SkipReason = "malformed"
	SkipNoResource SkipReason = "no-resource"
)

// Result is the outcome of scanning one history directory: either a Record
// or a SkipReason, with Err set when the skip was caused by an I/O or parse error.
type Result struct {
	Dir    string
	Record *Record
	Skip   SkipReason
	Err    error
}

// Skipped reports whether the directory produced no record.
func (r Result) Skipped() bool {
	return r.Record == nil
}
