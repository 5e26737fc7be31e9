package archive

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats summarizes a backup directory.
type Stats struct {
	Earliest  time.Time `json:"earliest,omitzero"`
	Latest    time.Time `json:"latest,omitzero"`
	Root      string    `json:"backup_dir"`
	Files     int       `json:"count"`
	TotalSize int64     `json:"total_size"`
}

// Collect walks root and summarizes its backup files. Capture times come from the
// date path layout; files outside it fall back to their modification time.
func Collect(root string) (Stats, error) {
	files, err := Files(root)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Root: root, Files: len(files)}
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return Stats{}, err
		}
		st.TotalSize += info.Size()

		at, ok := capturedFromPath(root, path)
		if !ok {
			at = info.ModTime().UTC()
		}
		if st.Earliest.IsZero() || at.Before(st.Earliest) {
			st.Earliest = at
		}
		if at.After(st.Latest) {
			st.Latest = at
		}
	}

	return st, nil
}

// String renders the summary for terminal output.
func (s Stats) String() string {
	if s.Files == 0 {
		return fmt.Sprintf("%s: no backups", s.Root)
	}

	return fmt.Sprintf("%s: %d files, %s, %s .. %s (%s)",
		s.Root, s.Files, humanize.Bytes(uint64(s.TotalSize)),
		s.Earliest.Format(time.RFC3339), s.Latest.Format(time.RFC3339),
		strings.TrimSpace(humanize.RelTime(s.Earliest, s.Latest, "", "")),
	)
}
