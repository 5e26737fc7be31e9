// Package archive reads and writes scraper output: plain JSON arrays of observations
// and gzip-compressed backup envelopes laid out as YYYY/MM/DD/HH-MM-SS.json.gz.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/woozymasta/vigil/internal/models"
)

// FormatVersion is written into envelope metadata.
const FormatVersion = "1.0"

// ErrUnknownFormat is returned for input that is neither an observation array nor an envelope.
var ErrUnknownFormat = errors.New("unknown archive format")

// pathLayout is the relative path of a backup file without its extension.
const pathLayout = "2006/01/02/15-04-05"

// Metadata describes one captured cycle.
type Metadata struct {
	CapturedAt     time.Time `json:"captured_at"`
	Version        string    `json:"version"`
	CapturedAtUnix int64     `json:"captured_at_unix"`
	ServerCount    int       `json:"server_count"`
	TotalPlayers   int       `json:"total_players"`
}

// Envelope is a backup file: one cycle of observations plus its metadata.
type Envelope struct {
	Servers  []models.Observation `json:"servers"`
	Metadata Metadata             `json:"metadata"`
}

// Cycle is one decoded capture.
type Cycle struct {
	CapturedAt   time.Time
	Source       string
	Observations []models.Observation
}

// Decode reads an observation array or an envelope, gzip-compressed or not.
// A bare array carries no capture time; fallback is used for it.
func Decode(r io.Reader, fallback time.Time) (Cycle, error) {
	br := bufio.NewReader(r)

	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return Cycle{}, fmt.Errorf("open gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		br = bufio.NewReader(zr)
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return Cycle{}, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Cycle{}, ErrUnknownFormat
	}

	switch data[0] {
	case '[':
		var obs []models.Observation
		if err := json.Unmarshal(data, &obs); err != nil {
			return Cycle{}, fmt.Errorf("decode observations: %w", err)
		}
		return Cycle{CapturedAt: fallback.UTC(), Observations: obs}, nil

	case '{':
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Cycle{}, fmt.Errorf("decode envelope: %w", err)
		}
		at := env.Metadata.CapturedAt
		if env.Metadata.CapturedAtUnix > 0 {
			at = time.Unix(env.Metadata.CapturedAtUnix, 0)
		}
		if at.IsZero() {
			at = fallback
		}
		return Cycle{CapturedAt: at.UTC(), Observations: env.Servers}, nil
	}

	return Cycle{}, ErrUnknownFormat
}

// ReadFile decodes one file. Bare arrays use the file's modification time.
func ReadFile(path string) (Cycle, error) {
	f, err := os.Open(path)
	if err != nil {
		return Cycle{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Cycle{}, err
	}

	c, err := Decode(f, info.ModTime())
	if err != nil {
		return Cycle{}, fmt.Errorf("%s: %w", path, err)
	}
	c.Source = path

	return c, nil
}

// Files lists backup files under root in capture order. A regular file root is returned as is.
// The latest.json.gz pointer is skipped since it duplicates another file.
func Files(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == "latest.json.gz" {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".json.gz") || strings.HasSuffix(d.Name(), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Zero padded date paths sort chronologically.
	slices.Sort(files)

	return files, nil
}

// Write stores a cycle as a gzip envelope under root and returns its path.
func Write(root string, at time.Time, obs []models.Observation) (string, error) {
	at = at.UTC()
	path := filepath.Join(root, filepath.FromSlash(at.Format(pathLayout))+".json.gz")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	env := Envelope{
		Metadata: Metadata{
			CapturedAt:     at,
			CapturedAtUnix: at.Unix(),
			ServerCount:    len(obs),
			Version:        FormatVersion,
		},
		Servers: obs,
	}
	for _, o := range obs {
		env.Metadata.TotalPlayers += o.PlayersCurrent
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(env); err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	return path, f.Close()
}

// capturedFromPath recovers the capture time encoded in a backup file path.
func capturedFromPath(root, path string) (time.Time, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return time.Time{}, false
	}
	rel = strings.TrimSuffix(strings.TrimSuffix(filepath.ToSlash(rel), ".gz"), ".json")

	t, err := time.Parse(pathLayout, rel)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}
