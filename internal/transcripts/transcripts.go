// Package transcripts stores completed transcription artifacts on the
// local filesystem, keyed by job ID under dated directories.
package transcripts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Metadata is written alongside each transcript so artifacts stay
// self-describing even if the database is lost.
type Metadata struct {
	JobID        string    `json:"job_id"`
	Filename     string    `json:"filename"`
	Language     string    `json:"language"`
	ModelUsed    string    `json:"model_used"`
	SegmentCount int       `json:"segment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store writes transcripts under a root directory.
type Store struct {
	rootDir string
}

func NewStore(rootDir string) *Store {
	return &Store{rootDir: rootDir}
}

// Save writes the transcript text and a metadata sidecar under a dated
// directory and returns the transcript path.
func (s *Store) Save(text string, meta Metadata) (string, error) {
	now := time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}

	dateDir := filepath.Join(s.rootDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create transcript directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), sanitizeName(meta.JobID))
	txtPath := filepath.Join(dateDir, base+".txt")
	metaPath := filepath.Join(dateDir, base+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}

	return txtPath, nil
}

// Remove deletes a transcript and its metadata sidecar. A missing file
// is not an error: deletion is idempotent.
func (s *Store) Remove(txtPath string) error {
	if txtPath == "" {
		return nil
	}
	if err := os.Remove(txtPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove transcript: %w", err)
	}
	metaPath := strings.TrimSuffix(txtPath, ".txt") + "_meta.json"
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metadata: %w", err)
	}
	return nil
}

// Read returns the stored transcript text.
func (s *Store) Read(txtPath string) (string, error) {
	b, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}
	return string(b), nil
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
