// Package rawbrief captures unparsed compression-model output for later
// calibration analysis: every raw LLM response the gate receives is
// written to disk, with absolute filesystem paths redacted first so a
// captured brief can never leak a reviewer's home directory or a
// machine-local temp path.
package rawbrief

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"scout.dev/scout/core/config"
)

// RedactedPlaceholder replaces any absolute path matched by the patterns
// below.
const RedactedPlaceholder = "[PATH_REDACTED]"

// absolutePathPatterns mirrors the set of path shapes that can leak a
// reviewer's machine identity: macOS/Linux home directories, explicit
// tilde paths, Windows drive paths, and common scratch directories.
var absolutePathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/Users/[^\s\]\)"']+`),
	regexp.MustCompile(`(?i)/home/[^\s\]\)"']+`),
	regexp.MustCompile(`~/[^\s\]\)"']+`),
	regexp.MustCompile(`[A-Za-z]:\\[^\s\]\)"']+`),
	regexp.MustCompile(`(?i)/tmp/[^\s\]\)"']+`),
	regexp.MustCompile(`(?i)/var/[^\s\]\)"']+`),
}

// SanitizeForPII redacts absolute paths from raw, returning the sanitized
// text and whether any redaction occurred.
func SanitizeForPII(raw string) (sanitized string, hadAbsolute bool) {
	sanitized = raw
	for _, pattern := range absolutePathPatterns {
		if pattern.MatchString(sanitized) {
			hadAbsolute = true
		}
		sanitized = pattern.ReplaceAllString(sanitized, RedactedPlaceholder)
	}
	return sanitized, hadAbsolute
}

// DefaultDir is the platform default raw-brief directory, ~/.scout/raw_briefs.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scout", "raw_briefs")
}

// Store writes raw briefs to a directory as sanitized markdown files, one
// per capture, named by capture timestamp.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir, or DefaultDir() when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{Dir: dir}
}

// NewStoreFromConfig returns a Store rooted at scoutCfg.RawBriefsDir, the
// directory a process-wide config.Load() call would hand the store.
func NewStoreFromConfig(scoutCfg config.Config) *Store {
	return NewStore(scoutCfg.RawBriefsDir)
}

// StoreRawBrief sanitizes raw and writes it to a timestamped file under
// the store's directory. It returns ("", nil) for blank input, and a nil
// error with an empty path if the write itself fails — a calibration
// capture is best-effort and must never fail the caller's request.
func (s *Store) StoreRawBrief(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}

	sanitized, _ := SanitizeForPII(raw)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		slog.Warn("rawbrief: failed to create directory, dropping capture", "error", err)
		return "", nil
	}

	now := time.Now().UTC()
	path := filepath.Join(s.Dir, now.Format("20060102_150405")+".md")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(s.Dir, fmt.Sprintf("%s.%03d.md", now.Format("20060102_150405"), now.Nanosecond()/1e6))
	}

	if err := os.WriteFile(path, []byte(sanitized), 0o644); err != nil {
		slog.Warn("rawbrief: failed to write capture, dropping", "error", err)
		return "", nil
	}
	return path, nil
}

// List returns up to limit raw-brief paths under the store's directory,
// newest first by modification time.
func (s *Store) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rawbrief: listing %s: %w", s.Dir, err)
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.Dir, e.Name()), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}
