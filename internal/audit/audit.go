// Package audit implements Scout's append-only JSONL event log: every
// billable or diagnostic action in a navigation, doc-synthesis, or PR
// workflow is written here, durably and in streaming-queryable form.
//
// The log survives partial writes and rotates itself once the active file
// grows past a threshold. Each event is a single line write; an fsync is
// added to that call only when the fsync cadence (a line count or an
// elapsed time) is reached, so most calls do not wait on fsync.
package audit

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scout.dev/scout/core/config"
	"scout.dev/scout/internal/scoutid"
)

const (
	// DefaultRotationBytes is the active-file size threshold that
	// triggers gzip rotation.
	DefaultRotationBytes int64 = 10 * 1024 * 1024

	// DefaultFsyncEveryLines and DefaultFsyncInterval bound the fsync
	// cadence: whichever comes first triggers a flush+fsync.
	DefaultFsyncEveryLines = 10
	DefaultFsyncInterval   = 1 * time.Second
)

// Config tunes the Log's fsync cadence and rotation threshold. The zero
// value is not valid — use DefaultConfig() or Open(), which applies it.
type Config struct {
	FsyncEveryLines int
	FsyncInterval   time.Duration
	RotationBytes   int64
}

// DefaultConfig returns the spec's defaults: fsync every 10 lines or 1
// second, rotate at 10MiB.
func DefaultConfig() Config {
	return Config{
		FsyncEveryLines: DefaultFsyncEveryLines,
		FsyncInterval:   DefaultFsyncInterval,
		RotationBytes:   DefaultRotationBytes,
	}
}

// ConfigFrom maps the process-wide Scout config onto the Log's own tuning
// knobs, so a caller that assembled a config.Config from the environment
// doesn't have to restate its fsync/rotation fields by hand.
func ConfigFrom(scoutCfg config.Config) Config {
	return Config{
		FsyncEveryLines: scoutCfg.FsyncEveryLines,
		FsyncInterval:   scoutCfg.FsyncInterval,
		RotationBytes:   scoutCfg.RotationBytes,
	}
}

// Log is an append-only JSONL event log with line buffering, fsync
// cadence, and crash-safe recovery on read. One Log owns exactly one file
// handle, kept open from Open until Close; an internal mutex serializes
// the write-rotate-fsync critical section and is held only for that one
// write and its bookkeeping.
type Log struct {
	mu sync.Mutex

	path   string
	cfg    Config
	file   *os.File
	closed bool

	linesSinceFsync int
	lastFsync       time.Time
}

// DefaultPath returns the platform default audit log location,
// ~/.scout/audit.jsonl.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scout", "audit.jsonl")
}

// Open opens (or creates) the log file at path, or the platform default
// if path is empty. Parent directories are created as needed. Open fails
// only when the parent directory is unwritable.
func Open(path string) (*Log, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenFromConfig opens the log at scoutCfg.AuditPath with scoutCfg's
// fsync/rotation tuning, the path a process-wide config.Load() call would
// hand the Audit Log.
func OpenFromConfig(scoutCfg config.Config) (*Log, error) {
	return OpenWithConfig(scoutCfg.AuditPath, ConfigFrom(scoutCfg))
}

// OpenWithConfig is Open with an explicit fsync/rotation Config.
func OpenWithConfig(path string, cfg Config) (*Log, error) {
	if path == "" {
		path = DefaultPath()
	}
	l := &Log{path: path, cfg: cfg}
	if err := l.ensureOpen(); err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return l, nil
}

func (l *Log) ensureOpen() error {
	if l.file != nil && !l.closed {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.closed = false
	l.linesSinceFsync = 0
	l.lastFsync = time.Now()
	return nil
}

// Log serializes a single event and writes it. The call also fsyncs the
// file, synchronously, when FsyncEveryLines lines or FsyncInterval have
// passed since the last fsync; other calls return after the write alone.
// Encoder errors are reported via slog and do not propagate — an
// unserializable extra field is stringified rather than discarded.
func (l *Log) Log(kind Kind, fields Fields) {
	sessionID := fields.SessionID
	if sessionID == "" {
		sessionID = scoutid.Session()
	}

	event := Event{
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		Kind:       kind,
		SessionID:  sessionID,
		Cost:       fields.Cost,
		Model:      fields.Model,
		InputT:     fields.InputT,
		OutputT:    fields.OutputT,
		Files:      fields.Files,
		Reason:     fields.Reason,
		Confidence: fields.Confidence,
		DurationMs: fields.DurationMs,
		Config:     fields.Config,
		Extras:     fields.Extras,
	}

	line, err := marshalEventLine(event)
	if err != nil {
		slog.Warn("audit: failed to encode event, dropping", "event", kind, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeRotate()
	if err := l.ensureOpen(); err != nil {
		slog.Warn("audit: failed to reopen log file", "error", err)
		return
	}

	if err := writeAll(l.file, line); err != nil {
		slog.Warn("audit: write failed", "error", err)
		return
	}
	l.fsyncIfNeeded()
}

// writeAll issues a single write, retrying on short writes until every
// byte is accepted or the write fails hard — the "atomic line write"
// guarantee: either the whole line lands or the caller learns it didn't.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// marshalEventLine renders one Event as a JSON object followed by a
// single newline, merging Extras into the top-level object the way the
// Python implementation folds **kwargs into the serialized dict.
func marshalEventLine(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(e.Extras) == 0 {
		return append(raw, '\n'), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for k, v := range e.Extras {
		if _, exists := obj[k]; exists {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			encoded, _ = json.Marshal(fmt.Sprintf("%v", v))
		}
		obj[k] = encoded
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(merged, '\n'), nil
}

func (l *Log) fsyncIfNeeded() {
	l.linesSinceFsync++
	now := time.Now()
	if l.linesSinceFsync >= l.cfg.FsyncEveryLines || now.Sub(l.lastFsync) >= l.cfg.FsyncInterval {
		if err := l.file.Sync(); err != nil {
			slog.Warn("audit: fsync failed", "error", err)
		}
		l.linesSinceFsync = 0
		l.lastFsync = now
	}
}

// maybeRotate archives the active file once it exceeds the rotation
// threshold: close, gzip its bytes into audit_YYYYMMDD_HHMMSS.jsonl.gz in
// the same directory, remove the original, reopen fresh. When an archive
// with the same second-resolution name already exists, the new bytes are
// appended to it as a further gzip member. Rotation is transparent to the
// caller — no event is lost, and the active path never changes.
func (l *Log) maybeRotate() {
	if l.file == nil {
		return
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}
	if info.Size() < l.cfg.RotationBytes {
		return
	}

	l.closeFile()

	ts := time.Now().UTC().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	stem := l.path[:len(l.path)-len(ext)]
	archived := fmt.Sprintf("%s_%s%s.gz", stem, ts, ext)

	if err := gzipFile(l.path, archived); err != nil {
		slog.Warn("audit: rotation failed, continuing with existing file", "error", err)
		_ = l.ensureOpen()
		return
	}
	if err := os.Remove(l.path); err != nil {
		slog.Warn("audit: failed to remove rotated file", "error", err)
	}
}

func gzipFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (l *Log) closeFile() {
	if l.file == nil || l.closed {
		return
	}
	_ = l.file.Sync()
	_ = l.file.Close()
	l.closed = true
	l.file = nil
}

// Flush forces a flush and fsync, for use before process exit or before
// reading back what was just written.
func (l *Log) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil && !l.closed {
		if err := l.file.Sync(); err != nil {
			slog.Warn("audit: flush fsync failed", "error", err)
		}
	}
}

// Close flushes and releases the file handle.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

// QueryOptions filters a Query call.
type QueryOptions struct {
	Since *time.Time
	Kind  *Kind
}

// Query streams the active file line by line, returning events matching
// the given filters. It never loads the whole file into one allocation —
// each line is parsed, filtered, and either kept or discarded before the
// next is read.
func (l *Log) Query(opts QueryOptions) ([]Event, error) {
	var out []Event
	err := l.scan(func(e Event) bool {
		if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
			return true
		}
		if opts.Kind != nil && e.Kind != *opts.Kind {
			return true
		}
		out = append(out, e)
		return true
	})
	return out, err
}

// scan streams parsed lines of the active file to visit, stopping early
// if visit returns false. Malformed lines are skipped with a logged
// warning; a trailing line with no terminating newline is treated as
// absent, which is what makes a truncated crash file queryable.
func (l *Log) scan(visit func(Event) bool) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	var offset int64
	for {
		line, readErr := reader.ReadBytes('\n')
		offset += int64(len(line))

		hasNewline := readErr == nil
		if !hasNewline {
			// No trailing newline: either EOF-with-partial-line (crash
			// recovery — discard) or a real read error.
			if readErr == io.EOF {
				break
			}
			return readErr
		}
		if offset > info.Size() {
			break
		}

		trimmed := line[:len(line)-1]
		if len(trimmed) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(trimmed, &e); err != nil {
			slog.Warn("audit: skipping malformed line (corruption recovery)", "error", err)
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			for k, v := range obj {
				switch k {
				case "ts", "event", "session_id", "cost", "model", "input_t", "output_t",
					"files", "reason", "confidence", "duration_ms", "config":
					continue
				}
				if e.Extras == nil {
					e.Extras = map[string]any{}
				}
				e.Extras[k] = v
			}
		}
		if !visit(e) {
			return nil
		}
	}
	return nil
}

// HourlySpend sums cost over events in the last `hours` hours, bucket
// boundary aligned to the current wall-clock hour.
func (l *Log) HourlySpend(hours int) float64 {
	if hours <= 0 {
		return 0
	}
	now := time.Now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC).
		Add(-time.Duration(hours) * time.Hour)

	var total float64
	_ = l.scan(func(e Event) bool {
		if e.Timestamp.Before(cutoff) {
			return true
		}
		if e.Cost != nil {
			total += *e.Cost
		}
		return true
	})
	return total
}

// LastEvents returns the last n matching events, using a bounded ring
// buffer during the scan rather than collecting every match.
func (l *Log) LastEvents(n int, kind *Kind) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]Event, 0, n)
	head := 0
	count := 0

	err := l.scan(func(e Event) bool {
		if kind != nil && e.Kind != *kind {
			return true
		}
		if count < n {
			ring = append(ring, e)
		} else {
			ring[head] = e
			head = (head + 1) % n
		}
		count++
		return true
	})
	if err != nil {
		return nil, err
	}
	if count <= n {
		return ring, nil
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = ring[(head+i)%n]
	}
	return out, nil
}

// AccuracyMetrics reports nav/validation_fail counts since the given
// time, with accuracy_pct = 100 * (total_nav - fail_count) / max(total_nav, 1),
// returning 100.0 when there have been no nav events at all.
type AccuracyMetrics struct {
	TotalNav            int
	ValidationFailCount int
	AccuracyPct         float64
}

func (l *Log) AccuracyMetrics(since time.Time) (AccuracyMetrics, error) {
	var totalNav, failCount int
	err := l.scan(func(e Event) bool {
		if e.Timestamp.Before(since) {
			return true
		}
		switch e.Kind {
		case KindNav:
			totalNav++
		case KindValidationFail:
			failCount++
		}
		return true
	})
	if err != nil {
		return AccuracyMetrics{}, err
	}
	if totalNav == 0 {
		return AccuracyMetrics{TotalNav: 0, ValidationFailCount: failCount, AccuracyPct: 100.0}, nil
	}
	pct := 100.0 * float64(totalNav-failCount) / float64(totalNav)
	return AccuracyMetrics{TotalNav: totalNav, ValidationFailCount: failCount, AccuracyPct: roundTo(pct, 2)}, nil
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	return float64(int64(v*scale+0.5)) / scale
}
