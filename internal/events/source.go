package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoEventDir is returned when the event log directory is missing.
var ErrNoEventDir = errors.New("events: event directory not found")

// Source supplies lifecycle events for a time window, ordered by timestamp.
type Source interface {
	QueryEvents(ctx context.Context, start, end time.Time) ([]RawEvent, error)
}

// PermissionGate reports whether the event source may be queried.
type PermissionGate interface {
	HasPermission() bool
	RequestPermission()
}

// MemorySource serves events held in memory. It is used by tests and by
// callers that already materialized an event list.
type MemorySource struct {
	mu      sync.RWMutex
	events  []RawEvent
	granted bool
}

// NewMemorySource returns a permitted source over a copy of evts.
func NewMemorySource(evts []RawEvent) *MemorySource {
	s := &MemorySource{granted: true}
	s.Append(evts...)
	return s
}

// Append adds events to the source.
func (s *MemorySource) Append(evts ...RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evts...)
}

// QueryEvents returns events within [start, end] in the order they were
// appended.
func (s *MemorySource) QueryEvents(ctx context.Context, start, end time.Time) ([]RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return window(s.events, start, end), nil
}

// HasPermission implements PermissionGate.
func (s *MemorySource) HasPermission() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted
}

// RequestPermission implements PermissionGate.
func (s *MemorySource) RequestPermission() { s.SetPermission(true) }

// SetPermission grants or revokes access.
func (s *MemorySource) SetPermission(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
}

// FileSource reads JSON Lines event logs exported by the device bridge.
// Every *.jsonl file in Dir is read; each line is either
//
//	{"app_id": "com.app.x", "kind": "foreground_entered", "timestamp": 1700000000000}
//
// or the raw Android form
//
//	{"package": "com.app.x", "event_type": 1, "timestamp": 1700000000000}
//
// Lines that cannot be parsed are skipped.
type FileSource struct {
	Dir    string
	logger zerolog.Logger
}

// NewFileSource creates a file-backed event source.
func NewFileSource(dir string, logger zerolog.Logger) *FileSource {
	return &FileSource{
		Dir:    dir,
		logger: logger.With().Str("component", "event-source").Logger(),
	}
}

type fileRecord struct {
	AppID     string `json:"app_id"`
	Package   string `json:"package"`
	Kind      string `json:"kind"`
	EventType *int   `json:"event_type"`
	Timestamp int64  `json:"timestamp"`
}

// QueryEvents returns events within [start, end] from all log files, merged
// into timestamp order.
func (s *FileSource) QueryEvents(ctx context.Context, start, end time.Time) ([]RawEvent, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	var all []RawEvent
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evts, err := s.readFile(file, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, evts...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp < all[j].Timestamp
	})

	s.logger.Debug().
		Int("files", len(files)).
		Int("events", len(all)).
		Time("start", start).
		Time("end", end).
		Msg("Queried event log")

	return all, nil
}

// HasPermission reports whether the event directory exists and is readable.
func (s *FileSource) HasPermission() bool {
	f, err := os.Open(s.Dir)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	return err == nil && info.IsDir()
}

// RequestPermission creates the event directory so the device bridge can
// start exporting into it.
func (s *FileSource) RequestPermission() {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		s.logger.Warn().Err(err).Str("dir", s.Dir).Msg("Failed to create event directory")
	}
}

func (s *FileSource) files() ([]string, error) {
	if _, err := os.Stat(s.Dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoEventDir, s.Dir)
		}
		return nil, fmt.Errorf("stat event dir: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(s.Dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("glob event files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (s *FileSource) readFile(path string, start, end time.Time) ([]RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	startMs, endMs := start.UnixMilli(), end.UnixMilli()

	var evts []RawEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		evt, ok := parseRecord([]byte(line))
		if !ok {
			s.logger.Debug().Str("file", path).Int("line", lineNumber).Msg("Skipping unparseable event")
			continue
		}
		if evt.Timestamp < startMs || evt.Timestamp > endMs {
			continue
		}
		evts = append(evts, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event file %s: %w", path, err)
	}

	return evts, nil
}

func parseRecord(line []byte) (RawEvent, bool) {
	var rec fileRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return RawEvent{}, false
	}

	appID := rec.AppID
	if appID == "" {
		appID = rec.Package
	}

	var kind Kind
	switch {
	case rec.Kind != "":
		kind = Kind(strings.ToLower(rec.Kind))
		if !kind.Valid() {
			return RawEvent{}, false
		}
	case rec.EventType != nil:
		var ok bool
		if kind, ok = KindFromAndroid(*rec.EventType); !ok {
			return RawEvent{}, false
		}
	default:
		return RawEvent{}, false
	}

	return RawEvent{AppID: appID, Kind: kind, Timestamp: rec.Timestamp}, true
}

func window(evts []RawEvent, start, end time.Time) []RawEvent {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	out := make([]RawEvent, 0, len(evts))
	for _, e := range evts {
		if e.Timestamp >= startMs && e.Timestamp <= endMs {
			out = append(out, e)
		}
	}
	return out
}
