// CLAUDE:SUMMARY Stores screencast frames of a recorded tab as numbered JPEG files plus a frames.json index.
// Package screencast captures the recorded tab as a sequence of JPEG frames
// through the CDP screencast and stores them next to the session file.
package screencast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/replaygeo/session"
)

// Frame is one stored screencast frame.
type Frame struct {
	File         string  `json:"file"`
	Timestamp    int64   `json:"timestamp"` // ms since epoch
	DeviceWidth  float64 `json:"deviceWidth"`
	DeviceHeight float64 `json:"deviceHeight"`
	ScrollX      float64 `json:"scrollX"`
	ScrollY      float64 `json:"scrollY"`
}

// Manifest is the frames.json index of a recording directory.
type Manifest struct {
	SessionID string  `json:"sessionId"`
	StartedAt int64   `json:"startedAt"`
	Frames    []Frame `json:"frames"`
}

// DirName is the recording directory name for a capture started at t:
// session-recording-<ISO 8601 UTC with ':' and '.' replaced by '-'>.
func DirName(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return "session-recording-" + strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// Writer stores frames in one recording directory. Safe for concurrent use.
type Writer struct {
	dir string

	mu     sync.Mutex
	man    Manifest
	closed bool
}

// NewWriter creates the recording directory under parent.
func NewWriter(parent, sessionID string, startedAt time.Time) (*Writer, error) {
	dir := filepath.Join(parent, DirName(startedAt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("screencast: mkdir: %w", err)
	}
	return &Writer{
		dir: dir,
		man: Manifest{SessionID: sessionID, StartedAt: startedAt.UnixMilli(), Frames: []Frame{}},
	}, nil
}

// Dir returns the recording directory.
func (w *Writer) Dir() string { return w.dir }

// Add stores one JPEG frame. f.File is assigned by Add.
func (w *Writer) Add(jpeg []byte, f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("screencast: writer closed")
	}
	f.File = fmt.Sprintf("frame-%06d.jpg", len(w.man.Frames)+1)
	if err := os.WriteFile(filepath.Join(w.dir, f.File), jpeg, 0o644); err != nil {
		return fmt.Errorf("screencast: write %s: %w", f.File, err)
	}
	w.man.Frames = append(w.man.Frames, f)
	return nil
}

// Len returns the number of stored frames.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.man.Frames)
}

// Close writes frames.json and returns the directory. A recording without
// frames is removed and Close returns "".
func (w *Writer) Close() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.result(), nil
	}
	w.closed = true

	if len(w.man.Frames) == 0 {
		if err := os.Remove(w.dir); err != nil {
			return "", fmt.Errorf("screencast: remove empty %s: %w", w.dir, err)
		}
		return "", nil
	}
	data, err := json.MarshalIndent(w.man, "", "  ")
	if err != nil {
		return "", fmt.Errorf("screencast: marshal index: %w", err)
	}
	if err := session.WriteFileAtomic(filepath.Join(w.dir, "frames.json"), data); err != nil {
		return "", fmt.Errorf("screencast: write index: %w", err)
	}
	return w.dir, nil
}

func (w *Writer) result() string {
	if len(w.man.Frames) == 0 {
		return ""
	}
	return w.dir
}
