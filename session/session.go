// Package session defines the capture trace shared by the recorder and the
// geometry extractor: the Session envelope, the Event tagged union and the
// JSON file format connecting the two.
//
// A session file is either {"sessionId", "startedAt", "events"} or a bare
// array of events.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned by Load when the file does not exist.
	ErrNotFound = errors.New("session: file not found")
	// ErrParse is returned when the input is not valid JSON.
	ErrParse = errors.New("session: invalid JSON")
	// ErrFormat is returned when the JSON matches neither accepted shape.
	ErrFormat = errors.New("session: invalid session format, expected { sessionId, startedAt, events } or an array of events")
	// ErrNoEvents is returned when the event array is empty.
	ErrNoEvents = errors.New("session: no events found in the session")
)

// UnknownSessionID names sessions loaded without an identifier.
const UnknownSessionID = "unknown-session"

// Session is one continuous capture.
type Session struct {
	SessionID string  `json:"sessionId"`
	StartedAt int64   `json:"startedAt"`
	Events    []Event `json:"events"`
}

// Parse decodes a session document in either accepted shape.
func Parse(data []byte) (*Session, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		var v any
		err := json.Unmarshal(trimmed, &v)
		if err == nil {
			err = errors.New("unexpected trailing data")
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	s := &Session{SessionID: UnknownSessionID}
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &s.Events); err != nil {
			return nil, formatErr(err)
		}
	case '{':
		var peek struct {
			SessionID json.RawMessage `json:"sessionId"`
			StartedAt json.RawMessage `json:"startedAt"`
			Events    json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &peek); err != nil {
			return nil, formatErr(err)
		}
		ev := bytes.TrimSpace(peek.Events)
		if len(ev) == 0 || ev[0] != '[' {
			return nil, ErrFormat
		}
		if err := json.Unmarshal(ev, &s.Events); err != nil {
			return nil, formatErr(err)
		}
		var id string
		if json.Unmarshal(peek.SessionID, &id) == nil && id != "" {
			s.SessionID = id
		}
		if n, ok := number(peek.StartedAt); ok {
			s.StartedAt = int64(n)
		}
	default:
		return nil, ErrFormat
	}

	if len(s.Events) == 0 {
		return nil, ErrNoEvents
	}
	return s, nil
}

func formatErr(err error) error {
	if errors.Is(err, ErrFormat) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrFormat, err)
}

// Load reads and parses the session file at path.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	return Parse(data)
}

// FileName is the download name of the session: session-<id>.json.
func (s *Session) FileName() string {
	return "session-" + s.SessionID + ".json"
}

// MarshalIndent serialises the session with two-space indentation.
func (s *Session) MarshalIndent() ([]byte, error) {
	events := s.Events
	if events == nil {
		events = []Event{}
	}
	return json.MarshalIndent(Session{SessionID: s.SessionID, StartedAt: s.StartedAt, Events: events}, "", "  ")
}

// WriteFile writes the session into dir under FileName and returns the path.
func (s *Session) WriteFile(dir string) (string, error) {
	data, err := s.MarshalIndent()
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	path := filepath.Join(dir, s.FileName())
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so readers never observe a partial document.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: rename %s: %w", path, err)
	}
	return nil
}
