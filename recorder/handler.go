package recorder

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/replaygeo/session"
)

// Summary describes a session without its events.
type Summary struct {
	SessionID  string           `json:"sessionId"`
	StartedAt  int64            `json:"startedAt"`
	Recording  bool             `json:"recording"`
	EventCount int              `json:"eventCount"`
	FirstTS    int64            `json:"firstTimestamp,omitempty"`
	LastTS     int64            `json:"lastTimestamp,omitempty"`
	Routes     int              `json:"routes"`
	ByType     map[string]int   `json:"byType"`
	Location   session.Location `json:"location"`
}

// Summarize computes the summary of s.
func Summarize(s *session.Session) Summary {
	sum := Summary{
		SessionID:  s.SessionID,
		StartedAt:  s.StartedAt,
		EventCount: len(s.Events),
		ByType:     make(map[string]int),
	}
	sum.FirstTS, sum.LastTS, _ = session.TimeRange(s.Events)
	for _, ev := range s.Events {
		sum.ByType[ev.Type.String()]++
		if ev.IsRoute() {
			sum.Routes++
		}
	}
	return sum
}

// Handler exposes the live session over HTTP. It is the download action of
// the recorder: GET /session returns the session file as an attachment.
//
//	GET /health
//	GET /session
//	GET /session/summary
func Handler(rec *Recorder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "recording": rec.Recording()})
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			s := rec.Session()
			if s == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session data available"})
				return
			}
			if rec.onDownload != nil {
				rec.onDownload()
			}
			data, err := s.MarshalIndent()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", `attachment; filename="`+s.FileName()+`"`)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			w.Write(data)
		})

		r.Get("/summary", func(w http.ResponseWriter, _ *http.Request) {
			s := rec.Session()
			if s == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session data available"})
				return
			}
			sum := Summarize(s)
			sum.Recording = rec.Recording()
			sum.Location = rec.Location()
			writeJSON(w, http.StatusOK, sum)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
