// Package web exposes the in-progress run over HTTP: live per-target
// summaries from the recorder's in-memory series and the scheduler's round
// accounting. The server is read-only and optional.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/karatag/satsweep/record"
	"github.com/karatag/satsweep/schedule"
	"github.com/karatag/satsweep/stats"
)

type Server struct {
	http *http.Server
	rec  *record.Recorder
	rep  *schedule.Report
}

func New(listen string, rec *record.Recorder, rep *schedule.Report) *Server {
	s := &Server{rec: rec, rep: rep}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/stats", s.statsHandler).Methods("GET")
	r.HandleFunc("/api/v1/run", s.runHandler).Methods("GET")

	s.http = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background until Stop. Listen failures are logged,
// not fatal: the collection run never depends on the API socket.
func (s *Server) Start() {
	go func() {
		logrus.Infof("[api] listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("[api] %s", err)
		}
	}()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		logrus.Errorf("[api] shutdown: %s", err)
	}
}

// statsHandler returns the live per-target summaries, recomputed from the
// recorder's series on every request.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	summaries := make([]stats.Summary, 0)
	for _, id := range s.rec.Targets() {
		summaries = append(summaries, stats.Summarize(id, s.rec.Series(id)))
	}
	writeJSON(w, summaries)
}

type runStatus struct {
	Rounds      int    `json:"rounds"`
	Overlapping int    `json:"overlapping_rounds"`
	Skipped     int    `json:"skipped_probes"`
	Successes   int    `json:"successes"`
	Failures    int    `json:"failures"`
	Dropped     uint64 `json:"dropped_records"`
}

func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, runStatus{
		Rounds:      s.rep.Rounds(),
		Overlapping: s.rep.Overlapping(),
		Skipped:     s.rep.Skipped(),
		Successes:   s.rep.Successes(),
		Failures:    s.rep.Failures(),
		Dropped:     s.rec.Dropped(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
