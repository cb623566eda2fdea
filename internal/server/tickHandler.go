package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"pricewatch/internal/watcher"
)

// watcherTick runs one scheduler pass. The caller (an external cron) sends
// no payload in normal operation; an optional "now" override exists for
// testing the scheduler at a chosen time.
func (s Server) watcherTick() http.HandlerFunc {
	type request struct {
		Now string `json:"now"`
	}
	type response struct {
		Status string `json:"status"`
		watcher.TickReport
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID

		now := time.Now()
		req := request{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.Logger.Debugf("watcherTick: Error decoding JSON, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if req.Now != "" {
			overridden, err := time.Parse(time.RFC3339, req.Now)
			if err != nil {
				s.Logger.Debugf("watcherTick: Bad now override: %q, err: %v, TraceID: %s", req.Now, err, tid)
				http.Error(w, "invalid now, want RFC3339", http.StatusBadRequest)
				return
			}
			now = overridden
		}

		s.Logger.Infof("watcherTick: Tick triggered, now: %s, TraceID: %s", now.Format(time.RFC3339), tid)
		report, err := s.Watcher.RunTick(r.Context(), now)
		if err != nil {
			s.Logger.Errorf("watcherTick: Tick failed, err: %v, TraceID: %s", err, tid)
			s.writeJsonResponse(w, response{Status: "error", TickReport: report}, http.StatusInternalServerError)
			return
		}
		s.writeJsonResponse(w, response{Status: "ok", TickReport: report}, http.StatusOK)
	}
}
