package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"pricewatch/internal/model"
)

func (s Server) watchGetAll() http.HandlerFunc {
	type response struct {
		Watches map[int64][]model.Watch `json:"watches"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJsonResponse(w, response{Watches: s.Store.All()}, http.StatusOK)
	}
}

func (s Server) watchGetForChat() http.HandlerFunc {
	type response struct {
		ChatID  int64         `json:"chat_id"`
		Watches []model.Watch `json:"watches"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID

		chatID, err := strconv.ParseInt(mux.Vars(r)["chatID"], 10, 64)
		if err != nil {
			s.Logger.Debugf("watchGetForChat: Bad chat ID: %q, err: %v, TraceID: %s", mux.Vars(r)["chatID"], err, tid)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		s.writeJsonResponse(w, response{ChatID: chatID, Watches: s.Store.WatchesFor(chatID)}, http.StatusOK)
	}
}
