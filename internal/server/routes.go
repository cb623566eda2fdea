package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMw, s.maxBytesMw)

	r.HandleFunc("/health", s.health()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMw)
	api.HandleFunc("/watcher/tick", s.watcherTick()).Methods(http.MethodPost)
	api.HandleFunc("/watch", s.watchGetAll()).Methods(http.MethodGet)
	api.HandleFunc("/watch/{chatID}", s.watchGetForChat()).Methods(http.MethodGet)
	api.PathPrefix("").Handler(http.NotFoundHandler())

	return r
}

func (s Server) health() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJsonResponse(w, response{Status: "ok"}, http.StatusOK)
	}
}
