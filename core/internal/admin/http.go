// Package admin exposes a read-only HTTP status surface over a running
// server.Server: connection counts and a per-connection snapshot, for an
// operator's dashboard or monitoring scrape. It never accepts writes --
// Pause/Resume/Quit are reachable only as methods on the Server value itself.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qsmplabs/qsmp/core/internal/server"
)

// Handler returns a mux.Router serving /status and /connections against
// srv.
func Handler(srv *server.Server) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", statusHandler(srv)).Methods(http.MethodGet)
	r.HandleFunc("/connections", connectionsHandler(srv)).Methods(http.MethodGet)
	return r
}

type statusResponse struct {
	Connections int `json:"connections"`
}

func statusHandler(srv *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statusResponse{Connections: srv.Connections()})
	}
}

func connectionsHandler(srv *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, srv.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
