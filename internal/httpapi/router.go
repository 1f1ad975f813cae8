// Package httpapi wires the websocket upgrade endpoint alongside the
// health and stats surfaces onto a single chi mux.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/im-delivery-service/internal/persistence"
	"github.com/webitel/im-delivery-service/internal/session"
)

// MarkReadEnqueuer is implemented by *pump.TaskQueue (kept as an
// interface here to avoid importing the pump package into httpapi).
type MarkReadEnqueuer interface {
	EnqueueMarkRead(ctx context.Context, notificationID string) error
}

// NewRouter builds the top-level chi mux: the websocket upgrade on "/",
// a health check, a read-receipt endpoint, and a debug endpoint serving
// one user's notification-count snapshot.
func NewRouter(sessions *session.Manager, markRead MarkReadEnqueuer, store persistence.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/", sessions.ServeHTTP)
	r.Get("/healthz", handleHealthz)
	r.Post("/notifications/{id}/read", handleMarkRead(markRead))
	r.Get("/debug/counts", handleCounts(store))

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleMarkRead(markRead MarkReadEnqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "missing notification id", http.StatusBadRequest)
			return
		}
		if err := markRead.EnqueueMarkRead(r.Context(), id); err != nil {
			http.Error(w, "failed to enqueue", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleCounts(store persistence.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "missing userId", http.StatusBadRequest)
			return
		}

		counts, err := store.CountSnapshot(r.Context(), userID)
		if err != nil {
			http.Error(w, "failed to read counts", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counts)
	}
}
