package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"marketplace-sync-service/internal/marketplace"
	"marketplace-sync-service/internal/metrics"
	"marketplace-sync-service/internal/sync"
)

type Handler struct {
	manager   *sync.Manager
	authToken string
}

func NewHandler(manager *sync.Manager, authToken string) *Handler {
	return &Handler{
		manager:   manager,
		authToken: authToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.authToken))

		r.Post("/sync", h.TriggerSync)
		r.Post("/sync/stop", h.StopSync)
		r.Get("/sync/status", h.GetSyncStatus)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type triggerRequest struct {
	ResourceType     string   `json:"resource_type"`
	Accounts         []string `json:"accounts"`
	Mode             string   `json:"mode"`
	MaxPages         int      `json:"max_pages"`
	ItemsPerPage     int      `json:"items_per_page"`
	ConflictStrategy string   `json:"conflict_strategy"`
}

// TriggerSync accepts a sync request. The default is asynchronous: 202 with
// the run id. ?wait=1 blocks until the run finishes (200 with the final
// SyncLog) or the server's write budget expires (408). A run already active
// for the resource type is a 409, never a queue.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var body triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resource, err := marketplace.ParseResourceType(body.ResourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accounts, err := sync.ParseAccounts(body.Accounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := sync.Request{
		ResourceType: resource,
		Accounts:     accounts,
		Mode:         sync.Mode(body.Mode),
		MaxPages:     body.MaxPages,
		ItemsPerPage: body.ItemsPerPage,
		Strategy:     body.ConflictStrategy,
	}

	if r.URL.Query().Get("wait") == "1" {
		log, err := h.manager.StartAndWait(r.Context(), req)
		switch {
		case errors.Is(err, sync.ErrSyncInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, sync.ErrWaitTimeout):
			writeError(w, http.StatusRequestTimeout, err.Error())
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeJSON(w, http.StatusOK, log)
		}
		return
	}

	runID, err := h.manager.Start(req)
	if errors.Is(err, sync.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

type stopRequest struct {
	ResourceType string `json:"resource_type"`
}

func (h *Handler) StopSync(w http.ResponseWriter, r *http.Request) {
	var body stopRequest
	// An empty body means stop everything.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if body.ResourceType == "" {
		stopped := h.manager.StopAll()
		writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
		return
	}

	resource, err := marketplace.ParseResourceType(body.ResourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.manager.Stop(resource) {
		writeJSON(w, http.StatusOK, map[string]int{"stopped": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": 1})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	resource, err := marketplace.ParseResourceType(r.URL.Query().Get("resource_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.manager.Status(r.Context(), resource)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware checks a static bearer token. An empty configured token
// disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != token {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
