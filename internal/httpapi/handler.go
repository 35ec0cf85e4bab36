// Package httpapi exposes the remote-control session over HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"go2tv.app/plexcast/internal/domain"
	"go2tv.app/plexcast/internal/metrics"
	"go2tv.app/plexcast/internal/plex"
	"go2tv.app/plexcast/internal/session"
)

type Handler struct {
	remote  session.Remote
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler for remote. Metrics may be nil.
func NewHandler(remote session.Remote, log *slog.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{remote: remote, log: log, metrics: m}
}

// Router mounts every endpoint with request logging.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(h.log, h.metrics))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.Get("/status", h.GetStatus)
	r.Post("/commands/{command}", h.PostCommand)
	r.Post("/volume", h.PostVolume)
	r.Post("/play-media", h.PostPlayMedia)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /status. The X-Plexcast-Fresh header reports
// whether the receiver answered in time and X-Plexcast-Last-Message names
// the last message sent to it.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.remote.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if status.Fresh {
		w.Header().Set("X-Plexcast-Fresh", "true")
	} else {
		w.Header().Set("X-Plexcast-Fresh", "false")
	}
	w.Header().Set("X-Plexcast-Last-Message", h.remote.LastMessage())
	writeJSON(w, http.StatusOK, status)
}

// PostCommand handles POST /commands/{command}.
func (h *Handler) PostCommand(w http.ResponseWriter, r *http.Request) {
	command := strings.ToLower(chi.URLParam(r, "command"))
	if !slices.Contains(session.Commands, command) {
		h.writeError(w, &plex.UnknownCommandError{Name: command})
		return
	}
	if err := session.Dispatch(r.Context(), h.remote, command); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PostVolume handles POST /volume with body {"percent": 0..100}.
func (h *Handler) PostVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Percent *float64 `json:"percent"`
	}
	if err := decodeBody(w, r, &body); err != nil || body.Percent == nil || *body.Percent < 0 || *body.Percent > 100 {
		h.writeError(w, invalidParams("body must be {\"percent\": 0..100}"))
		return
	}
	if err := h.remote.SetVolume(r.Context(), *body.Percent); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PostPlayMedia handles POST /play-media with a LoadParams body.
func (h *Handler) PostPlayMedia(w http.ResponseWriter, r *http.Request) {
	var params plex.LoadParams
	if err := decodeBody(w, r, &params); err != nil {
		h.writeError(w, invalidParams(err.Error()))
		return
	}
	if err := params.Validate(); err != nil {
		h.writeError(w, invalidParams(err.Error()))
		return
	}
	if err := h.remote.PlayMedia(r.Context(), params); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func invalidParams(message string) *domain.ToolError {
	return &domain.ToolError{Code: "INVALID_PARAMS", Message: message}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	tErr := session.ToolError(err)
	status := statusForCode(tErr.Code)
	if status >= http.StatusInternalServerError {
		h.log.Error("http_handler_error", slog.String("code", tErr.Code), slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]any{"error": tErr})
}

func statusForCode(code string) int {
	switch code {
	case "INVALID_PARAMS":
		return http.StatusBadRequest
	case "PROTOCOL_ERROR":
		return http.StatusConflict
	case "LAUNCH_TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
