package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"conversation-transcriber-service/internal/app"
	"conversation-transcriber-service/internal/enrollment"
	"conversation-transcriber-service/internal/observability"
	"conversation-transcriber-service/internal/service/attribution"
)

// maxSampleBytes bounds an enrollment upload (about five minutes of
// 16 kHz mono PCM).
const maxSampleBytes = 10 << 20

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	// Health endpoints
	r.Get("/v1/liveness", observability.Liveness)
	r.Get("/v1/readiness", application.Ready.Handler())
	r.Get("/healthz", observability.Liveness)
	r.Get("/readyz", application.Ready.Handler())

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/voice-signatures", enrollHandler(application.Enroller))
		r.Get("/conversations/{conversationID}/connection-url", connectionURLHandler(application))
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Writing response failed")
	}
}

// enrollHandler creates a voice signature from the raw sample in the
// request body (WAV or 16 kHz mono PCM).
func enrollHandler(e enrollment.Enroller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sample, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSampleBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		res, err := e.Enroll(r.Context(), sample)
		if err != nil {
			writeJSON(w, enrollStatus(err), errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func enrollStatus(err error) int {
	switch {
	case errors.Is(err, enrollment.ErrEmptySample):
		return http.StatusBadRequest
	case errors.Is(err, enrollment.ErrSampleTooShort),
		errors.Is(err, enrollment.ErrRejected),
		errors.Is(err, attribution.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

type connectionURLResponse struct {
	ConversationID string `json:"conversationId"`
	URL            string `json:"url"`
}

func connectionURLHandler(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")
		url, err := application.Speech.ConnectionURL(id)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, connectionURLResponse{ConversationID: id, URL: url})
	}
}
