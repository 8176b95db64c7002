package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxEventBody = 1 << 20

// Handler exposes the push endpoint for object change notifications.
type Handler struct {
	pipeline *Pipeline
	logger   *log.Logger
	client   *http.Client
}

func NewHandler(pipeline *Pipeline, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		pipeline: pipeline,
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Routes constructs the chi router for the event surface.
func (h *Handler) Routes() (http.Handler, error) {
	if h == nil || h.pipeline == nil {
		return nil, errors.New("nil handler")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events/object-change", h.handleObjectChange)
	})

	return r, nil
}

func (h *Handler) handleObjectChange(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	defer r.Body.Close()
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("request body required"))
		return
	}

	// SNS sends a one-time confirmation when the webhook loop subscribes the
	// endpoint. Confirm it inline and stop.
	if env, err := ParseEnvelope(body); err == nil && env.Kind == KindSubscriptionConfirmation {
		h.confirmSubscription(r, env.SubscribeURL)
		respondJSON(w, http.StatusOK, map[string]any{"confirmed": true})
		return
	}

	connectorID := strings.TrimSpace(r.URL.Query().Get("connector_id"))
	applied, err := h.pipeline.Process(r.Context(), connectorID, body)
	if err != nil {
		switch {
		case errors.Is(err, ErrMalformedEvent):
			respondError(w, http.StatusBadRequest, err)
		case errors.Is(err, ErrUnknownTarget):
			respondError(w, http.StatusNotFound, err)
		default:
			respondError(w, http.StatusBadGateway, err)
		}
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{"applied": applied})
}

func (h *Handler) confirmSubscription(r *http.Request, subscribeURL string) {
	if !strings.HasPrefix(subscribeURL, "https://") {
		h.logger.Printf("WARN events: refusing non-https SubscribeURL %q", subscribeURL)
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, subscribeURL, nil)
	if err != nil {
		h.logger.Printf("WARN events: build confirmation request: %v", err)
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Printf("WARN events: confirm subscription: %v", err)
		return
	}
	resp.Body.Close()
	h.logger.Printf("INFO events: confirmed subscription via %s (%d)", subscribeURL, resp.StatusCode)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
