// Package trigger exposes the push endpoints that start fetches and
// extractions. Every delivery is acknowledged, whatever happens to the work it
// asked for; outcomes travel through the reporter instead.
package trigger

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/stager/internal/transfer"
)

const maxBodyBytes = 1 << 20

type Ingester interface {
	Fetch(ctx context.Context, sourceURL, route string) (*transfer.Outcome, error)
	Extract(ctx context.Context, ref transfer.ObjectRef) (*transfer.Outcome, error)
}

type Handler struct {
	ingester Ingester
}

func NewHandler(ingester Ingester) *Handler {
	return &Handler{ingester: ingester}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/fetch", h.Fetch).Methods("POST")
	router.HandleFunc("/extract", h.Extract).Methods("POST")
	router.HandleFunc("/healthz", h.Health).Methods("GET")
}

// NewRouter returns a router with the trigger routes registered.
func NewRouter(ingester Ingester) *mux.Router {
	router := mux.NewRouter()
	NewHandler(ingester).RegisterRoutes(router)
	return router
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	defer ack(w)
	body, err := readBody(r)
	if err != nil {
		log.Error().Str("op", "trigger/handler").Err(err).Msg("error reading fetch trigger")
		return
	}
	req, err := parseFetch(body)
	if err != nil {
		log.Error().Str("op", "trigger/handler").Err(err).Str("message", req.MessageID).Msg("unusable fetch trigger")
		return
	}
	log.Debug().Str("op", "trigger/handler").Str("message", req.MessageID).Msgf("fetch trigger for %s", req.URL)
	// Failures are already logged and reported by the ingester.
	h.ingester.Fetch(r.Context(), req.URL, req.Route)
}

func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	defer ack(w)
	body, err := readBody(r)
	if err != nil {
		log.Error().Str("op", "trigger/handler").Err(err).Msg("error reading extract trigger")
		return
	}
	refs, err := parseExtract(body)
	if err != nil {
		log.Error().Str("op", "trigger/handler").Err(err).Msg("unusable extract trigger")
		return
	}
	for _, ref := range refs {
		log.Debug().Str("op", "trigger/handler").Msgf("extract trigger for %s/%s", ref.Bucket, ref.Path)
		h.ingester.Extract(r.Context(), ref)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "ok")
}
