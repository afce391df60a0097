package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/willexec/willexec/internal/application/engine"
	"github.com/willexec/willexec/internal/application/willstore"
	"github.com/willexec/willexec/internal/domain/execution"
	domainPayout "github.com/willexec/willexec/internal/domain/payout"
	"github.com/willexec/willexec/internal/infrastructure/probe"
	"github.com/willexec/willexec/internal/infrastructure/sse"
)

// StatusSource exposes the control loop status.
type StatusSource interface {
	Status() engine.Status
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	willSvc    *willstore.Service
	executions execution.Repository
	engine     StatusSource
	checkins   *probe.CheckinLedger
	balance    domainPayout.BalanceSource
	sseHub     *sse.Hub
	tokenHash  []byte
	now        func() time.Time
	logger     zerolog.Logger
}

func NewServer(
	willSvc *willstore.Service,
	executions execution.Repository,
	engine StatusSource,
	checkins *probe.CheckinLedger,
	balance domainPayout.BalanceSource,
	sseHub *sse.Hub,
	tokenHash string,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		willSvc:    willSvc,
		executions: executions,
		engine:     engine,
		checkins:   checkins,
		balance:    balance,
		sseHub:     sseHub,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With().Str("service", "httpapi").Logger(),
	}
	if tokenHash != "" {
		s.tokenHash = []byte(tokenHash)
	} else {
		s.logger.Warn().Msg("API_TOKEN_HASH not set; API authentication disabled")
	}
	return s
}

// WithClock overrides the timestamp source used for check-ins.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		// The event stream outlives any request timeout.
		r.Get("/events", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/will", func(r chi.Router) {
				r.Get("/", s.getWill)
				r.Put("/", s.replaceWill)
				r.Patch("/", s.patchWill)
			})
			r.Post("/checkin", s.checkin)
			r.Get("/status", s.getStatus)
			r.Get("/executions", s.listExecutions)
			r.Get("/split", s.previewSplit)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func contextFromRequest(r *http.Request) context.Context {
	return r.Context()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
