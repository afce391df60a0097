package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	appPayout "github.com/willexec/willexec/internal/application/payout"
	"github.com/willexec/willexec/internal/domain/event"
	domainPayout "github.com/willexec/willexec/internal/domain/payout"
	"github.com/willexec/willexec/internal/domain/will"
	"github.com/willexec/willexec/internal/infrastructure/sse"
)

type checkinRequest struct {
	Identifier string     `json:"identifier"`
	At         *time.Time `json:"at,omitempty"`
}

// checkin records proof of life for a checkin-platform account and, when
// the will lists that account, persists the timestamp right away.
func (s *Server) checkin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Identifier == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "identifier is required")
		return
	}
	now := s.now()
	at := now
	if req.At != nil {
		if req.At.After(now) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "at must not be in the future")
			return
		}
		at = req.At.UTC()
	}
	latest := s.checkins.Record(req.Identifier, at)

	err := s.willSvc.RecordActivity(contextFromRequest(r), []will.ActivityUpdate{
		{Platform: will.PlatformCheckin, Identifier: req.Identifier, At: latest},
	})
	if err != nil && !errors.Is(err, will.ErrNotFound) {
		s.logger.Error().Err(err).Str("identifier", req.Identifier).Msg("failed to persist check-in")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.logger.Info().Str("identifier", req.Identifier).Time("at", latest).Msg("check-in recorded")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"identifier":    req.Identifier,
		"lastCheckinAt": latest,
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 20, 100)
	execs, err := s.executions.List(contextFromRequest(r), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"executions": execs})
}

// previewSplit shows how a pool would be divided under the current will.
// Without ?total the will's fixed amount or the rail balance is used.
func (s *Server) previewSplit(w http.ResponseWriter, r *http.Request) {
	ctx := contextFromRequest(r)
	current, err := s.willSvc.Snapshot(ctx)
	if err != nil {
		s.respondWillError(w, err)
		return
	}

	var total int64
	switch v := r.URL.Query().Get("total"); {
	case v != "":
		total, err = strconv.ParseInt(v, 10, 64)
		if err != nil || total < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "total must be a non-negative integer")
			return
		}
	case current.FixedPayoutAmount != nil:
		total = *current.FixedPayoutAmount
	case s.balance != nil:
		total, err = s.balance.AvailableBalance(ctx)
		if err != nil {
			respondError(w, http.StatusBadGateway, "RAIL_ERROR", err.Error())
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "total required")
		return
	}

	allocations, err := appPayout.Split(total, current.Beneficiaries)
	if err != nil {
		if errors.Is(err, domainPayout.ErrInvalidConfiguration) {
			respondError(w, http.StatusUnprocessableEntity, "INVALID_CONFIGURATION", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":       total,
		"allocations": allocations,
	})
}

func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	var types []event.Type
	for _, t := range splitCSV(r.URL.Query().Get("types")) {
		types = append(types, event.Type(t))
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := sse.NewClient(uuid.NewString(), types)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client.ClientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-client.MessageChan:
			if !ok {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + string(msg.Type) + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
