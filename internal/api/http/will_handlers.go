package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/willexec/willexec/internal/domain/will"
)

type accountRequest struct {
	Platform        will.Platform   `json:"platform"`
	Identifier      string          `json:"identifier"`
	GraceWindowDays decimal.Decimal `json:"graceWindowDays"`
}

type willRequest struct {
	StatementText       string                  `json:"statementText"`
	ExecutorIdentity    string                  `json:"executorIdentity"`
	Beneficiaries       []will.BeneficiaryShare `json:"beneficiaries"`
	MonitoredAccounts   []accountRequest        `json:"monitoredAccounts"`
	PollIntervalSeconds int64                   `json:"pollIntervalSeconds"`
	FixedPayoutAmount   *int64                  `json:"fixedPayoutAmount,omitempty"`
}

// willPatchRequest carries only the fields being changed. An explicit
// clearFixedPayoutAmount switches the will back to balance-based payouts.
type willPatchRequest struct {
	StatementText          *string                  `json:"statementText,omitempty"`
	ExecutorIdentity       *string                  `json:"executorIdentity,omitempty"`
	Beneficiaries          *[]will.BeneficiaryShare `json:"beneficiaries,omitempty"`
	MonitoredAccounts      *[]accountRequest        `json:"monitoredAccounts,omitempty"`
	PollIntervalSeconds    *int64                   `json:"pollIntervalSeconds,omitempty"`
	FixedPayoutAmount      *int64                   `json:"fixedPayoutAmount,omitempty"`
	ClearFixedPayoutAmount bool                     `json:"clearFixedPayoutAmount,omitempty"`
}

func toAccounts(in []accountRequest) []will.MonitoredAccount {
	out := make([]will.MonitoredAccount, 0, len(in))
	for _, a := range in {
		out = append(out, will.MonitoredAccount{
			Platform:        a.Platform,
			Identifier:      a.Identifier,
			GraceWindowDays: a.GraceWindowDays,
		})
	}
	return out
}

func (s *Server) getWill(w http.ResponseWriter, r *http.Request) {
	current, err := s.willSvc.Snapshot(contextFromRequest(r))
	if err != nil {
		s.respondWillError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, current)
}

func (s *Server) replaceWill(w http.ResponseWriter, r *http.Request) {
	var req willRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	next, err := s.willSvc.Replace(contextFromRequest(r), &will.Will{
		StatementText:       req.StatementText,
		ExecutorIdentity:    req.ExecutorIdentity,
		Beneficiaries:       req.Beneficiaries,
		MonitoredAccounts:   toAccounts(req.MonitoredAccounts),
		PollIntervalSeconds: req.PollIntervalSeconds,
		FixedPayoutAmount:   req.FixedPayoutAmount,
	})
	if err != nil {
		s.respondWillError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, next)
}

func (s *Server) patchWill(w http.ResponseWriter, r *http.Request) {
	var req willPatchRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.ClearFixedPayoutAmount && req.FixedPayoutAmount != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "fixedPayoutAmount and clearFixedPayoutAmount are exclusive")
		return
	}
	next, err := s.willSvc.Apply(contextFromRequest(r), func(cur *will.Will) error {
		if req.StatementText != nil {
			cur.StatementText = *req.StatementText
		}
		if req.ExecutorIdentity != nil {
			cur.ExecutorIdentity = *req.ExecutorIdentity
		}
		if req.PollIntervalSeconds != nil {
			cur.PollIntervalSeconds = *req.PollIntervalSeconds
		}
		if req.FixedPayoutAmount != nil {
			amt := *req.FixedPayoutAmount
			cur.FixedPayoutAmount = &amt
		}
		if req.ClearFixedPayoutAmount {
			cur.FixedPayoutAmount = nil
		}
		if req.Beneficiaries != nil {
			cur.Beneficiaries = append([]will.BeneficiaryShare(nil), (*req.Beneficiaries)...)
		}
		if req.MonitoredAccounts != nil {
			known := make(map[string]*time.Time, len(cur.MonitoredAccounts))
			for _, a := range cur.MonitoredAccounts {
				known[a.Key()] = a.LastKnownActivityAt
			}
			accounts := toAccounts(*req.MonitoredAccounts)
			for i := range accounts {
				accounts[i].LastKnownActivityAt = known[accounts[i].Key()]
			}
			cur.MonitoredAccounts = accounts
		}
		return nil
	})
	if err != nil {
		s.respondWillError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, next)
}

func (s *Server) respondWillError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, will.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, will.ErrInvalidWill):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		s.logger.Error().Err(err).Msg("will request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
