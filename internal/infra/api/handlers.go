package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lodge-codevault/internal/domain"
	"lodge-codevault/internal/infra/logging"
	"lodge-codevault/internal/usecase"
)

const (
	maxBody      = 64 << 10
	maxBatchBody = 8 << 20
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`

	Reference         string     `json:"reference,omitempty"`
	PlanID            string     `json:"planId,omitempty"`
	ClaimedAt         *time.Time `json:"claimedAt,omitempty"`
	DeletedCodesCount *int       `json:"deletedCodesCount,omitempty"`
}

type claimRequest struct {
	PaymentRef string `json:"paymentRef"`
}

type claimResponse struct {
	Code      string `json:"code"`
	ReceiptID string `json:"receiptId"`
}

type deletePlanResponse struct {
	DeletedCodesCount int `json:"deletedCodesCount"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads a single JSON object of at most limit bytes. An empty
// body yields errEmptyBody so optional bodies can be told apart.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return domain.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

// writeError maps a use case error to its HTTP status and error code.
// Internal details are logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorBody(w, r, err, errorBody{})
}

func (s *Server) writeErrorBody(w http.ResponseWriter, r *http.Request, err error, body errorBody) {
	status := http.StatusInternalServerError
	var lost *domain.IssuedButUndecryptableError

	switch {
	case errors.As(err, &lost):
		body.Error, body.Message = "issued_but_undecryptable", "your code could not be delivered; contact support with this reference"
		body.Reference, body.PlanID = lost.Reference, lost.PlanID
		at := lost.ClaimedAt
		body.ClaimedAt = &at
	case errors.Is(err, domain.ErrValidation):
		status, body.Error, body.Message = http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, body.Error, body.Message = http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, domain.ErrExhausted):
		status, body.Error, body.Message = http.StatusConflict, "exhausted", "sold out, choose another plan"
	case errors.Is(err, domain.ErrAlreadyIssued):
		status, body.Error, body.Message = http.StatusConflict, "already_issued", "a code was already issued for this payment"
	case errors.Is(err, domain.ErrAlreadyExists):
		status, body.Error, body.Message = http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, domain.ErrContention):
		status, body.Error, body.Message = http.StatusServiceUnavailable, "contention", "busy, nothing was claimed; retry"
		w.Header().Set("Retry-After", "1")
	case errors.Is(err, domain.ErrCrypto):
		body.Error, body.Message = "crypto_error", "internal error"
	default:
		body.Error, body.Message = "internal", "internal error"
	}

	if status >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("code", body.Error).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func (s *Server) addCode(w http.ResponseWriter, r *http.Request) {
	var in usecase.AddCodeInput
	if err := decodeJSON(w, r, maxBody, &in); err != nil {
		s.writeError(w, r, asValidation(err))
		return
	}
	res, err := s.uc.AddCode(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) addCodes(w http.ResponseWriter, r *http.Request) {
	var in usecase.BatchInput
	if err := decodeJSON(w, r, maxBatchBody, &in); err != nil {
		s.writeError(w, r, asValidation(err))
		return
	}
	res, err := s.uc.AddCodes(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteCode(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.DeleteCode(r.Context(), chi.URLParam(r, "codeId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.uc.ListPlans(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.uc.GetPlan(r.Context(), chi.URLParam(r, "planId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updatePlan(w http.ResponseWriter, r *http.Request) {
	var in usecase.PlanUpdate
	if err := decodeJSON(w, r, maxBody, &in); err != nil {
		s.writeError(w, r, asValidation(err))
		return
	}
	p, err := s.uc.UpdatePlan(r.Context(), chi.URLParam(r, "planId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	n, err := s.uc.DeletePlanCascade(r.Context(), chi.URLParam(r, "planId"))
	if err != nil {
		body := errorBody{}
		if n > 0 {
			body.DeletedCodesCount = &n
		}
		s.writeErrorBody(w, r, err, body)
		return
	}
	writeJSON(w, http.StatusOK, deletePlanResponse{DeletedCodesCount: n})
}

func (s *Server) listCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.uc.ListCodes(r.Context(), chi.URLParam(r, "planId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

func (s *Server) availability(w http.ResponseWriter, r *http.Request) {
	av, err := s.uc.CheckAvailability(r.Context(), chi.URLParam(r, "planId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	var in claimRequest
	if err := decodeJSON(w, r, maxBody, &in); err != nil && !errors.Is(err, errEmptyBody) {
		s.writeError(w, r, err)
		return
	}
	res, err := s.uc.Claim(r.Context(), chi.URLParam(r, "planId"), in.PaymentRef)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, claimResponse{Code: res.Code, ReceiptID: res.Receipt.ID})
}

func (s *Server) getReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.uc.GetReceipt(r.Context(), chi.URLParam(r, "paymentRef"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func asValidation(err error) error {
	if errors.Is(err, errEmptyBody) {
		return domain.Validationf("%v", err)
	}
	return err
}
