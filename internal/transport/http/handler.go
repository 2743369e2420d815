package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"accounting/internal/model"
	"accounting/internal/service"
)

// Authenticator resolves the Authorization header into the calling actor.
type Authenticator interface {
	FromHeader(header string) (model.Actor, error)
}

type Handler struct {
	svc  service.AccountingService
	auth Authenticator
}

func NewHandler(svc service.AccountingService, auth Authenticator) *Handler {
	return &Handler{svc: svc, auth: auth}
}

type bulk[T any] struct {
	Items []T `json:"items"`
}

type authedFunc func(w http.ResponseWriter, r *http.Request, actor model.Actor)

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /balance/retrieve", h.authed(h.RetrieveBalance))
	mux.HandleFunc("POST /balance/add", h.authed(h.AddToBalance))
	mux.HandleFunc("POST /balance/add-bulk", h.authed(h.AddToBalanceBulk))
	mux.HandleFunc("POST /balance/set", h.authed(h.SetBalance))
	mux.HandleFunc("POST /credits/reserve", h.authed(h.ReserveCredits))
	mux.HandleFunc("POST /credits/reserve-bulk", h.authed(h.ReserveCreditsBulk))
	mux.HandleFunc("POST /credits/charge", h.authed(h.ChargeReservation))
	mux.HandleFunc("POST /credits/transfer-to-personal", h.authed(h.TransferToPersonal))
	mux.HandleFunc("POST /credits/reserved", h.authed(h.ReservedCredits))
}

func (h *Handler) authed(next authedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := h.auth.FromHeader(r.Header.Get("Authorization"))
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, actor)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) RetrieveBalance(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req model.RetrieveBalanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	wallets, err := h.svc.RetrieveBalance(r.Context(), actor, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	if wallets == nil {
		wallets = []model.WalletBalance{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"wallets": wallets})
}

func (h *Handler) AddToBalance(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req model.AddToBalanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.AddToBalance(r.Context(), actor, req); err != nil {
		h.fail(w, err)
		return
	}
	h.respondSuccess(w)
}

func (h *Handler) AddToBalanceBulk(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req bulk[model.AddToBalanceRequest]
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.AddToBalanceBulk(r.Context(), actor, req.Items); err != nil {
		h.fail(w, err)
		return
	}
	h.respondSuccess(w)
}

func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req model.SetBalanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetBalance(r.Context(), actor, req); err != nil {
		h.fail(w, err)
		return
	}
	h.respondSuccess(w)
}

func (h *Handler) ReserveCredits(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req model.ReserveCreditsRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.svc.ReserveCredits(r.Context(), actor, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (h *Handler) ReserveCreditsBulk(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req bulk[model.ReserveCreditsRequest]
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.svc.ReserveCreditsBulk(r.Context(), actor, req.Items)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (h *Handler) ChargeReservation(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req model.ChargeReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ChargeReservation(r.Context(), actor, req); err != nil {
		h.fail(w, err)
		return
	}
	h.respondSuccess(w)
}

func (h *Handler) TransferToPersonal(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req bulk[model.TransferToPersonalRequest]
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.TransferToPersonal(r.Context(), actor, req.Items); err != nil {
		h.fail(w, err)
		return
	}
	h.respondSuccess(w)
}

func (h *Handler) ReservedCredits(w http.ResponseWriter, r *http.Request, actor model.Actor) {
	var req model.ReservedCreditsRequest
	if !h.decode(w, r, &req) {
		return
	}
	reserved, err := h.svc.ReservedCredits(r.Context(), actor, req.Wallet)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"reserved": reserved})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// StatusFor maps ledger errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("http: request failed", "error", err)
		h.respondError(w, status, "internal_error")
		return
	}
	h.respondError(w, status, err.Error())
}

func (h *Handler) respondSuccess(w http.ResponseWriter) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
