package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/talentgrid/payverify/internal/infrastructure/auth"
	"github.com/talentgrid/payverify/internal/infrastructure/redis"
	"github.com/talentgrid/payverify/internal/models"
	"github.com/talentgrid/payverify/internal/oracle"
	"github.com/talentgrid/payverify/internal/repository"
	service "github.com/talentgrid/payverify/internal/services"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

type Handler struct {
	charges     service.ChargeService
	verifier    service.VerificationService
	relay       service.RelayService
	pointsRepo  repository.PointsRepository
	displayRate *oracle.DisplayClient
	redisClient redis.RedisClient
	jwtSecret   string
}

func NewHandler(
	charges service.ChargeService,
	verifier service.VerificationService,
	relay service.RelayService,
	pointsRepo repository.PointsRepository,
	displayRate *oracle.DisplayClient,
	redisClient redis.RedisClient,
	jwtSecret string,
) *Handler {
	return &Handler{
		charges:     charges,
		verifier:    verifier,
		relay:       relay,
		pointsRepo:  pointsRepo,
		displayRate: displayRate,
		redisClient: redisClient,
		jwtSecret:   jwtSecret,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/session", h.CreateSession).Methods("POST")
	r.HandleFunc("/rates", h.GetDisplayRate).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/charges", h.CreateCharge).Methods("POST")
	r.HandleFunc("/verify", h.Verify).Methods("POST")
	r.HandleFunc("/relay/charges", h.CreateRelayCharge).Methods("POST")
	r.HandleFunc("/relay/submit", h.SubmitRelay).Methods("POST")
	r.HandleFunc("/points", h.GetPoints).Methods("GET")
}

// statusFor maps domain errors to HTTP statuses. Clients only ever see
// three families: user-level errors are 400, infrastructure outages 503,
// everything unexpected 500. The structured body carries the distinction
// the poller acts on (not-found-yet vs expired vs underpaid).
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrNoTransferDetected),
		errors.Is(err, pkgerrors.ErrRecipientNotInvolved),
		errors.Is(err, pkgerrors.ErrTamperedTransaction),
		errors.Is(err, pkgerrors.ErrRelayRejected),
		errors.Is(err, pkgerrors.ErrAmountOutOfTolerance),
		errors.Is(err, pkgerrors.ErrReferenceNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrAlreadyClaimed),
		errors.Is(err, pkgerrors.ErrReferenceExpired),
		errors.Is(err, pkgerrors.ErrTransactionExpired),
		errors.Is(err, pkgerrors.ErrNotConfirmed):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrOracleUnavailable),
		errors.Is(err, pkgerrors.ErrChainUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
		Message       string `json:"message"`
		Signature     string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WalletAddress == "" || req.Message == "" || req.Signature == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("wallet_address, message and signature are required"))
		return
	}

	if err := auth.VerifyWalletSignature(req.WalletAddress, req.Message, req.Signature); err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}

	token, err := auth.GenerateWalletToken(r.Context(), h.redisClient, h.jwtSecret, req.WalletAddress)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	wallet, ok := r.Context().Value("wallet_address").(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("wallet not authenticated"))
		return
	}

	var req struct {
		Action models.ActionType `json:"action"`
		Memo   string            `json:"memo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.charges.CreateCharge(r.Context(), req.Action, req.Memo, wallet)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

type settlementFields struct {
	XUserID     string  `json:"x_user_id,omitempty"`
	JobTitle    string  `json:"job_title,omitempty"`
	JobCompany  string  `json:"job_company,omitempty"`
	Description string  `json:"description,omitempty"`
	TaskTitle   string  `json:"task_title,omitempty"`
	RewardUSD   float64 `json:"reward_usd,omitempty"`
}

func (f settlementFields) toRequest() service.SettlementRequest {
	return service.SettlementRequest{
		XUserID:     f.XUserID,
		JobTitle:    f.JobTitle,
		JobCompany:  f.JobCompany,
		Description: f.Description,
		TaskTitle:   f.TaskTitle,
		RewardUSD:   f.RewardUSD,
	}
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	wallet, ok := r.Context().Value("wallet_address").(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("wallet not authenticated"))
		return
	}

	var req struct {
		Reference string `json:"reference"`
		Signature string `json:"signature,omitempty"`
		settlementFields
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reference == "" && req.Signature == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("reference or signature is required"))
		return
	}

	result, err := h.verifier.Verify(r.Context(), service.VerifyRequest{
		Reference:     req.Reference,
		Signature:     req.Signature,
		WalletAddress: wallet,
		Settlement:    req.settlementFields.toRequest(),
	})
	if err != nil {
		if result != nil {
			// Out-of-tolerance carries the observed amount back to the caller.
			h.writeJSON(w, statusFor(err), map[string]interface{}{
				"verified": result.Verified,
				"amount":   result.Amount,
				"error":    err.Error(),
			})
			return
		}
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CreateRelayCharge(w http.ResponseWriter, r *http.Request) {
	wallet, ok := r.Context().Value("wallet_address").(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("wallet not authenticated"))
		return
	}

	var req struct {
		Action models.ActionType `json:"action"`
		Memo   string            `json:"memo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.relay.CreateRelayCharge(r.Context(), req.Action, wallet, req.Memo)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SubmitRelay(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.Context().Value("wallet_address").(string); !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("wallet not authenticated"))
		return
	}

	var req struct {
		Reference   string `json:"reference"`
		Transaction string `json:"transaction"`
		settlementFields
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reference == "" || req.Transaction == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("reference and transaction are required"))
		return
	}

	result, err := h.relay.SubmitRelay(r.Context(), service.SubmitRelayRequest{
		Reference:  req.Reference,
		SignedTx:   req.Transaction,
		Settlement: req.settlementFields.toRequest(),
	})
	if err != nil {
		if result != nil {
			h.writeJSON(w, statusFor(err), map[string]interface{}{
				"verified": result.Verified,
				"amount":   result.Amount,
				"error":    err.Error(),
			})
			return
		}
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetDisplayRate serves the UI quote price. Best-effort by design; the
// verification path uses the strict oracle instead.
func (h *Handler) GetDisplayRate(w http.ResponseWriter, r *http.Request) {
	rate := h.displayRate.DisplayRate(r.Context(), "solana", "usd")
	h.writeJSON(w, http.StatusOK, map[string]float64{"sol_usd": rate})
}

func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	wallet, ok := r.Context().Value("wallet_address").(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("wallet not authenticated"))
		return
	}

	points, err := h.pointsRepo.GetWalletPoints(r.Context(), wallet)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"points": points})
}
