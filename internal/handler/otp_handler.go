package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-service/internal/models"
	"otp-service/internal/phone"
	"otp-service/internal/service"
	"otp-service/internal/util"
)

// OTPHandler handles HTTP requests for confirmation code issuance
type OTPHandler struct {
	phoneService *service.PhoneConfirmationService
	gpoService   *service.GpoConfirmationService
	logger       *zap.Logger
}

func NewOTPHandler(phoneService *service.PhoneConfirmationService, gpoService *service.GpoConfirmationService, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{
		phoneService: phoneService,
		gpoService:   gpoService,
		logger:       logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

// RegisterRoutes registers all issuance routes
func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/idv", func(r chi.Router) {
		r.Post("/phone/otp", h.SendPhoneOTP)
		r.Post("/phone/otp/confirm", h.ConfirmPhoneOTP)
		r.Post("/gpo/letter", h.IssueGpoLetter)
		r.Post("/gpo/letter/verify", h.VerifyGpoCode)
	})
}

// SendPhoneOTP dispatches a confirmation code over SMS or voice
// @Summary Send a phone confirmation OTP
// @Accept json
// @Produce json
// @Param request body service.SendOTPRequest true "Dispatch request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Router /idv/phone/otp [post]
func (h *OTPHandler) SendPhoneOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.SendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.phoneService.Send(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, phone.ErrParse) || errors.Is(err, service.ErrInvalidDeliveryMethod) {
			status = http.StatusBadRequest
		}
		h.respondWithError(w, status, err, "Failed to send confirmation code")
		return
	}

	if result.RateLimitExceeded {
		h.respondWithJSON(w, http.StatusTooManyRequests, Response{
			Success: false,
			Data:    result,
			Message: "Too many code sends for this phone",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Confirmation code dispatched"))
	h.logger.Info("Phone OTP dispatched via HTTP",
		util.String("user_id", req.UserID),
		util.String("channel", string(req.DeliveryMethod)),
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)),
	)
}

type confirmOTPRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// ConfirmPhoneOTP checks a submitted code against the pending session
func (h *OTPHandler) ConfirmPhoneOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ok, err := h.phoneService.Confirm(ctx, req.UserID, req.Code)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to confirm code")
		return
	}
	if !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Message: "Code is invalid or expired",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Phone confirmed"))
}

type gpoLetterRequest struct {
	PII       models.GpoPII `json:"pii"`
	Issuer    string        `json:"issuer"`
	AgencyID  int           `json:"agency_id"`
	ProfileID *int64        `json:"profile_id"`
}

type gpoLetterResponse struct {
	EntryID string `json:"entry_id"`
	CodeID  string `json:"code_id"`
}

// IssueGpoLetter creates a mailed confirmation entry and its code record
// @Summary Issue a mail confirmation letter
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Router /idv/gpo/letter [post]
func (h *OTPHandler) IssueGpoLetter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req gpoLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.gpoService.Issue(ctx, service.GpoConfirmationRequest{
		PII:       req.PII,
		Issuer:    req.Issuer,
		AgencyID:  req.AgencyID,
		ProfileID: req.ProfileID,
	})
	if err != nil {
		var invalidEntry *service.InvalidEntryError
		switch {
		case errors.Is(err, service.ErrProfileArgument):
			h.respondWithError(w, http.StatusBadRequest, err, "Invalid profile reference")
		case errors.As(err, &invalidEntry):
			h.respondWithError(w, http.StatusUnprocessableEntity, err, "Letter entry failed validation")
		default:
			h.respondWithError(w, http.StatusInternalServerError, err, "Failed to issue letter")
		}
		return
	}

	// The plaintext code stays server-side; only record identifiers go back.
	h.respondWithJSON(w, http.StatusCreated, successResponse(gpoLetterResponse{
		EntryID: result.EntryID,
		CodeID:  result.CodeID,
	}, "Letter queued"))
	h.logger.Info("GPO letter issued via HTTP",
		util.String("entry_id", result.EntryID),
		util.String("issuer", req.Issuer),
		util.Duration("duration", time.Since(startTime)),
	)
}

type gpoVerifyRequest struct {
	ProfileID int64  `json:"profile_id"`
	Code      string `json:"code"`
}

// VerifyGpoCode checks a user-submitted letter code
func (h *OTPHandler) VerifyGpoCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req gpoVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ok, err := h.gpoService.VerifyCode(ctx, req.ProfileID, req.Code)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to verify code")
		return
	}
	if !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Message: "Code is invalid for this profile",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Letter code verified"))
}

func (h *OTPHandler) respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *OTPHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.respondWithJSON(w, status, errorResponse(err, message))
}
