package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reset-guard/internal/service"
	"reset-guard/internal/util"
)

// ResetHandler exposes the password-reset operations over HTTP.
type ResetHandler struct {
	resetService *service.ResetService
	logger       *zap.Logger
}

func NewResetHandler(resetService *service.ResetService, logger *zap.Logger) *ResetHandler {
	return &ResetHandler{
		resetService: resetService,
		logger:       logger,
	}
}

// errorResponse is the caller-facing failure envelope. The message
// never echoes provider internals.
type errorResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *ResetHandler) RegisterRoutes(router chi.Router) {
	router.Route("/password-reset", func(r chi.Router) {
		// Deprecated email-only entry point, kept as a rejection stub.
		r.Post("/", h.LegacyReset)
		r.Post("/phone-verified", h.PhoneVerifiedReset)
	})
}

// LegacyReset unconditionally rejects; it performs no rate limiting
// or business logic.
func (h *ResetHandler) LegacyReset(w http.ResponseWriter, r *http.Request) {
	err := h.resetService.RequestLegacyReset(r.Context())
	h.respondWithServiceError(w, err)
}

// PhoneVerifiedReset runs the guarded reset pipeline. The success
// body is identical whether or not the account exists.
func (h *ResetHandler) PhoneVerifiedReset(w http.ResponseWriter, r *http.Request) {
	var req service.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse{
			OK:      false,
			Code:    string(service.CodeInvalidArgument),
			Message: "Invalid request body.",
		})
		return
	}
	req.ClientIP = clientIP(r)

	result, err := h.resetService.RequestPhoneVerifiedReset(r.Context(), &req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, result)
}

func (h *ResetHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *ResetHandler) respondWithServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		svcErr = &service.Error{
			Code:    service.CodeInternal,
			Message: "Request could not be processed.",
		}
	}

	h.logger.Warn("password reset request rejected",
		util.String("code", string(svcErr.Code)),
		util.Int("status_code", statusCodeFor(svcErr.Code)),
	)

	h.respondWithJSON(w, statusCodeFor(svcErr.Code), errorResponse{
		OK:      false,
		Code:    string(svcErr.Code),
		Message: svcErr.Message,
	})
}

func statusCodeFor(code service.Code) int {
	switch code {
	case service.CodeInvalidArgument:
		return http.StatusBadRequest
	case service.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case service.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case service.CodeUnavailable:
		return http.StatusServiceUnavailable
	case service.CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// clientIP extracts the caller address populated by the RealIP
// middleware; the orchestrator substitutes its own sentinel when
// this comes back empty.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
