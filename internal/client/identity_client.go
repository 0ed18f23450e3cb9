package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"reset-guard/internal/config"
	"reset-guard/internal/normalize"
	"reset-guard/internal/util"
)

// Failure modes of the identity provider, as seen by callers. None
// of these are retried here; one call, one outcome.
var (
	ErrInvalidCode              = errors.New("invalid or expired verification code")
	ErrProviderThrottled        = errors.New("identity provider throttled the request")
	ErrProviderUnavailable      = errors.New("identity provider unreachable")
	ErrProviderInternal         = errors.New("identity provider returned an unexpected error")
	ErrVerificationInconclusive = errors.New("verification result inconclusive")
)

// DispatchOutcome distinguishes the two success shapes of a reset
// dispatch. Both are success as far as callers are concerned: an
// unknown recipient must be indistinguishable from a delivered mail.
type DispatchOutcome int

const (
	DispatchSent DispatchOutcome = iota
	DispatchUnknownRecipient
)

// IdentityClient talks to the external identity provider over its
// REST surface: redeeming SMS verification sessions and triggering
// password-reset notifications.
type IdentityClient struct {
	baseURL    string
	apiKey     string
	region     normalize.Region
	httpClient *http.Client
}

func NewIdentityClient(cfg *config.Config, apiKey string) *IdentityClient {
	return &IdentityClient{
		baseURL: strings.TrimRight(cfg.Identity.BaseURL, "/"),
		apiKey:  apiKey,
		region:  cfg.RateLimit.DefaultRegion,
		httpClient: &http.Client{
			Timeout: cfg.Identity.Timeout,
		},
	}
}

// APIKeyConfigured reports whether the provider secret was resolved
// at startup. The orchestrator turns false into failed-precondition.
func (c *IdentityClient) APIKeyConfigured() bool {
	return c.apiKey != ""
}

type verifyPhoneRequest struct {
	SessionInfo string `json:"sessionInfo"`
	Code        string `json:"code"`
}

type verifyPhoneResponse struct {
	PhoneNumber string `json:"phoneNumber"`
}

type sendOobCodeRequest struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// VerifyPhoneCode redeems an SMS verification session against the
// provider and returns the confirmed phone number in normalized
// form.
func (c *IdentityClient) VerifyPhoneCode(ctx context.Context, sessionID, code string) (string, error) {
	var resp verifyPhoneResponse
	apiErr, err := c.post(ctx, "accounts:signInWithPhoneNumber", verifyPhoneRequest{
		SessionInfo: sessionID,
		Code:        code,
	}, &resp)
	if err != nil {
		return "", err
	}
	if apiErr != "" {
		switch {
		case hasCode(apiErr, "INVALID_CODE"),
			hasCode(apiErr, "INVALID_SESSION_INFO"),
			hasCode(apiErr, "SESSION_EXPIRED"):
			return "", ErrInvalidCode
		case hasCode(apiErr, "TOO_MANY_ATTEMPTS_TRY_LATER"):
			return "", ErrProviderThrottled
		default:
			util.Error("phone verification failed", zap.String("api_error", apiErr))
			return "", ErrProviderInternal
		}
	}

	phone := normalize.Phone(resp.PhoneNumber, c.region)
	if !normalize.IsLikelyE164(phone) {
		util.Error("provider returned unusable phone number",
			zap.String("normalized", phone))
		return "", ErrVerificationInconclusive
	}
	return phone, nil
}

// SendPasswordReset asks the provider to dispatch a reset email. An
// unknown email is reported as DispatchUnknownRecipient with no
// error; callers must not treat it differently from DispatchSent.
func (c *IdentityClient) SendPasswordReset(ctx context.Context, email string) (DispatchOutcome, error) {
	apiErr, err := c.post(ctx, "accounts:sendOobCode", sendOobCodeRequest{
		RequestType: "PASSWORD_RESET",
		Email:       email,
	}, nil)
	if err != nil {
		return DispatchSent, err
	}
	if apiErr != "" {
		switch {
		case hasCode(apiErr, "EMAIL_NOT_FOUND"):
			return DispatchUnknownRecipient, nil
		case hasCode(apiErr, "TOO_MANY_ATTEMPTS_TRY_LATER"):
			return DispatchSent, ErrProviderThrottled
		default:
			util.Error("reset dispatch failed", zap.String("api_error", apiErr))
			return DispatchSent, ErrProviderInternal
		}
	}
	return DispatchSent, nil
}

// post sends one request and decodes either the success payload into
// out or the provider error code into the returned string. Transport
// failures map to ErrProviderUnavailable.
func (c *IdentityClient) post(ctx context.Context, endpoint string, body, out interface{}) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/%s?key=%s", c.baseURL, endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.Error("identity provider call failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return "", ErrProviderUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var pe providerError
		// Undecodable error bodies fall through with an empty code.
		_ = json.NewDecoder(resp.Body).Decode(&pe)
		code := pe.Error.Message
		if code == "" {
			code = "UNKNOWN"
		}
		return code, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			util.Error("failed to decode provider response",
				zap.String("endpoint", endpoint),
				zap.Error(err))
			return "", ErrProviderInternal
		}
	}
	return "", nil
}

// hasCode matches a provider error code, tolerating the
// "CODE : extra detail" suffix form some endpoints emit.
func hasCode(apiErr, code string) bool {
	return apiErr == code || strings.HasPrefix(apiErr, code+" ")
}
