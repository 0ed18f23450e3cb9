package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"reset-guard/internal/client"
	"reset-guard/internal/models"
	"reset-guard/internal/normalize"
	"reset-guard/internal/util"
)

// unknownIPSentinel keys the IP-scope counter when the transport
// layer could not supply a caller address.
const unknownIPSentinel = "unknown"

// RateEnforcer checks one rate-limit scope for one raw identifier.
type RateEnforcer interface {
	Enforce(ctx context.Context, scope models.Scope, identifier string, now time.Time) error
}

// CodeVerifier is the identity-provider surface the orchestrator
// depends on: redeeming SMS verification sessions and dispatching
// reset notifications.
type CodeVerifier interface {
	VerifyPhoneCode(ctx context.Context, sessionID, code string) (string, error)
	SendPasswordReset(ctx context.Context, email string) (client.DispatchOutcome, error)
	APIKeyConfigured() bool
}

// Directory looks up accounts and their enrolled factors. Not-found
// is reported through the bool, never as an error.
type Directory interface {
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, bool, error)
}

// AuditPublisher records terminal orchestration outcomes. Publish
// failures must not affect the caller-facing result.
type AuditPublisher interface {
	Publish(ctx context.Context, event models.ResetAuditEvent)
}

// ResetRequest is the caller-submitted verification attempt. It
// lives only for the duration of one orchestration.
type ResetRequest struct {
	Email          string `json:"email"`
	PhoneNumber    string `json:"phone_number"`
	VerificationID string `json:"verification_id"`
	SMSCode        string `json:"sms_code"`

	// ClientIP comes from the transport layer, not the payload.
	ClientIP string `json:"-"`
}

// ResetResult is deliberately shapeless: identical whether the
// account existed or not.
type ResetResult struct {
	OK bool `json:"ok"`
}

// ResetService sequences the phone-verified password-reset pipeline:
// validation, rate checks, code verification, phone match, directory
// lookup, factor match, dispatch. Every step is fail-fast; nothing
// is retried; already-incremented counters are never rolled back.
type ResetService struct {
	limiter   RateEnforcer
	verifier  CodeVerifier
	directory Directory
	audit     AuditPublisher
	region    normalize.Region
	now       func() time.Time
}

func NewResetService(limiter RateEnforcer, verifier CodeVerifier, directory Directory, audit AuditPublisher, region normalize.Region) *ResetService {
	return &ResetService{
		limiter:   limiter,
		verifier:  verifier,
		directory: directory,
		audit:     audit,
		region:    region,
		now:       time.Now,
	}
}

// resetState enumerates the pipeline. Transitions only move forward;
// any state can fail terminally.
type resetState int

const (
	stateValidating resetState = iota
	stateRateLimiting
	stateVerifyingCode
	statePhoneMatch
	stateDirectoryLookup
	stateFactorMatch
	stateDispatching
	stateDone
)

func (s resetState) String() string {
	switch s {
	case stateValidating:
		return "validating"
	case stateRateLimiting:
		return "rate_limiting"
	case stateVerifyingCode:
		return "verifying_code"
	case statePhoneMatch:
		return "phone_match"
	case stateDirectoryLookup:
		return "directory_lookup"
	case stateFactorMatch:
		return "factor_match"
	case stateDispatching:
		return "dispatching"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// resetRun carries the values derived as one orchestration advances.
type resetRun struct {
	svc *ResetService
	now time.Time

	raw *ResetRequest

	email         string
	phone         string
	clientIP      string
	verifiedPhone string
	account       *models.Account
}

// RequestPhoneVerifiedReset runs the full pipeline for one attempt.
// On success the result is {ok:true} regardless of whether the
// target account exists.
func (s *ResetService) RequestPhoneVerifiedReset(ctx context.Context, req *ResetRequest) (*ResetResult, error) {
	run := &resetRun{svc: s, now: s.now(), raw: req}

	state := stateValidating
	for state != stateDone {
		next, err := run.step(ctx, state)
		if err != nil {
			s.auditOutcome(ctx, run, state, err)
			util.Warn("password reset attempt failed",
				util.String("state", state.String()),
				util.ErrorField(err))
			return nil, err
		}
		state = next
	}

	s.auditOutcome(ctx, run, stateDone, nil)
	util.Info("password reset attempt completed")
	return &ResetResult{OK: true}, nil
}

// RequestLegacyReset is the deprecated entry point. It rejects every
// call before touching any limiter or provider state.
func (s *ResetService) RequestLegacyReset(ctx context.Context) error {
	if s.audit != nil {
		s.audit.Publish(ctx, models.ResetAuditEvent{
			EventType: models.AuditResetDeprecated,
			EventTime: s.now(),
		})
	}
	return newError(CodeFailedPrecondition,
		"This endpoint is no longer supported. Use the phone-verified password reset flow.")
}

func (r *resetRun) step(ctx context.Context, state resetState) (resetState, error) {
	switch state {
	case stateValidating:
		return r.validate()
	case stateRateLimiting:
		return r.rateLimit(ctx)
	case stateVerifyingCode:
		return r.verifyCode(ctx)
	case statePhoneMatch:
		return r.matchPhone()
	case stateDirectoryLookup:
		return r.lookupAccount(ctx)
	case stateFactorMatch:
		return r.matchFactor()
	case stateDispatching:
		return r.dispatch(ctx)
	default:
		return stateDone, newError(CodeInternal, "password reset pipeline entered an unknown state")
	}
}

func (r *resetRun) validate() (resetState, error) {
	r.email = normalize.Email(r.raw.Email)
	if !normalize.IsValidEmail(r.email) {
		return stateValidating, newError(CodeInvalidArgument, "A valid email address is required.")
	}

	r.phone = normalize.Phone(r.raw.PhoneNumber, r.svc.region)
	if !normalize.IsLikelyE164(r.phone) {
		return stateValidating, newError(CodeInvalidArgument, "A valid phone number in international format is required.")
	}

	if strings.TrimSpace(r.raw.VerificationID) == "" || strings.TrimSpace(r.raw.SMSCode) == "" {
		return stateValidating, newError(CodeInvalidArgument, "Verification session and SMS code are required.")
	}

	if !r.svc.verifier.APIKeyConfigured() {
		return stateValidating, newError(CodeFailedPrecondition, "Password reset is not available right now.")
	}

	r.clientIP = strings.TrimSpace(r.raw.ClientIP)
	if r.clientIP == "" {
		r.clientIP = unknownIPSentinel
	}

	return stateRateLimiting, nil
}

// rateLimit enforces the three scopes sequentially. Each check is an
// independent transaction: passing the email check and failing the
// phone check leaves the email counter incremented, by accepted
// policy.
func (r *resetRun) rateLimit(ctx context.Context) (resetState, error) {
	checks := []struct {
		scope      models.Scope
		identifier string
	}{
		{models.ScopePasswordResetEmail, r.email},
		{models.ScopePasswordResetPhone, r.phone},
		{models.ScopePasswordResetIP, r.clientIP},
	}

	for _, check := range checks {
		if err := r.svc.limiter.Enforce(ctx, check.scope, check.identifier, r.now); err != nil {
			return stateRateLimiting, err
		}
	}
	return stateVerifyingCode, nil
}

func (r *resetRun) verifyCode(ctx context.Context) (resetState, error) {
	phone, err := r.svc.verifier.VerifyPhoneCode(ctx, r.raw.VerificationID, r.raw.SMSCode)
	switch {
	case err == nil:
		r.verifiedPhone = phone
		return statePhoneMatch, nil
	case errors.Is(err, client.ErrInvalidCode):
		return stateVerifyingCode, newError(CodeInvalidArgument, "The SMS code is invalid or has expired.")
	case errors.Is(err, client.ErrProviderThrottled):
		return stateVerifyingCode, newError(CodeResourceExhausted, "Too many verification attempts. Please try again later.")
	case errors.Is(err, client.ErrProviderUnavailable):
		return stateVerifyingCode, wrapError(CodeUnavailable, "Could not reach the verification service.", err)
	default:
		return stateVerifyingCode, wrapError(CodeInternal, "Phone verification could not be completed.", err)
	}
}

// matchPhone requires the provider-confirmed number to equal the
// number the caller claimed; proving control of a different number
// grants nothing.
func (r *resetRun) matchPhone() (resetState, error) {
	if r.verifiedPhone != r.phone {
		return statePhoneMatch, newError(CodePermissionDenied, "The verified phone number does not match the submitted one.")
	}
	return stateDirectoryLookup, nil
}

// lookupAccount short-circuits to Done when no account exists:
// callers must not be able to distinguish a missing account from a
// successful send.
func (r *resetRun) lookupAccount(ctx context.Context) (resetState, error) {
	account, found, err := r.svc.directory.FindAccountByEmail(ctx, r.email)
	if err != nil {
		return stateDirectoryLookup, wrapError(CodeInternal, "Password reset request could not be processed.", err)
	}
	if !found {
		return stateDone, nil
	}
	r.account = account
	return stateFactorMatch, nil
}

func (r *resetRun) matchFactor() (resetState, error) {
	if !HasEnrolledPhoneFactor(r.account, r.verifiedPhone, r.svc.region) {
		return stateFactorMatch, newError(CodePermissionDenied, "The verified phone number is not enrolled on this account.")
	}
	return stateDispatching, nil
}

func (r *resetRun) dispatch(ctx context.Context) (resetState, error) {
	// DispatchUnknownRecipient is absorbed here: same outcome as a
	// delivered mail.
	_, err := r.svc.verifier.SendPasswordReset(ctx, r.email)
	switch {
	case err == nil:
		return stateDone, nil
	case errors.Is(err, client.ErrProviderThrottled):
		return stateDispatching, newError(CodeResourceExhausted, "Too many requests. Please try again later.")
	case errors.Is(err, client.ErrProviderUnavailable):
		return stateDispatching, wrapError(CodeUnavailable, "Could not reach the identity provider.", err)
	default:
		return stateDispatching, wrapError(CodeInternal, "Password reset request could not be processed.", err)
	}
}

// HasEnrolledPhoneFactor reports whether the account carries a
// second factor of kind "phone" whose normalized number equals the
// input. Other factor kinds are ignored.
func HasEnrolledPhoneFactor(account *models.Account, phone string, region normalize.Region) bool {
	if account == nil {
		return false
	}
	for _, factor := range account.Factors {
		if factor.Kind != models.FactorKindPhone {
			continue
		}
		if normalize.Phone(factor.PhoneNumber, region) == phone {
			return true
		}
	}
	return false
}

func (s *ResetService) auditOutcome(ctx context.Context, run *resetRun, state resetState, failure error) {
	if s.audit == nil {
		return
	}

	event := models.ResetAuditEvent{
		EventTime: run.now,
		EmailHash: hashIfSet(run.email),
		PhoneHash: hashIfSet(run.phone),
		IPHash:    hashIfSet(run.clientIP),
	}

	if failure == nil {
		event.EventType = models.AuditResetRequested
	} else {
		event.EventType = models.AuditResetDenied
		event.FailedState = state.String()
		var svcErr *Error
		if errors.As(failure, &svcErr) {
			event.ErrorCode = string(svcErr.Code)
		}
	}

	s.audit.Publish(ctx, event)
}

func hashIfSet(identifier string) string {
	if identifier == "" {
		return ""
	}
	return HashIdentifier(identifier)
}
