package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"reset-guard/internal/client"
	"reset-guard/internal/models"
	"reset-guard/internal/normalize"
)

type fakeLimiter struct {
	calls   []models.Scope
	failOn  models.Scope
	failErr error
}

func (f *fakeLimiter) Enforce(_ context.Context, scope models.Scope, _ string, _ time.Time) error {
	f.calls = append(f.calls, scope)
	if scope == f.failOn && f.failErr != nil {
		return f.failErr
	}
	return nil
}

type fakeVerifier struct {
	verifiedPhone string
	verifyErr     error

	dispatchOutcome client.DispatchOutcome
	dispatchErr     error
	dispatched      []string

	noKey bool
}

func (f *fakeVerifier) VerifyPhoneCode(_ context.Context, _, _ string) (string, error) {
	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	return f.verifiedPhone, nil
}

func (f *fakeVerifier) SendPasswordReset(_ context.Context, email string) (client.DispatchOutcome, error) {
	f.dispatched = append(f.dispatched, email)
	if f.dispatchErr != nil {
		return 0, f.dispatchErr
	}
	return f.dispatchOutcome, nil
}

func (f *fakeVerifier) APIKeyConfigured() bool { return !f.noKey }

type fakeDirectory struct {
	account *models.Account
	found   bool
	err     error
	calls   int
}

func (f *fakeDirectory) FindAccountByEmail(_ context.Context, _ string) (*models.Account, bool, error) {
	f.calls++
	return f.account, f.found, f.err
}

type recordAudit struct {
	events []models.ResetAuditEvent
}

func (r *recordAudit) Publish(_ context.Context, event models.ResetAuditEvent) {
	r.events = append(r.events, event)
}

func enrolledAccount(phone string) *models.Account {
	return &models.Account{
		AccountID: "acct-1",
		Email:     "user@example.com",
		Factors: []models.MFAFactor{
			{AccountID: "acct-1", FactorID: "f1", Kind: models.FactorKindPhone, PhoneNumber: phone},
		},
	}
}

func validRequest() *ResetRequest {
	return &ResetRequest{
		Email:          "User@Example.com",
		PhoneNumber:    "+821012345678",
		VerificationID: "session-1",
		SMSCode:        "123456",
		ClientIP:       "203.0.113.7",
	}
}

type resetFixture struct {
	limiter   *fakeLimiter
	verifier  *fakeVerifier
	directory *fakeDirectory
	audit     *recordAudit
	svc       *ResetService
}

func newFixture() *resetFixture {
	f := &resetFixture{
		limiter:   &fakeLimiter{},
		verifier:  &fakeVerifier{verifiedPhone: "+821012345678", dispatchOutcome: client.DispatchSent},
		directory: &fakeDirectory{account: enrolledAccount("+821012345678"), found: true},
		audit:     &recordAudit{},
	}
	f.svc = NewResetService(f.limiter, f.verifier, f.directory, f.audit, normalize.RegionKR)
	return f
}

func assertCode(t *testing.T, err error, want Code) {
	t.Helper()
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if svcErr.Code != want {
		t.Fatalf("code = %q, want %q", svcErr.Code, want)
	}
}

func TestResetHappyPath(t *testing.T) {
	f := newFixture()

	result, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("RequestPhoneVerifiedReset: %v", err)
	}
	if !result.OK {
		t.Error("result.OK = false")
	}
	if len(f.verifier.dispatched) != 1 || f.verifier.dispatched[0] != "user@example.com" {
		t.Errorf("dispatched = %v, want one send to normalized email", f.verifier.dispatched)
	}

	wantScopes := []models.Scope{
		models.ScopePasswordResetEmail,
		models.ScopePasswordResetPhone,
		models.ScopePasswordResetIP,
	}
	if len(f.limiter.calls) != len(wantScopes) {
		t.Fatalf("limiter calls = %v", f.limiter.calls)
	}
	for i, scope := range wantScopes {
		if f.limiter.calls[i] != scope {
			t.Errorf("limiter call %d = %q, want %q", i, f.limiter.calls[i], scope)
		}
	}

	if len(f.audit.events) != 1 || f.audit.events[0].EventType != models.AuditResetRequested {
		t.Errorf("audit events = %+v, want one requested event", f.audit.events)
	}
}

func TestResetUnknownAccountLooksLikeSuccess(t *testing.T) {
	f := newFixture()
	f.directory.account = nil
	f.directory.found = false

	result, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("RequestPhoneVerifiedReset: %v", err)
	}
	if !result.OK {
		t.Error("result.OK = false for unknown account")
	}
	if len(f.verifier.dispatched) != 0 {
		t.Errorf("dispatch called %d times for unknown account", len(f.verifier.dispatched))
	}
}

func TestResetUnknownRecipientAbsorbed(t *testing.T) {
	f := newFixture()
	f.verifier.dispatchOutcome = client.DispatchUnknownRecipient

	result, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("RequestPhoneVerifiedReset: %v", err)
	}
	if !result.OK {
		t.Error("result.OK = false when provider reports unknown recipient")
	}
}

func TestResetPhoneMismatchDeniedBeforeLookup(t *testing.T) {
	f := newFixture()
	f.verifier.verifiedPhone = "+821099990000"

	_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	assertCode(t, err, CodePermissionDenied)

	if f.directory.calls != 0 {
		t.Errorf("directory consulted %d times despite phone mismatch", f.directory.calls)
	}
	if len(f.verifier.dispatched) != 0 {
		t.Error("dispatch called despite phone mismatch")
	}
}

func TestResetFactorNotEnrolled(t *testing.T) {
	f := newFixture()
	f.directory.account = enrolledAccount("+821055556666")

	_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	assertCode(t, err, CodePermissionDenied)
	if len(f.verifier.dispatched) != 0 {
		t.Error("dispatch called despite unenrolled phone")
	}
}

func TestResetFactorMatchNormalizesStoredNumber(t *testing.T) {
	f := newFixture()
	// Directory rows may predate normalization.
	f.directory.account = enrolledAccount("010-1234-5678")

	result, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("RequestPhoneVerifiedReset: %v", err)
	}
	if !result.OK {
		t.Error("result.OK = false for factor stored in local format")
	}
}

func TestResetNonPhoneFactorsIgnored(t *testing.T) {
	account := &models.Account{
		AccountID: "acct-1",
		Factors: []models.MFAFactor{
			{Kind: "totp", PhoneNumber: "+821012345678"},
		},
	}
	if HasEnrolledPhoneFactor(account, "+821012345678", normalize.RegionKR) {
		t.Error("non-phone factor treated as enrolled phone")
	}
}

func TestResetRateLimited(t *testing.T) {
	f := newFixture()
	f.limiter.failOn = models.ScopePasswordResetEmail
	f.limiter.failErr = newError(CodeResourceExhausted, "Request limit exceeded. Please try again later.")

	_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	assertCode(t, err, CodeResourceExhausted)

	if f.directory.calls != 0 || len(f.verifier.dispatched) != 0 {
		t.Error("pipeline advanced past a failed rate check")
	}
	if len(f.audit.events) != 1 || f.audit.events[0].EventType != models.AuditResetDenied {
		t.Fatalf("audit events = %+v, want one denied event", f.audit.events)
	}
	if f.audit.events[0].FailedState != "rate_limiting" {
		t.Errorf("FailedState = %q", f.audit.events[0].FailedState)
	}
}

func TestResetValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ResetRequest)
	}{
		{"bad email", func(r *ResetRequest) { r.Email = "not-an-email" }},
		{"empty email", func(r *ResetRequest) { r.Email = "" }},
		{"unusable phone", func(r *ResetRequest) { r.PhoneNumber = "abc" }},
		{"missing session", func(r *ResetRequest) { r.VerificationID = "  " }},
		{"missing code", func(r *ResetRequest) { r.SMSCode = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := validRequest()
			tt.mutate(req)

			_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), req)
			assertCode(t, err, CodeInvalidArgument)

			if len(f.limiter.calls) != 0 {
				t.Error("limiter consulted for invalid input")
			}
		})
	}
}

func TestResetWithoutAPIKey(t *testing.T) {
	f := newFixture()
	f.verifier.noKey = true

	_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	assertCode(t, err, CodeFailedPrecondition)

	if len(f.limiter.calls) != 0 {
		t.Error("limiter consulted while verification is unconfigured")
	}
}

func TestResetVerificationErrors(t *testing.T) {
	tests := []struct {
		name      string
		verifyErr error
		wantCode  Code
	}{
		{"invalid code", client.ErrInvalidCode, CodeInvalidArgument},
		{"provider throttled", client.ErrProviderThrottled, CodeResourceExhausted},
		{"provider unreachable", client.ErrProviderUnavailable, CodeUnavailable},
		{"inconclusive result", client.ErrVerificationInconclusive, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.verifier.verifyErr = tt.verifyErr

			_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
			assertCode(t, err, tt.wantCode)

			if f.directory.calls != 0 {
				t.Error("directory consulted after failed verification")
			}
		})
	}
}

func TestResetDispatchErrors(t *testing.T) {
	tests := []struct {
		name        string
		dispatchErr error
		wantCode    Code
	}{
		{"throttled", client.ErrProviderThrottled, CodeResourceExhausted},
		{"unreachable", client.ErrProviderUnavailable, CodeUnavailable},
		{"provider internal", client.ErrProviderInternal, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.verifier.dispatchErr = tt.dispatchErr

			_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
			assertCode(t, err, tt.wantCode)
		})
	}
}

func TestResetDirectoryFailure(t *testing.T) {
	f := newFixture()
	f.directory.err = errors.New("scylla timeout")

	_, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest())
	assertCode(t, err, CodeInternal)
}

func TestResetLocalPhoneNormalizedBeforeChecks(t *testing.T) {
	f := newFixture()
	req := validRequest()
	req.PhoneNumber = "010-1234-5678"

	result, err := f.svc.RequestPhoneVerifiedReset(context.Background(), req)
	if err != nil {
		t.Fatalf("RequestPhoneVerifiedReset: %v", err)
	}
	if !result.OK {
		t.Error("result.OK = false for local-format phone input")
	}
}

func TestResetMissingClientIPUsesSentinel(t *testing.T) {
	f := newFixture()
	req := validRequest()
	req.ClientIP = ""

	if _, err := f.svc.RequestPhoneVerifiedReset(context.Background(), req); err != nil {
		t.Fatalf("RequestPhoneVerifiedReset: %v", err)
	}
	// Three scopes still checked; the IP scope keys off the sentinel.
	if len(f.limiter.calls) != 3 {
		t.Errorf("limiter calls = %v, want all three scopes", f.limiter.calls)
	}
}

func TestResetAuditHashesIdentifiers(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.RequestPhoneVerifiedReset(context.Background(), validRequest()); err != nil {
		t.Fatalf("RequestPhoneVerifiedReset: %v", err)
	}

	event := f.audit.events[0]
	if event.EmailHash != HashIdentifier("user@example.com") {
		t.Errorf("EmailHash = %q", event.EmailHash)
	}
	if event.EmailHash == "user@example.com" || event.PhoneHash == "+821012345678" {
		t.Error("raw identifier leaked into audit event")
	}
}

func TestLegacyResetAlwaysRejected(t *testing.T) {
	f := newFixture()

	err := f.svc.RequestLegacyReset(context.Background())
	assertCode(t, err, CodeFailedPrecondition)

	if len(f.limiter.calls) != 0 || len(f.verifier.dispatched) != 0 || f.directory.calls != 0 {
		t.Error("deprecated endpoint touched pipeline dependencies")
	}
	if len(f.audit.events) != 1 || f.audit.events[0].EventType != models.AuditResetDeprecated {
		t.Errorf("audit events = %+v, want one deprecated event", f.audit.events)
	}
}
