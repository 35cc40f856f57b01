package goVerify

import (
	"context"
	"errors"
	"testing"
)

const (
	testPhone      = "+1 (650) 253-0000"
	testPhoneIntl  = "16502530000"
	otherTestPhone = "+44 20 7031 3000"
)

// requestLoginCodes asks for the email code and, when the user has a
// verified phone, the phone code, and returns their secrets.
func requestLoginCodes(t *testing.T, h *engineHarness, email string, withPhone bool) (emailCode, phoneCode string) {
	t.Helper()
	ctx := context.Background()
	if err := h.engine.RequestLoginCode(ctx, email, CodeTypeEmail); err != nil {
		t.Fatalf("RequestLoginCode email failed: %v", err)
	}
	emailCode = h.events.lastCode(t, CategoryLogin)
	if withPhone {
		if err := h.engine.RequestLoginCode(ctx, email, CodeTypePhone); err != nil {
			t.Fatalf("RequestLoginCode phone failed: %v", err)
		}
		phoneCode = h.sms.last(t).code
	}
	return emailCode, phoneCode
}

func TestLoginEndToEndWithPhoneAndOTP(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", true)
	h.verifyPhone(t, "ID1", testPhone)

	emailCode, phoneCode := requestLoginCodes(t, h, "alice@example.com", true)
	if sms := h.sms.last(t); sms.number != testPhoneIntl || sms.channel != "sms" {
		t.Fatalf("unexpected sms %+v", sms)
	}

	ctx := WithUserAgent(WithClientIP(context.Background(), "10.0.0.1"), "test-agent")
	result, err := h.engine.Login(ctx, LoginRequest{
		Email:     "Alice@Example.com",
		Password:  testPassword,
		EmailCode: emailCode,
		PhoneCode: phoneCode,
		OTPCode:   h.otpNow(t, "ID1"),
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.SessionID == "" || len(result.CSRFToken) != 64 || !result.SecondFactorVerified {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.sessions.count() != 1 {
		t.Fatalf("expected one session, got %d", h.sessions.count())
	}

	created := h.events.named("system.session.create")
	if len(created) != 1 || created[0].record["user_ip"] != "10.0.0.1" || created[0].record["user_agent"] != "test-agent" {
		t.Fatalf("unexpected session create events %+v", created)
	}

	for _, stage := range []string{stagePassword, stageEmailCode, stagePhoneCode} {
		if len(h.activity.find(actionLogin, stage)) != 1 {
			t.Fatalf("expected one %s activity record", stage)
		}
	}
	sessionRecords := h.activity.find(actionLogin2FA, stageSession)
	if len(sessionRecords) != 1 || !sessionRecords[0].Succeeded() || sessionRecords[0].IP != "10.0.0.1" {
		t.Fatalf("unexpected session activity %+v", sessionRecords)
	}

	if h.engine.metrics.Value(MetricLoginSuccess) != 1 || h.engine.metrics.Value(MetricLoginSecondFactor) != 1 {
		t.Fatal("expected login success metrics")
	}
}

func TestLoginWithoutPhoneSkipsPhoneFactor(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", false)

	emailCode, _ := requestLoginCodes(t, h, "alice@example.com", false)
	result, err := h.engine.Login(context.Background(), LoginRequest{
		Email:     "alice@example.com",
		Password:  testPassword,
		EmailCode: emailCode,
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.SecondFactorVerified {
		t.Fatal("second factor must be false without OTP")
	}
	if len(h.activity.find(actionLogin, stagePhoneCode)) != 0 {
		t.Fatal("phone stage must be skipped without a verified phone")
	}
}

func TestLoginFailsOnAnySingleWrongFactor(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*LoginRequest)
		check  func(error) bool
		code   string
	}{
		{
			name:   "password",
			mutate: func(r *LoginRequest) { r.Password = "wrong-password" },
			check:  func(err error) bool { return errors.Is(err, ErrInvalidCredentials) },
			code:   "identity.session.invalid_params",
		},
		{
			name:   "email code",
			mutate: func(r *LoginRequest) { r.EmailCode = wrongValue(r.EmailCode) },
			check: func(err error) bool {
				var fe *FactorError
				return errors.As(err, &fe) && fe.Factor == CodeTypeEmail && errors.Is(err, ErrCodeInvalid)
			},
			code: "identity.session.email_code_invalid",
		},
		{
			name:   "phone code",
			mutate: func(r *LoginRequest) { r.PhoneCode = wrongValue(r.PhoneCode) },
			check: func(err error) bool {
				var fe *FactorError
				return errors.As(err, &fe) && fe.Factor == CodeTypePhone
			},
			code: "identity.session.phone_code_invalid",
		},
		{
			name:   "missing phone code",
			mutate: func(r *LoginRequest) { r.PhoneCode = "" },
			check:  func(err error) bool { return errors.Is(err, ErrMissingFactorCode) },
			code:   "identity.session.missing_phone_code",
		},
		{
			name:   "otp",
			mutate: func(r *LoginRequest) { r.OTPCode = "999999x" },
			check:  func(err error) bool { return errors.Is(err, ErrInvalidOTP) },
			code:   "identity.session.invalid_otp",
		},
		{
			name:   "missing otp",
			mutate: func(r *LoginRequest) { r.OTPCode = "" },
			check:  func(err error) bool { return errors.Is(err, ErrMissingOTP) },
			code:   "identity.session.missing_otp",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newEngineHarness(t, DefaultConfig())
			h.addUser(t, "ID1", "alice@example.com", true)
			h.verifyPhone(t, "ID1", testPhone)
			emailCode, phoneCode := requestLoginCodes(t, h, "alice@example.com", true)

			req := LoginRequest{
				Email:     "alice@example.com",
				Password:  testPassword,
				EmailCode: emailCode,
				PhoneCode: phoneCode,
				OTPCode:   h.otpNow(t, "ID1"),
			}
			tc.mutate(&req)

			result, err := h.engine.Login(context.Background(), req)
			if err == nil || result != nil {
				t.Fatalf("expected failure, got %+v", result)
			}
			if !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if got := ErrorCode(err); got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
			if h.sessions.count() != 0 {
				t.Fatal("no session may be opened on failure")
			}
			if h.engine.metrics.Value(MetricLoginFailure) != 1 {
				t.Fatal("expected one login failure")
			}
		})
	}
}

func TestLoginWrongPasswordCreatesNoCode(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", false)

	_, err := h.engine.Login(context.Background(), LoginRequest{
		Email:     "alice@example.com",
		Password:  "nope",
		EmailCode: "123456",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if keys := h.codeKeys(); len(keys) != 0 {
		t.Fatalf("expected no code rows, got %v", keys)
	}
	records := h.activity.find(actionLogin, stagePassword)
	if len(records) != 1 || records[0].Succeeded() || records[0].ErrorText != "invalid_params" {
		t.Fatalf("unexpected password activity %+v", records)
	}
}

func TestLoginWithoutPendingCode(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", false)

	_, err := h.engine.Login(context.Background(), LoginRequest{
		Email:     "alice@example.com",
		Password:  testPassword,
		EmailCode: "123456",
	})
	if !errors.Is(err, ErrPendingCodeNotFound) {
		t.Fatalf("expected ErrPendingCodeNotFound, got %v", err)
	}
	if ErrorCode(err) != "identity.session.email_code_invalid" {
		t.Fatalf("unexpected code %s", ErrorCode(err))
	}
}

func TestLoginRejectsUserStates(t *testing.T) {
	cases := map[UserState]error{
		UserStateBanned:  ErrUserBanned,
		UserStateDeleted: ErrUserDeleted,
		"locked":         ErrUserNotActive,
	}
	for state, want := range cases {
		t.Run(string(state), func(t *testing.T) {
			h := newEngineHarness(t, DefaultConfig())
			u := h.addUser(t, "ID1", "alice@example.com", false)
			u.State = state
			h.users.put(u)

			_, err := h.engine.Login(context.Background(), LoginRequest{Email: u.Email, Password: testPassword})
			if !errors.Is(err, want) {
				t.Fatalf("expected %v, got %v", want, err)
			}
			records := h.activity.find(actionLogin, stageUser)
			if len(records) != 1 || records[0].UserID != "ID1" {
				t.Fatalf("expected user stage activity for ID1, got %+v", records)
			}
		})
	}

	h := newEngineHarness(t, DefaultConfig())
	if _, err := h.engine.Login(context.Background(), LoginRequest{Email: "ghost@example.com"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLoginStoreOutageIsNotAFactorFailure(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", false)
	emailCode, _ := requestLoginCodes(t, h, "alice@example.com", false)

	h.mr.Close()
	_, err := h.engine.Login(context.Background(), LoginRequest{
		Email:     "alice@example.com",
		Password:  testPassword,
		EmailCode: emailCode,
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	var fe *FactorError
	if errors.As(err, &fe) {
		t.Fatal("storage failures must not be reported as factor failures")
	}
	if StatusCode(err) != 503 {
		t.Fatalf("expected 503, got %d", StatusCode(err))
	}
}

func TestLoginSessionFailure(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", false)
	emailCode, _ := requestLoginCodes(t, h, "alice@example.com", false)
	h.sessions.openErr = errors.New("encode failed")

	_, err := h.engine.Login(context.Background(), LoginRequest{
		Email:     "alice@example.com",
		Password:  testPassword,
		EmailCode: emailCode,
	})
	if !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("expected ErrSessionCreationFailed, got %v", err)
	}
}

func TestRequestLoginCodePhoneWithoutPhone(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", false)

	if err := h.engine.RequestLoginCode(context.Background(), "alice@example.com", CodeTypePhone); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if len(h.sms.sent) != 0 || len(h.codeKeys()) != 0 {
		t.Fatal("no phone code may be generated")
	}
	if err := h.engine.RequestLoginCode(context.Background(), "alice@example.com", "pigeon"); !errors.Is(err, ErrInvalidCodeType) {
		t.Fatalf("expected ErrInvalidCodeType, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig())
	h.addUser(t, "ID1", "alice@example.com", false)
	emailCode, _ := requestLoginCodes(t, h, "alice@example.com", false)

	result, err := h.engine.Login(context.Background(), LoginRequest{
		Email:     "alice@example.com",
		Password:  testPassword,
		EmailCode: emailCode,
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := h.engine.Logout(context.Background(), "ID1", result.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if h.sessions.count() != 0 {
		t.Fatal("expected session to be closed")
	}
	deleted := h.events.named("system.session.delete")
	if len(deleted) != 1 || deleted[0].record["session_id"] != result.SessionID {
		t.Fatalf("unexpected session delete events %+v", deleted)
	}
}
