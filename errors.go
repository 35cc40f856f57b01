package goVerify

import (
	"errors"
	"net/http"
)

var (
	// ErrUserNotFound is returned when the login identifier does not resolve to a user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserBanned is returned for users in the banned state.
	ErrUserBanned = errors.New("user banned")
	// ErrUserDeleted is returned for users in the deleted state.
	ErrUserDeleted = errors.New("user deleted")
	// ErrUserNotActive is returned for users outside the allowed login states.
	ErrUserNotActive = errors.New("user not active")
	// ErrInvalidCredentials is returned on password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingFactorCode is returned when a required email or phone code was not submitted.
	ErrMissingFactorCode = errors.New("missing factor code")
	// ErrPendingCodeNotFound is returned when no pending code exists for the factor.
	ErrPendingCodeNotFound = errors.New("pending code not found")
	// ErrCodeInvalid is returned when a submitted secret does not match.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrCodeExpired is returned for codes past their expiry.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrCodeOutOfAttempts is returned for codes that used every attempt.
	ErrCodeOutOfAttempts = errors.New("verification code out of attempts")
	// ErrMissingOTP is returned when OTP is enabled but no OTP was submitted.
	ErrMissingOTP = errors.New("missing otp code")
	// ErrInvalidOTP is returned when the TOTP check fails.
	ErrInvalidOTP = errors.New("invalid otp code")

	// ErrInvalidCodeType is returned for a code type other than phone or email.
	ErrInvalidCodeType = errors.New("invalid code type")
	// ErrInvalidCategory is returned for an unknown code category.
	ErrInvalidCategory = errors.New("invalid code category")
	// ErrInvalidCodeData is returned when the opaque code payload is not valid JSON.
	ErrInvalidCodeData = errors.New("invalid code data")
	// ErrCodeRequestRateLimited is returned when the code request limiter denies a request.
	ErrCodeRequestRateLimited = errors.New("code request rate limited")
	// ErrCodeConflict is returned by CodeStore.Save when the stored version moved.
	ErrCodeConflict = errors.New("code version conflict")
	// ErrCodeNotFound is returned by CodeStore.Get for an unknown id.
	ErrCodeNotFound = errors.New("code not found")
	// ErrDeliveryFailed is returned when a code was stored but could not be delivered.
	ErrDeliveryFailed = errors.New("code delivery failed")

	// ErrPhoneInvalid is returned for numbers that fail validation.
	ErrPhoneInvalid = errors.New("phone number invalid")
	// ErrPhoneMissing is returned when a phone flow needs a phone record the user does not have.
	ErrPhoneMissing = errors.New("phone not found")
	// ErrPhoneAlreadyClaimed is returned when the number is verified or pending on another claim.
	ErrPhoneAlreadyClaimed = errors.New("phone number already claimed")

	// ErrStoreUnavailable wraps storage connectivity failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSessionCreationFailed is returned when the session store cannot open a session.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not ready")
)

// FactorError tags a code failure with the factor that produced it.
type FactorError struct {
	Factor CodeType
	Err    error
}

func (e *FactorError) Error() string {
	return string(e.Factor) + " code: " + e.Err.Error()
}

func (e *FactorError) Unwrap() error {
	return e.Err
}

func factorError(factor CodeType, err error) error {
	return &FactorError{Factor: factor, Err: err}
}

// ErrorCode maps err to the stable client-facing code. Unknown errors map to
// "server.internal_error".
func ErrorCode(err error) string {
	var fe *FactorError
	if errors.As(err, &fe) {
		switch {
		case errors.Is(fe.Err, ErrMissingFactorCode):
			return "identity.session.missing_" + string(fe.Factor) + "_code"
		case errors.Is(fe.Err, ErrCodeOutOfAttempts):
			return "identity.session." + string(fe.Factor) + "_code_out_of_attempts"
		case errors.Is(fe.Err, ErrCodeExpired):
			return "identity.session." + string(fe.Factor) + "_code_expired"
		default:
			return "identity.session." + string(fe.Factor) + "_code_invalid"
		}
	}

	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInvalidCredentials):
		return "identity.session.invalid_params"
	case errors.Is(err, ErrUserBanned):
		return "identity.session.banned"
	case errors.Is(err, ErrUserDeleted):
		return "identity.session.deleted"
	case errors.Is(err, ErrUserNotActive):
		return "identity.session.not_active"
	case errors.Is(err, ErrMissingOTP):
		return "identity.session.missing_otp"
	case errors.Is(err, ErrInvalidOTP):
		return "identity.session.invalid_otp"
	case errors.Is(err, ErrPendingCodeNotFound):
		return "identity.code.not_found"
	case errors.Is(err, ErrCodeExpired):
		return "identity.code.code_expired"
	case errors.Is(err, ErrCodeOutOfAttempts):
		return "identity.code.code_out_attempt"
	case errors.Is(err, ErrCodeInvalid):
		return "identity.code.verification_invalid"
	case errors.Is(err, ErrInvalidCodeType):
		return "resource.code.invalid_type"
	case errors.Is(err, ErrInvalidCategory):
		return "resource.code.invalid_category"
	case errors.Is(err, ErrInvalidCodeData):
		return "resource.code.invalid_data"
	case errors.Is(err, ErrCodeRequestRateLimited):
		return "resource.code.rate_limited"
	case errors.Is(err, ErrPhoneInvalid):
		return "resource.phone.invalid_num"
	case errors.Is(err, ErrPhoneMissing):
		return "resource.phone.doesnt_exist"
	case errors.Is(err, ErrPhoneAlreadyClaimed):
		return "resource.phone.number_exist"
	case errors.Is(err, ErrDeliveryFailed):
		return "resource.code.delivery_failed"
	case errors.Is(err, ErrStoreUnavailable):
		return "server.store_unavailable"
	default:
		return "server.internal_error"
	}
}

// StatusCode maps err to the HTTP status a transport layer should use.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var fe *FactorError
	if errors.As(err, &fe) {
		if errors.Is(fe.Err, ErrMissingFactorCode) {
			return http.StatusUnauthorized
		}
		return http.StatusUnprocessableEntity
	}

	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUserBanned),
		errors.Is(err, ErrUserDeleted),
		errors.Is(err, ErrUserNotActive),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrMissingOTP):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidOTP),
		errors.Is(err, ErrPendingCodeNotFound),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrCodeOutOfAttempts),
		errors.Is(err, ErrCodeInvalid),
		errors.Is(err, ErrInvalidCodeType),
		errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInvalidCodeData),
		errors.Is(err, ErrPhoneInvalid),
		errors.Is(err, ErrPhoneMissing),
		errors.Is(err, ErrPhoneAlreadyClaimed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCodeRequestRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
