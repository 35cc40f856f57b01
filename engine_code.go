package goVerify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/sirupsen/logrus"
)

// GenerateCode fetches the pending code for (user, type, category) or creates
// one, rearms it with a fresh secret and expiry, fills the contact and sends
// exactly one delivery. Phone codes go out by SMS; every other code is
// announced with a signed system.<category>.confirmation.code event.
//
// A code that was stored but could not be delivered is returned together
// with an error wrapping ErrDeliveryFailed.
func (e *Engine) GenerateCode(ctx context.Context, req GenerateRequest) (*Code, error) {
	code, err := e.generate(ctx, req)
	e.record(ctx, topicCode, actionCodeRequest, req.UserID, err, map[string]string{
		"code_type": string(req.Type),
		"category":  string(req.Category),
	})
	return code, err
}

// RequestCode is the user-facing code request. A phone code for a user with
// no verified phone is a silent no-op and returns nil.
func (e *Engine) RequestCode(ctx context.Context, userID string, codeType CodeType, category Category, data []byte) (*Code, error) {
	if !codeType.Valid() {
		return nil, ErrInvalidCodeType
	}
	if codeType == CodeTypePhone {
		phone, err := e.verifiedPhone(ctx, userID)
		if err != nil {
			return nil, err
		}
		if phone == nil {
			return nil, nil
		}
	}
	return e.GenerateCode(ctx, GenerateRequest{
		UserID:   userID,
		Type:     codeType,
		Category: category,
		Data:     data,
	})
}

// CreateCode is the administrative create. It takes an explicit contact and
// bypasses the request limiter.
func (e *Engine) CreateCode(ctx context.Context, req GenerateRequest) (*Code, error) {
	code, err := e.generateWith(ctx, req, false, nil)
	e.record(ctx, topicCode, actionCodeRequest, req.UserID, err, map[string]string{
		"code_type": string(req.Type),
		"category":  string(req.Category),
		"origin":    "management",
	})
	return code, err
}

// FindPendingCode returns the pending code or ErrPendingCodeNotFound.
func (e *Engine) FindPendingCode(ctx context.Context, userID string, codeType CodeType, category Category) (*Code, error) {
	if !codeType.Valid() {
		return nil, ErrInvalidCodeType
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}
	code, err := e.codes.FindPending(ctx, userID, codeType, category, e.clock())
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, ErrPendingCodeNotFound
	}
	return code, nil
}

// VerifyPendingCode checks value against the pending code and reports the
// precise failure: ErrCodeOutOfAttempts, ErrCodeExpired or ErrCodeInvalid.
func (e *Engine) VerifyPendingCode(ctx context.Context, userID string, codeType CodeType, category Category, value string) (*Code, error) {
	code, err := e.FindPendingCode(ctx, userID, codeType, category)
	if err == nil {
		err = e.checkCode(ctx, code, value)
	}
	e.record(ctx, topicCode, actionCodeVerify, userID, err, map[string]string{
		"code_type": string(codeType),
		"category":  string(category),
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// CodeContact decrypts the contact stored on code.
func (e *Engine) CodeContact(code *Code) (email, phoneNumber string, err error) {
	if email, err = code.Email.Open(e.vault); err != nil {
		return "", "", err
	}
	if phoneNumber, err = code.PhoneNumber.Open(e.vault); err != nil {
		return "", "", err
	}
	return email, phoneNumber, nil
}

// VerifyCode applies one attempt to code. Attempts on terminal codes are
// free and return false. When persist is set the attempt is written with a
// compare-and-set; a concurrent writer causes a reload and the attempt is
// replayed against the fresh row.
func (e *Engine) VerifyCode(ctx context.Context, code *Code, submitted string, persist bool) (bool, error) {
	if code == nil {
		return false, ErrCodeNotFound
	}
	maxAttempts := e.config.Code.MaxAttempts

	for i := 0; i < storeMaxRetries; i++ {
		next := *code
		validated, mutated := next.Attempt(submitted, e.clock(), maxAttempts)
		if !mutated || !persist {
			*code = next
			e.countAttempt(code, validated, mutated)
			return validated, nil
		}

		// the caller's code only moves once the attempt is stored
		err := e.codes.Save(ctx, &next)
		if err == nil {
			*code = next
			e.countAttempt(code, validated, mutated)
			return validated, nil
		}
		if !errors.Is(err, ErrCodeConflict) {
			return false, err
		}

		e.metricInc(MetricCodeVerifyConflict)
		fresh, err := e.codes.Get(ctx, code.ID)
		if err != nil {
			return false, err
		}
		*code = *fresh
	}
	return false, ErrCodeConflict
}

func (e *Engine) countAttempt(code *Code, validated, mutated bool) {
	if !mutated {
		return
	}
	if validated {
		e.metricInc(MetricCodeVerifySuccess)
		return
	}
	e.metricInc(MetricCodeVerifyFailure)
	if code.OutOfAttempts(e.config.Code.MaxAttempts) {
		e.metricInc(MetricCodeAttemptsExhausted)
	}
}

// checkCode runs one persisted attempt and classifies a refusal.
func (e *Engine) checkCode(ctx context.Context, code *Code, submitted string) error {
	now := e.clock()
	switch {
	case code.Validated():
		return ErrCodeInvalid
	case code.OutOfAttempts(e.config.Code.MaxAttempts):
		return ErrCodeOutOfAttempts
	case code.Expired(now):
		return ErrCodeExpired
	}

	ok, err := e.VerifyCode(ctx, code, submitted, true)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeInvalid
	}
	return nil
}

func (e *Engine) generate(ctx context.Context, req GenerateRequest) (*Code, error) {
	return e.generateWith(ctx, req, true, nil)
}

// generateWith runs the generation. beforeDeliver, when set, sees the stored
// code before delivery; its error aborts the delivery.
func (e *Engine) generateWith(ctx context.Context, req GenerateRequest, limited bool, beforeDeliver func(*Code) error) (*Code, error) {
	if !req.Type.Valid() {
		return nil, ErrInvalidCodeType
	}
	if !req.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		return nil, ErrInvalidCodeData
	}

	if limited && e.limiter != nil {
		if err := e.limiter.Check(ctx, req.UserID, string(req.Type), string(req.Category)); err != nil {
			if errors.Is(err, limiters.ErrCodeRequestLimited) {
				e.metricInc(MetricCodeRequestRateLimited)
				return nil, ErrCodeRequestRateLimited
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	user, err := e.users.GetUserByUID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Type == CodeTypePhone {
		if req.PhoneNumber != "" {
			if req.PhoneNumber, err = InternationalPhone(req.PhoneNumber); err != nil {
				return nil, err
			}
		} else if phone, err := e.verifiedPhone(ctx, user.UID); err != nil {
			return nil, err
		} else if phone == nil {
			return nil, ErrPhoneMissing
		}
	}

	secret, err := internal.NewOTP(e.config.Code.Digits)
	if err != nil {
		return nil, err
	}

	var (
		code        *Code
		destination string
	)
	for i := 0; ; i++ {
		if i == storeMaxRetries {
			return nil, ErrCodeConflict
		}

		now := e.clock()
		code, err = e.codes.CreateOrFetchPending(ctx, user.UID, req.Type, req.Category, now, e.config.Code.TTL)
		if err != nil {
			return nil, err
		}
		code.reset(secret, now, e.config.Code.TTL)
		if len(req.Data) > 0 {
			code.Data = append([]byte(nil), req.Data...)
		}

		destination, err = e.fillContact(ctx, code, user, req)
		if err != nil {
			return nil, err
		}

		err = e.codes.Save(ctx, code)
		if errors.Is(err, ErrCodeConflict) {
			e.metricInc(MetricCodeVerifyConflict)
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if beforeDeliver != nil {
		if err := beforeDeliver(code); err != nil {
			return nil, err
		}
	}
	e.metricInc(MetricCodeGenerated)

	if err := e.deliver(ctx, user, code, destination); err != nil {
		e.metricInc(MetricCodeDeliveryFailed)
		e.logger().WithFields(logrus.Fields{
			"uid":       user.UID,
			"code_type": code.Type,
			"category":  code.Category,
		}).WithError(err).Error("code delivery failed")
		return code, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return code, nil
}

// fillContact seals the override, or the on-file contact when the code has
// none, and returns the plaintext destination for delivery. Phone overrides
// arrive already normalized.
func (e *Engine) fillContact(ctx context.Context, code *Code, user UserRecord, req GenerateRequest) (string, error) {
	switch code.Type {
	case CodeTypeEmail:
		addr := strings.ToLower(strings.TrimSpace(req.Email))
		if addr == "" && !code.Email.Empty() {
			return code.Email.Open(e.vault)
		}
		if addr == "" {
			addr = strings.ToLower(user.Email)
		}
		sealed, err := Seal(e.vault, addr)
		if err != nil {
			return "", err
		}
		code.Email = sealed
		return addr, nil

	case CodeTypePhone:
		number := req.PhoneNumber
		if number == "" && !code.PhoneNumber.Empty() {
			return code.PhoneNumber.Open(e.vault)
		}
		if number == "" {
			phone, err := e.verifiedPhone(ctx, user.UID)
			if err != nil {
				return "", err
			}
			if phone == nil {
				return "", ErrPhoneMissing
			}
			if number, err = phone.Number.Open(e.vault); err != nil {
				return "", err
			}
		}
		sealed, err := Seal(e.vault, number)
		if err != nil {
			return "", err
		}
		code.PhoneNumber = sealed
		return number, nil
	}
	return "", ErrInvalidCodeType
}

func (e *Engine) deliver(ctx context.Context, user UserRecord, code *Code, destination string) error {
	if code.Type == CodeTypePhone {
		return e.sms.SendSMS(ctx, destination, code.Secret, e.config.Code.SMSChannel)
	}

	record := map[string]any{
		"user":   user.EventView(),
		"domain": e.config.Code.Domain,
		"code":   code.Secret,
		"email":  destination,
	}
	if len(code.Data) > 0 {
		record["data"] = json.RawMessage(code.Data)
	}
	return e.events.Publish(ctx, "system."+string(code.Category)+".confirmation.code", record)
}

// verifiedPhone returns the user's phone when its linked code is validated.
func (e *Engine) verifiedPhone(ctx context.Context, userID string) (*Phone, error) {
	phone, err := e.phones.FindByUser(ctx, userID)
	if err != nil || phone == nil {
		return nil, err
	}
	if phone.CodeID == "" {
		return nil, nil
	}
	code, err := e.codes.Get(ctx, phone.CodeID)
	if errors.Is(err, ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !code.Validated() {
		return nil, nil
	}
	return phone, nil
}
