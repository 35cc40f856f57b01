package goVerify

import (
	"context"
	"errors"
	"strings"
)

// SubmitPhone adds or replaces the user's phone and sends a
// phone_verification code to it. A blank number resends the code to the
// number already on file.
//
// A number that is verified or pending on another user's claim is rejected
// before any code is generated. The other claim keeps the number even when
// it is still unverified.
func (e *Engine) SubmitPhone(ctx context.Context, userID, number string) error {
	err := e.submitPhone(ctx, userID, number)
	if errors.Is(err, ErrPhoneAlreadyClaimed) {
		e.metricInc(MetricPhoneClaimRejected)
	}
	e.record(ctx, topicPhone, actionPhoneSubmit, userID, err, nil)
	return err
}

func (e *Engine) submitPhone(ctx context.Context, userID, number string) error {
	phone, err := e.phones.FindByUser(ctx, userID)
	if err != nil {
		return err
	}

	if strings.TrimSpace(number) == "" {
		if phone == nil || phone.Number.Empty() {
			return ErrPhoneMissing
		}
		// the number may have been claimed by someone else since the
		// user's own code lapsed
		if err := e.checkPhoneClaims(ctx, userID, phone.Number.Index); err != nil {
			return err
		}
		current, err := phone.Number.Open(e.vault)
		if err != nil {
			return err
		}
		return e.linkPhoneCode(ctx, phone, current)
	}

	intl, err := InternationalPhone(number)
	if err != nil {
		return err
	}
	if err := e.checkPhoneClaims(ctx, userID, e.vault.Index(intl)); err != nil {
		return err
	}

	now := e.clock().UTC()
	if phone == nil {
		phone = &Phone{UserID: userID, CreatedAt: now}
	}
	if phone.Number.Index != e.vault.Index(intl) {
		sealed, err := Seal(e.vault, intl)
		if err != nil {
			return err
		}
		phone.Number = sealed
	}
	e.metricInc(MetricPhoneSubmitted)
	return e.linkPhoneCode(ctx, phone, intl)
}

// linkPhoneCode generates the verification code for number and claims the
// number with the phone pointing at it. The claim is stored before the SMS
// goes out, so a losing concurrent claim never receives a code. The link is
// kept when only delivery failed.
func (e *Engine) linkPhoneCode(ctx context.Context, phone *Phone, number string) error {
	_, err := e.generateWith(ctx, GenerateRequest{
		UserID:      phone.UserID,
		Type:        CodeTypePhone,
		Category:    CategoryPhoneVerification,
		PhoneNumber: number,
	}, true, func(code *Code) error {
		phone.CodeID = code.ID
		phone.UpdatedAt = e.clock().UTC()
		return e.phones.Claim(ctx, phone, func(others []Phone) error {
			return e.rejectClaims(ctx, phone.UserID, others)
		})
	})
	return err
}

// checkPhoneClaims rejects an index held by another user's verified phone
// or by another user's pending claim.
func (e *Engine) checkPhoneClaims(ctx context.Context, userID, index string) error {
	claims, err := e.phones.FindByNumberIndex(ctx, index)
	if err != nil {
		return err
	}
	return e.rejectClaims(ctx, userID, claims)
}

func (e *Engine) rejectClaims(ctx context.Context, userID string, claims []Phone) error {
	now := e.clock()
	for _, claim := range claims {
		if claim.UserID == userID || claim.CodeID == "" {
			continue
		}
		code, err := e.codes.Get(ctx, claim.CodeID)
		if errors.Is(err, ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if code.Validated() || !code.Terminal(now, e.config.Code.MaxAttempts) {
			return ErrPhoneAlreadyClaimed
		}
	}
	return nil
}

// VerifyPhone checks value against the code linked to the user's phone. On
// success the user is flagged as phone verified and system.phone.verified
// is published.
func (e *Engine) VerifyPhone(ctx context.Context, userID, value string) error {
	err := e.verifyPhone(ctx, userID, value)
	e.record(ctx, topicPhone, actionPhoneVerify, userID, err, nil)
	return err
}

func (e *Engine) verifyPhone(ctx context.Context, userID, value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrCodeInvalid
	}
	phone, err := e.phones.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if phone == nil || phone.CodeID == "" {
		return ErrPhoneMissing
	}

	code, err := e.codes.Get(ctx, phone.CodeID)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return ErrPhoneMissing
		}
		return err
	}
	if err := e.checkCode(ctx, code, value); err != nil {
		return err
	}

	if err := e.users.MarkPhoneVerified(ctx, userID); err != nil {
		return err
	}
	e.metricInc(MetricPhoneVerified)

	user, err := e.users.GetUserByUID(ctx, userID)
	if err != nil {
		e.logger().WithField("uid", userID).WithError(err).Warn("phone verified event skipped")
		return nil
	}
	if err := e.events.Publish(ctx, "system.phone.verified", map[string]any{
		"user": user.EventView(),
	}); err != nil {
		e.logger().WithField("uid", userID).WithError(err).Warn("phone verified event not published")
	}
	return nil
}
