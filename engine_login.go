package goVerify

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Login runs the credential pipeline: user state, password, email code, the
// phone code when the user has a verified phone, and TOTP when enabled. Every
// stage writes an activity record. A session is opened only when all required
// factors pass.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := e.resolveUser(ctx, req.Email)
	if err != nil {
		e.record(ctx, topicSession, actionLogin, user.UID, err, stageMeta(stageUser))
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	if err := e.checkPassword(req.Password, user.PasswordHash); err != nil {
		return nil, e.loginFailed(ctx, user.UID, actionLogin, stagePassword, err)
	}
	e.record(ctx, topicSession, actionLogin, user.UID, nil, stageMeta(stagePassword))

	if err := e.checkFactor(ctx, user.UID, CodeTypeEmail, req.EmailCode); err != nil {
		return nil, e.loginFailed(ctx, user.UID, actionLogin, stageEmailCode, err)
	}
	e.record(ctx, topicSession, actionLogin, user.UID, nil, stageMeta(stageEmailCode))

	phone, err := e.verifiedPhone(ctx, user.UID)
	if err != nil {
		return nil, e.loginFailed(ctx, user.UID, actionLogin, stagePhoneCode, err)
	}
	if phone != nil {
		if err := e.checkFactor(ctx, user.UID, CodeTypePhone, req.PhoneCode); err != nil {
			return nil, e.loginFailed(ctx, user.UID, actionLogin, stagePhoneCode, err)
		}
		e.record(ctx, topicSession, actionLogin, user.UID, nil, stageMeta(stagePhoneCode))
	}

	action := actionLogin
	secondFactor := false
	if user.OTPEnabled {
		action = actionLogin2FA
		if err := e.checkOTP(ctx, user.UID, req.OTPCode); err != nil {
			return nil, e.loginFailed(ctx, user.UID, action, stageOTP, err)
		}
		secondFactor = true
		e.metricInc(MetricLoginSecondFactor)
	}

	sessionID, csrf, err := e.sessions.Open(ctx, user.UID, SessionMeta{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = ErrSessionCreationFailed
		}
		return nil, e.loginFailed(ctx, user.UID, action, stageSession, err)
	}
	e.record(ctx, topicSession, action, user.UID, nil, stageMeta(stageSession))
	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)

	if err := e.events.Publish(ctx, "system.session.create", map[string]any{
		"user":       user.EventView(),
		"user_ip":    clientIPFromContext(ctx),
		"user_agent": userAgentFromContext(ctx),
	}); err != nil {
		e.logger().WithField("uid", user.UID).WithError(err).Warn("session create event not published")
	}

	return &LoginResult{
		User:                 user,
		SessionID:            sessionID,
		CSRFToken:            csrf,
		SecondFactorVerified: secondFactor,
	}, nil
}

// RequestLoginCode generates a login code of the given type for the user
// behind email. Asking for a phone code when the user has no verified phone
// succeeds without generating anything.
func (e *Engine) RequestLoginCode(ctx context.Context, email string, codeType CodeType) error {
	if !codeType.Valid() {
		return ErrInvalidCodeType
	}
	user, err := e.resolveUser(ctx, email)
	if err != nil {
		return err
	}
	_, err = e.RequestCode(ctx, user.UID, codeType, CategoryLogin, nil)
	return err
}

// Logout closes the session and announces it.
func (e *Engine) Logout(ctx context.Context, userID, sessionID string) error {
	err := e.sessions.Delete(ctx, userID, sessionID)
	e.record(ctx, topicSession, actionLogout, userID, err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricLogout)

	if err := e.events.Publish(ctx, "system.session.delete", map[string]any{
		"uid":        userID,
		"session_id": sessionID,
	}); err != nil {
		e.logger().WithField("uid", userID).WithError(err).Warn("session delete event not published")
	}
	return nil
}

func (e *Engine) loginFailed(ctx context.Context, userID, action, stage string, err error) error {
	e.record(ctx, topicSession, action, userID, err, stageMeta(stage))
	e.metricInc(MetricLoginFailure)
	e.logger().WithFields(logrus.Fields{
		"uid":   userID,
		"stage": stage,
	}).WithError(err).Info("login rejected")
	return err
}

// resolveUser loads the user and rejects states that may not log in. The
// returned record carries the UID even on state failures so they can be
// audited against the user.
func (e *Engine) resolveUser(ctx context.Context, email string) (UserRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return UserRecord{}, ErrUserNotFound
	}
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return UserRecord{}, err
	}

	switch user.State {
	case UserStateBanned:
		return user, ErrUserBanned
	case UserStateDeleted:
		return user, ErrUserDeleted
	}
	if !e.config.stateAllowed(user.State) {
		return user, ErrUserNotActive
	}
	return user, nil
}

func (e *Engine) checkPassword(password, hash string) error {
	if password == "" || hash == "" {
		return ErrInvalidCredentials
	}
	ok, err := e.passwords.Verify(password, hash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// checkFactor verifies the submitted value against the pending login code of
// the given type. Storage failures and conflicts are returned unwrapped.
func (e *Engine) checkFactor(ctx context.Context, userID string, codeType CodeType, submitted string) error {
	if strings.TrimSpace(submitted) == "" {
		return factorError(codeType, ErrMissingFactorCode)
	}

	code, err := e.codes.FindPending(ctx, userID, codeType, CategoryLogin, e.clock())
	if err != nil {
		return err
	}
	if code == nil {
		return factorError(codeType, ErrPendingCodeNotFound)
	}

	err = e.checkCode(ctx, code, submitted)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrCodeConflict):
		return err
	default:
		return factorError(codeType, err)
	}
}

func (e *Engine) checkOTP(ctx context.Context, userID, submitted string) error {
	if strings.TrimSpace(submitted) == "" {
		return ErrMissingOTP
	}
	if e.totp == nil {
		return ErrEngineNotReady
	}
	ok, err := e.totp.Validate(ctx, userID, strings.TrimSpace(submitted))
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return ErrInvalidOTP
	}
	if !ok {
		return ErrInvalidOTP
	}
	return nil
}
