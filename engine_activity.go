package goVerify

import (
	"context"
	"strings"

	"github.com/MrEthical07/goVerify/internal/audit"
)

const (
	topicSession = "session"
	topicCode    = "code"
	topicPhone   = "phone"

	actionLogin       = "login"
	actionLogin2FA    = "login::2fa"
	actionLogout      = "logout"
	actionCodeRequest = "code::request"
	actionCodeVerify  = "code::verify"
	actionPhoneSubmit = "phone::submit"
	actionPhoneVerify = "phone::verify"

	stageUser       = "user"
	stagePassword   = "password"
	stageEmailCode  = "email_code"
	stagePhoneCode  = "phone_code"
	stageOTP        = "otp"
	stageSession    = "session"
	stageGenerate   = "generate"
	stageDelivery   = "delivery"
	stageValidation = "validation"
)

// activityErrorText is the short error_text stored on activity records: the
// last segment of the stable client error code.
func activityErrorText(err error) string {
	if err == nil {
		return ""
	}
	code := ErrorCode(err)
	if i := strings.LastIndexByte(code, '.'); i >= 0 {
		return code[i+1:]
	}
	return code
}

// record writes one activity entry. Records are written inline unless the
// engine was built with async activity.
func (e *Engine) record(
	ctx context.Context,
	topic string,
	action string,
	userID string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.activity == nil {
		return
	}

	event := ActivityRecord{
		Timestamp: e.clock().UTC(),
		Topic:     topic,
		Action:    action,
		UserID:    userID,
		Result:    audit.ResultSucceed,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Metadata:  metadata,
	}
	if err != nil {
		event.Result = audit.ResultFailed
		event.ErrorText = activityErrorText(err)
	}

	if e.async != nil {
		e.async.Emit(ctx, event)
		return
	}
	e.activity.Emit(ctx, event)
}

func stageMeta(stage string) map[string]string {
	return map[string]string{"stage": stage}
}
