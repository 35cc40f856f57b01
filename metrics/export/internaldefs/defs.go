package internaldefs

import (
	goVerify "github.com/MrEthical07/goVerify"
)

// Def names one exported series.
type Def struct {
	ID   goVerify.MetricID
	Name string
	Help string
}

var Counters = []Def{
	{goVerify.MetricCodeGenerated, "goverify_code_generated_total", "Verification codes generated or re-armed."},
	{goVerify.MetricCodeDeliveryFailed, "goverify_code_delivery_failed_total", "Codes stored but not delivered."},
	{goVerify.MetricCodeRequestRateLimited, "goverify_code_request_rate_limited_total", "Code requests denied by the limiter."},
	{goVerify.MetricCodeVerifySuccess, "goverify_code_verify_success_total", "Attempts that validated a code."},
	{goVerify.MetricCodeVerifyFailure, "goverify_code_verify_failure_total", "Attempts that did not match."},
	{goVerify.MetricCodeAttemptsExhausted, "goverify_code_attempts_exhausted_total", "Codes that used their last attempt."},
	{goVerify.MetricCodeVerifyConflict, "goverify_code_conflict_total", "Compare-and-set conflicts on code writes."},
	{goVerify.MetricLoginSuccess, "goverify_login_success_total", "Logins that opened a session."},
	{goVerify.MetricLoginFailure, "goverify_login_failure_total", "Logins rejected at any stage."},
	{goVerify.MetricLoginSecondFactor, "goverify_login_second_factor_total", "Logins that passed TOTP."},
	{goVerify.MetricSessionCreated, "goverify_session_created_total", "Sessions opened."},
	{goVerify.MetricLogout, "goverify_logout_total", "Sessions closed by logout."},
	{goVerify.MetricPhoneSubmitted, "goverify_phone_submitted_total", "Phone numbers submitted for verification."},
	{goVerify.MetricPhoneVerified, "goverify_phone_verified_total", "Phones verified."},
	{goVerify.MetricPhoneClaimRejected, "goverify_phone_claim_rejected_total", "Phone submissions rejected because another user holds the number."},
	{goVerify.MetricEventReceived, "goverify_event_received_total", "Events read by the mail consumer."},
	{goVerify.MetricEventProcessed, "goverify_event_processed_total", "Events that produced an email."},
	{goVerify.MetricEventSignatureRejected, "goverify_event_signature_rejected_total", "Events dropped for a missing required signature."},
	{goVerify.MetricEventSkipped, "goverify_event_skipped_total", "Events with no route, template or user."},
	{goVerify.MetricEventSuppressed, "goverify_event_suppressed_total", "Events suppressed by their expression."},
	{goVerify.MetricEventDispatchFailed, "goverify_event_dispatch_failed_total", "Events whose mail delivery failed."},
	{goVerify.MetricConsumerHalted, "goverify_consumer_halted_total", "Times the mail consumer stopped on a fatal error."},
}

var Histograms = []Def{
	{goVerify.MetricEventHandleLatency, "goverify_event_handle_latency_seconds", "Time spent handling one event."},
}

// Bounds are the upper bounds of the histogram buckets, in seconds.
var Bounds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// BoundSuffixes name Bounds where a metric name is needed.
var BoundSuffixes = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// Cumulative turns raw per-bucket counts into cumulative counts. Missing
// buckets count as zero.
func Cumulative(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
