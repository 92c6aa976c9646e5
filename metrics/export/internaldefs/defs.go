package internaldefs

import (
	trueface "github.com/trueface/trueface"
)

// CounterDef binds an engine counter to its Prometheus name and help
// text. Instances are configured at package init and treated as
// immutable.
type CounterDef struct {
	ID   trueface.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its Prometheus name
// and help text.
type HistogramDef struct {
	ID   trueface.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: trueface.MetricVerifySuccess, Name: "trueface_verify_success_total", Help: "Verifications that cleared the threshold."},
	{ID: trueface.MetricVerifyReject, Name: "trueface_verify_reject_total", Help: "Verifications below the threshold."},
	{ID: trueface.MetricVerifyFailure, Name: "trueface_verify_failure_total", Help: "Verifications that errored before scoring."},
	{ID: trueface.MetricRecognizeHit, Name: "trueface_recognize_hit_total", Help: "Gallery searches whose best candidate matched."},
	{ID: trueface.MetricRecognizeMiss, Name: "trueface_recognize_miss_total", Help: "Gallery searches with no matching candidate."},
	{ID: trueface.MetricEnrollSuccess, Name: "trueface_enroll_success_total", Help: "Successful enrollments."},
	{ID: trueface.MetricEnrollFailure, Name: "trueface_enroll_failure_total", Help: "Failed enrollments."},
	{ID: trueface.MetricSignupSuccess, Name: "trueface_signup_success_total", Help: "Successful signups."},
	{ID: trueface.MetricSignupDuplicate, Name: "trueface_signup_duplicate_total", Help: "Signups rejected as duplicate."},
	{ID: trueface.MetricLoginSuccess, Name: "trueface_login_success_total", Help: "Successful face logins."},
	{ID: trueface.MetricLoginFailure, Name: "trueface_login_failure_total", Help: "Failed face logins."},
	{ID: trueface.MetricSessionCreated, Name: "trueface_session_created_total", Help: "Created sessions."},
	{ID: trueface.MetricSessionRevoked, Name: "trueface_session_revoked_total", Help: "Explicitly revoked sessions."},
	{ID: trueface.MetricSessionsBulkRevoked, Name: "trueface_sessions_bulk_revoked_total", Help: "Bulk revoke operations that revoked at least one session."},
	{ID: trueface.MetricLogout, Name: "trueface_logout_total", Help: "Logout operations."},
	{ID: trueface.MetricValidateSuccess, Name: "trueface_validate_success_total", Help: "Token validations that passed."},
	{ID: trueface.MetricValidateExpired, Name: "trueface_validate_expired_total", Help: "Token validations rejected for expiry."},
	{ID: trueface.MetricValidateRevoked, Name: "trueface_validate_revoked_total", Help: "Token validations rejected for revocation."},
	{ID: trueface.MetricValidateNotFound, Name: "trueface_validate_not_found_total", Help: "Token validations with no session record."},
	{ID: trueface.MetricValidateInvalid, Name: "trueface_validate_invalid_total", Help: "Token validations rejected as malformed or forged."},
	{ID: trueface.MetricUserDisabled, Name: "trueface_user_disabled_total", Help: "User disable operations."},
	{ID: trueface.MetricIndexDegraded, Name: "trueface_index_degraded_total", Help: "Recognition queries that fell back to the exact scan."},
	{ID: trueface.MetricIndexRebuilt, Name: "trueface_index_rebuilt_total", Help: "Approximate index rebuilds."},
	{ID: trueface.MetricRateLimitHit, Name: "trueface_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
}

// HistogramDefs lists the exported latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: trueface.MetricMatchLatency, Name: "trueface_match_latency_seconds", Help: "Verify and recognize latency histogram."},
	{ID: trueface.MetricValidateLatency, Name: "trueface_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's fixed millisecond buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundValues are the same bounds as float64 seconds, for
// exporters that take numeric bucket keys. The +Inf bound is omitted.
var HistogramBoundValues = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// 8-bucket layout.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
