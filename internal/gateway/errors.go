package gateway

import (
	"fmt"
	"time"
)

// ErrorKind categorizes why a turn failed. The API layer maps kinds to
// HTTP statuses; nothing here knows about HTTP.
type ErrorKind int

const (
	// KindBadRequest: the request itself is unusable (blank question,
	// unknown session).
	KindBadRequest ErrorKind = iota
	// KindAdmissionDenied: the identity's quota window is exhausted.
	KindAdmissionDenied
	// KindQuotaUnavailable: the quota store could not be reached and the
	// deployment fails closed.
	KindQuotaUnavailable
	// KindUpstreamAuth: the model provider rejected our credentials.
	KindUpstreamAuth
	// KindUpstreamOverload: the model provider is rate limiting us.
	KindUpstreamOverload
	// KindUpstreamMalformed: the provider answered with something unusable.
	KindUpstreamMalformed
	// KindUpstream: any other provider failure, timeouts included.
	KindUpstream
	// KindPersistence: the answer was generated but could not be saved.
	KindPersistence
)

// String returns the log-friendly name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindAdmissionDenied:
		return "admission_denied"
	case KindQuotaUnavailable:
		return "quota_unavailable"
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindUpstreamOverload:
		return "upstream_overload"
	case KindUpstreamMalformed:
		return "upstream_malformed"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// TurnError is the gateway's terminal failure for one turn. Message is
// safe to show to the end user; Err carries the internal cause for logs.
type TurnError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration // nonzero when the client should back off
	Err        error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("turn failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("turn failed (%s): %s", e.Kind, e.Message)
}

func (e *TurnError) Unwrap() error { return e.Err }
