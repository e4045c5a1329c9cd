package replysync

import (
	"errors"
	"fmt"
)

var (
	ErrRequestPending   = errors.New("a reply is already pending for this conversation")
	ErrNoPendingRequest = errors.New("no reply is pending for this conversation")
	ErrRequestNil       = errors.New("request is nil")
	ErrControllerClosed = errors.New("reply controller closed")
)

// FailureKind classifies why a reply could not be obtained.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureNetworkUnavailable FailureKind = "network-unavailable"
	FailureService            FailureKind = "service-error"
	FailureMalformedResponse  FailureKind = "malformed-response"
	FailureUnknown            FailureKind = "unknown"
)

// NetworkUnavailableError wraps a transport level failure.
type NetworkUnavailableError struct {
	Err error
}

func (e *NetworkUnavailableError) Error() string {
	if e.Err == nil {
		return "network unavailable"
	}
	return "network unavailable: " + e.Err.Error()
}

func (e *NetworkUnavailableError) Unwrap() error { return e.Err }

// ServiceError is returned for non-2xx responses.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("reply service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("reply service returned status %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError is returned when a 2xx body does not carry a usable reply.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed reply: " + e.Reason
}

// KindOf maps an error returned by a ReplyService to its failure kind.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var netErr *NetworkUnavailableError
	var svcErr *ServiceError
	var malformed *MalformedResponseError
	switch {
	case errors.As(err, &netErr):
		return FailureNetworkUnavailable
	case errors.As(err, &svcErr):
		return FailureService
	case errors.As(err, &malformed):
		return FailureMalformedResponse
	default:
		return FailureUnknown
	}
}
