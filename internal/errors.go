package internal

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable means a downstream service could not be reached
	// at all; the request may be retried.
	ErrTransportUnavailable = errors.New("downstream service unreachable")

	// ErrStorageUnavailable means the blob store could not be reached.
	ErrStorageUnavailable = errors.New("blob storage unavailable")

	// ErrStorageRejected means the blob store answered and refused the request.
	ErrStorageRejected = errors.New("blob storage rejected request")

	// ErrMalformedEvent marks an inbound payload missing required fields.
	ErrMalformedEvent = errors.New("malformed event payload")

	// ErrStaleUpload marks a chunk for a session that was already sealed.
	ErrStaleUpload = errors.New("stale upload session")
)

// ServiceError is a rejection returned by a downstream service. The request
// reached the service and was refused, so it is never retried.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service rejected request: %s", e.Code)
	}
	return fmt.Sprintf("service rejected request: %s: %s", e.Code, e.Message)
}

// errorCode maps a flow failure onto the short code carried by error acks.
func errorCode(err error) string {
	var svcErr *ServiceError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &svcErr):
		return "service_rejected"
	case errors.Is(err, ErrTransportUnavailable):
		return "service_unreachable"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrStorageRejected):
		return "storage_rejected"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed_event"
	case errors.Is(err, ErrStaleUpload):
		return "stale_upload"
	default:
		return "internal"
	}
}
