package ocr

import (
	"context"
	"errors"
	"fmt"
)

// ErrServiceUnavailable matches errors from clients that were never configured.
var ErrServiceUnavailable = errors.New("service not configured")

// UnavailableError is returned by an unconfigured client. It matches ErrServiceUnavailable.
type UnavailableError struct {
	Provider string
	Reason   string
}

func (e *UnavailableError) Error() string {
	if e.Reason == "" {
		return ErrServiceUnavailable.Error()
	}
	return e.Reason
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// Upstream error codes produced locally. Remote engines supply their own codes.
const (
	CodeTimeout          = "timeout"
	CodeTransport        = "transport"
	CodeMalformedPayload = "malformed_response"
	CodeUnsupportedMedia = "unsupported_media"
	CodeMalformedDoc     = "malformed_document"
)

// UpstreamError wraps whatever the remote engine reported.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Code != "" && msg != "":
		return fmt.Sprintf("%s ocr error %s: %s", e.Provider, e.Code, msg)
	case msg != "":
		return fmt.Sprintf("%s ocr error: %s", e.Provider, msg)
	default:
		return fmt.Sprintf("%s ocr error %s", e.Provider, e.Code)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout wraps a deadline or cancellation into an UpstreamError.
func Timeout(provider string, err error) *UpstreamError {
	return &UpstreamError{Provider: provider, Code: CodeTimeout, Message: "request timed out", Err: err}
}

// IsTimeout reports whether err came from an expired OCR call.
func IsTimeout(err error) bool {
	var up *UpstreamError
	if errors.As(err, &up) && up.Code == CodeTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
