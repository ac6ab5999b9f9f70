package fish

import "errors"

var (
	// ErrMissingInput: no file on upload, no analysis body on export.
	ErrMissingInput = errors.New("missing input")
	// ErrInvalidInput: input present but unusable (not an image, bad record shape).
	ErrInvalidInput = errors.New("invalid input")
	// ErrExternalService: inference/assistant/fetch call failed or returned non-2xx.
	ErrExternalService = errors.New("external service error")
	// ErrMalformedResponse: the model replied but no JSON object could be parsed.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrTimeout: an outbound call exceeded its deadline.
	ErrTimeout = errors.New("external service timeout")
	// ErrStorage: filesystem write failure for an image or a report.
	ErrStorage = errors.New("storage error")
)

// ErrorKind is the machine readable failure tag put on error envelopes.
type ErrorKind string

const (
	KindMissingInput      ErrorKind = "missing_input"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindExternalService   ErrorKind = "external_service"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindTimeout           ErrorKind = "timeout"
	KindStorage           ErrorKind = "storage"
	KindInternal          ErrorKind = "internal"
)

// KindOf classifies err against the sentinel errors above.
// Timeout is checked before external service since timeouts usually wrap both.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingInput):
		return KindMissingInput
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrExternalService):
		return KindExternalService
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}
