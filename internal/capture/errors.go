package capture

import "errors"

// Error kinds. Wrap them with %w so callers can branch with errors.Is or KindOf.
var (
	ErrNotFound       = errors.New("not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrStore          = errors.New("store error")
	ErrValidation     = errors.New("validation error")
	ErrNotImplemented = errors.New("not implemented")
	ErrRender         = errors.New("render failed")
)

// ErrorKind classifies an error for callers that map errors to responses.
type ErrorKind int

// Error kinds returned by KindOf.
const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindAccessDenied
	KindStore
	KindValidation
	KindNotImplemented
	KindRender
)

// KindOf returns the first matching kind for err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotImplemented):
		return KindNotImplemented
	case errors.Is(err, ErrRender):
		return KindRender
	case errors.Is(err, ErrStore):
		return KindStore
	default:
		return KindUnknown
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindStore:
		return "store"
	case KindValidation:
		return "validation"
	case KindNotImplemented:
		return "not_implemented"
	case KindRender:
		return "render"
	default:
		return "unknown"
	}
}
