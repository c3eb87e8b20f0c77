package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	errs "github.com/yungbote/answercache/internal/pkg/errors"
)

// StatusClientClosedRequest is the nginx convention for a caller that went
// away before the response was ready. net/http has no constant for it.
const StatusClientClosedRequest = 499

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps the service error taxonomy onto HTTP statuses and stable codes.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.Canceled):
		return New(StatusClientClosedRequest, "client_closed_request", err)
	case errors.Is(err, errs.ErrInvalidArgument):
		return New(http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, errs.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, errs.ErrNoActiveOrganization):
		return New(http.StatusConflict, "no_active_organization", err)
	case errors.Is(err, errs.ErrComputationFailed):
		return New(http.StatusBadGateway, "computation_failed", err)
	case errors.Is(err, errs.ErrTimeout):
		return New(http.StatusGatewayTimeout, "timeout", err)
	default:
		return New(http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}
