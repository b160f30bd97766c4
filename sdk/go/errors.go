package pfmtsdk

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures surfaced by the client.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindPermission ErrorKind = "permission"
	KindNotFound   ErrorKind = "not_found"
	KindServer     ErrorKind = "server"
	KindNetwork    ErrorKind = "network"
)

// APIError wraps every failure returned by Client. StatusCode is zero for
// local validation and network failures.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error: status=%d %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsKind reports whether err is an APIError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == k
}

// KindOf returns the kind of err, or "" when err is not an APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest,
		status == http.StatusConflict,
		status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusNotFound:
		return KindNotFound
	default:
		return KindServer
	}
}

func validationError(msg string) *APIError {
	return &APIError{Kind: KindValidation, Code: "validation_failed", Message: msg}
}

func networkError(msg string, err error) *APIError {
	return &APIError{Kind: KindNetwork, Code: "network_error", Message: msg, Err: err}
}
