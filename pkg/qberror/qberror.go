// Package qberror defines the structured error shape returned by REST and
// chat operations.
package qberror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is the normalized error delivered to callbacks
type Error struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message any    `json:"message"`
	Detail  any    `json:"detail"`
}

// New creates an error for a status code with an optional detail
func New(code int, detail string) *Error {
	e := &Error{
		Code:    code,
		Status:  "error",
		Message: http.StatusText(code),
	}
	if detail != "" {
		e.Detail = detail
	}
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := messageString(e.Message)
	if e.Detail != nil {
		return fmt.Sprintf("qb: %d %s: %s (%v)", e.Code, e.Status, msg, e.Detail)
	}
	return fmt.Sprintf("qb: %d %s: %s", e.Code, e.Status, msg)
}

// IsSessionExpired reports whether err signals an expired or missing session
func IsSessionExpired(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Code == http.StatusUnauthorized {
		return true
	}
	return e.Status == "401 Unauthorized" || messageString(e.Message) == "Unauthorized"
}

// Is matches errors by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func messageString(m any) string {
	switch v := m.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
