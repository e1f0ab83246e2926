package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors the SDK branches on.
var (
	// ErrUnauthorized means the credential was missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired means the internal token lapsed; the client retries
	// once after a refresh before surfacing this.
	ErrTokenExpired = errors.New("token expired")
	// ErrWorkspaceAccess means the credential is valid but does not grant
	// the requested workspace or environment.
	ErrWorkspaceAccess = errors.New("workspace access denied")
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness or ownership conflict.
	ErrConflict = errors.New("conflict")
)

// APIError is a registry error response that does not map to a sentinel.
type APIError struct {
	Status        int
	Code          string
	Message       string
	CorrelationID string
}

func (e *APIError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("registry error %d %s: %s (correlation %s)", e.Status, e.Code, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("registry error %d %s: %s", e.Status, e.Code, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	} `json:"error"`
}

// decodeError translates a non-2xx response into a typed error. The body is
// consumed.
func decodeError(resp *http.Response) error {
	var env errorEnvelope
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(body, &env)

	apiErr := &APIError{
		Status:        resp.StatusCode,
		Code:          env.Error.Code,
		Message:       env.Error.Message,
		CorrelationID: env.Error.CorrelationID,
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized && env.Error.Code == "token_expired":
		return fmt.Errorf("%s: %w", env.Error.Message, ErrTokenExpired)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", env.Error.Message, ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", env.Error.Message, ErrWorkspaceAccess)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", env.Error.Message, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", env.Error.Message, ErrConflict)
	default:
		return apiErr
	}
}
