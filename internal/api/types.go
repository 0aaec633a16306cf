package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Endpoint paths.
const (
	PathCheckExpiry = "/im/checkWsTokenExpiry"
	PathRenew       = "/im/renewWsToken"
	PathHeartbeat   = "/im/heartbeat"
)

// ErrEmptyToken is returned when a call is made without a token, or when
// the server answers with an empty one.
var ErrEmptyToken = errors.New("empty token")

// Envelope is the common response shape of the IM endpoints.
type Envelope struct {
	Flag    bool            `json:"flag"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// ResultError is returned when the server answers 2xx with flag=false.
type ResultError struct {
	Path    string
	Message string
}

func (e *ResultError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("im api %s: request rejected", e.Path)
	}
	return fmt.Sprintf("im api %s: %s", e.Path, e.Message)
}

// IsResultError reports whether err is (or wraps) a ResultError.
func IsResultError(err error) bool {
	var re *ResultError
	return errors.As(err, &re)
}
