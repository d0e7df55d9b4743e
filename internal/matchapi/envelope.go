package matchapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedResponse = errors.New("malformed api response")

// APIError is an envelope with success=false.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error: %s", e.Op, e.Message)
}

// StatusError is a transport-level failure: the service answered with a non-2xx code.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: http status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: http status %d: %s", e.Op, e.Code, e.Detail)
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// decodeEnvelope validates the {success, data|error} wrapper and unmarshals
// data into out. A nil out only validates.
func decodeEnvelope(op string, code int, body []byte, out any) error {
	var env envelope
	parseErr := json.Unmarshal(body, &env)

	if code < 200 || code > 299 {
		detail := ""
		if parseErr == nil && env.Error != "" {
			detail = env.Error
		}
		return &StatusError{Op: op, Code: code, Detail: detail}
	}
	if parseErr != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, parseErr)
	}
	if env.Success == nil {
		return fmt.Errorf("%s: %w: missing success field", op, ErrMalformedResponse)
	}
	if !*env.Success {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = "unknown error"
		}
		return &APIError{Op: op, Message: msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}
	return nil
}
