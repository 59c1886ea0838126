package types

import (
	"errors"
	"fmt"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ErrSimulatorUnavailable is returned for simulator-bound operations while no
// simulator session is connected.
var ErrSimulatorUnavailable = errors.New("simulator unavailable")

// TransportError wraps open/read/write failures on a transport channel.
// Recoverable: the owning session reconnects.
type TransportError struct {
	Endpoint string
	Op       string
	Err      error
}

func NewTransportError(endpoint, op string, err error) *TransportError {
	return &TransportError{Endpoint: endpoint, Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Endpoint, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolDecodeError describes a malformed frame. It never ends a session.
type ProtocolDecodeError struct {
	Frame  []byte
	Reason string
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("malformed frame %q: %s", e.Frame, e.Reason)
}

// ConfigurationError identifies an invalid or ambiguous mapping entry. It is
// the only error class that aborts startup.
type ConfigurationError struct {
	Index   int // position of the offending entry, -1 if not entry related
	Element PanelElement
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error in mapping entry %d (%s): %s", e.Index, e.Element, e.Reason)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
