package diagnostics

import (
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/google/uuid"
)

type Kind string

const (
	KindSessionState   Kind = "session_state"
	KindRoutingMiss    Kind = "routing_miss"
	KindMalformedFrame Kind = "malformed_frame"
	KindWriteFailure   Kind = "write_failure"
	KindTransformError Kind = "transform_error"
	KindDroppedEvent   Kind = "dropped_event"
	KindUnknownHandle  Kind = "unknown_handle"
)

// Record is one observable, non-fatal occurrence.
type Record struct {
	ID       uuid.UUID       `json:"id"`
	Kind     Kind            `json:"kind"`
	Time     time.Time       `json:"time"`
	Endpoint string          `json:"endpoint,omitempty"`
	Panel    types.PanelID   `json:"panel,omitempty"`
	Element  types.ElementID `json:"element,omitempty"`
	Variable string          `json:"variable,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Value    *float64        `json:"value,omitempty"`
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// WithValue returns r carrying v.
func (r Record) WithValue(v float64) Record {
	r.Value = &v
	return r
}

// WithError returns r carrying err's message. A nil err leaves r unchanged.
func (r Record) WithError(err error) Record {
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func SessionState(endpoint, from, to string, err error) Record {
	return Record{Kind: KindSessionState, Endpoint: endpoint, From: from, To: to}.WithError(err)
}

func RoutingMiss(input types.PanelInput) Record {
	return Record{
		Kind:    KindRoutingMiss,
		Panel:   input.Panel,
		Element: input.Element,
		Message: "no inbound mapping for element",
	}.WithValue(input.Value)
}

func MalformedFrame(panel types.PanelID, err *types.ProtocolDecodeError) Record {
	return Record{
		Kind:     KindMalformedFrame,
		Endpoint: "panel/" + string(panel),
		Panel:    panel,
		Message:  err.Reason,
		Error:    err.Error(),
	}
}
