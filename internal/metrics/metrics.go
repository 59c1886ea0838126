package metrics

import (
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/session"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionState is 1 for the current state of each endpoint and 0 for the others
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panelbridge_session_state",
			Help: "Current connection state per endpoint",
		},
		[]string{"endpoint", "state"},
	)

	// SessionTransitionsTotal counts state changes per endpoint and target state
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelbridge_session_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"endpoint", "to"},
	)

	// DiagnosticsTotal counts diagnostic records by kind
	DiagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelbridge_diagnostics_total",
			Help: "Total number of diagnostic records by kind",
		},
		[]string{"kind"},
	)

	// InputsTotal counts panel inputs by routing result
	InputsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelbridge_panel_inputs_total",
			Help: "Total number of panel inputs, by whether a mapping matched",
		},
		[]string{"panel", "routed"},
	)

	// OutputsTotal counts frames sent to panels and outputs skipped as unchanged
	OutputsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelbridge_panel_outputs_total",
			Help: "Total number of panel output updates, by result",
		},
		[]string{"panel", "result"},
	)
)

var sessionStates = []session.State{
	session.StateDisconnected,
	session.StateConnecting,
	session.StateConnected,
	session.StateFaulted,
}

// RecordSessionState sets the state gauge of endpoint to state.
func RecordSessionState(endpoint string, state session.State) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		SessionState.WithLabelValues(endpoint, string(s)).Set(v)
	}
	SessionTransitionsTotal.WithLabelValues(endpoint, string(state)).Inc()
}

// Sink feeds diagnostic records into the collectors above.
type Sink struct{}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Record(r diagnostics.Record) {
	DiagnosticsTotal.WithLabelValues(string(r.Kind)).Inc()
	if r.Kind == diagnostics.KindSessionState && r.Endpoint != "" {
		RecordSessionState(r.Endpoint, session.State(r.To))
	}
}

// Hub implements the routing counters of the hub.
type Hub struct{}

func (Hub) InputRouted(panel types.PanelID, routed bool) {
	label := "false"
	if routed {
		label = "true"
	}
	InputsTotal.WithLabelValues(string(panel), label).Inc()
}

func (Hub) OutputSent(panel types.PanelID) {
	OutputsTotal.WithLabelValues(string(panel), "sent").Inc()
}

func (Hub) OutputSuppressed(panel types.PanelID) {
	OutputsTotal.WithLabelValues(string(panel), "unchanged").Inc()
}
