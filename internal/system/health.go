package system

import (
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/session"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthSink mirrors session state records into the gRPC health service.
// Every endpoint is its own service name ("simulator", "panel/<id>").
type healthSink struct {
	server *health.Server
}

func newHealthSink(server *health.Server, refs []session.Ref) *healthSink {
	for _, ref := range refs {
		server.SetServingStatus(ref.String(), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &healthSink{server: server}
}

func (h *healthSink) Record(r diagnostics.Record) {
	if r.Kind != diagnostics.KindSessionState || r.Endpoint == "" {
		return
	}
	h.server.SetServingStatus(r.Endpoint, servingStatus(session.State(r.To)))
}

func servingStatus(state session.State) healthpb.HealthCheckResponse_ServingStatus {
	if state == session.StateConnected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
