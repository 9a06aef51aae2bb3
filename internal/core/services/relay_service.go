package services

import (
	"context"
	"encoding/json"
	"fmt"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"go.uber.org/zap"
)

var relayKinds = map[string]bool{
	domain.EventOffer:        true,
	domain.EventAnswer:       true,
	domain.EventICECandidate: true,
}

// IsRelayKind reports whether kind is a point-to-point negotiation event.
func IsRelayKind(kind string) bool {
	return relayKinds[kind]
}

// RelayService forwards negotiation payloads between two live connections.
// It keeps no state of its own.
type RelayService struct {
	registry *ConnectionRegistry
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewRelayService(registry *ConnectionRegistry, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *RelayService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &RelayService{registry: registry, metrics: metrics, logger: logger}
}

func (s *RelayService) Relay(ctx context.Context, from ports.Connection, target domain.UserID, kind string, payload, metadata json.RawMessage) error {
	if !IsRelayKind(kind) {
		return fmt.Errorf("%w: unsupported relay kind %q", domain.ErrValidation, kind)
	}
	if target == "" {
		return fmt.Errorf("%w: relay target is required", domain.ErrValidation)
	}

	conn, ok := s.registry.Resolve(target)
	if !ok {
		s.metrics.RecordRelay(kind, false)
		return domain.ErrTargetUnreachable
	}

	err := conn.Send(domain.Event{
		Name: kind,
		Payload: domain.RelayPayload{
			FromUser:       from.UserID(),
			FromConnection: from.ID(),
			Payload:        payload,
			Metadata:       metadata,
		},
	})
	if err != nil {
		s.metrics.RecordRelay(kind, false)
		s.logger.Debugw("Relay send failed",
			"event", kind,
			"user_id", from.UserID(),
			"target", target,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrTargetUnreachable, err)
	}

	s.metrics.RecordRelay(kind, true)
	return nil
}
