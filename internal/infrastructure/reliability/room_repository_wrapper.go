package reliability

import (
	"context"
	"errors"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/circuitbreaker"
	"roomrelay/pkg/retry"
	"roomrelay/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// isDomainError reports outcomes that reflect room state rather than a
// backend fault. They are neither retried nor counted by the breaker.
func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrRoomExists)
}

// RoomRepositoryWrapper decorates a RoomRepository with retry, a circuit
// breaker, singleflight reads and store metrics.
type RoomRepositoryWrapper struct {
	repo    ports.RoomRepository
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	reads          singleflight.Group
}

var _ ports.RoomRepository = (*RoomRepositoryWrapper)(nil)

func NewRoomRepositoryWrapper(
	repo ports.RoomRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *RoomRepositoryWrapper {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	retryConfig.Permanent = func(err error) bool {
		return isDomainError(err) || errors.Is(err, circuitbreaker.ErrOpen) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	cbConfig.IsFailure = func(err error) bool { return !isDomainError(err) }

	w := &RoomRepositoryWrapper{
		repo:           repo,
		metrics:        metrics,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}
	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("room store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *RoomRepositoryWrapper) Create(ctx context.Context, room *domain.Room) error {
	_, err := run(ctx, w, "create", func() (struct{}, error) {
		return struct{}{}, w.repo.Create(ctx, room)
	})
	return err
}

// GetByID collapses concurrent reads of the same room into one backend call.
// Each caller receives its own copy. The shared call is detached from the
// caller that started it, and every caller still returns on its own ctx.
func (w *RoomRepositoryWrapper) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	shared := context.WithoutCancel(ctx)
	ch := w.reads.DoChan(string(id), func() (interface{}, error) {
		return run(shared, w, "get", func() (*domain.Room, error) {
			return w.repo.GetByID(shared, id)
		})
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		room := res.Val.(*domain.Room)
		if res.Shared {
			return room.Clone(), nil
		}
		return room, nil
	}
}

func (w *RoomRepositoryWrapper) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return run(ctx, w, "add_participant", func() (*domain.Room, error) {
		return w.repo.AddParticipant(ctx, id, user)
	})
}

func (w *RoomRepositoryWrapper) RemoveParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return run(ctx, w, "remove_participant", func() (*domain.Room, error) {
		return w.repo.RemoveParticipant(ctx, id, user)
	})
}

func (w *RoomRepositoryWrapper) SetActive(ctx context.Context, id domain.RoomID, active bool) (*domain.Room, error) {
	return run(ctx, w, "set_active", func() (*domain.Room, error) {
		return w.repo.SetActive(ctx, id, active)
	})
}

func (w *RoomRepositoryWrapper) SetPassword(ctx context.Context, id domain.RoomID, hash string) (*domain.Room, error) {
	return run(ctx, w, "set_password", func() (*domain.Room, error) {
		return w.repo.SetPassword(ctx, id, hash)
	})
}

func (w *RoomRepositoryWrapper) SetChatEnabled(ctx context.Context, id domain.RoomID, enabled bool) (*domain.Room, error) {
	return run(ctx, w, "set_chat_enabled", func() (*domain.Room, error) {
		return w.repo.SetChatEnabled(ctx, id, enabled)
	})
}

func (w *RoomRepositoryWrapper) AddInvite(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return run(ctx, w, "add_invite", func() (*domain.Room, error) {
		return w.repo.AddInvite(ctx, id, user)
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *RoomRepositoryWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}

func run[T any](ctx context.Context, w *RoomRepositoryWrapper, op string, fn func() (T, error)) (T, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, op, "rooms")
	defer span.End()

	start := time.Now()
	result, err := retry.Do(ctx, w.retryConfig, func() (T, error) {
		return circuitbreaker.Call(ctx, w.circuitBreaker, fn)
	})

	recorded := err
	if isDomainError(err) {
		recorded = nil
	}
	w.metrics.RecordStoreOperation(op, time.Since(start), recorded)
	tracing.MeasureDuration(ctx, start, op)
	if recorded != nil {
		tracing.RecordError(ctx, recorded)
		w.logger.Warnw("room store operation failed", "op", op, "error", err)
	}
	return result, err
}
