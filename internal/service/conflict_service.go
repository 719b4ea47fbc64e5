package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-compass/internal/dto"
	"github.com/noah-isme/gema-compass/internal/models"
	"github.com/noah-isme/gema-compass/internal/repository"
)

var (
	// ErrConflictNotFound indicates an unknown conflict.
	ErrConflictNotFound = errors.New("conflict not found")
	// ErrInvalidConflictState indicates an unknown conflict state filter.
	ErrInvalidConflictState = errors.New("invalid conflict state")
	// ErrConflictTransition indicates a state change the lifecycle does not allow.
	ErrConflictTransition = errors.New("conflict state transition not allowed")
)

var conflictTransitions = map[string]map[string]struct{}{
	models.ConflictStateUnhandled: {
		models.ConflictStateEscalated: {},
		models.ConflictStateResolved:  {},
	},
	models.ConflictStateEscalated: {
		models.ConflictStateResolved: {},
	},
}

// ConflictService manages the lifecycle of assessment conflicts.
type ConflictService interface {
	List(ctx context.Context, exerciseID uint, state string) ([]dto.ConflictResponse, error)
	Escalate(ctx context.Context, id uint, actor ActivityActor) (dto.ConflictResponse, error)
	Resolve(ctx context.Context, id uint, actor ActivityActor) (dto.ConflictResponse, error)
}

type conflictService struct {
	repo     repository.ConflictRepository
	activity ActivityRecorder
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewConflictService constructs the conflict lifecycle service. activity may be nil.
func NewConflictService(repo repository.ConflictRepository, activity ActivityRecorder, logger zerolog.Logger) ConflictService {
	return &conflictService{
		repo:     repo,
		activity: activity,
		logger:   logger.With().Str("component", "conflict_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-compass/internal/service/conflict"),
		now:      time.Now,
	}
}

func (s *conflictService) List(ctx context.Context, exerciseID uint, state string) ([]dto.ConflictResponse, error) {
	switch state {
	case "", models.ConflictStateUnhandled, models.ConflictStateEscalated, models.ConflictStateResolved:
	default:
		return nil, ErrInvalidConflictState
	}

	conflicts, err := s.repo.ListByExercise(ctx, exerciseID, state)
	if err != nil {
		return nil, err
	}
	return dto.NewConflictResponseSlice(conflicts), nil
}

func (s *conflictService) Escalate(ctx context.Context, id uint, actor ActivityActor) (dto.ConflictResponse, error) {
	return s.transition(ctx, id, models.ConflictStateEscalated, actor)
}

func (s *conflictService) Resolve(ctx context.Context, id uint, actor ActivityActor) (dto.ConflictResponse, error) {
	return s.transition(ctx, id, models.ConflictStateResolved, actor)
}

func (s *conflictService) transition(ctx context.Context, id uint, target string, actor ActivityActor) (dto.ConflictResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "conflicts.transition", trace.WithAttributes(
		attribute.Int64("conflict.id", int64(id)),
		attribute.String("conflict.target", target),
	))
	defer span.End()

	conflict, err := s.repo.GetByID(spanCtx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ConflictResponse{}, ErrConflictNotFound
		}
		span.RecordError(err)
		return dto.ConflictResponse{}, err
	}

	if _, ok := conflictTransitions[conflict.State][target]; !ok {
		return dto.ConflictResponse{}, ErrConflictTransition
	}

	previous := conflict.State
	conflict.State = target
	if target == models.ConflictStateResolved {
		resolvedAt := s.now().UTC()
		resolvedBy := actor.ID
		conflict.ResolvedAt = &resolvedAt
		conflict.ResolvedBy = &resolvedBy
	}

	applied, err := s.repo.Transition(spanCtx, &conflict, previous)
	if err != nil {
		span.RecordError(err)
		return dto.ConflictResponse{}, err
	}
	if !applied {
		return dto.ConflictResponse{}, ErrConflictTransition
	}

	action := ActionConflictEscalated
	if target == models.ConflictStateResolved {
		action = ActionConflictResolved
	}
	if s.activity != nil {
		if _, err := s.activity.Record(spanCtx, ActivityEntry{
			ExerciseID: conflict.ExerciseID,
			Actor:      actor,
			Action:     action,
			EntityType: "conflict",
			EntityID:   &conflict.ID,
			Metadata:   map[string]interface{}{"from": previous, "to": target},
		}); err != nil {
			s.logger.Warn().Err(err).Uint("conflict_id", conflict.ID).Msg("failed to record conflict activity")
		}
	}

	return dto.NewConflictResponse(conflict), nil
}
