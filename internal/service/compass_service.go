package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-compass/internal/compass"
	"github.com/noah-isme/gema-compass/internal/diagram"
	"github.com/noah-isme/gema-compass/internal/dto"
	"github.com/noah-isme/gema-compass/internal/models"
	"github.com/noah-isme/gema-compass/internal/observability"
	"github.com/noah-isme/gema-compass/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates an unknown modeling submission.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrExerciseNotFound indicates an exercise without submissions.
	ErrExerciseNotFound = errors.New("exercise has no submissions")
	// ErrInvalidModel indicates a diagram that could not be parsed.
	ErrInvalidModel = errors.New("invalid modeling submission")
	// ErrAssessorRequired indicates an assessment without an authenticated assessor.
	ErrAssessorRequired = errors.New("assessor is required")
	// ErrNoSubmissionAvailable indicates that no submission is left to assess.
	ErrNoSubmissionAvailable = errors.New("no submission available for assessment")
	// ErrSubmissionNotInExercise indicates a submission addressed through the wrong exercise.
	ErrSubmissionNotInExercise = errors.New("submission does not belong to exercise")
)

const remoteApplyTimeout = 5 * time.Second

// CompassSettings tunes the engines managed by the service.
type CompassSettings struct {
	EqualityThreshold float64
	WaitingListSize   int
	ConflictTolerance float64
	Retention         time.Duration
	EvictionInterval  time.Duration
}

// CompassService drives semi-automatic assessment of modeling exercises.
type CompassService interface {
	AddSubmission(ctx context.Context, req dto.ModelingSubmissionCreateRequest) (dto.ModelingSubmissionResponse, error)
	Assess(ctx context.Context, submissionID uint, req dto.AssessmentRequest, actor ActivityActor) (dto.AssessmentResponse, error)
	Grade(ctx context.Context, submissionID uint) (dto.GradeResponse, error)
	NextOptimal(ctx context.Context, exerciseID uint) (dto.NextOptimalResponse, error)
	WaitingList(ctx context.Context, exerciseID uint) (dto.WaitingListResponse, error)
	Release(ctx context.Context, exerciseID, submissionID uint, requeue bool) error
	ResetExercise(ctx context.Context, exerciseID uint, actor ActivityActor) bool
	Statistics(ctx context.Context, exerciseID uint) (dto.StatisticsResponse, error)
	EvictIdle() []uint
	ActiveEngines() int
	Start(ctx context.Context)
}

type compassService struct {
	submissions repository.ModelingSubmissionRepository
	results     repository.ModelingResultRepository
	conflicts   repository.ConflictRepository
	registry    *compass.Registry
	events      CompassEventPublisher
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	settings    CompassSettings
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewCompassService constructs the assessment service. events and activity may be nil.
func NewCompassService(
	submissions repository.ModelingSubmissionRepository,
	results repository.ModelingResultRepository,
	conflicts repository.ConflictRepository,
	events CompassEventPublisher,
	activity ActivityRecorder,
	validate *validator.Validate,
	settings CompassSettings,
	logger zerolog.Logger,
) CompassService {
	if settings.Retention <= 0 {
		settings.Retention = 24 * time.Hour
	}
	if settings.EvictionInterval <= 0 {
		settings.EvictionInterval = 24 * time.Hour
	}

	opts := []compass.Option{compass.WithWaitingListSize(settings.WaitingListSize)}
	if settings.EqualityThreshold > 0 {
		opts = append(opts, compass.WithEqualityThreshold(settings.EqualityThreshold))
	}
	if settings.ConflictTolerance > 0 {
		opts = append(opts, compass.WithConflictTolerance(settings.ConflictTolerance))
	}

	return &compassService{
		submissions: submissions,
		results:     results,
		conflicts:   conflicts,
		registry:    compass.NewRegistry(opts...),
		events:      events,
		activity:    activity,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		settings:    settings,
		logger:      logger.With().Str("component", "compass_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-compass/internal/service/compass"),
		now:         time.Now,
	}
}

// Start runs the periodic idle-engine eviction and listens for events of other nodes.
func (s *compassService) Start(ctx context.Context) {
	if s.events != nil {
		s.events.Start(ctx, s.handleEvent)
	}

	go func() {
		ticker := time.NewTicker(s.settings.EvictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EvictIdle()
			}
		}
	}()
}

func (s *compassService) handleEvent(event CompassEvent) {
	switch event.Type {
	case EventAssessmentManual:
		s.applyRemoteAssessment(event)
	case EventEngineReset:
		if s.registry.Remove(event.ExerciseID) {
			observability.EnginesActive().Set(float64(s.registry.Len()))
			s.logger.Info().Uint("exercise_id", event.ExerciseID).Str("event", event.Type).Msg("dropped stale engine")
		}
	}
}

// applyRemoteAssessment replays a manual assessment stored by another node into the
// resident engine. The engine keeps its waiting list and in-assessment locks.
func (s *compassService) applyRemoteAssessment(event CompassEvent) {
	engine, ok := s.registry.Get(event.ExerciseID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteApplyTimeout)
	defer cancel()

	for _, submissionID := range event.SubmissionIDs {
		logger := s.logger.With().Uint("exercise_id", event.ExerciseID).Uint("submission_id", submissionID).Logger()

		if _, indexed := engine.Diagram(submissionID); !indexed {
			submission, err := s.submission(ctx, submissionID)
			if err == nil {
				if parsed, parseErr := diagram.Parse(submission.Model, submission.ID); parseErr == nil {
					engine.AddDiagram(parsed)
				}
			}
		}

		result, err := s.results.GetBySubmission(ctx, submissionID)
		if err != nil || !result.Completed || !result.IsManual() {
			// without the stored feedback the submission must at least never be handed out again
			engine.MarkAssessed(submissionID)
			logger.Warn().Err(err).Msg("remote assessment not replayed")
			continue
		}
		engine.RecordAssessment(submissionID, engineFeedback(result))
		logger.Debug().Msg("remote assessment applied")
	}
}

func (s *compassService) EvictIdle() []uint {
	evicted := s.registry.EvictIdle(s.settings.Retention)
	if len(evicted) > 0 {
		observability.EngineEvictions().Add(float64(len(evicted)))
		s.logger.Info().Int("count", len(evicted)).Msg("evicted idle engines")
	}
	observability.EnginesActive().Set(float64(s.registry.Len()))
	return evicted
}

func (s *compassService) ActiveEngines() int {
	return s.registry.Len()
}

func (s *compassService) AddSubmission(ctx context.Context, req dto.ModelingSubmissionCreateRequest) (dto.ModelingSubmissionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ModelingSubmissionResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "compass.add_submission", trace.WithAttributes(
		attribute.Int64("compass.exercise_id", int64(req.ExerciseID)),
	))
	defer span.End()

	preview, err := diagram.Parse(req.Model, 0)
	if err != nil {
		s.recordParseFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid model")
		return dto.ModelingSubmissionResponse{}, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	submission := models.ModelingSubmission{
		ExerciseID:  req.ExerciseID,
		StudentID:   req.StudentID,
		DiagramType: string(preview.Kind()),
		Model:       datatypes.JSON(req.Model),
	}
	if err := s.submissions.Create(spanCtx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist submission")
		return dto.ModelingSubmissionResponse{}, err
	}

	parsed, err := diagram.Parse(submission.Model, submission.ID)
	if err != nil {
		return dto.ModelingSubmissionResponse{}, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	engine, err := s.engine(spanCtx, submission.ExerciseID)
	if err != nil {
		span.RecordError(err)
		return dto.ModelingSubmissionResponse{}, err
	}
	engine.AddDiagram(parsed)

	s.logger.Info().
		Uint("exercise_id", submission.ExerciseID).
		Uint("submission_id", submission.ID).
		Int("elements", parsed.Len()).
		Msg("modeling submission indexed")

	return dto.NewModelingSubmissionResponse(submission, parsed.Len()), nil
}

func (s *compassService) Assess(ctx context.Context, submissionID uint, req dto.AssessmentRequest, actor ActivityActor) (dto.AssessmentResponse, error) {
	if actor.ID == 0 {
		return dto.AssessmentResponse{}, ErrAssessorRequired
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.AssessmentResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "compass.assess", trace.WithAttributes(
		attribute.Int64("compass.submission_id", int64(submissionID)),
		attribute.Int64("compass.assessor_id", int64(actor.ID)),
	))
	defer span.End()

	submission, err := s.submission(spanCtx, submissionID)
	if err != nil {
		span.RecordError(err)
		return dto.AssessmentResponse{}, err
	}

	engine, err := s.engine(spanCtx, submission.ExerciseID)
	if err != nil {
		span.RecordError(err)
		return dto.AssessmentResponse{}, err
	}

	feedback := s.toEngineFeedback(submissionID, actor.ID, req.Feedback)

	completedAt := s.now().UTC()
	assessorID := actor.ID
	result := models.ModelingResult{
		SubmissionID:   submissionID,
		ExerciseID:     submission.ExerciseID,
		AssessorID:     &assessorID,
		AssessmentType: models.AssessmentTypeManual,
		Completed:      true,
		CompletedAt:    &completedAt,
	}
	for _, f := range feedback {
		result.Score += f.Credits
		result.Feedback = append(result.Feedback, models.ModelingFeedback{
			SubmissionID: submissionID,
			ElementID:    f.ElementID,
			ElementType:  f.ElementType,
			Credits:      f.Credits,
			Text:         f.Text,
			Type:         models.FeedbackTypeManual,
		})
	}
	if err := s.results.SaveManual(spanCtx, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist manual result")
		return dto.AssessmentResponse{}, err
	}

	// conflicts are detected against the table this assessment is recorded into
	detected := engine.AssessSubmission(submissionID, feedback)

	conflicts, err := s.storeConflicts(spanCtx, submission, detected)
	if err != nil {
		s.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("failed to persist assessment conflicts")
	}

	automatic, err := s.propagate(spanCtx, engine, submission.ExerciseID)
	if err != nil {
		s.logger.Error().Err(err).Uint("exercise_id", submission.ExerciseID).Msg("failed to persist automatic results")
	}

	s.publish(spanCtx, CompassEvent{Type: EventAssessmentManual, ExerciseID: submission.ExerciseID, SubmissionIDs: []uint{submissionID}})
	if len(automatic) > 0 {
		s.publish(spanCtx, CompassEvent{Type: EventAssessmentAutomatic, ExerciseID: submission.ExerciseID, SubmissionIDs: automatic})
	}
	if len(conflicts) > 0 {
		ids := make([]uint, 0, len(conflicts))
		for _, conflict := range conflicts {
			ids = append(ids, conflict.ID)
		}
		s.publish(spanCtx, CompassEvent{Type: EventConflictDetected, ExerciseID: submission.ExerciseID, SubmissionIDs: []uint{submissionID}, ConflictIDs: ids})
	}

	s.audit(spanCtx, ActivityEntry{
		ExerciseID: submission.ExerciseID,
		Actor:      actor,
		Action:     ActionAssessmentSubmitted,
		EntityType: "submission",
		EntityID:   &submissionID,
		Metadata: map[string]interface{}{
			"score":     result.Score,
			"feedback":  len(feedback),
			"conflicts": len(conflicts),
			"automatic": len(automatic),
		},
	})

	return dto.AssessmentResponse{
		SubmissionID:        submissionID,
		Score:               result.Score,
		Conflicts:           dto.NewConflictResponseSlice(conflicts),
		AutomaticAssessment: len(automatic),
	}, nil
}

// Grade never fails on a lookup miss: unknown submissions get an empty grade.
func (s *compassService) Grade(ctx context.Context, submissionID uint) (dto.GradeResponse, error) {
	submission, err := s.submission(ctx, submissionID)
	if errors.Is(err, ErrSubmissionNotFound) {
		return dto.NewGradeResponse(compass.EmptyGrade(submissionID)), nil
	}
	if err != nil {
		return dto.GradeResponse{}, err
	}

	engine, err := s.engine(ctx, submission.ExerciseID)
	if errors.Is(err, ErrExerciseNotFound) {
		return dto.NewGradeResponse(compass.EmptyGrade(submissionID)), nil
	}
	if err != nil {
		return dto.GradeResponse{}, err
	}

	return dto.NewGradeResponse(engine.GradeFor(submissionID)), nil
}

func (s *compassService) NextOptimal(ctx context.Context, exerciseID uint) (dto.NextOptimalResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "compass.next_optimal", trace.WithAttributes(
		attribute.Int64("compass.exercise_id", int64(exerciseID)),
	))
	defer span.End()

	engine, err := s.engine(spanCtx, exerciseID)
	if errors.Is(err, ErrExerciseNotFound) {
		return dto.NextOptimalResponse{}, ErrNoSubmissionAvailable
	}
	if err != nil {
		span.RecordError(err)
		return dto.NextOptimalResponse{}, err
	}

	submissionID, ok := engine.AssignNext(spanCtx, s.results)
	if !ok {
		return dto.NextOptimalResponse{}, ErrNoSubmissionAvailable
	}

	return dto.NextOptimalResponse{ExerciseID: exerciseID, SubmissionID: submissionID}, nil
}

func (s *compassService) WaitingList(ctx context.Context, exerciseID uint) (dto.WaitingListResponse, error) {
	engine, err := s.engine(ctx, exerciseID)
	if errors.Is(err, ErrExerciseNotFound) {
		return dto.WaitingListResponse{ExerciseID: exerciseID, Submissions: []uint{}}, nil
	}
	if err != nil {
		return dto.WaitingListResponse{}, err
	}

	return dto.WaitingListResponse{
		ExerciseID:  exerciseID,
		Submissions: engine.WaitingList(ctx, s.results),
	}, nil
}

func (s *compassService) Release(ctx context.Context, exerciseID, submissionID uint, requeue bool) error {
	submission, err := s.submission(ctx, submissionID)
	if err != nil {
		return err
	}
	if submission.ExerciseID != exerciseID {
		return ErrSubmissionNotInExercise
	}

	engine, ok := s.registry.Get(exerciseID)
	if !ok {
		// nothing is queued or locked without a loaded engine
		return nil
	}
	engine.Release(submissionID, requeue)
	return nil
}

func (s *compassService) ResetExercise(ctx context.Context, exerciseID uint, actor ActivityActor) bool {
	removed := s.registry.Remove(exerciseID)
	observability.EnginesActive().Set(float64(s.registry.Len()))

	s.publish(ctx, CompassEvent{Type: EventEngineReset, ExerciseID: exerciseID})
	s.audit(ctx, ActivityEntry{
		ExerciseID: exerciseID,
		Actor:      actor,
		Action:     ActionEngineReset,
		EntityType: "exercise",
		EntityID:   &exerciseID,
		Metadata:   map[string]interface{}{"loaded": removed},
	})

	return removed
}

func (s *compassService) Statistics(ctx context.Context, exerciseID uint) (dto.StatisticsResponse, error) {
	engine, err := s.engine(ctx, exerciseID)
	if errors.Is(err, ErrExerciseNotFound) {
		return dto.StatisticsResponse{ExerciseID: exerciseID}, nil
	}
	if err != nil {
		return dto.StatisticsResponse{}, err
	}
	return dto.NewStatisticsResponse(engine.Statistics()), nil
}

func (s *compassService) submission(ctx context.Context, submissionID uint) (models.ModelingSubmission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ModelingSubmission{}, ErrSubmissionNotFound
		}
		return models.ModelingSubmission{}, err
	}
	return submission, nil
}

func (s *compassService) engine(ctx context.Context, exerciseID uint) (*compass.Engine, error) {
	engine, err := s.registry.GetOrCreate(ctx, exerciseID, s.loader(exerciseID))
	if err != nil {
		if errors.Is(err, compass.ErrNoSubmissions) {
			return nil, ErrExerciseNotFound
		}
		return nil, err
	}
	observability.EnginesActive().Set(float64(s.registry.Len()))
	return engine, nil
}

// loader rebuilds an engine from the persisted submissions and completed manual results.
// Submissions whose model cannot be parsed are skipped.
func (s *compassService) loader(exerciseID uint) compass.Loader {
	return func(ctx context.Context, engine *compass.Engine) error {
		start := time.Now()

		submissions, err := s.submissions.ListByExercise(ctx, exerciseID)
		if err != nil {
			return err
		}
		if len(submissions) == 0 {
			return compass.ErrNoSubmissions
		}

		for _, submission := range submissions {
			parsed, err := diagram.Parse(submission.Model, submission.ID)
			if err != nil {
				s.recordParseFailure(err)
				s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("skipping unparsable submission")
				continue
			}
			engine.AddDiagram(parsed)
		}

		results, err := s.results.ListCompletedManual(ctx, exerciseID)
		if err != nil {
			return err
		}
		for _, result := range results {
			engine.RecordAssessment(result.SubmissionID, engineFeedback(result))
		}

		observability.EngineLoadDuration().Observe(time.Since(start).Seconds())
		s.logger.Info().
			Uint("exercise_id", exerciseID).
			Int("submissions", len(submissions)).
			Int("assessed", len(results)).
			Msg("compass engine loaded")
		return nil
	}
}

func engineFeedback(result models.ModelingResult) []compass.Feedback {
	var assessorID uint
	if result.AssessorID != nil {
		assessorID = *result.AssessorID
	}
	feedback := make([]compass.Feedback, 0, len(result.Feedback))
	for _, f := range result.Feedback {
		feedback = append(feedback, compass.Feedback{
			ID:           f.ID,
			SubmissionID: result.SubmissionID,
			ElementID:    f.ElementID,
			ElementType:  f.ElementType,
			Credits:      f.Credits,
			Text:         f.Text,
			AssessorID:   assessorID,
		})
	}
	return feedback
}

func (s *compassService) toEngineFeedback(submissionID, assessorID uint, items []dto.FeedbackRequest) []compass.Feedback {
	feedback := make([]compass.Feedback, 0, len(items))
	for _, item := range items {
		feedback = append(feedback, compass.Feedback{
			SubmissionID: submissionID,
			ElementID:    strings.TrimSpace(item.ElementID),
			ElementType:  strings.TrimSpace(item.ElementType),
			Credits:      item.Credits,
			Text:         strings.TrimSpace(s.sanitizer.Sanitize(item.Text)),
			AssessorID:   assessorID,
		})
	}
	return feedback
}

func (s *compassService) storeConflicts(ctx context.Context, submission models.ModelingSubmission, detected map[compass.CanonicalID][]compass.Feedback) ([]models.ModelAssessmentConflict, error) {
	if len(detected) == 0 {
		return nil, nil
	}

	identities := make([]compass.CanonicalID, 0, len(detected))
	for identity := range detected {
		identities = append(identities, identity)
	}
	sort.Slice(identities, func(i, j int) bool { return identities[i] < identities[j] })

	conflicts := make([]models.ModelAssessmentConflict, 0, len(identities))
	for _, identity := range identities {
		group := detected[identity]
		entries := make([]models.ConflictEntry, 0, len(group))
		for _, f := range group {
			entries = append(entries, models.ConflictEntry{
				SubmissionID: f.SubmissionID,
				ElementID:    f.ElementID,
				AssessorID:   f.AssessorID,
				Credits:      f.Credits,
				Text:         f.Text,
			})
		}
		raw, err := json.Marshal(entries)
		if err != nil {
			return nil, err
		}

		conflicts = append(conflicts, models.ModelAssessmentConflict{
			ExerciseID:   submission.ExerciseID,
			SubmissionID: submission.ID,
			ElementID:    group[0].ElementID,
			CanonicalID:  int(identity),
			State:        models.ConflictStateUnhandled,
			Entries:      datatypes.JSON(raw),
		})
		observability.ConflictsDetected().WithLabelValues(elementTypeLabel(group[0].ElementType)).Inc()
	}

	if err := s.conflicts.CreateBatch(ctx, conflicts); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// propagate writes automatic results for every unassessed submission that gained points.
func (s *compassService) propagate(ctx context.Context, engine *compass.Engine, exerciseID uint) ([]uint, error) {
	var results []models.ModelingResult
	kinds := map[uint]string{}
	for _, submissionID := range engine.Submissions() {
		if engine.IsAssessed(submissionID) {
			continue
		}
		grade := engine.GradeFor(submissionID)
		if grade.IsEmpty() {
			continue
		}

		result := models.ModelingResult{
			SubmissionID:   submissionID,
			ExerciseID:     exerciseID,
			AssessmentType: models.AssessmentTypeAutomatic,
		}
		for _, element := range grade.Elements {
			points := compass.RoundPoints(element.Points)
			result.Score += points
			result.Feedback = append(result.Feedback, models.ModelingFeedback{
				SubmissionID: submissionID,
				ElementID:    element.ElementID,
				ElementType:  string(element.ElementType),
				Credits:      points,
				Text:         element.Comment,
				Type:         models.FeedbackTypeAutomatic,
			})
		}
		results = append(results, result)

		if d, ok := engine.Diagram(submissionID); ok {
			kinds[submissionID] = string(d.Kind())
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	if _, err := s.results.SaveAutomatic(ctx, results); err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(results))
	for _, result := range results {
		ids = append(ids, result.SubmissionID)
		observability.AutomaticAssessments().WithLabelValues(kinds[result.SubmissionID]).Inc()
	}
	return ids, nil
}

func (s *compassService) publish(ctx context.Context, event CompassEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to publish compass event")
	}
}

func (s *compassService) audit(ctx context.Context, entry ActivityEntry) {
	if s.activity == nil {
		return
	}
	if _, err := s.activity.Record(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("action", entry.Action).Msg("failed to record activity")
	}
}

func (s *compassService) recordParseFailure(err error) {
	reason := "invalid"
	switch {
	case errors.Is(err, diagram.ErrUnsupportedDiagramType):
		reason = "unsupported_type"
	case errors.Is(err, diagram.ErrDanglingRelationshipEndpoint):
		reason = "dangling_endpoint"
	}
	observability.ParseFailures().WithLabelValues(reason).Inc()
}

func elementTypeLabel(elementType string) string {
	if elementType == "" {
		return "unknown"
	}
	return elementType
}
