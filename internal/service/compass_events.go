package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-compass/internal/observability"
)

// Event types fanned out to other service nodes and interested consumers.
const (
	EventAssessmentManual    = "assessment.manual"
	EventAssessmentAutomatic = "assessment.automatic"
	EventConflictDetected    = "conflict.detected"
	EventEngineReset         = "engine.reset"
)

// CompassEvent is the broker payload of an assessment event.
type CompassEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	ExerciseID    uint      `json:"exercise_id"`
	SubmissionIDs []uint    `json:"submission_ids,omitempty"`
	ConflictIDs   []uint    `json:"conflict_ids,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CompassEventHandler receives events published by other nodes.
type CompassEventHandler func(event CompassEvent)

// CompassEventPublisher fans assessment events out over Redis pub/sub and NATS.
type CompassEventPublisher interface {
	Publish(ctx context.Context, event CompassEvent) error
	Start(ctx context.Context, handler CompassEventHandler)
	NodeID() string
}

type compassEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string
}

// NewCompassEventPublisher builds a publisher. Either transport may be nil.
func NewCompassEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) CompassEventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &compassEventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "compass_events").Logger(),
		nodeID:       uuid.NewString(),
	}
}

func (p *compassEventPublisher) NodeID() string { return p.nodeID }

func (p *compassEventPublisher) Publish(ctx context.Context, event CompassEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Source = p.nodeID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			errs = append(errs, err)
		} else {
			observability.EventsPublished().WithLabelValues(event.Type, "redis").Inc()
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			errs = append(errs, err)
		} else {
			observability.EventsPublished().WithLabelValues(event.Type, "nats").Inc()
		}
	}

	return errors.Join(errs...)
}

// Start consumes events of other nodes until ctx is cancelled.
func (p *compassEventPublisher) Start(ctx context.Context, handler CompassEventHandler) {
	if handler == nil {
		return
	}
	if p.redis != nil && p.redisChannel != "" {
		go p.consumeRedis(ctx, handler)
	}
	if p.nats != nil && p.natsSubject != "" {
		go p.consumeNATS(ctx, handler)
	}
}

func (p *compassEventPublisher) consumeRedis(ctx context.Context, handler CompassEventHandler) {
	pubsub := p.redis.Subscribe(ctx, p.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("compass redis subscription closed")
			return
		}
		p.dispatch([]byte(msg.Payload), handler)
	}
}

func (p *compassEventPublisher) consumeNATS(ctx context.Context, handler CompassEventHandler) {
	// every node needs every event, so no queue group
	sub, err := p.nats.Subscribe(p.natsSubject, func(msg *nats.Msg) {
		p.dispatch(msg.Data, handler)
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to subscribe to compass nats subject")
		return
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to drain compass nats subscription")
	}
}

func (p *compassEventPublisher) dispatch(payload []byte, handler CompassEventHandler) {
	var event CompassEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.logger.Warn().Err(err).Msg("invalid compass event payload")
		return
	}
	if event.Source == p.nodeID {
		return
	}
	handler(event)
}
