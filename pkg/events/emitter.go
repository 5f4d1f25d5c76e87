// Package events handles event emission for identity lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter handles identity event emission
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitIdentityCreated emits an identity.created event
func (e *Emitter) EmitIdentityCreated(ctx context.Context, identity *models.UnifiedIdentity) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitIdentityCreated")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"emails":         identity.Emails,
		"phone_numbers":  identity.PhoneNumbers,
	})

	event := &kafka.IdentityEvent{
		EventType:    "identity.created",
		PrimaryID:    identity.PrimaryID,
		SecondaryIDs: identity.SecondaryIDs,
		Data:         data,
	}

	if err := e.producer.PublishIdentityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit identity.created event")
		return err
	}

	return nil
}

// EmitIdentityMerged emits an identity.merged event naming the cluster root
// that was absorbed into the surviving primary
func (e *Emitter) EmitIdentityMerged(ctx context.Context, identity *models.UnifiedIdentity, absorbedRoot int64) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitIdentityMerged")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"emails":         identity.Emails,
		"phone_numbers":  identity.PhoneNumbers,
		"member_count":   len(identity.SecondaryIDs) + 1,
	})

	event := &kafka.IdentityEvent{
		EventType:    "identity.merged",
		PrimaryID:    identity.PrimaryID,
		SecondaryIDs: identity.SecondaryIDs,
		AbsorbedRoot: absorbedRoot,
		Data:         data,
	}

	if err := e.producer.PublishIdentityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit identity.merged event")
		return err
	}

	return nil
}
