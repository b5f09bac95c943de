package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing conversion events
type EventPublisher struct {
	requests *Producer
	results  *Producer
}

// NewEventPublisher creates a new event publisher. requests carries work for
// the conversion worker; results carries terminal outcomes.
func NewEventPublisher(requests, results *Producer) *EventPublisher {
	return &EventPublisher{requests: requests, results: results}
}

func orderKey(companyID, orderNumber string) string {
	return fmt.Sprintf("%s:%s", companyID, orderNumber)
}

// PublishConversionRequested enqueues an order for asynchronous conversion
// and returns the event ID.
func (ep *EventPublisher) PublishConversionRequested(ctx context.Context, companyID string, order models.Order) (string, error) {
	event := &models.ConversionRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeConversionRequested,
			Timestamp: time.Now(),
		},
		CompanyID: companyID,
		Order:     order,
	}
	if err := ep.requests.PublishEvent(ctx, orderKey(companyID, order.OrderNumber), event); err != nil {
		return "", err
	}
	return event.EventID, nil
}

// PublishConversionCompleted publishes a succeeded or failed conversion
func (ep *EventPublisher) PublishConversionCompleted(ctx context.Context, event *models.ConversionCompletedEvent) error {
	return ep.results.PublishEvent(ctx, orderKey(event.CompanyID, event.OrderNumber), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onConversionRequested func(context.Context, *models.ConversionRequestedEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger().Named("events")}
}

// OnConversionRequested registers a handler for ConversionRequested events
func (eh *EventHandler) OnConversionRequested(handler func(context.Context, *models.ConversionRequestedEvent) error) {
	eh.onConversionRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable
// messages are logged and dropped; redelivering them cannot help.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeConversionRequested:
		if eh.onConversionRequested != nil {
			var event models.ConversionRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("Dropping malformed ConversionRequested event",
					zap.String("id", baseEvent.EventID), zap.Error(err))
				return nil
			}
			return eh.onConversionRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
