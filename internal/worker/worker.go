package worker

import (
	"context"

	"kyte-estimates/internal/broker"
	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"

	"go.uber.org/zap"
)

// OrderConverter is the part of the converter the worker drives
type OrderConverter interface {
	Convert(ctx context.Context, companyID string, order models.Order) models.ConversionResult
}

// ConversionWorker converts orders queued on the conversion request topic
type ConversionWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	converter    OrderConverter
	logger       *zap.Logger
}

// NewConversionWorker creates a new conversion worker
func NewConversionWorker(consumer *broker.Consumer, converter OrderConverter) *ConversionWorker {
	w := &ConversionWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		converter:    converter,
		logger:       util.GetLogger().Named("worker"),
	}
	w.eventHandler.OnConversionRequested(w.handleConversionRequested)
	return w
}

// Start starts the worker
func (w *ConversionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting conversion worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ConversionWorker) Stop() error {
	w.logger.Info("Stopping conversion worker")
	return w.consumer.Close()
}

// handleConversionRequested always succeeds once the converter returns: the
// outcome is already recorded, and redelivery would only repeat the attempt.
func (w *ConversionWorker) handleConversionRequested(ctx context.Context, event *models.ConversionRequestedEvent) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	result := w.converter.Convert(ctx, event.CompanyID, event.Order)
	w.logger.Info("Processed conversion request",
		zap.String("event_id", event.EventID),
		zap.String("company_id", event.CompanyID),
		zap.String("order_number", result.OrderNumber),
		zap.String("state", string(result.State)),
		zap.Bool("success", result.Success))
	return nil
}
