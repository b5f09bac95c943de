package service

import (
	"context"
	"errors"
	"fmt"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"
	"kyte-estimates/internal/webhook"

	"go.uber.org/zap"
)

// CustomerSyncer brings one customer of a company up to date
type CustomerSyncer interface {
	Sync(ctx context.Context, companyID, customerID string) (SyncOutcome, error)
}

// HandleSummary counts what happened to the entities of one delivery
type HandleSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// WebhookService applies QuickBooks change notifications to the customer mirror
type WebhookService struct {
	mirror CustomerSyncer
	secret string
	logger *zap.Logger
}

// NewWebhookService creates a new webhook service; secret is the verifier token
func NewWebhookService(mirror CustomerSyncer, secret string) *WebhookService {
	return &WebhookService{
		mirror: mirror,
		secret: secret,
		logger: util.GetLogger().Named("webhook"),
	}
}

// Ingest authenticates the raw body before anything is parsed
func (s *WebhookService) Ingest(ctx context.Context, signature string, rawBody []byte) (HandleSummary, error) {
	if err := webhook.Authenticate(signature, rawBody, s.secret); err != nil {
		var sigErr *models.SignatureError
		if errors.As(err, &sigErr) {
			util.WebhookRejectedTotal.WithLabelValues(sigErr.Reason).Inc()
		}
		s.logger.Warn("Rejected webhook delivery", zap.Error(err))
		return HandleSummary{}, err
	}

	notification, err := webhook.Parse(rawBody)
	if err != nil {
		util.WebhookRejectedTotal.WithLabelValues("malformed").Inc()
		return HandleSummary{}, err
	}

	return s.Handle(ctx, notification)
}

// Handle syncs every Customer entity that was not deleted. Deletes and other
// entity types are counted as skipped and leave the mirror alone. Entity
// failures do not stop the rest of the delivery.
func (s *WebhookService) Handle(ctx context.Context, notification webhook.Notification) (HandleSummary, error) {
	ctx, span := util.StartSpan(ctx, "WebhookService.Handle")
	defer span.End()

	var summary HandleSummary
	var errs []error

	for _, en := range notification.EventNotifications {
		for _, entity := range en.DataChangeEvent.Entities {
			if entity.Name != webhook.EntityCustomer || entity.Operation == webhook.OperationDelete || entity.ID == "" {
				summary.Skipped++
				util.WebhookEntitiesTotal.WithLabelValues(entity.Name, entity.Operation, "skipped").Inc()
				s.logger.Debug("Skipped webhook entity",
					zap.String("company_id", en.RealmID),
					zap.String("entity", entity.Name),
					zap.String("operation", entity.Operation),
					zap.String("id", entity.ID))
				continue
			}

			outcome, err := s.mirror.Sync(ctx, en.RealmID, entity.ID)
			if err != nil {
				summary.Failed++
				util.WebhookEntitiesTotal.WithLabelValues(entity.Name, entity.Operation, "failed").Inc()
				errs = append(errs, fmt.Errorf("company %s customer %s: %w", en.RealmID, entity.ID, err))
				continue
			}

			summary.Processed++
			util.WebhookEntitiesTotal.WithLabelValues(entity.Name, entity.Operation, string(outcome)).Inc()
		}
	}

	if err := errors.Join(errs...); err != nil {
		util.RecordError(span, err)
		s.logger.Error("Webhook delivery partially failed",
			zap.Int("processed", summary.Processed),
			zap.Int("failed", summary.Failed),
			zap.Error(err))
		return summary, err
	}

	s.logger.Info("Webhook delivery processed",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}
