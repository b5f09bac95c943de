package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderMatcher resolves the lines of an order against a tenant's catalog
type OrderMatcher interface {
	Match(ctx context.Context, companyID string, order models.Order) (models.MatchedOrder, error)
}

// AccountingClient creates estimates in the accounting system
type AccountingClient interface {
	CreateEstimate(ctx context.Context, companyID string, payload *models.EstimatePayload) (models.CreatedEstimate, error)
}

// HistoryStore is the append-only conversion audit log
type HistoryStore interface {
	AppendHistory(ctx context.Context, record *models.ConversionHistoryRecord) error
	ListHistoryByOrderNumber(ctx context.Context, companyID, orderNumber string) ([]models.ConversionHistoryRecord, error)
	HasSuccessfulConversion(ctx context.Context, companyID, orderNumber string) (bool, error)
}

// CustomerResolver maps an order's customer name to a mirrored customer
type CustomerResolver interface {
	FindByName(ctx context.Context, companyID, name string) (*models.Customer, error)
}

// ConversionEventPublisher announces terminal conversion outcomes
type ConversionEventPublisher interface {
	PublishConversionCompleted(ctx context.Context, event *models.ConversionCompletedEvent) error
}

// ConverterOptions bounds a conversion in time and a batch in parallelism
type ConverterOptions struct {
	Timeout        time.Duration
	BatchWorkers   int
	HistoryTimeout time.Duration
}

// Converter drives one order from matching to a recorded estimate.
// It keeps no per-order state; submitting an order twice makes two attempts.
type Converter struct {
	matcher   OrderMatcher
	builder   *EstimateBuilder
	client    AccountingClient
	history   HistoryStore
	customers CustomerResolver
	events    ConversionEventPublisher
	opts      ConverterOptions
	logger    *zap.Logger
	now       func() time.Time
}

// NewConverter creates a new order converter; customers and events may be nil
func NewConverter(
	matcher OrderMatcher,
	builder *EstimateBuilder,
	client AccountingClient,
	history HistoryStore,
	customers CustomerResolver,
	events ConversionEventPublisher,
	opts ConverterOptions,
) *Converter {
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = 1
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = 5 * time.Second
	}
	return &Converter{
		matcher:   matcher,
		builder:   builder,
		client:    client,
		history:   history,
		customers: customers,
		events:    events,
		opts:      opts,
		logger:    util.GetLogger().Named("converter"),
		now:       time.Now,
	}
}

// Convert runs a single order to a terminal result. It never returns an
// error; every failure is folded into the result.
func (c *Converter) Convert(ctx context.Context, companyID string, order models.Order) models.ConversionResult {
	start := time.Now()
	order.OrderNumber = NormalizeOrderNumber(order.OrderNumber)

	ctx, span := util.StartSpan(ctx, "Converter.Convert",
		attribute.String("company_id", companyID),
		attribute.String("order_number", order.OrderNumber))
	defer span.End()

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	result := c.convert(ctx, companyID, order)

	util.ConversionsTotal.WithLabelValues(string(result.State)).Inc()
	util.ConversionLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("state", string(result.State)))
	return result
}

func (c *Converter) convert(ctx context.Context, companyID string, order models.Order) models.ConversionResult {
	result := models.ConversionResult{OrderNumber: order.OrderNumber, State: models.OrderStateReceived}

	if err := ValidateOrder(order); err != nil {
		result.State = models.OrderStateFailed
		result.Message = err.Error()
		c.logger.Warn("Rejected invalid order",
			zap.String("company_id", companyID),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
		return result
	}

	result.State = models.OrderStateMatching
	matched, err := c.matcher.Match(ctx, companyID, order)
	if err != nil {
		result.State = models.OrderStateFailed
		result.Message = fmt.Sprintf("matching failed: %v", err)
		c.logger.Error("Failed to match order",
			zap.String("company_id", companyID),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
		return result
	}

	if matched.State == models.OrderStatePartiallyUnmatched {
		result.State = matched.State
		result.Unmatched = matched.Unmatched()
		result.Message = describeUnmatched(matched)
		c.logger.Info("Order has unmatched lines",
			zap.String("company_id", companyID),
			zap.String("order_number", order.OrderNumber),
			zap.Int("unmatched", len(result.Unmatched)))
		return result
	}

	result.State = models.OrderStateConverting
	created, err := c.submit(ctx, companyID, &matched)
	if err != nil {
		return c.recordFailure(ctx, companyID, result, err)
	}
	return c.recordSuccess(ctx, companyID, result, created)
}

// submit resolves the customer, builds the payload and creates the estimate
func (c *Converter) submit(ctx context.Context, companyID string, order *models.MatchedOrder) (models.CreatedEstimate, error) {
	if order.CustomerID == nil && c.customers != nil && strings.TrimSpace(order.CustomerName) != "" {
		customer, err := c.customers.FindByName(ctx, companyID, order.CustomerName)
		if err != nil {
			return models.CreatedEstimate{}, fmt.Errorf("failed to resolve customer: %w", err)
		}
		if customer != nil {
			id := customer.ID
			order.CustomerID = &id
		}
	}

	payload, err := c.builder.Build(companyID, *order)
	if err != nil {
		return models.CreatedEstimate{}, err
	}

	created, err := c.client.CreateEstimate(ctx, companyID, payload)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.CreatedEstimate{}, fmt.Errorf("%w: %v", models.ErrOutcomeUnknown, err)
		}
		return models.CreatedEstimate{}, err
	}
	return created, nil
}

func (c *Converter) recordSuccess(ctx context.Context, companyID string, result models.ConversionResult, created models.CreatedEstimate) models.ConversionResult {
	result.Success = true
	result.State = models.OrderStateSuccess
	result.EstimateID = created.EstimateID
	result.EstimateNumber = created.EstimateNumber
	result.QuickBooksURL = created.URL
	result.Message = fmt.Sprintf("estimate %s created", displayNumber(created))

	record := &models.ConversionHistoryRecord{
		CompanyID:      companyID,
		OrderNumber:    result.OrderNumber,
		EstimateID:     stringPtr(created.EstimateID),
		EstimateNumber: stringPtr(created.EstimateNumber),
		URL:            stringPtr(created.URL),
		Status:         models.ConversionStatusSuccess,
	}
	if err := c.appendHistory(ctx, record); err != nil {
		// The estimate exists remotely but not in the audit log.
		result.NeedsReconciliation = true
		result.Message += "; history not recorded, needs reconciliation"
		util.HistoryWriteFailuresTotal.WithLabelValues(models.ConversionStatusSuccess).Inc()
		c.logger.Error("RECONCILIATION REQUIRED: estimate created but history write failed",
			zap.String("company_id", companyID),
			zap.String("order_number", result.OrderNumber),
			zap.String("estimate_id", created.EstimateID),
			zap.String("estimate_number", created.EstimateNumber),
			zap.Error(err))
	} else {
		c.logger.Info("Order converted",
			zap.String("company_id", companyID),
			zap.String("order_number", result.OrderNumber),
			zap.String("estimate_id", created.EstimateID))
	}

	c.publish(ctx, companyID, result)
	return result
}

func (c *Converter) recordFailure(ctx context.Context, companyID string, result models.ConversionResult, cause error) models.ConversionResult {
	result.Success = false
	result.State = models.OrderStateFailed
	result.Message = cause.Error()

	record := &models.ConversionHistoryRecord{
		CompanyID:    companyID,
		OrderNumber:  result.OrderNumber,
		Status:       models.ConversionStatusFailed,
		ErrorMessage: stringPtr(result.Message),
	}
	if err := c.appendHistory(ctx, record); err != nil {
		result.Message += "; history not recorded"
		util.HistoryWriteFailuresTotal.WithLabelValues(models.ConversionStatusFailed).Inc()
		c.logger.Error("Failed to record failed conversion",
			zap.String("company_id", companyID),
			zap.String("order_number", result.OrderNumber),
			zap.Error(err))
	}

	c.logger.Warn("Order conversion failed",
		zap.String("company_id", companyID),
		zap.String("order_number", result.OrderNumber),
		zap.Bool("outcome_unknown", errors.Is(cause, models.ErrOutcomeUnknown)),
		zap.Error(cause))

	c.publish(ctx, companyID, result)
	return result
}

// appendHistory outlives the caller's deadline so a timed-out attempt is still recorded
func (c *Converter) appendHistory(ctx context.Context, record *models.ConversionHistoryRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.HistoryTimeout)
	defer cancel()
	return c.history.AppendHistory(ctx, record)
}

func (c *Converter) publish(ctx context.Context, companyID string, result models.ConversionResult) {
	if c.events == nil {
		return
	}

	eventType := models.EventTypeConversionSucceeded
	if !result.Success {
		eventType = models.EventTypeConversionFailed
	}
	event := &models.ConversionCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: c.now(),
		},
		CompanyID:      companyID,
		OrderNumber:    result.OrderNumber,
		State:          result.State,
		EstimateID:     result.EstimateID,
		EstimateNumber: result.EstimateNumber,
		URL:            result.QuickBooksURL,
		Message:        result.Message,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.HistoryTimeout)
	defer cancel()
	if err := c.events.PublishConversionCompleted(ctx, event); err != nil {
		c.logger.Warn("Failed to publish conversion event",
			zap.String("order_number", result.OrderNumber),
			zap.Error(err))
	}
}

// ConvertBatch converts orders on a bounded pool. Results keep input order.
func (c *Converter) ConvertBatch(ctx context.Context, companyID string, orders []models.Order) []models.ConversionResult {
	ctx, span := util.StartSpan(ctx, "Converter.ConvertBatch",
		attribute.String("company_id", companyID),
		attribute.Int("orders", len(orders)))
	defer span.End()

	results := make([]models.ConversionResult, len(orders))
	sem := make(chan struct{}, c.opts.BatchWorkers)
	var wg sync.WaitGroup

	for i := range orders {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.Convert(ctx, companyID, orders[i])
		}(i)
	}

	wg.Wait()
	return results
}

// ConvertPending is ConvertBatch that skips orders with a successful attempt on record
func (c *Converter) ConvertPending(ctx context.Context, companyID string, orders []models.Order) []models.ConversionResult {
	results := make([]models.ConversionResult, len(orders))
	pending := make([]models.Order, 0, len(orders))
	positions := make([]int, 0, len(orders))

	for i, order := range orders {
		number := NormalizeOrderNumber(order.OrderNumber)
		done, err := c.AlreadyConverted(ctx, companyID, number)
		if err != nil {
			results[i] = models.ConversionResult{
				OrderNumber: number,
				State:       models.OrderStateFailed,
				Message:     fmt.Sprintf("failed to check conversion history: %v", err),
			}
			continue
		}
		if done {
			results[i] = models.ConversionResult{
				OrderNumber: number,
				Success:     true,
				State:       models.OrderStateSuccess,
				Message:     "already converted",
				Skipped:     true,
			}
			continue
		}
		pending = append(pending, order)
		positions = append(positions, i)
	}

	for j, r := range c.ConvertBatch(ctx, companyID, pending) {
		results[positions[j]] = r
	}
	return results
}

// History returns every recorded attempt for an order, oldest first
func (c *Converter) History(ctx context.Context, companyID, orderNumber string) ([]models.ConversionHistoryRecord, error) {
	return c.history.ListHistoryByOrderNumber(ctx, companyID, NormalizeOrderNumber(orderNumber))
}

// AlreadyConverted reports whether an order has a successful attempt on record
func (c *Converter) AlreadyConverted(ctx context.Context, companyID, orderNumber string) (bool, error) {
	return c.history.HasSuccessfulConversion(ctx, companyID, NormalizeOrderNumber(orderNumber))
}

// NormalizeOrderNumber trims the number and drops a leading '#'
func NormalizeOrderNumber(number string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(number), "#"))
}

// ValidateOrder checks the shape of an inbound order
func ValidateOrder(order models.Order) error {
	if NormalizeOrderNumber(order.OrderNumber) == "" {
		return &models.ValidationError{Field: "order_number", Reason: "must not be empty"}
	}
	if len(order.Lines) == 0 {
		return &models.ValidationError{Field: "lines", Reason: "order has no lines"}
	}
	for i, line := range order.Lines {
		if line.Quantity < 0 {
			return &models.ValidationError{
				Field:  fmt.Sprintf("lines[%d].quantity", i),
				Reason: "must not be negative",
			}
		}
		if strings.TrimSpace(line.Description) == "" && strings.TrimSpace(line.RawText) == "" {
			return &models.ValidationError{
				Field:  fmt.Sprintf("lines[%d].description", i),
				Reason: "must not be empty",
			}
		}
	}
	return nil
}

func displayNumber(created models.CreatedEstimate) string {
	if created.EstimateNumber != "" {
		return created.EstimateNumber
	}
	return created.EstimateID
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
