package service

import (
	"context"
	"fmt"
	"strings"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CustomerFetcher reads a single customer from the accounting system.
// A customer that does not exist remotely is returned as nil, nil.
type CustomerFetcher interface {
	FetchCustomer(ctx context.Context, companyID, customerID string) (*models.Customer, error)
}

// CustomerStore persists the customer mirror
type CustomerStore interface {
	UpsertCustomer(ctx context.Context, customer *models.Customer) (bool, error)
	GetCustomer(ctx context.Context, companyID, id string) (*models.Customer, error)
	FindCustomersByName(ctx context.Context, companyID, name string) ([]models.Customer, error)
}

// SyncOutcome describes what a Sync call did to the mirror
type SyncOutcome string

const (
	SyncUpserted SyncOutcome = "upserted"
	SyncStale    SyncOutcome = "stale"
	SyncNotFound SyncOutcome = "not_found"
)

// CustomerMirror keeps the local customer table in step with QuickBooks.
// All writes for one (company, customer) pair are serialized by locker.
type CustomerMirror struct {
	fetcher CustomerFetcher
	store   CustomerStore
	locker  Locker
	logger  *zap.Logger
}

// NewCustomerMirror creates a customer mirror; a nil locker uses an in-process KeyedMutex
func NewCustomerMirror(fetcher CustomerFetcher, store CustomerStore, locker Locker) *CustomerMirror {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &CustomerMirror{
		fetcher: fetcher,
		store:   store,
		locker:  locker,
		logger:  util.GetLogger().Named("customer-mirror"),
	}
}

func customerKey(companyID, customerID string) string {
	return "customer:" + companyID + ":" + customerID
}

// Sync fetches one customer and writes it. Fetch and write happen under the
// same lock so concurrent deliveries for a customer apply one at a time.
func (m *CustomerMirror) Sync(ctx context.Context, companyID, customerID string) (SyncOutcome, error) {
	ctx, span := util.StartSpan(ctx, "CustomerMirror.Sync",
		attribute.String("company_id", companyID),
		attribute.String("customer_id", customerID))
	defer span.End()

	unlock, err := m.locker.Lock(ctx, customerKey(companyID, customerID))
	if err != nil {
		util.RecordError(span, err)
		return "", fmt.Errorf("failed to lock customer %s: %w", customerID, err)
	}
	defer unlock()

	customer, err := m.fetcher.FetchCustomer(ctx, companyID, customerID)
	if err != nil {
		util.RecordError(span, err)
		return "", fmt.Errorf("failed to fetch customer %s: %w", customerID, err)
	}
	if customer == nil {
		m.logger.Info("Customer not found remotely, mirror left unchanged",
			zap.String("company_id", companyID),
			zap.String("customer_id", customerID))
		return SyncNotFound, nil
	}
	customer.CompanyID = companyID

	written, err := m.store.UpsertCustomer(ctx, customer)
	if err != nil {
		util.RecordError(span, err)
		return "", err
	}
	if !written {
		m.logger.Info("Skipped stale customer snapshot",
			zap.String("company_id", companyID),
			zap.String("customer_id", customerID),
			zap.Time("fetched_at", customer.FetchedAt))
		return SyncStale, nil
	}

	util.CustomerUpsertsTotal.Inc()
	m.logger.Debug("Customer mirrored",
		zap.String("company_id", companyID),
		zap.String("customer_id", customerID))
	return SyncUpserted, nil
}

// Upsert writes a customer under the per-key lock
func (m *CustomerMirror) Upsert(ctx context.Context, customer *models.Customer) (bool, error) {
	unlock, err := m.locker.Lock(ctx, customerKey(customer.CompanyID, customer.ID))
	if err != nil {
		return false, fmt.Errorf("failed to lock customer %s: %w", customer.ID, err)
	}
	defer unlock()

	written, err := m.store.UpsertCustomer(ctx, customer)
	if err == nil && written {
		util.CustomerUpsertsTotal.Inc()
	}
	return written, err
}

// Get returns a mirrored customer or nil
func (m *CustomerMirror) Get(ctx context.Context, companyID, customerID string) (*models.Customer, error) {
	return m.store.GetCustomer(ctx, companyID, customerID)
}

// FindByName returns the only mirrored customer with this display name.
// No match or several matches both yield nil.
func (m *CustomerMirror) FindByName(ctx context.Context, companyID, name string) (*models.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	customers, err := m.store.FindCustomersByName(ctx, companyID, name)
	if err != nil {
		return nil, err
	}
	if len(customers) != 1 {
		if len(customers) > 1 {
			m.logger.Warn("Customer name is ambiguous",
				zap.String("company_id", companyID),
				zap.String("name", name))
		}
		return nil, nil
	}
	return &customers[0], nil
}
