package store

import (
	"context"
	"database/sql"
	"errors"

	"kyte-estimates/internal/models"
)

// UpsertCustomer inserts or overwrites a mirrored customer.
// A row fetched later than the incoming one is left untouched; the bool
// reports whether the row was written.
func (s *Store) UpsertCustomer(ctx context.Context, customer *models.Customer) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (company_id, id, display_name, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, id) DO UPDATE
		SET display_name = EXCLUDED.display_name, fetched_at = EXCLUDED.fetched_at
		WHERE customers.fetched_at <= EXCLUDED.fetched_at`,
		customer.CompanyID, customer.ID, customer.DisplayName, customer.FetchedAt)
	if err != nil {
		return false, &models.StoreError{Op: "upsert_customer", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, &models.StoreError{Op: "upsert_customer", Err: err}
	}
	return n > 0, nil
}

// GetCustomer returns nil when the customer is not mirrored
func (s *Store) GetCustomer(ctx context.Context, companyID, id string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer,
		"SELECT company_id, id, display_name, fetched_at FROM customers WHERE company_id = $1 AND id = $2",
		companyID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get_customer", Err: err}
	}
	return &customer, nil
}

// FindCustomersByName matches display names case-insensitively.
// At most two rows are returned; callers only need to know if the match is unique.
func (s *Store) FindCustomersByName(ctx context.Context, companyID, name string) ([]models.Customer, error) {
	customers := []models.Customer{}
	err := s.db.SelectContext(ctx, &customers, `
		SELECT company_id, id, display_name, fetched_at
		FROM customers
		WHERE company_id = $1 AND lower(display_name) = lower($2)
		ORDER BY id
		LIMIT 2`, companyID, name)
	if err != nil {
		return nil, &models.StoreError{Op: "find_customers_by_name", Err: err}
	}
	return customers, nil
}
