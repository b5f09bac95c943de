package store

import (
	"context"

	"kyte-estimates/internal/models"
)

// AppendHistory inserts one conversion attempt; rows are never updated
func (s *Store) AppendHistory(ctx context.Context, record *models.ConversionHistoryRecord) error {
	query := `
		INSERT INTO conversion_history (company_id, order_number, estimate_id, estimate_number, url, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, record, query,
		record.CompanyID, record.OrderNumber, record.EstimateID, record.EstimateNumber,
		record.URL, record.Status, record.ErrorMessage)
	if err != nil {
		return &models.StoreError{Op: "append_history", Err: err}
	}
	return nil
}

// ListHistoryByOrderNumber returns every attempt for an order, oldest first
func (s *Store) ListHistoryByOrderNumber(ctx context.Context, companyID, orderNumber string) ([]models.ConversionHistoryRecord, error) {
	records := []models.ConversionHistoryRecord{}
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, company_id, order_number, estimate_id, estimate_number, url, status, error_message, created_at
		FROM conversion_history
		WHERE company_id = $1 AND order_number = $2
		ORDER BY created_at, id`, companyID, orderNumber)
	if err != nil {
		return nil, &models.StoreError{Op: "list_history", Err: err}
	}
	return records, nil
}

// HasSuccessfulConversion reports whether an order already produced an estimate
func (s *Store) HasSuccessfulConversion(ctx context.Context, companyID, orderNumber string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM conversion_history WHERE company_id = $1 AND order_number = $2 AND status = $3)",
		companyID, orderNumber, models.ConversionStatusSuccess)
	if err != nil {
		return false, &models.StoreError{Op: "has_successful_conversion", Err: err}
	}
	return exists, nil
}
