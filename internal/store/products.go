package store

import (
	"context"

	"kyte-estimates/internal/models"
)

const productColumns = `id, company_id, name, sku, barcode, unit_price, tax_code, external_item_id, archived, updated_at`

// ListProducts returns a tenant's whole catalog ordered by ID
func (s *Store) ListProducts(ctx context.Context, companyID string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE company_id = $1 ORDER BY id", companyID)
	if err != nil {
		return nil, &models.StoreError{Op: "list_products", Err: err}
	}
	return products, nil
}
