package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog entry owned by the catalog sync job
type Product struct {
	ID             int64           `db:"id" json:"id"`
	CompanyID      string          `db:"company_id" json:"company_id"`
	Name           string          `db:"name" json:"name"`
	SKU            string          `db:"sku" json:"sku"`
	Barcode        string          `db:"barcode" json:"barcode"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	TaxCode        string          `db:"tax_code" json:"tax_code"`
	ExternalItemID string          `db:"external_item_id" json:"external_item_id"`
	Archived       bool            `db:"archived" json:"archived"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// RawOrderLine is a line item as captured by the point-of-sale app
type RawOrderLine struct {
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
	RawText     string `json:"raw_text,omitempty"`
}

// MatchedLineItem is a raw line plus the catalog resolution, if any.
// Matched is true only when every resolution pointer is set.
type MatchedLineItem struct {
	Line           int              `json:"line"`
	Quantity       int              `json:"quantity"`
	Description    string           `json:"description"`
	RawText        string           `json:"raw_text,omitempty"`
	ProductID      *int64           `json:"product_id"`
	SKU            *string          `json:"sku"`
	Barcode        *string          `json:"barcode"`
	ExternalItemID *string          `json:"external_item_id"`
	UnitPrice      *decimal.Decimal `json:"unit_price"`
	TaxCode        *string          `json:"tax_code"`
	Matched        bool             `json:"matched"`
	Reason         MatchReason      `json:"reason"`
}

// Order is an inbound point-of-sale order
type Order struct {
	OrderNumber  string           `json:"order_number" binding:"required"`
	Date         time.Time        `json:"date"`
	CustomerName string           `json:"customer_name"`
	CustomerID   *string          `json:"customer_id,omitempty"`
	Lines        []RawOrderLine   `json:"lines" binding:"required,min=1,dive"`
	Observation  string           `json:"observation,omitempty"`
	Total        *decimal.Decimal `json:"total,omitempty"`
}

// MatchedOrder is an order whose lines went through the matcher
type MatchedOrder struct {
	Order
	Items []MatchedLineItem `json:"items"`
	State OrderState        `json:"state"`
}

// Unmatched returns the lines that did not resolve to a product
func (o *MatchedOrder) Unmatched() []MatchedLineItem {
	var out []MatchedLineItem
	for _, item := range o.Items {
		if !item.Matched {
			out = append(out, item)
		}
	}
	return out
}

// ConversionHistoryRecord is one append-only audit row per conversion attempt
type ConversionHistoryRecord struct {
	ID             int64     `db:"id" json:"id"`
	CompanyID      string    `db:"company_id" json:"company_id"`
	OrderNumber    string    `db:"order_number" json:"order_number"`
	EstimateID     *string   `db:"estimate_id" json:"estimate_id"`
	EstimateNumber *string   `db:"estimate_number" json:"estimate_number"`
	URL            *string   `db:"url" json:"url"`
	Status         string    `db:"status" json:"status"`
	ErrorMessage   *string   `db:"error_message" json:"error_message"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Customer is the local mirror of a QuickBooks customer
type Customer struct {
	ID          string    `db:"id" json:"id"`
	CompanyID   string    `db:"company_id" json:"company_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	FetchedAt   time.Time `db:"fetched_at" json:"fetched_at"`
}

// ConversionResult is the caller-facing outcome for one order
type ConversionResult struct {
	OrderNumber         string            `json:"order_number"`
	Success             bool              `json:"success"`
	State               OrderState        `json:"state"`
	EstimateID          string            `json:"estimate_id,omitempty"`
	EstimateNumber      string            `json:"estimate_number,omitempty"`
	QuickBooksURL       string            `json:"quickbooks_url,omitempty"`
	Message             string            `json:"message"`
	Unmatched           []MatchedLineItem `json:"unmatched,omitempty"`
	NeedsReconciliation bool              `json:"needs_reconciliation,omitempty"`
	Skipped             bool              `json:"skipped,omitempty"`
}

// CreatedEstimate is what the accounting system returns for a new estimate
type CreatedEstimate struct {
	EstimateID     string `json:"estimate_id"`
	EstimateNumber string `json:"estimate_number"`
	URL            string `json:"url"`
}

// Conversion statuses
const (
	ConversionStatusSuccess = "success"
	ConversionStatusFailed  = "failed"
)

// OrderState tracks an order through conversion
type OrderState string

const (
	OrderStateReceived           OrderState = "received"
	OrderStateMatching           OrderState = "matching"
	OrderStateMatched            OrderState = "matched"
	OrderStatePartiallyUnmatched OrderState = "partially-unmatched"
	OrderStateConverting         OrderState = "converting"
	OrderStateSuccess            OrderState = "success"
	OrderStateFailed             OrderState = "failed"
)

// MatchReason explains how a line was (or was not) resolved
type MatchReason string

const (
	MatchReasonSKU                MatchReason = "sku"
	MatchReasonBarcode            MatchReason = "barcode"
	MatchReasonName               MatchReason = "name"
	MatchReasonAmbiguous          MatchReason = "ambiguous"
	MatchReasonNotFound           MatchReason = "not_found"
	MatchReasonIdentifierNotFound MatchReason = "identifier_not_found"
)
