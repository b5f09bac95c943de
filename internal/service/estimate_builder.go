package service

import (
	"strings"

	"kyte-estimates/internal/models"

	"github.com/shopspring/decimal"
)

// maxDocNumberLen is the longest DocNumber QuickBooks accepts
const maxDocNumberLen = 21

// EstimateBuilder maps a fully matched order to an estimate payload
type EstimateBuilder struct{}

// NewEstimateBuilder creates a new estimate builder
func NewEstimateBuilder() *EstimateBuilder {
	return &EstimateBuilder{}
}

// Build fails fast on the first unresolved line or a missing customer.
// Amounts come from catalog price × quantity; the order's own total is ignored.
func (b *EstimateBuilder) Build(companyID string, order models.MatchedOrder) (*models.EstimatePayload, error) {
	if order.CustomerID == nil || strings.TrimSpace(*order.CustomerID) == "" {
		return nil, &models.IncompleteOrderError{
			OrderNumber: order.OrderNumber,
			Reason:      "missing customer " + quoteOrUnknown(order.CustomerName),
		}
	}

	payload := &models.EstimatePayload{
		CustomerRef: models.ReferenceType{Value: *order.CustomerID, Name: order.CustomerName},
		DocNumber:   truncate(order.OrderNumber, maxDocNumberLen),
		PrivateNote: order.Observation,
		Line:        make([]models.EstimateLine, 0, len(order.Items)),
		TotalAmt:    decimal.Zero,
	}
	if !order.Date.IsZero() {
		payload.TxnDate = order.Date.Format("2006-01-02")
	}

	for _, item := range order.Items {
		if !item.Matched || item.UnitPrice == nil || item.ExternalItemID == nil {
			return nil, &models.IncompleteOrderError{
				OrderNumber: order.OrderNumber,
				Line:        item.Line,
				Reason:      "line is not matched (" + string(item.Reason) + ")",
			}
		}
		if strings.TrimSpace(*item.ExternalItemID) == "" {
			return nil, &models.IncompleteOrderError{
				OrderNumber: order.OrderNumber,
				Line:        item.Line,
				Reason:      "product has no QuickBooks item id",
			}
		}

		price := *item.UnitPrice
		amount := price.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)

		detail := models.SalesItemLineDetail{
			ItemRef:   models.ReferenceType{Value: *item.ExternalItemID},
			Qty:       item.Quantity,
			UnitPrice: price,
		}
		if item.TaxCode != nil && *item.TaxCode != "" {
			detail.TaxCodeRef = &models.ReferenceType{Value: *item.TaxCode}
		}

		description := item.RawText
		if description == "" {
			description = item.Description
		}

		payload.Line = append(payload.Line, models.EstimateLine{
			LineNum:             item.Line,
			Description:         description,
			Amount:              amount,
			DetailType:          models.DetailTypeSalesItem,
			SalesItemLineDetail: detail,
		})
		payload.TotalAmt = payload.TotalAmt.Add(amount)
	}

	return payload, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func quoteOrUnknown(name string) string {
	if strings.TrimSpace(name) == "" {
		return "(no name)"
	}
	return `"` + name + `"`
}
