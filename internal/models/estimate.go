package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EstimatePayload is the body of a QuickBooks estimate create request
type EstimatePayload struct {
	CustomerRef ReferenceType   `json:"CustomerRef"`
	DocNumber   string          `json:"DocNumber,omitempty"`
	TxnDate     string          `json:"TxnDate,omitempty"`
	PrivateNote string          `json:"PrivateNote,omitempty"`
	Line        []EstimateLine  `json:"Line"`
	TotalAmt    decimal.Decimal `json:"TotalAmt"`
}

// EstimateLine is a single sales line of an estimate
type EstimateLine struct {
	LineNum             int                 `json:"LineNum"`
	Description         string              `json:"Description,omitempty"`
	Amount              decimal.Decimal     `json:"Amount"`
	DetailType          string              `json:"DetailType"`
	SalesItemLineDetail SalesItemLineDetail `json:"SalesItemLineDetail"`
}

// SalesItemLineDetail references the item, quantity and price of a line
type SalesItemLineDetail struct {
	ItemRef    ReferenceType   `json:"ItemRef"`
	Qty        int             `json:"Qty"`
	UnitPrice  decimal.Decimal `json:"UnitPrice"`
	TaxCodeRef *ReferenceType  `json:"TaxCodeRef,omitempty"`
}

// ReferenceType is the QuickBooks {value,name} reference object
type ReferenceType struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// DetailTypeSalesItem is the only line detail type the builder emits
const DetailTypeSalesItem = "SalesItemLineDetail"

// amount renders a decimal as a bare JSON number; QuickBooks rejects quoted amounts.
func amount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// MarshalJSON writes every amount of the payload as a JSON number
func (p EstimatePayload) MarshalJSON() ([]byte, error) {
	type plain EstimatePayload
	return json.Marshal(struct {
		plain
		TotalAmt json.Number `json:"TotalAmt"`
	}{plain(p), amount(p.TotalAmt)})
}

func (l EstimateLine) MarshalJSON() ([]byte, error) {
	type plain EstimateLine
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"Amount"`
	}{plain(l), amount(l.Amount)})
}

func (d SalesItemLineDetail) MarshalJSON() ([]byte, error) {
	type plain SalesItemLineDetail
	return json.Marshal(struct {
		plain
		UnitPrice json.Number `json:"UnitPrice"`
	}{plain(d), amount(d.UnitPrice)})
}
