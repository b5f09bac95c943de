package models

import "time"

// Event types
const (
	EventTypeConversionRequested = "CONVERSION_REQUESTED"
	EventTypeConversionSucceeded = "CONVERSION_SUCCEEDED"
	EventTypeConversionFailed    = "CONVERSION_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversionRequestedEvent asks a worker to convert one order
type ConversionRequestedEvent struct {
	BaseEvent
	CompanyID string `json:"company_id"`
	Order     Order  `json:"order"`
}

// ConversionCompletedEvent is published once an attempt reaches a terminal state
type ConversionCompletedEvent struct {
	BaseEvent
	CompanyID      string     `json:"company_id"`
	OrderNumber    string     `json:"order_number"`
	State          OrderState `json:"state"`
	EstimateID     string     `json:"estimate_id,omitempty"`
	EstimateNumber string     `json:"estimate_number,omitempty"`
	URL            string     `json:"url,omitempty"`
	Message        string     `json:"message"`
}
