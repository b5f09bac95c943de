package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"kyte-estimates/internal/models"
)

// Entity names and operations used in data change events
const (
	EntityCustomer = "Customer"

	OperationCreate = "Create"
	OperationUpdate = "Update"
	OperationDelete = "Delete"
	OperationMerge  = "Merge"
)

// Notification is the body of a QuickBooks webhook delivery
type Notification struct {
	EventNotifications []EventNotification `json:"eventNotifications"`
}

// EventNotification groups the changes of one company
type EventNotification struct {
	RealmID         string          `json:"realmId"`
	DataChangeEvent DataChangeEvent `json:"dataChangeEvent"`
}

type DataChangeEvent struct {
	Entities []Entity `json:"entities"`
}

// Entity is a single changed record
type Entity struct {
	Name        string     `json:"name"`
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// Parse decodes a verified body
func Parse(rawBody []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(rawBody, &n); err != nil {
		return Notification{}, &models.ValidationError{Field: "body", Reason: err.Error()}
	}
	for i, en := range n.EventNotifications {
		if en.RealmID == "" {
			return Notification{}, &models.ValidationError{
				Field:  fmt.Sprintf("eventNotifications[%d].realmId", i),
				Reason: "missing",
			}
		}
	}
	return n, nil
}
