package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncCall struct {
	companyID  string
	customerID string
}

type recordingSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	fail  map[string]bool
}

func (r *recordingSyncer) Sync(_ context.Context, companyID, customerID string) (SyncOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, syncCall{companyID, customerID})
	if r.fail[customerID] {
		return "", errors.New("fetch failed")
	}
	return SyncUpserted, nil
}

const testSecret = "verifier-token"

func deliver(entities ...webhook.Entity) webhook.Notification {
	return webhook.Notification{EventNotifications: []webhook.EventNotification{{
		RealmID:         "realm-1",
		DataChangeEvent: webhook.DataChangeEvent{Entities: entities},
	}}}
}

func TestHandleDeleteIsNoOp(t *testing.T) {
	syncer := &recordingSyncer{}
	svc := NewWebhookService(syncer, testSecret)

	summary, err := svc.Handle(context.Background(), deliver(
		webhook.Entity{Name: webhook.EntityCustomer, ID: "58", Operation: webhook.OperationDelete},
	))

	require.NoError(t, err)
	assert.Empty(t, syncer.calls)
	assert.Equal(t, HandleSummary{Skipped: 1}, summary)
}

func TestHandleCreateAndUpdateSyncOnce(t *testing.T) {
	for _, op := range []string{webhook.OperationCreate, webhook.OperationUpdate} {
		t.Run(op, func(t *testing.T) {
			syncer := &recordingSyncer{}
			svc := NewWebhookService(syncer, testSecret)

			summary, err := svc.Handle(context.Background(), deliver(
				webhook.Entity{Name: webhook.EntityCustomer, ID: "58", Operation: op},
			))

			require.NoError(t, err)
			assert.Equal(t, []syncCall{{"realm-1", "58"}}, syncer.calls)
			assert.Equal(t, HandleSummary{Processed: 1}, summary)
		})
	}
}

func TestHandleIgnoresOtherEntities(t *testing.T) {
	syncer := &recordingSyncer{}
	svc := NewWebhookService(syncer, testSecret)

	summary, err := svc.Handle(context.Background(), deliver(
		webhook.Entity{Name: "Invoice", ID: "9", Operation: webhook.OperationCreate},
		webhook.Entity{Name: "Item", ID: "10", Operation: webhook.OperationUpdate},
		webhook.Entity{Name: webhook.EntityCustomer, ID: "58", Operation: webhook.OperationUpdate},
	))

	require.NoError(t, err)
	assert.Equal(t, []syncCall{{"realm-1", "58"}}, syncer.calls)
	assert.Equal(t, 2, summary.Skipped)
}

func TestHandleContinuesAfterEntityFailure(t *testing.T) {
	syncer := &recordingSyncer{fail: map[string]bool{"1": true}}
	svc := NewWebhookService(syncer, testSecret)

	summary, err := svc.Handle(context.Background(), deliver(
		webhook.Entity{Name: webhook.EntityCustomer, ID: "1", Operation: webhook.OperationUpdate},
		webhook.Entity{Name: webhook.EntityCustomer, ID: "2", Operation: webhook.OperationUpdate},
	))

	assert.ErrorContains(t, err, "customer 1")
	assert.Len(t, syncer.calls, 2)
	assert.Equal(t, HandleSummary{Processed: 1, Failed: 1}, summary)
}

func TestIngestRejectsBeforeProcessing(t *testing.T) {
	body := []byte(`{"eventNotifications":[{"realmId":"realm-1","dataChangeEvent":{"entities":[{"name":"Customer","id":"58","operation":"Update"}]}}]}`)

	tests := []struct {
		name      string
		secret    string
		signature string
		reason    string
	}{
		{"missing secret", "", webhook.Sign(body, testSecret), models.SignatureMissingSecret},
		{"missing header", testSecret, "", models.SignatureMissingHeader},
		{"mismatch", testSecret, webhook.Sign(body, "other"), models.SignatureMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &recordingSyncer{}
			svc := NewWebhookService(syncer, tt.secret)

			_, err := svc.Ingest(context.Background(), tt.signature, body)

			var sigErr *models.SignatureError
			require.ErrorAs(t, err, &sigErr)
			assert.Equal(t, tt.reason, sigErr.Reason)
			assert.Empty(t, syncer.calls)
		})
	}
}

func TestIngestValidDelivery(t *testing.T) {
	body := []byte(`{"eventNotifications":[{"realmId":"realm-1","dataChangeEvent":{"entities":[{"name":"Customer","id":"58","operation":"Create","lastUpdated":"2024-05-01T12:00:00.000Z"}]}}]}`)
	syncer := &recordingSyncer{}
	svc := NewWebhookService(syncer, testSecret)

	summary, err := svc.Ingest(context.Background(), webhook.Sign(body, testSecret), body)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []syncCall{{"realm-1", "58"}}, syncer.calls)
}

func TestIngestMalformedBodyAfterValidSignature(t *testing.T) {
	body := []byte(`{"eventNotifications": [`)
	svc := NewWebhookService(&recordingSyncer{}, testSecret)

	_, err := svc.Ingest(context.Background(), webhook.Sign(body, testSecret), body)

	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
