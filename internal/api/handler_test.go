package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kyte-estimates/internal/catalog"
	"kyte-estimates/internal/models"
	"kyte-estimates/internal/service"
	"kyte-estimates/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verifierToken = "verifier-token"

type productList []models.Product

func (p productList) ListProducts(context.Context, string) ([]models.Product, error) {
	return p, nil
}

type stubAccounting struct {
	mu    sync.Mutex
	calls int
}

func (s *stubAccounting) CreateEstimate(context.Context, string, *models.EstimatePayload) (models.CreatedEstimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return models.CreatedEstimate{
		EstimateID:     "177",
		EstimateNumber: "1001",
		URL:            "https://app.qbo.intuit.com/app/estimate?txnId=177",
	}, nil
}

type memoryHistory struct {
	mu      sync.Mutex
	records []models.ConversionHistoryRecord
}

func (h *memoryHistory) AppendHistory(_ context.Context, record *models.ConversionHistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	record.ID = int64(len(h.records) + 1)
	h.records = append(h.records, *record)
	return nil
}

func (h *memoryHistory) ListHistoryByOrderNumber(_ context.Context, companyID, orderNumber string) ([]models.ConversionHistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.ConversionHistoryRecord
	for _, r := range h.records {
		if r.CompanyID == companyID && r.OrderNumber == orderNumber {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *memoryHistory) HasSuccessfulConversion(ctx context.Context, companyID, orderNumber string) (bool, error) {
	records, _ := h.ListHistoryByOrderNumber(ctx, companyID, orderNumber)
	for _, r := range records {
		if r.Status == models.ConversionStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

type stubSyncer struct {
	err   error
	calls int
}

func (s *stubSyncer) Sync(context.Context, string, string) (service.SyncOutcome, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return service.SyncUpserted, nil
}

type recordingQueue struct {
	published []string
}

func (q *recordingQueue) PublishConversionRequested(_ context.Context, _ string, order models.Order) (string, error) {
	q.published = append(q.published, order.OrderNumber)
	return "evt-" + order.OrderNumber, nil
}

type testEnv struct {
	router     *gin.Engine
	accounting *stubAccounting
	history    *memoryHistory
	syncer     *stubSyncer
}

func newTestEnv(t *testing.T, secret string, queue ConversionQueue) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	products := productList{{
		ID:             1,
		CompanyID:      "realm-1",
		Name:           "Blue Widget",
		SKU:            "BW-100",
		UnitPrice:      decimal.RequireFromString("9.99"),
		ExternalItemID: "42",
	}}
	cat := catalog.NewCatalog(products, time.Minute)
	matcher := service.NewMatcher(cat)

	env := &testEnv{
		accounting: &stubAccounting{},
		history:    &memoryHistory{},
		syncer:     &stubSyncer{},
	}
	converter := service.NewConverter(matcher, service.NewEstimateBuilder(), env.accounting, env.history, nil, nil,
		service.ConverterOptions{Timeout: time.Second, BatchWorkers: 2})

	h := NewHandler(Services{
		Converter: converter,
		Matcher:   matcher,
		Catalog:   cat,
		Webhooks:  service.NewWebhookService(env.syncer, secret),
		Queue:     queue,
	})
	env.router = gin.New()
	h.SetupRoutes(env.router)
	return env
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

const orderJSON = `{"order_number":"#1001","customer_name":"Acme","customer_id":"58","lines":[{"quantity":2,"description":"Blue Widget SKU:BW-100"}]}`

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestQuickBooksWebhookStatuses(t *testing.T) {
	body := []byte(`{"eventNotifications":[{"realmId":"realm-1","dataChangeEvent":{"entities":[{"name":"Customer","id":"58","operation":"Update"}]}}]}`)
	malformed := []byte(`{"eventNotifications":`)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      int
		synced    int
	}{
		{"valid delivery", verifierToken, body, webhook.Sign(body, verifierToken), http.StatusOK, 1},
		{"missing signature", verifierToken, body, "", http.StatusUnauthorized, 0},
		{"wrong signature", verifierToken, body, webhook.Sign(body, "other"), http.StatusForbidden, 0},
		{"verifier not configured", "", body, webhook.Sign(body, verifierToken), http.StatusInternalServerError, 0},
		{"malformed body", verifierToken, malformed, webhook.Sign(malformed, verifierToken), http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.secret, nil)
			headers := map[string]string{}
			if tt.signature != "" {
				headers[webhook.SignatureHeader] = tt.signature
			}

			w := env.do(http.MethodPost, "/webhooks/quickbooks", tt.body, headers)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, tt.synced, env.syncer.calls)
		})
	}
}

func TestQuickBooksWebhookSyncFailure(t *testing.T) {
	body := []byte(`{"eventNotifications":[{"realmId":"realm-1","dataChangeEvent":{"entities":[{"name":"Customer","id":"58","operation":"Create"}]}}]}`)
	env := newTestEnv(t, verifierToken, nil)
	env.syncer.err = errors.New("quickbooks down")

	w := env.do(http.MethodPost, "/webhooks/quickbooks", body, map[string]string{
		webhook.SignatureHeader: webhook.Sign(body, verifierToken),
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp struct {
		Summary service.HandleSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Summary.Failed)
}

func TestConvertOrders(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions", []byte(`{"orders":[`+orderJSON+`]}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []models.ConversionResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, "1001", resp.Results[0].OrderNumber)
	assert.Equal(t, "177", resp.Results[0].EstimateID)
	assert.Equal(t, 1, env.accounting.calls)
}

func TestConvertOrdersSkipConverted(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)
	body := []byte(`{"skip_converted":true,"orders":[` + orderJSON + `]}`)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions", body, nil).Code)
	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []models.ConversionResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Skipped)
	assert.Equal(t, 1, env.accounting.calls)
}

func TestConvertOrdersRejectsEmptyBatch(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions", []byte(`{"orders":[]}`), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.accounting.calls)
}

func TestConversionHistory(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodGet, "/api/v1/tenants/realm-1/conversions/1001", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions", []byte(`{"orders":[`+orderJSON+`]}`), nil)

	w = env.do(http.MethodGet, "/api/v1/tenants/realm-1/conversions/1001", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Converted bool                             `json:"converted"`
		History   []models.ConversionHistoryRecord `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Converted)
	assert.Len(t, resp.History, 1)
}

func TestEnqueueOrdersWithoutQueue(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions/async", []byte(`{"orders":[`+orderJSON+`]}`), nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEnqueueOrders(t *testing.T) {
	queue := &recordingQueue{}
	env := newTestEnv(t, verifierToken, queue)

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions/async", []byte(`{"orders":[`+orderJSON+`]}`), nil)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []string{"1001"}, queue.published)
	assert.Contains(t, w.Body.String(), "evt-1001")
	assert.Zero(t, env.accounting.calls)
}

func TestEnqueueOrdersValidatesWholeBatchFirst(t *testing.T) {
	queue := &recordingQueue{}
	env := newTestEnv(t, verifierToken, queue)
	invalid := `{"order_number":"#","lines":[{"quantity":1,"description":"x"}]}`

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions/async", []byte(`{"orders":[`+orderJSON+`,`+invalid+`]}`), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, queue.published)
}

func TestMatchOrder(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/matches", []byte(orderJSON), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var matched models.MatchedOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matched))
	assert.Equal(t, models.OrderStateMatched, matched.State)
	require.Len(t, matched.Items, 1)
	assert.Equal(t, models.MatchReasonSKU, matched.Items[0].Reason)
	assert.Zero(t, env.accounting.calls)
}

func TestMatchOrderAcceptsRawTextOnlyLine(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)
	body := `{"order_number":"#1002","customer_name":"Acme","lines":[{"quantity":1,"raw_text":"Blue Widget SKU:BW-100"}]}`

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/matches", []byte(body), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var matched models.MatchedOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matched))
	require.Len(t, matched.Items, 1)
	assert.True(t, matched.Items[0].Matched)
	assert.Equal(t, models.MatchReasonSKU, matched.Items[0].Reason)
}

func TestConvertOrdersAcceptsRawTextOnlyLine(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)
	order := `{"order_number":"#1002","customer_name":"Acme","customer_id":"58","lines":[{"quantity":1,"raw_text":"Blue Widget SKU:BW-100"}]}`

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/conversions", []byte(`{"orders":[`+order+`]}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []models.ConversionResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success, resp.Results[0].Message)
}

func TestRefreshCatalog(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodPost, "/api/v1/tenants/realm-1/catalog/refresh", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"company_id":"realm-1","products":1}`, w.Body.String())
}

func TestGetCustomerWithoutMirror(t *testing.T) {
	env := newTestEnv(t, verifierToken, nil)

	w := env.do(http.MethodGet, "/api/v1/tenants/realm-1/customers/58", nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
