package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	opCreateEstimate = "create_estimate"
	opFetchCustomer  = "fetch_customer"

	// faultObjectNotFound is the QuickBooks fault code for a missing entity
	faultObjectNotFound = "610"

	maxResponseBytes = 1 << 20
)

// Options configures endpoints and the retry policy
type Options struct {
	APIBaseURL   string
	AppBaseURL   string
	MinorVersion string
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Client talks to the QuickBooks Online accounting API
type Client struct {
	sessions SessionProvider
	opts     Options
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewClient creates a QuickBooks API client
func NewClient(sessions SessionProvider, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	return &Client{
		sessions: sessions,
		opts:     opts,
		logger:   util.GetLogger().Named("quickbooks"),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

type estimateResponse struct {
	Estimate struct {
		ID        string `json:"Id"`
		DocNumber string `json:"DocNumber"`
	} `json:"Estimate"`
}

type customerResponse struct {
	Customer struct {
		ID          string `json:"Id"`
		DisplayName string `json:"DisplayName"`
	} `json:"Customer"`
}

type faultResponse struct {
	Fault struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
	} `json:"Fault"`
}

// CreateEstimate creates an estimate and returns its id, number and app URL.
// A single requestid is sent on every attempt so QuickBooks deduplicates retries.
func (c *Client) CreateEstimate(ctx context.Context, companyID string, payload *models.EstimatePayload) (models.CreatedEstimate, error) {
	ctx, span := util.StartSpan(ctx, "QuickBooksClient.CreateEstimate")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return models.CreatedEstimate{}, fmt.Errorf("failed to marshal estimate: %w", err)
	}

	query := url.Values{}
	query.Set("requestid", uuid.New().String())
	respBody, _, err := c.do(ctx, opCreateEstimate, companyID, http.MethodPost, "estimate", query, body)
	if err != nil {
		util.RecordError(span, err)
		return models.CreatedEstimate{}, err
	}

	var resp estimateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.Estimate.ID == "" {
		err = &models.RemoteAPIError{Op: opCreateEstimate, Status: http.StatusOK, Message: "malformed estimate response"}
		util.RecordError(span, err)
		return models.CreatedEstimate{}, err
	}

	return models.CreatedEstimate{
		EstimateID:     resp.Estimate.ID,
		EstimateNumber: resp.Estimate.DocNumber,
		URL:            c.EstimateURL(resp.Estimate.ID),
	}, nil
}

// FetchCustomer reads one customer. A missing customer yields nil, nil.
func (c *Client) FetchCustomer(ctx context.Context, companyID, customerID string) (*models.Customer, error) {
	ctx, span := util.StartSpan(ctx, "QuickBooksClient.FetchCustomer")
	defer span.End()

	respBody, status, err := c.do(ctx, opFetchCustomer, companyID, http.MethodGet, "customer/"+url.PathEscape(customerID), nil, nil)
	if err != nil {
		var remoteErr *models.RemoteAPIError
		if errors.As(err, &remoteErr) && (status == http.StatusNotFound || remoteErr.Code == faultObjectNotFound) {
			return nil, nil
		}
		util.RecordError(span, err)
		return nil, err
	}

	var resp customerResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.Customer.ID == "" {
		err = &models.RemoteAPIError{Op: opFetchCustomer, Status: status, Message: "malformed customer response"}
		util.RecordError(span, err)
		return nil, err
	}

	return &models.Customer{
		ID:          resp.Customer.ID,
		CompanyID:   companyID,
		DisplayName: resp.Customer.DisplayName,
		FetchedAt:   c.now().UTC(),
	}, nil
}

// EstimateURL links to the estimate in the QuickBooks web app
func (c *Client) EstimateURL(estimateID string) string {
	return fmt.Sprintf("%s/app/estimate?txnId=%s", strings.TrimRight(c.opts.AppBaseURL, "/"), url.QueryEscape(estimateID))
}

// do issues one logical call. Transient failures are retried sequentially;
// anything else is returned on the first attempt.
func (c *Client) do(ctx context.Context, op, companyID, method, resource string, query url.Values, body []byte) ([]byte, int, error) {
	httpClient, err := c.sessions.HTTPClient(ctx, companyID)
	if err != nil {
		return nil, 0, fmt.Errorf("quickbooks %s: %w", op, err)
	}

	if query == nil {
		query = url.Values{}
	}
	if c.opts.MinorVersion != "" {
		query.Set("minorversion", c.opts.MinorVersion)
	}
	endpoint := fmt.Sprintf("%s/v3/company/%s/%s?%s",
		strings.TrimRight(c.opts.APIBaseURL, "/"), url.PathEscape(companyID), resource, query.Encode())

	var lastErr error
	var delay time.Duration
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			util.QuickBooksRetriesTotal.WithLabelValues(op).Inc()
			c.logger.Warn("Retrying QuickBooks request",
				zap.String("operation", op),
				zap.String("company_id", companyID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, 0, fmt.Errorf("quickbooks %s: %w", op, err)
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, 0, fmt.Errorf("quickbooks %s: create request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := httpClient.Do(req)
		if err != nil {
			util.QuickBooksRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, fmt.Errorf("quickbooks %s: %w", op, ctxErr)
			}
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				status := 0
				if retrieveErr.Response != nil {
					status = retrieveErr.Response.StatusCode
				}
				return nil, status, &models.RemoteAPIError{Op: op, Status: status, Code: "oauth", Message: retrieveErr.Error()}
			}
			lastErr = &models.RemoteAPIError{Op: op, Message: err.Error(), Transient: true}
			delay = c.backoff(attempt)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		util.QuickBooksRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, resp.StatusCode, fmt.Errorf("quickbooks %s: %w", op, ctxErr)
			}
			lastErr = &models.RemoteAPIError{Op: op, Status: resp.StatusCode, Message: readErr.Error(), Transient: true}
			delay = c.backoff(attempt)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, resp.StatusCode, nil
		}

		apiErr := parseFault(op, resp.StatusCode, respBody)
		if !isRetryableStatus(resp.StatusCode) {
			return nil, resp.StatusCode, apiErr
		}
		apiErr.Transient = true
		lastErr = apiErr
		delay = c.backoff(attempt)
		if wait, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			delay = min(wait, c.opts.MaxBackoff)
		}
	}

	return nil, 0, lastErr
}

// backoff doubles from BaseBackoff after each failed attempt, capped at MaxBackoff
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.opts.MaxBackoff {
			return c.opts.MaxBackoff
		}
	}
	return d
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func retryAfter(header string) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func parseFault(op string, status int, body []byte) *models.RemoteAPIError {
	apiErr := &models.RemoteAPIError{Op: op, Status: status, Message: http.StatusText(status)}

	var fault faultResponse
	if err := json.Unmarshal(body, &fault); err == nil && len(fault.Fault.Error) > 0 {
		first := fault.Fault.Error[0]
		apiErr.Code = first.Code
		apiErr.Message = first.Message
		if first.Detail != "" {
			apiErr.Message = first.Message + ": " + first.Detail
		}
		return apiErr
	}

	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && len(trimmed) <= 512 {
		apiErr.Message = trimmed
	}
	return apiErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
