// Package serverapi is the REST client for the authoritative back-office
// server. The managers treat any failure here, network or server-side, as a
// trigger for their offline fallback; this package never retries.
package serverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
)

// ErrServer wraps an explicit non-2xx response so callers can distinguish it
// from transport-level failures if they ever need to. Both trigger fallback.
var ErrServer = errors.New("server error")

type OpenShiftRequest struct {
	StoreID      string          `json:"store_id"`
	CashierID    string          `json:"cashier_id"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
	OpeningNote  string          `json:"opening_note,omitempty"`
}

type CloseShiftRequest struct {
	EndingCash  decimal.Decimal            `json:"ending_cash"`
	ClosingNote string                     `json:"closing_note,omitempty"`
	Approval    *domain.SupervisorApproval `json:"supervisor_approval,omitempty"`
}

type DayCloseRequest struct {
	StoreID     string       `json:"store_id"`
	Date        string       `json:"date"`
	PendingCart *domain.Cart `json:"pending_cart,omitempty"`
}

type SyncEnvelope struct {
	EnvelopeID   string               `json:"envelope_id"`
	StoreID      string               `json:"store_id"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	Shifts       []domain.Shift       `json:"shifts,omitempty"`
}

type RecordStatus struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

type SyncResult struct {
	EnvelopeID string         `json:"envelope_id"`
	Statuses   []RecordStatus `json:"statuses"`
}

type Client interface {
	OpenShift(ctx context.Context, req OpenShiftRequest) (*domain.Shift, error)
	CloseShift(ctx context.Context, shiftID string, req CloseShiftRequest) (*domain.Shift, error)
	ActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error)
	ExecuteDayClose(ctx context.Context, req DayCloseRequest) (*domain.DayCloseSummary, error)
	SyncRecords(ctx context.Context, envelope SyncEnvelope) (*SyncResult, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) OpenShift(ctx context.Context, req OpenShiftRequest) (*domain.Shift, error) {
	var shift domain.Shift
	if err := c.do(ctx, http.MethodPost, "/shifts/open", req, &shift); err != nil {
		return nil, err
	}
	return &shift, nil
}

func (c *HTTPClient) CloseShift(ctx context.Context, shiftID string, req CloseShiftRequest) (*domain.Shift, error) {
	var shift domain.Shift
	path := fmt.Sprintf("/shifts/%s/close", shiftID)
	if err := c.do(ctx, http.MethodPost, path, req, &shift); err != nil {
		return nil, err
	}
	return &shift, nil
}

func (c *HTTPClient) ActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	var shift domain.Shift
	path := fmt.Sprintf("/shifts/active?store_id=%s&cashier_id=%s", storeID, cashierID)
	if err := c.do(ctx, http.MethodGet, path, nil, &shift); err != nil {
		return nil, err
	}
	return &shift, nil
}

func (c *HTTPClient) ExecuteDayClose(ctx context.Context, req DayCloseRequest) (*domain.DayCloseSummary, error) {
	var summary domain.DayCloseSummary
	if err := c.do(ctx, http.MethodPost, "/day-close/execute", req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *HTTPClient) SyncRecords(ctx context.Context, envelope SyncEnvelope) (*SyncResult, error) {
	var result SyncResult
	if err := c.do(ctx, http.MethodPost, "/sync", envelope, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %d: %s", ErrServer, method, path, resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
