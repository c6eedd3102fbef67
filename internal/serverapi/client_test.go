package serverapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
)

func TestOpenShiftSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shifts/open" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token-123" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}

		var req OpenShiftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		if req.CashierID != "cashier-1" {
			t.Errorf("unexpected cashier %s", req.CashierID)
		}

		_ = json.NewEncoder(w).Encode(domain.Shift{
			ID:           "srv-shift-1",
			StoreID:      req.StoreID,
			CashierID:    req.CashierID,
			Status:       domain.ShiftActive,
			OpeningFloat: req.OpeningFloat,
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "token-123", time.Second)
	shift, err := client.OpenShift(context.Background(), OpenShiftRequest{
		StoreID:      "main-store",
		CashierID:    "cashier-1",
		OpeningFloat: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	if shift.ID != "srv-shift-1" || shift.Status != domain.ShiftActive {
		t.Fatalf("unexpected shift %+v", shift)
	}
}

func TestCloseShiftBuildsPathFromID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shifts/srv-shift-1/close" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(domain.Shift{ID: "srv-shift-1", Status: domain.ShiftClosed})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", time.Second)
	shift, err := client.CloseShift(context.Background(), "srv-shift-1", CloseShiftRequest{
		EndingCash: decimal.NewFromInt(103),
	})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if shift.Status != domain.ShiftClosed {
		t.Fatalf("expected closed shift, got %s", shift.Status)
	}
}

func TestServerErrorWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"shift already open"}`, http.StatusConflict)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", time.Second)
	_, err := client.OpenShift(context.Background(), OpenShiftRequest{StoreID: "main-store", CashierID: "cashier-1"})
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected server error sentinel, got %v", err)
	}
}

func TestSyncRecordsRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var envelope SyncEnvelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		result := SyncResult{EnvelopeID: envelope.EnvelopeID}
		for _, tx := range envelope.Transactions {
			result.Statuses = append(result.Statuses, RecordStatus{RecordID: tx.ID, Status: "accepted"})
		}
		_ = json.NewEncoder(w).Encode(result)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", time.Second)
	result, err := client.SyncRecords(context.Background(), SyncEnvelope{
		EnvelopeID: "env-1",
		StoreID:    "main-store",
		Transactions: []domain.Transaction{
			{ID: "tx-1", StoreID: "main-store", Total: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.EnvelopeID != "env-1" || len(result.Statuses) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Statuses[0].RecordID != "tx-1" || result.Statuses[0].Status != "accepted" {
		t.Fatalf("unexpected record status %+v", result.Statuses[0])
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", 50*time.Millisecond)
	_, err := client.OpenShift(context.Background(), OpenShiftRequest{StoreID: "main-store", CashierID: "cashier-1"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if errors.Is(err, ErrServer) {
		t.Fatalf("timeouts are transport failures, not server rejections")
	}
}
