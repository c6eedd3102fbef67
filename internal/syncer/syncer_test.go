package syncer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore/memory"
	"warungpos/terminal/internal/online"
	"warungpos/terminal/internal/serverapi"
)

type fakeSyncServer struct {
	down      bool
	envelopes []serverapi.SyncEnvelope
	rejectIDs map[string]string
}

func (f *fakeSyncServer) OpenShift(context.Context, serverapi.OpenShiftRequest) (*domain.Shift, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSyncServer) CloseShift(context.Context, string, serverapi.CloseShiftRequest) (*domain.Shift, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSyncServer) ActiveShift(context.Context, string, string) (*domain.Shift, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSyncServer) ExecuteDayClose(context.Context, serverapi.DayCloseRequest) (*domain.DayCloseSummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSyncServer) SyncRecords(_ context.Context, envelope serverapi.SyncEnvelope) (*serverapi.SyncResult, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	f.envelopes = append(f.envelopes, envelope)

	result := &serverapi.SyncResult{EnvelopeID: envelope.EnvelopeID}
	for _, tx := range envelope.Transactions {
		status := serverapi.RecordStatus{RecordID: tx.ID, Status: "accepted"}
		if reason, rejected := f.rejectIDs[tx.ID]; rejected {
			status.Status = "rejected"
			status.Reason = reason
		}
		result.Statuses = append(result.Statuses, status)
	}
	for _, shift := range envelope.Shifts {
		result.Statuses = append(result.Statuses, serverapi.RecordStatus{RecordID: shift.ID, Status: "accepted"})
	}
	return result, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func seedPendingTransaction(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	_, err := store.CreateTransaction(context.Background(), domain.Transaction{
		ID:            id,
		StoreID:       "main-store",
		CashierID:     "cashier-1",
		ShiftID:       "shift-1",
		Items:         []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}},
		Total:         decimal.NewFromInt(5),
		PaymentMethod: "cash",
		SyncStatus:    domain.SyncPending,
	})
	if err != nil {
		t.Fatalf("seed transaction failed: %v", err)
	}
}

func TestSyncOnceMarksAcceptedRecords(t *testing.T) {
	store := memory.New()
	server := &fakeSyncServer{}
	ctx := context.Background()

	seedPendingTransaction(t, store, "tx-1")
	seedPendingTransaction(t, store, "tx-2")

	worker := NewWorker(store, server, online.Always{}, quietLogger(), "main-store", time.Second)
	if err := worker.SyncOnce(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if len(server.envelopes) != 1 {
		t.Fatalf("expected one envelope, got %d", len(server.envelopes))
	}
	if server.envelopes[0].EnvelopeID == "" {
		t.Fatalf("envelope must carry an id")
	}

	count, err := store.CountPendingSync(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected all records synced, %d still pending", count)
	}
}

func TestSyncOnceMarksRejectedAsFailed(t *testing.T) {
	store := memory.New()
	server := &fakeSyncServer{rejectIDs: map[string]string{"tx-bad": "duplicate"}}
	ctx := context.Background()

	seedPendingTransaction(t, store, "tx-good")
	seedPendingTransaction(t, store, "tx-bad")

	worker := NewWorker(store, server, online.Always{}, quietLogger(), "main-store", time.Second)
	if err := worker.SyncOnce(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	good, err := store.GetTransaction(ctx, "tx-good")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if good.SyncStatus != domain.SyncSynced {
		t.Fatalf("expected tx-good synced, got %s", good.SyncStatus)
	}

	bad, err := store.GetTransaction(ctx, "tx-bad")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if bad.SyncStatus != domain.SyncFailed {
		t.Fatalf("expected tx-bad failed, got %s", bad.SyncStatus)
	}
}

func TestSyncOnceRetriesFailedRecords(t *testing.T) {
	store := memory.New()
	server := &fakeSyncServer{}
	ctx := context.Background()

	seedPendingTransaction(t, store, "tx-retry")
	if err := store.UpdateTransactionSyncStatus(ctx, "tx-retry", domain.SyncFailed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	worker := NewWorker(store, server, online.Always{}, quietLogger(), "main-store", time.Second)
	if err := worker.SyncOnce(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	tx, err := store.GetTransaction(ctx, "tx-retry")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if tx.SyncStatus != domain.SyncSynced {
		t.Fatalf("expected failed record retried to synced, got %s", tx.SyncStatus)
	}
}

func TestSyncOnceTransportFailureLeavesPending(t *testing.T) {
	store := memory.New()
	server := &fakeSyncServer{down: true}
	ctx := context.Background()

	seedPendingTransaction(t, store, "tx-1")

	worker := NewWorker(store, server, online.Always{}, quietLogger(), "main-store", time.Second)
	if err := worker.SyncOnce(ctx); err == nil {
		t.Fatalf("expected transport error to surface")
	}

	tx, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if tx.SyncStatus != domain.SyncPending {
		t.Fatalf("expected record left pending, got %s", tx.SyncStatus)
	}
}

func TestSyncOnceSkipsEmptyBacklog(t *testing.T) {
	store := memory.New()
	server := &fakeSyncServer{}

	worker := NewWorker(store, server, online.Always{}, quietLogger(), "main-store", time.Second)
	if err := worker.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if len(server.envelopes) != 0 {
		t.Fatalf("expected no envelope for an empty backlog")
	}
}

type offlineDetector struct{}

func (offlineDetector) Online(context.Context) bool { return false }

func TestSyncOnceSkipsWhileOffline(t *testing.T) {
	store := memory.New()
	server := &fakeSyncServer{}

	seedPendingTransaction(t, store, "tx-1")

	worker := NewWorker(store, server, offlineDetector{}, quietLogger(), "main-store", time.Second)
	if err := worker.SyncOnce(context.Background()); err != nil {
		t.Fatalf("offline pass must be a no-op, got %v", err)
	}
	if len(server.envelopes) != 0 {
		t.Fatalf("no envelope should be sent while offline")
	}
}
