package shift

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/terminal/internal/broadcast"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore/memory"
	"warungpos/terminal/internal/online"
	"warungpos/terminal/internal/serverapi"
	"warungpos/terminal/internal/supervisor"
)

// fakeServer answers like the back office, or fails every call when down.
type fakeServer struct {
	down   bool
	active *domain.Shift
}

func (f *fakeServer) OpenShift(_ context.Context, req serverapi.OpenShiftRequest) (*domain.Shift, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return &domain.Shift{
		ID:           "srv-shift-1",
		StoreID:      req.StoreID,
		CashierID:    req.CashierID,
		Status:       domain.ShiftActive,
		OpeningFloat: req.OpeningFloat,
		OpeningNote:  req.OpeningNote,
		OpenedAt:     time.Now().UTC(),
	}, nil
}

func (f *fakeServer) CloseShift(_ context.Context, shiftID string, req serverapi.CloseShiftRequest) (*domain.Shift, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	now := time.Now().UTC()
	return &domain.Shift{
		ID:         shiftID,
		Status:     domain.ShiftClosed,
		EndingCash: req.EndingCash,
		ClosedAt:   &now,
		Approval:   req.Approval,
		StoreID:    "main-store",
		CashierID:  "cashier-1",
	}, nil
}

func (f *fakeServer) ActiveShift(_ context.Context, _ string, _ string) (*domain.Shift, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return f.active, nil
}

func (f *fakeServer) ExecuteDayClose(_ context.Context, req serverapi.DayCloseRequest) (*domain.DayCloseSummary, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return &domain.DayCloseSummary{StoreID: req.StoreID, Date: req.Date}, nil
}

func (f *fakeServer) SyncRecords(_ context.Context, _ serverapi.SyncEnvelope) (*serverapi.SyncResult, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return &serverapi.SyncResult{}, nil
}

type offlineDetector struct{}

func (offlineDetector) Online(context.Context) bool { return false }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestManager(t *testing.T, server serverapi.Client, detector online.Detector) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.NewSeeded()
	verifier, err := supervisor.NewFromPlainPIN("supervisor-1", "246813")
	if err != nil {
		t.Fatalf("verifier setup failed: %v", err)
	}
	m := NewManager(store, server, verifier, detector, broadcast.NewMemoryBus(), quietLogger(), Config{
		StoreID:           "main-store",
		VarianceThreshold: decimal.NewFromInt(5),
		OnlineTimeout:     time.Second,
	})
	t.Cleanup(m.Close)
	return m, store
}

func TestOpenShiftOnline(t *testing.T) {
	m, store := newTestManager(t, &fakeServer{}, online.Always{})

	opened, err := m.OpenShift(context.Background(), OpenRequest{
		CashierID:    "cashier-1",
		OpeningFloat: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if opened.ID != "srv-shift-1" {
		t.Fatalf("expected server shift id, got %s", opened.ID)
	}
	if opened.SyncStatus != domain.SyncSynced {
		t.Fatalf("expected synced status, got %s", opened.SyncStatus)
	}

	saved, err := store.GetShift(context.Background(), "srv-shift-1")
	if err != nil {
		t.Fatalf("expected shift persisted locally: %v", err)
	}
	if saved.Status != domain.ShiftActive {
		t.Fatalf("expected active status, got %s", saved.Status)
	}

	state := m.Snapshot()
	if state.Status != StatusActive || state.ActiveShift == nil {
		t.Fatalf("expected active manager state, got %+v", state)
	}
}

func TestOpenShiftOfflineFallback(t *testing.T) {
	m, _ := newTestManager(t, &fakeServer{down: true}, offlineDetector{})

	opened, err := m.OpenShift(context.Background(), OpenRequest{
		CashierID:    "cashier-1",
		OpeningFloat: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("offline open must not error: %v", err)
	}
	if opened.SyncStatus != domain.SyncPending {
		t.Fatalf("expected pending sync status, got %s", opened.SyncStatus)
	}
	if !strings.HasPrefix(opened.ID, "shift-") {
		t.Fatalf("expected locally minted id, got %s", opened.ID)
	}
	if m.Snapshot().Status != StatusActive {
		t.Fatalf("expected active state after offline open")
	}
}

func TestOpenShiftTwiceFails(t *testing.T) {
	m, _ := newTestManager(t, &fakeServer{}, online.Always{})
	ctx := context.Background()

	if _, err := m.OpenShift(ctx, OpenRequest{CashierID: "cashier-1", OpeningFloat: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := m.OpenShift(ctx, OpenRequest{CashierID: "cashier-1", OpeningFloat: decimal.NewFromInt(100)}); !errors.Is(err, ErrShiftAlreadyActive) {
		t.Fatalf("expected already-active error, got %v", err)
	}
}

func TestCloseShiftNoActive(t *testing.T) {
	m, _ := newTestManager(t, &fakeServer{}, online.Always{})

	if _, err := m.CloseShift(context.Background(), CloseRequest{EndingCash: decimal.NewFromInt(100)}); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected no-active error, got %v", err)
	}
}

func TestCloseShiftSmallVarianceCloses(t *testing.T) {
	m, _ := newTestManager(t, &fakeServer{}, online.Always{})
	ctx := context.Background()

	if _, err := m.OpenShift(ctx, OpenRequest{CashierID: "cashier-1", OpeningFloat: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	result, err := m.CloseShift(ctx, CloseRequest{EndingCash: decimal.NewFromFloat(103.00)})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !result.Closed || result.RequiresApproval {
		t.Fatalf("expected clean close, got %+v", result)
	}
	if m.Snapshot().Status != StatusNone {
		t.Fatalf("expected no shift after close")
	}
}

func TestCloseShiftLargeVarianceGatedOnSupervisor(t *testing.T) {
	m, _ := newTestManager(t, &fakeServer{}, online.Always{})
	ctx := context.Background()

	if _, err := m.OpenShift(ctx, OpenRequest{CashierID: "cashier-1", OpeningFloat: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	result, err := m.CloseShift(ctx, CloseRequest{EndingCash: decimal.NewFromInt(110)})
	if err != nil {
		t.Fatalf("close attempt failed: %v", err)
	}
	if result.Closed || !result.RequiresApproval {
		t.Fatalf("expected approval gate, got %+v", result)
	}
	if !result.PendingVariance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected variance 10, got %s", result.PendingVariance)
	}
	if m.Snapshot().Status != StatusActive {
		t.Fatalf("shift must stay active behind the gate")
	}

	// Wrong PIN leaves everything untouched.
	if _, err := m.VerifySupervisorAndClose(ctx, "000000", CloseRequest{EndingCash: decimal.NewFromInt(110)}); !errors.Is(err, supervisor.ErrInvalidPIN) {
		t.Fatalf("expected invalid pin error, got %v", err)
	}
	if m.Snapshot().Status != StatusActive {
		t.Fatalf("shift must stay active after rejected pin")
	}

	// No PIN at all is refused while the gate is up.
	if _, err := m.VerifySupervisorAndClose(ctx, "", CloseRequest{EndingCash: decimal.NewFromInt(110)}); !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("expected approval-required error, got %v", err)
	}

	approved, err := m.VerifySupervisorAndClose(ctx, "246813", CloseRequest{EndingCash: decimal.NewFromInt(110)})
	if err != nil {
		t.Fatalf("approved close failed: %v", err)
	}
	if !approved.Closed {
		t.Fatalf("expected close after approval")
	}
	if approved.Shift.Approval == nil || approved.Shift.Approval.SupervisorID != "supervisor-1" {
		t.Fatalf("expected approval record on shift, got %+v", approved.Shift.Approval)
	}
}

func TestAuthoritativeVarianceCountsCashSales(t *testing.T) {
	m, store := newTestManager(t, &fakeServer{down: true}, offlineDetector{})
	ctx := context.Background()

	opened, err := m.OpenShift(ctx, OpenRequest{CashierID: "cashier-1", OpeningFloat: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	_, err = store.CreateTransaction(ctx, domain.Transaction{
		ID:            "tx-cash-1",
		StoreID:       "main-store",
		CashierID:     "cashier-1",
		ShiftID:       opened.ID,
		Items:         []domain.CartItem{{ProductID: "prod-mie-01", Quantity: 1, UnitPrice: decimal.NewFromFloat(3.50)}},
		Total:         decimal.NewFromInt(50),
		PaymentMethod: "cash",
		CashReceived:  decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("seed transaction failed: %v", err)
	}

	// Drawer holds float + cash sales exactly; authoritative variance is
	// zero even though the naive ending-minus-float difference is 50.
	result, err := m.VerifySupervisorAndClose(ctx, "", CloseRequest{EndingCash: decimal.NewFromInt(150)})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !result.Closed {
		t.Fatalf("expected close without approval, got %+v", result)
	}
	if result.Shift.Approval != nil {
		t.Fatalf("no approval should be recorded for zero variance")
	}
	if !result.Shift.Variance.IsZero() {
		t.Fatalf("expected zero variance, got %s", result.Shift.Variance)
	}
}

func TestOfflineCloseStaysPending(t *testing.T) {
	m, store := newTestManager(t, &fakeServer{down: true}, offlineDetector{})
	ctx := context.Background()

	opened, err := m.OpenShift(ctx, OpenRequest{CashierID: "cashier-1", OpeningFloat: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	result, err := m.CloseShift(ctx, CloseRequest{EndingCash: decimal.NewFromInt(102)})
	if err != nil {
		t.Fatalf("offline close failed: %v", err)
	}
	if !result.Closed {
		t.Fatalf("expected close, got %+v", result)
	}
	if result.Shift.SyncStatus != domain.SyncPending {
		t.Fatalf("expected pending sync after offline close, got %s", result.Shift.SyncStatus)
	}

	saved, err := store.GetShift(ctx, opened.ID)
	if err != nil {
		t.Fatalf("expected shift persisted: %v", err)
	}
	if saved.Status != domain.ShiftClosed {
		t.Fatalf("expected closed status, got %s", saved.Status)
	}
}

func TestLoadActiveShiftFromServerWritesBack(t *testing.T) {
	server := &fakeServer{active: &domain.Shift{
		ID:           "srv-shift-9",
		StoreID:      "main-store",
		CashierID:    "cashier-1",
		Status:       domain.ShiftActive,
		OpeningFloat: decimal.NewFromInt(75),
		OpenedAt:     time.Now().UTC(),
	}}
	m, store := newTestManager(t, server, online.Always{})
	ctx := context.Background()

	loaded, err := m.LoadActiveShiftFromServer(ctx, "cashier-1")
	if err != nil {
		t.Fatalf("hydration failed: %v", err)
	}
	if loaded.ID != "srv-shift-9" || loaded.SyncStatus != domain.SyncSynced {
		t.Fatalf("expected synced server shift, got %+v", loaded)
	}

	if _, err := store.GetShift(ctx, "srv-shift-9"); err != nil {
		t.Fatalf("expected write-back to local store: %v", err)
	}
	if m.Snapshot().Status != StatusActive {
		t.Fatalf("expected manager to adopt hydrated shift")
	}
}

func TestExecuteDayCloseRunsHook(t *testing.T) {
	m, _ := newTestManager(t, &fakeServer{}, online.Always{})

	ran := false
	m.SetDayCloseHook(func() { ran = true })

	summary, err := m.ExecuteDayClose(context.Background(), "2026-08-28", nil)
	if err != nil {
		t.Fatalf("day close failed: %v", err)
	}
	if summary.Date != "2026-08-28" {
		t.Fatalf("unexpected summary date %s", summary.Date)
	}
	if !ran {
		t.Fatalf("expected day-close hook to run")
	}
}
