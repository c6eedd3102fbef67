// Package shift owns the terminal's shift state machine: no shift, active
// shift, closed. Opens and closes go to the server first and fall back to a
// local pending record when the server is unreachable, so a network outage
// never blocks a cashier. Closing with a cash variance at or over the
// configured threshold is gated behind supervisor approval.
package shift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/terminal/internal/broadcast"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
	"warungpos/terminal/internal/online"
	"warungpos/terminal/internal/serverapi"
	"warungpos/terminal/internal/supervisor"
	"warungpos/terminal/internal/xid"
)

var (
	ErrNoActiveShift      = errors.New("no active shift")
	ErrShiftAlreadyActive = errors.New("shift already active")
	ErrApprovalRequired   = errors.New("supervisor approval required")
	ErrOfflinePersistence = errors.New("offline persistence failed")
)

// Status is the manager's own lifecycle, distinct from a Shift record's
// ACTIVE/CLOSED status.
type Status string

const (
	StatusNone    Status = "none"
	StatusLoading Status = "loading"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// State is the full shift-side payload mirrored across UI instances.
type State struct {
	Status           Status          `json:"status"`
	ActiveShift      *domain.Shift   `json:"active_shift,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	PendingVariance  decimal.Decimal `json:"pending_variance"`
	LastError        string          `json:"last_error,omitempty"`
}

type OpenRequest struct {
	CashierID    string
	OpeningFloat decimal.Decimal
	Note         string
}

type CloseRequest struct {
	EndingCash decimal.Decimal
	Note       string
}

// CloseResult distinguishes the expected approval-required outcome from an
// actual close. RequiresApproval is control flow, not an error.
type CloseResult struct {
	Closed           bool
	RequiresApproval bool
	PendingVariance  decimal.Decimal
	Shift            *domain.Shift
}

type Config struct {
	StoreID           string
	VarianceThreshold decimal.Decimal
	OnlineTimeout     time.Duration
}

type Manager struct {
	mu sync.Mutex

	status           Status
	active           *domain.Shift
	requiresApproval bool
	pendingVariance  decimal.Decimal
	lastErr          string

	store    localstore.Store
	server   serverapi.Client
	verifier supervisor.Verifier
	detector online.Detector
	pub      *broadcast.Publisher
	guard    *broadcast.SeqGuard
	log      *logrus.Logger
	cfg      Config

	// onDayClose is invoked after a successful day-close execution; the
	// composition root wires it to clear the active cart and EOD caches.
	onDayClose func()

	unsubscribe func()
}

func NewManager(store localstore.Store, server serverapi.Client, verifier supervisor.Verifier, detector online.Detector, bus broadcast.Bus, log *logrus.Logger, cfg Config) *Manager {
	if cfg.OnlineTimeout <= 0 {
		cfg.OnlineTimeout = 5 * time.Second
	}
	if cfg.VarianceThreshold.IsZero() {
		cfg.VarianceThreshold = decimal.NewFromInt(5)
	}
	if detector == nil {
		detector = online.Always{}
	}

	m := &Manager{
		status:   StatusNone,
		store:    store,
		server:   server,
		verifier: verifier,
		detector: detector,
		pub:      broadcast.NewPublisher(bus),
		guard:    broadcast.NewSeqGuard(),
		log:      log,
		cfg:      cfg,
	}
	m.unsubscribe = bus.Subscribe(broadcast.TopicShiftSync, m.onRemoteState)
	return m
}

// SetDayCloseHook registers the callback run after a successful day close.
func (m *Manager) SetDayCloseHook(hook func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDayClose = hook
}

func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Manager) onRemoteState(msg broadcast.Message) {
	if msg.Origin == m.pub.Origin() {
		return
	}
	if !m.guard.Accept(msg) {
		return
	}
	var state State
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		m.log.WithError(err).Warn("shift: dropping malformed broadcast")
		return
	}
	m.mu.Lock()
	m.status = state.Status
	m.active = state.ActiveShift
	m.requiresApproval = state.RequiresApproval
	m.pendingVariance = state.PendingVariance
	m.lastErr = state.LastError
	m.mu.Unlock()
}

// Snapshot returns a copy of the current shift state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// OpenShift opens a shift server-first. Any online failure, transport or
// explicit, falls back to a locally synthesized pending shift; the caller
// sees an error only when the offline path itself fails.
func (m *Manager) OpenShift(ctx context.Context, req OpenRequest) (*domain.Shift, error) {
	var out []broadcast.Message
	m.mu.Lock()
	defer func() { m.flush(ctx, out) }()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrShiftAlreadyActive
	}

	m.status = StatusLoading
	m.stampInto(&out)

	if shift, err := m.tryOnlineOpen(ctx, req); err == nil {
		m.adoptActive(shift, &out)
		return shift, nil
	} else {
		m.log.WithError(err).Info("shift: online open failed, falling back offline")
	}

	now := time.Now().UTC()
	offline := domain.Shift{
		ID:           xid.New("shift"),
		StoreID:      m.cfg.StoreID,
		CashierID:    req.CashierID,
		Status:       domain.ShiftActive,
		OpeningFloat: req.OpeningFloat.Round(2),
		OpeningNote:  req.Note,
		OpenedAt:     now,
		SyncStatus:   domain.SyncPending,
	}
	saved, err := m.store.SaveShift(ctx, offline)
	if err != nil {
		m.status = StatusError
		m.lastErr = err.Error()
		m.stampInto(&out)
		return nil, fmt.Errorf("%w: %v", ErrOfflinePersistence, err)
	}

	m.adoptActive(saved, &out)
	return saved, nil
}

func (m *Manager) tryOnlineOpen(ctx context.Context, req OpenRequest) (*domain.Shift, error) {
	if !m.detector.Online(ctx) {
		return nil, errors.New("offline")
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.OnlineTimeout)
	defer cancel()

	shift, err := m.server.OpenShift(callCtx, serverapi.OpenShiftRequest{
		StoreID:      m.cfg.StoreID,
		CashierID:    req.CashierID,
		OpeningFloat: req.OpeningFloat.Round(2),
		OpeningNote:  req.Note,
	})
	if err != nil {
		return nil, err
	}

	shift.SyncStatus = domain.SyncSynced
	saved, err := m.store.SaveShift(ctx, *shift)
	if err != nil {
		// Server accepted the open; a local write failure must not orphan it.
		m.log.WithError(err).Warn("shift: failed to persist server-confirmed shift")
		return shift, nil
	}
	return saved, nil
}

// CloseShift runs the variance pre-check and closes when it passes. The
// pre-check uses endingCash minus openingFloat only; the authoritative
// variance including shift cash sales is computed on the approval path.
func (m *Manager) CloseShift(ctx context.Context, req CloseRequest) (CloseResult, error) {
	var out []broadcast.Message
	m.mu.Lock()
	defer func() { m.flush(ctx, out) }()
	defer m.mu.Unlock()

	if m.active == nil {
		return CloseResult{}, ErrNoActiveShift
	}

	variance := req.EndingCash.Sub(m.active.OpeningFloat).Round(2)
	if variance.Abs().GreaterThanOrEqual(m.cfg.VarianceThreshold) {
		m.requiresApproval = true
		m.pendingVariance = variance
		m.stampInto(&out)
		return CloseResult{RequiresApproval: true, PendingVariance: variance}, nil
	}

	return m.finalizeClose(ctx, req, variance, nil, &out)
}

// VerifySupervisorAndClose closes through the approval gate. A non-empty
// PIN is verified against the supervisor verifier; failure leaves the shift
// active and untouched. When the variance requires approval and no PIN is
// supplied, the close is refused.
func (m *Manager) VerifySupervisorAndClose(ctx context.Context, pin string, req CloseRequest) (CloseResult, error) {
	var out []broadcast.Message
	m.mu.Lock()
	defer func() { m.flush(ctx, out) }()
	defer m.mu.Unlock()

	if m.active == nil {
		return CloseResult{}, ErrNoActiveShift
	}

	variance := m.authoritativeVariance(ctx, req.EndingCash)
	needsApproval := m.requiresApproval || variance.Abs().GreaterThanOrEqual(m.cfg.VarianceThreshold)

	var approval *domain.SupervisorApproval
	if pin != "" {
		supervisorID, err := m.verifier.Verify(ctx, pin)
		if err != nil {
			m.status = StatusActive
			m.stampInto(&out)
			return CloseResult{}, err
		}
		if needsApproval {
			approval = &domain.SupervisorApproval{
				SupervisorID: supervisorID,
				ApprovedAt:   time.Now().UTC(),
			}
		}
	} else if needsApproval {
		return CloseResult{RequiresApproval: true, PendingVariance: variance}, ErrApprovalRequired
	}

	return m.finalizeClose(ctx, req, variance, approval, &out)
}

// authoritativeVariance factors shift cash sales into the expected drawer
// amount. When the sales read fails the simplified formula is used so a
// storage hiccup cannot block closing.
func (m *Manager) authoritativeVariance(ctx context.Context, endingCash decimal.Decimal) decimal.Decimal {
	cashSales, err := m.store.CashSalesForShift(ctx, m.active.ID)
	if err != nil {
		m.log.WithError(err).Warn("shift: cash sales read failed, using simplified variance")
		cashSales = decimal.Zero
	}
	expected := m.active.OpeningFloat.Add(cashSales)
	return endingCash.Sub(expected).Round(2)
}

// finalizeClose performs the online-first close with offline fallback.
// Caller holds mu.
func (m *Manager) finalizeClose(ctx context.Context, req CloseRequest, variance decimal.Decimal, approval *domain.SupervisorApproval, out *[]broadcast.Message) (CloseResult, error) {
	m.status = StatusLoading
	m.stampInto(out)

	closed, err := m.tryOnlineClose(ctx, req, approval)
	if err != nil {
		m.log.WithError(err).Info("shift: online close failed, falling back offline")

		now := time.Now().UTC()
		local := *m.active
		local.Status = domain.ShiftClosed
		local.EndingCash = req.EndingCash.Round(2)
		local.ClosingNote = req.Note
		local.ClosedAt = &now
		local.Variance = variance
		local.Approval = approval
		local.SyncStatus = domain.SyncPending

		closed, err = m.store.SaveShift(ctx, local)
		if err != nil {
			// Both paths failed: surface it, shift stays active.
			m.status = StatusActive
			m.lastErr = err.Error()
			m.stampInto(out)
			return CloseResult{}, fmt.Errorf("%w: %v", ErrOfflinePersistence, err)
		}
	}

	m.active = nil
	m.status = StatusNone
	m.requiresApproval = false
	m.pendingVariance = decimal.Zero
	m.lastErr = ""
	m.stampInto(out)

	return CloseResult{Closed: true, Shift: closed}, nil
}

func (m *Manager) tryOnlineClose(ctx context.Context, req CloseRequest, approval *domain.SupervisorApproval) (*domain.Shift, error) {
	if !m.detector.Online(ctx) {
		return nil, errors.New("offline")
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.OnlineTimeout)
	defer cancel()

	closed, err := m.server.CloseShift(callCtx, m.active.ID, serverapi.CloseShiftRequest{
		EndingCash:  req.EndingCash.Round(2),
		ClosingNote: req.Note,
		Approval:    approval,
	})
	if err != nil {
		return nil, err
	}

	closed.SyncStatus = domain.SyncSynced
	if saved, err := m.store.SaveShift(ctx, *closed); err == nil {
		return saved, nil
	} else {
		m.log.WithError(err).Warn("shift: failed to persist server-confirmed close")
	}
	return closed, nil
}

// LoadActiveShift hydrates from the local store for the given cashier.
func (m *Manager) LoadActiveShift(ctx context.Context, cashierID string) (*domain.Shift, error) {
	shift, err := m.store.GetActiveShift(ctx, m.cfg.StoreID, cashierID)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var out []broadcast.Message
	m.mu.Lock()
	defer func() { m.flush(ctx, out) }()
	defer m.mu.Unlock()
	if shift.Status == domain.ShiftActive {
		m.adoptActive(shift, &out)
	}
	return shift, nil
}

// LoadActiveShiftFromServer reconciles against the server's authoritative
// active shift, writing it back locally as synced. Falls back to the local
// read when the server is unreachable.
func (m *Manager) LoadActiveShiftFromServer(ctx context.Context, cashierID string) (*domain.Shift, error) {
	if m.detector.Online(ctx) {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.OnlineTimeout)
		shift, err := m.server.ActiveShift(callCtx, m.cfg.StoreID, cashierID)
		cancel()
		if err == nil && shift != nil && shift.ID != "" {
			shift.SyncStatus = domain.SyncSynced
			saved, saveErr := m.store.SaveShift(ctx, *shift)
			if saveErr != nil {
				m.log.WithError(saveErr).Warn("shift: failed to persist server active shift")
				saved = shift
			}
			var out []broadcast.Message
			m.mu.Lock()
			defer func() { m.flush(ctx, out) }()
			defer m.mu.Unlock()
			if saved.Status == domain.ShiftActive {
				m.adoptActive(saved, &out)
			}
			return saved, nil
		}
		if err != nil {
			m.log.WithError(err).Info("shift: server hydration failed, reading local store")
		}
	}
	return m.LoadActiveShift(ctx, cashierID)
}

// ExecuteDayClose runs end-of-day on the server. On success the registered
// hook clears the active cart and any pre-EOD summary cache.
func (m *Manager) ExecuteDayClose(ctx context.Context, date string, pendingCart *domain.Cart) (*domain.DayCloseSummary, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.OnlineTimeout)
	defer cancel()

	summary, err := m.server.ExecuteDayClose(callCtx, serverapi.DayCloseRequest{
		StoreID:     m.cfg.StoreID,
		Date:        date,
		PendingCart: pendingCart,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	hook := m.onDayClose
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return summary, nil
}

// adoptActive installs shift as the active one and stamps the new state.
// Caller holds mu.
func (m *Manager) adoptActive(shift *domain.Shift, out *[]broadcast.Message) {
	m.active = shift
	m.status = StatusActive
	m.requiresApproval = false
	m.pendingVariance = decimal.Zero
	m.lastErr = ""
	m.stampInto(out)
}

func (m *Manager) stateLocked() State {
	state := State{
		Status:           m.status,
		RequiresApproval: m.requiresApproval,
		PendingVariance:  m.pendingVariance,
		LastError:        m.lastErr,
	}
	if m.active != nil {
		copied := *m.active
		state.ActiveShift = &copied
	}
	return state
}

// stampInto sequences the current state into out. Caller holds mu; the
// messages are sent by flush after mu is released, because a handler on the
// same bus may lock its own manager.
func (m *Manager) stampInto(out *[]broadcast.Message) {
	msg, err := m.pub.NextState(broadcast.TopicShiftSync, m.stateLocked())
	if err != nil {
		m.log.WithError(err).Warn("shift: broadcast encode failed")
		return
	}
	*out = append(*out, msg)
}

func (m *Manager) flush(ctx context.Context, out []broadcast.Message) {
	for _, msg := range out {
		if err := m.pub.Send(ctx, msg); err != nil {
			m.log.WithError(err).Warn("shift: broadcast failed")
		}
	}
}
