// Package httpapi exposes the terminal core to its UI processes over
// loopback HTTP. Every cart and shift mutation answers with the full
// resulting state, the same payload the broadcast bus mirrors to other UI
// instances.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/terminal/internal/cart"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
	"warungpos/terminal/internal/shift"
	"warungpos/terminal/internal/supervisor"
)

type API struct {
	carts         *cart.Manager
	shifts        *shift.Manager
	store         localstore.Store
	auth          *AuthManager
	revalidate    cart.Revalidator
	allowedOrigin string
	storeID       string
	log           *logrus.Logger
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(carts *cart.Manager, shifts *shift.Manager, store localstore.Store, auth *AuthManager, revalidate cart.Revalidator, allowedOrigin string, storeID string, log *logrus.Logger) *API {
	return &API{
		carts:         carts,
		shifts:        shifts,
		store:         store,
		auth:          auth,
		revalidate:    revalidate,
		allowedOrigin: allowedOrigin,
		storeID:       storeID,
		log:           log,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type actorKey struct{}

func withActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart))
	mux.HandleFunc("/api/v1/cart/items", a.requireAuth(a.handleCartItems))
	mux.HandleFunc("/api/v1/cart/items/", a.requireAuth(a.handleCartItemActions))
	mux.HandleFunc("/api/v1/cart/discount", a.requireAuth(a.handleCartDiscount))
	mux.HandleFunc("/api/v1/cart/clear", a.requireAuth(a.handleCartClear))
	mux.HandleFunc("/api/v1/carts/hold", a.requireAuth(a.handleHeldOrders))
	mux.HandleFunc("/api/v1/carts/hold/", a.requireAuth(a.handleHeldOrderActions))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout))

	mux.HandleFunc("/api/v1/shifts/open", a.requireAuth(a.handleShiftOpen))
	mux.HandleFunc("/api/v1/shifts/close", a.requireAuth(a.handleShiftClose))
	mux.HandleFunc("/api/v1/shifts/close/approve", a.requireAuth(a.handleShiftCloseApprove))
	mux.HandleFunc("/api/v1/shifts/active", a.requireAuth(a.handleShiftActive))

	mux.HandleFunc("/api/v1/day-close", a.requireAuth(a.handleDayClose))
	mux.HandleFunc("/api/v1/sync/pending", a.requireAuth(a.handleSyncPending))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(withActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": a.carts.Snapshot()})
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, errors.New("quantity must be positive"))
		return
	}

	product, err := a.store.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !product.Active {
		writeError(w, http.StatusUnprocessableEntity, errors.New("product is inactive"))
		return
	}

	if level, err := a.store.GetStock(r.Context(), product.ID); err == nil {
		inCart := 0
		for _, line := range a.carts.Snapshot().Items {
			if line.ProductID == product.ID {
				inCart = line.Quantity
				break
			}
		}
		if level.Quantity < inCart+req.Quantity {
			writeError(w, http.StatusUnprocessableEntity, errors.New("insufficient stock"))
			return
		}
	}

	updated, err := a.carts.AddItem(r.Context(), domain.CartItem{
		ProductID: product.ID,
		SKU:       product.SKU,
		Name:      product.Name,
		Quantity:  req.Quantity,
		UnitPrice: product.Price,
		Promo:     product.Promo,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": updated})
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	productID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/"), "/")
	if productID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing product id"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req updateQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.carts.UpdateItemQuantity(r.Context(), productID, req.Quantity)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": updated})
	case http.MethodDelete:
		updated, err := a.carts.RemoveItem(r.Context(), productID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": updated})
	default:
		writeMethodNotAllowed(w)
	}
}

type applyDiscountRequest struct {
	DiscountID string `json:"discount_id"`
}

func (a *API) handleCartDiscount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req applyDiscountRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		record, err := a.store.GetDiscount(r.Context(), req.DiscountID)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		discount := domain.CartDiscount{
			ID:    record.ID,
			Code:  record.Code,
			Name:  record.Name,
			Type:  record.Type,
			Value: record.Value,
		}
		if a.revalidate != nil && !a.revalidate(r.Context(), discount) {
			writeError(w, http.StatusUnprocessableEntity, errors.New("discount is not currently valid"))
			return
		}

		updated, err := a.carts.ApplyDiscount(r.Context(), discount)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": updated})
	case http.MethodDelete:
		updated, err := a.carts.RemoveDiscount(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": updated})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": a.carts.ClearCart(r.Context())})
}

type holdOrderRequest struct {
	CustomerName string `json:"customer_name"`
	Note         string `json:"note"`
}

func (a *API) handleHeldOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
		orders, err := a.store.ListHeldOrders(r.Context(), a.storeID, actor.CashierID, limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"held_orders": orders})
	case http.MethodPost:
		var req holdOrderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		id, err := a.carts.HoldOrder(r.Context(), a.storeID, actor.CashierID, req.CustomerName, req.Note)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"held_order_id": id,
			"cart":          a.carts.Snapshot(),
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleHeldOrderActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/carts/hold/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing held order id"))
		return
	}

	if id, ok := strings.CutSuffix(rest, "/resume"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		result, err := a.carts.ResumeOrder(r.Context(), id, a.revalidate)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cart":                  result.Cart,
			"discount_removed":      result.DiscountRemoved,
			"removed_discount_name": result.RemovedDiscountName,
		})
		return
	}

	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.store.DeleteHeldOrder(r.Context(), rest); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type checkoutRequest struct {
	PaymentMethod string          `json:"payment_method"`
	CashReceived  decimal.Decimal `json:"cash_received"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	state := a.shifts.Snapshot()
	if state.ActiveShift == nil {
		writeError(w, http.StatusConflict, shift.ErrNoActiveShift)
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, _ := actorFromContext(r.Context())
	tx, err := a.carts.CompleteSale(r.Context(), cart.CompleteSaleRequest{
		StoreID:       a.storeID,
		CashierID:     actor.CashierID,
		ShiftID:       state.ActiveShift.ID,
		PaymentMethod: req.PaymentMethod,
		CashReceived:  req.CashReceived,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction": tx,
		"cart":        a.carts.Snapshot(),
	})
}

type shiftOpenRequest struct {
	OpeningFloat decimal.Decimal `json:"opening_float"`
	Note         string          `json:"note"`
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req shiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OpeningFloat.IsNegative() {
		writeError(w, http.StatusBadRequest, errors.New("opening float must not be negative"))
		return
	}

	actor, _ := actorFromContext(r.Context())
	opened, err := a.shifts.OpenShift(r.Context(), shift.OpenRequest{
		CashierID:    actor.CashierID,
		OpeningFloat: req.OpeningFloat,
		Note:         req.Note,
	})
	if err != nil {
		writeShiftError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shift": opened})
}

type shiftCloseRequest struct {
	EndingCash decimal.Decimal `json:"ending_cash"`
	Note       string          `json:"note"`
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req shiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.shifts.CloseShift(r.Context(), shift.CloseRequest{
		EndingCash: req.EndingCash,
		Note:       req.Note,
	})
	if err != nil {
		writeShiftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResultPayload(result))
}

type shiftApproveRequest struct {
	PIN        string          `json:"pin"`
	EndingCash decimal.Decimal `json:"ending_cash"`
	Note       string          `json:"note"`
}

func (a *API) handleShiftCloseApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many pin attempts"))
		return
	}

	var req shiftApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.shifts.VerifySupervisorAndClose(r.Context(), req.PIN, shift.CloseRequest{
		EndingCash: req.EndingCash,
		Note:       req.Note,
	})
	if err != nil {
		writeShiftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResultPayload(result))
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	actor, _ := actorFromContext(r.Context())
	active, err := a.shifts.LoadActiveShiftFromServer(r.Context(), actor.CashierID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shift": active,
		"state": a.shifts.Snapshot(),
	})
}

type dayCloseRequest struct {
	Date string `json:"date"`
}

func (a *API) handleDayClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req dayCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Date == "" {
		req.Date = time.Now().UTC().Format("2006-01-02")
	}

	var pending *domain.Cart
	if snapshot := a.carts.Snapshot(); len(snapshot.Items) > 0 {
		pending = &snapshot
	}

	summary, err := a.shifts.ExecuteDayClose(r.Context(), req.Date, pending)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"day_close": summary})
}

func (a *API) handleSyncPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	count, err := a.carts.PendingSyncCount(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": count})
}

func closeResultPayload(result shift.CloseResult) map[string]any {
	payload := map[string]any{
		"closed":            result.Closed,
		"requires_approval": result.RequiresApproval,
		"pending_variance":  result.PendingVariance,
	}
	if result.Shift != nil {
		payload["shift"] = result.Shift
	}
	return payload
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(startedAt).String(),
		}).Debug("http request")
	})
}

// writeStoreError maps cart and store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, localstore.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, cart.ErrEmptyCart):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, cart.ErrOrderExpired):
		writeError(w, http.StatusGone, err)
	case errors.Is(err, cart.ErrInsufficientPayment):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeShiftError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shift.ErrNoActiveShift), errors.Is(err, shift.ErrShiftAlreadyActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, shift.ErrApprovalRequired):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, supervisor.ErrInvalidPIN):
		writeError(w, http.StatusUnauthorized, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		logrus.WithError(err).WithField("status", status).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
