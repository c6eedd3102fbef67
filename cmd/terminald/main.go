package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/terminal/internal/broadcast"
	"warungpos/terminal/internal/cart"
	"warungpos/terminal/internal/config"
	"warungpos/terminal/internal/httpapi"
	"warungpos/terminal/internal/localstore"
	"warungpos/terminal/internal/localstore/memory"
	pgstore "warungpos/terminal/internal/localstore/postgres"
	"warungpos/terminal/internal/online"
	"warungpos/terminal/internal/serverapi"
	"warungpos/terminal/internal/shift"
	"warungpos/terminal/internal/supervisor"
	"warungpos/terminal/internal/syncer"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var store localstore.Store
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		store = pg
		closers = append(closers, pg.Close)
		log.Info("local store: postgres")
	} else {
		store = memory.NewSeeded()
		log.Info("local store: in-memory")
	}

	var bus broadcast.Bus = broadcast.NewMemoryBus()
	if cfg.RedisAddr != "" {
		redisBus := broadcast.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TerminalID, log)
		if err := redisBus.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, cross-instance sync limited to this process")
		} else {
			bus = redisBus
			closers = append(closers, redisBus.Close)
			log.Info("broadcast: redis")
		}
	} else {
		log.Info("broadcast: in-memory")
	}

	taxRate, err := decimal.NewFromString(cfg.TaxRatePercent)
	if err != nil {
		log.WithError(err).Fatal("invalid TAX_RATE_PERCENT")
	}
	varianceThreshold, err := decimal.NewFromString(cfg.VarianceThreshold)
	if err != nil {
		log.WithError(err).Fatal("invalid VARIANCE_THRESHOLD")
	}

	server := serverapi.NewHTTPClient(cfg.ServerBaseURL, cfg.ServerAPIToken, time.Duration(cfg.OnlineTimeoutSeconds)*time.Second)
	detector := online.NewHTTPProbe(cfg.ServerBaseURL+"/healthz", time.Duration(cfg.OnlineTimeoutSeconds)*time.Second)

	verifier, err := supervisor.NewFromPlainPIN(cfg.SupervisorID, cfg.SupervisorPIN)
	if err != nil {
		log.WithError(err).Fatal("failed to prepare supervisor verifier")
	}

	carts := cart.NewManager(store, bus, log, taxRate)
	defer carts.Close()

	shifts := shift.NewManager(store, server, verifier, detector, bus, log, shift.Config{
		StoreID:           cfg.StoreID,
		VarianceThreshold: varianceThreshold,
		OnlineTimeout:     time.Duration(cfg.OnlineTimeoutSeconds) * time.Second,
	})
	defer shifts.Close()
	shifts.SetDayCloseHook(func() {
		carts.ClearCart(context.Background())
	})

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	if err := auth.RegisterCashier("cashier-1", cfg.CashierPIN); err != nil {
		log.WithError(err).Fatal("failed to register cashier credentials")
	}

	revalidate := cart.NewStoreRevalidator(store)
	api := httpapi.New(carts, shifts, store, auth, revalidate, cfg.AllowedOrigin, cfg.StoreID, log)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sync := syncer.NewWorker(store, server, detector, log, cfg.StoreID, time.Duration(cfg.SyncIntervalSeconds)*time.Second)
	go sync.Run(workerCtx)
	go carts.RunExpirySweep(workerCtx, time.Duration(cfg.HoldSweepIntervalMinutes)*time.Minute)

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("terminal core listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopWorkers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("terminal core stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.SupervisorPIN) < 6 {
		return fmt.Errorf("SUPERVISOR_PIN must be set and at least 6 digits")
	}
	if len(cfg.CashierPIN) < 6 {
		return fmt.Errorf("CASHIER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.SupervisorPIN); err != nil {
		return fmt.Errorf("SUPERVISOR_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit, sequential
// (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
