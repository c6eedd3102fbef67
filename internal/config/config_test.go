package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SUPERVISOR_PIN", "")
	t.Setenv("CASHIER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.SupervisorPIN != "" {
		t.Fatalf("expected empty SUPERVISOR_PIN when unset, got %q", cfg.SupervisorPIN)
	}
	if cfg.CashierPIN != "" {
		t.Fatalf("expected empty CASHIER_PIN when unset, got %q", cfg.CashierPIN)
	}
}

func TestLoadIntervalFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_SECONDS", "not-a-number")
	t.Setenv("ONLINE_TIMEOUT_SECONDS", "-3")

	cfg := Load()
	if cfg.SyncIntervalSeconds != 30 {
		t.Fatalf("expected sync interval fallback 30, got %d", cfg.SyncIntervalSeconds)
	}
	if cfg.OnlineTimeoutSeconds != 5 {
		t.Fatalf("expected online timeout fallback 5, got %d", cfg.OnlineTimeoutSeconds)
	}
}
