package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreID    string
	TerminalID string

	ServerBaseURL  string
	ServerAPIToken string

	TaxRatePercent           string
	VarianceThreshold        string
	OnlineTimeoutSeconds     int
	SyncIntervalSeconds      int
	HoldSweepIntervalMinutes int

	AuthSecret            string
	AccessTokenTTLMinutes int
	CashierPIN            string
	SupervisorID          string
	SupervisorPIN         string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	onlineTimeout := intEnv("ONLINE_TIMEOUT_SECONDS", 5)
	syncInterval := intEnv("SYNC_INTERVAL_SECONDS", 30)
	holdSweep := intEnv("HOLD_SWEEP_INTERVAL_MINUTES", 10)
	tokenTTL := intEnv("ACCESS_TOKEN_TTL_MINUTES", 480)

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		StoreID:    getEnv("STORE_ID", "main-store"),
		TerminalID: getEnv("TERMINAL_ID", "terminal-1"),

		ServerBaseURL:  getEnv("SERVER_BASE_URL", "http://127.0.0.1:9000"),
		ServerAPIToken: strings.TrimSpace(os.Getenv("SERVER_API_TOKEN")),

		TaxRatePercent:           getEnv("TAX_RATE_PERCENT", "11"),
		VarianceThreshold:        getEnv("VARIANCE_THRESHOLD", "5"),
		OnlineTimeoutSeconds:     onlineTimeout,
		SyncIntervalSeconds:      syncInterval,
		HoldSweepIntervalMinutes: holdSweep,

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		CashierPIN:            strings.TrimSpace(os.Getenv("CASHIER_PIN")),
		SupervisorID:          getEnv("SUPERVISOR_ID", "supervisor-1"),
		SupervisorPIN:         strings.TrimSpace(os.Getenv("SUPERVISOR_PIN")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func intEnv(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
