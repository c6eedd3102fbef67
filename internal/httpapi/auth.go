package httpapi

import (
	"errors"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Actor is the authenticated cashier attached to a request.
type Actor struct {
	CashierID string
}

type LoginRequest struct {
	CashierID string `json:"cashier_id"`
	PIN       string `json:"pin"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	CashierID   string `json:"cashier_id"`
	ExpiresAt   string `json:"expires_at"`
}

// AuthManager issues JWT session tokens for cashiers unlocking the terminal
// with their PIN. PINs are bcrypt-hashed at registration and never stored in
// the clear.
type AuthManager struct {
	mu       sync.RWMutex
	secret   []byte
	tokenTTL time.Duration
	pins     map[string]string
}

type terminalClaims struct {
	jwtlib.RegisteredClaims
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		pins:     make(map[string]string),
	}
}

// RegisterCashier hashes and stores a cashier's PIN. Blank PINs leave the
// cashier unable to log in.
func (a *AuthManager) RegisterCashier(cashierID string, pin string) error {
	cashierID = strings.TrimSpace(cashierID)
	pin = strings.TrimSpace(pin)
	if cashierID == "" || pin == "" {
		return errors.New("cashier id and pin are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.pins[cashierID] = string(hash)
	a.mu.Unlock()
	return nil
}

func (a *AuthManager) Login(req LoginRequest) (LoginResponse, error) {
	cashierID := strings.TrimSpace(req.CashierID)
	pin := strings.TrimSpace(req.PIN)

	a.mu.RLock()
	hash, ok := a.pins[cashierID]
	a.mu.RUnlock()
	if !ok || pin == "" {
		return LoginResponse{}, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
		return LoginResponse{}, errors.New("invalid credentials")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(cashierID, expiresAt)
	if err != nil {
		return LoginResponse{}, err
	}

	return LoginResponse{
		AccessToken: token,
		CashierID:   cashierID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (Actor, error) {
	claims := &terminalClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Actor{}, errors.New("invalid token subject")
	}
	return Actor{CashierID: sub}, nil
}

func (a *AuthManager) sign(cashierID string, expiresAt time.Time) (string, error) {
	claims := terminalClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   cashierID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "warungpos-terminal",
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
