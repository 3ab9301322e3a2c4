package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the JWT-backed login session of SPEC_FULL.md §3. It replaces
// the teacher's Firebase ID-token verification (services/user.go) — see
// DESIGN.md for why Firebase auth itself was dropped — with a locally
// issued token signed with SECRET_KEY, matching
// original_source/authentication_module.py's username/password +
// broker-TOTP login flow far more closely than Google identity
// federation would.
type Session struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	IssuedAt time.Time `json:"issued_at"`
	Expiry   time.Time `json:"expiry"`
}

type sessionClaims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	jwt.RegisteredClaims
}

// AuthManager issues and verifies session tokens and validates the
// username/password login described in spec.md §6. It checks no TOTP
// code; broker TOTP derivation happens in the broker package.
type AuthManager struct {
	secretKey           []byte
	userCredentialsFile string
	ttl                 time.Duration
}

func NewAuthManager(secretKey, userCredentialsFile string) *AuthManager {
	return &AuthManager{
		secretKey:           []byte(secretKey),
		userCredentialsFile: userCredentialsFile,
		ttl:                 12 * time.Hour,
	}
}

// storedCredentials is the on-disk shape of USER_CREDENTIALS_FILE,
// grounded on original_source/util.py's env-var-driven credentials file.
type storedCredentials struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret"`
}

func (a *AuthManager) loadCredentials() (storedCredentials, error) {
	var creds storedCredentials
	data, err := os.ReadFile(a.userCredentialsFile)
	if err != nil {
		return creds, fmt.Errorf("auth: read credentials file: %w", err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("auth: parse credentials file: %w", err)
	}
	return creds, nil
}

// Login validates username+password against the stored credentials file
// and, on success, issues a signed session token. The broker's own
// session (derived separately via broker.EnsureSession) is kept out of
// this token — it lives on the RESTBroker, probed/refreshed independently.
func (a *AuthManager) Login(username, password string) (string, Session, error) {
	creds, err := a.loadCredentials()
	if err != nil {
		return "", Session{}, fmt.Errorf("%w: %v", ErrBrokerSessionUnavail, err)
	}
	if username != creds.UserName || password != creds.Password {
		return "", Session{}, ErrNotAuthenticated
	}

	now := time.Now()
	sess := Session{UserID: creds.UserID, UserName: creds.UserName, IssuedAt: now, Expiry: now.Add(a.ttl)}

	claims := sessionClaims{
		UserID:   sess.UserID,
		UserName: sess.UserName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.Expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", Session{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, sess, nil
}

// Verify parses and validates a bearer token, returning the Session it
// carries.
func (a *AuthManager) Verify(tokenString string) (Session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secretKey, nil
	})
	if err != nil || !token.Valid {
		return Session{}, ErrNotAuthenticated
	}
	return Session{
		UserID:   claims.UserID,
		UserName: claims.UserName,
		IssuedAt: claims.IssuedAt.Time,
		Expiry:   claims.ExpiresAt.Time,
	}, nil
}
