package app

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"legalrag/internal/config"
	"legalrag/internal/pkg/jwtutil"
)

const roleAdmin = "admin"

// AuthService checks the single configured admin account and issues JWTs.
// The password only lives in memory as a bcrypt hash.
type AuthService struct {
	username      string
	passwordHash  []byte
	jwtSecret     string
	jwtExpiration time.Duration
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
	Username  string `json:"username"`
}

func NewAuthService(cfg config.AuthConfig) (*AuthService, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password failed: %w", err)
	}
	return &AuthService{
		username:      cfg.AdminUsername,
		passwordHash:  hash,
		jwtSecret:     cfg.JWTSecret,
		jwtExpiration: time.Duration(cfg.JWTExpireMinute) * time.Minute,
	}, nil
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, newOpError(ErrInvalidInput, "username and password are required", nil)
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return nil, newOpError(ErrInvalidCredential, "invalid username or password", nil)
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, s.username, roleAdmin)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(s.jwtExpiration.Seconds()),
		Username:  s.username,
	}, nil
}

func (s *AuthService) Secret() string {
	return s.jwtSecret
}
