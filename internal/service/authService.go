package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Issues admin tokens. There is a single admin account configured by email
// and bcrypt password hash.
type AuthService struct {
	adminEmail        string
	adminPasswordHash []byte
	jwtSecret         []byte // Stored in env (JWT_SECRET)
	jwtExpiry         time.Duration
	now               func() time.Time
}

func NewAuthService(adminEmail, adminPasswordHash, secret string, expiry time.Duration) *AuthService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	return &AuthService{
		adminEmail:        adminEmail,
		adminPasswordHash: []byte(adminPasswordHash),
		jwtSecret:         []byte(secret),
		jwtExpiry:         expiry,
		now:               time.Now,
	}
}

// Reports whether admin login is possible at all
func (s *AuthService) Enabled() bool {
	return s.adminEmail != "" && len(s.adminPasswordHash) > 0 && len(s.jwtSecret) > 0
}

// Authenticates the admin and returns a signed JWT
func (s *AuthService) Login(email, password string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, errors.New("admin login is not configured")
	}

	if subtle.ConstantTimeCompare([]byte(email), []byte(s.adminEmail)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.adminPasswordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := s.now()
	expiresAt := now.Add(s.jwtExpiry)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   s.adminEmail,
		"email": s.adminEmail,
		"role":  "admin",
		"exp":   expiresAt.Unix(),
		"iat":   now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validates a JWT token and return the claims
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// Hashes a password for ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
