package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const TokenTypeAdmin TokenType = "admin"

var (
	ErrMissingSecret  = errors.New("admin jwt secret is not configured")
	ErrInvalidToken   = errors.New("token is invalid")
	ErrTokenType      = errors.New("token type mismatch")
	ErrMissingSubject = errors.New("token subject is required")
)

type Claims struct {
	TokenType TokenType `json:"typ"`
	jwt.RegisteredClaims
}

type AdminToken struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager инициализирует менеджер админских JWT токенов.
func NewTokenManager(secret string, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewAdminToken выпускает админский токен для subject (имя оператора или скрипта).
func (m *TokenManager) NewAdminToken(subject string) (AdminToken, error) {
	if len(m.secret) == 0 {
		return AdminToken{}, ErrMissingSecret
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return AdminToken{}, ErrMissingSubject
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		TokenType: TokenTypeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return AdminToken{}, err
	}

	return AdminToken{Token: signed, Subject: subject, ExpiresAt: expiresAt}, nil
}

// ParseAdminToken валидирует админский токен и возвращает claims.
func (m *TokenManager) ParseAdminToken(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, ErrMissingSecret
	}

	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != TokenTypeAdmin {
		return nil, ErrTokenType
	}

	return claims, nil
}
