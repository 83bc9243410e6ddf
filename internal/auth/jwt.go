package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer имя издателя в RegisteredClaims
const TokenIssuer = "datacore"

// Claims представляет JWT claims для меж-узловой аутентификации
type Claims struct {
	CoreID string `json:"core_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Config содержит конфигурацию для JWT
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
}

// GenerateToken создает JWT токен узла для обращения к пиру.
// Все узлы кластера делят cluster secret, поэтому токен проверяем везде.
func GenerateToken(cfg Config, coreID, role string) (string, error) {
	now := time.Now()

	claims := Claims{
		CoreID: coreID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    TokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken валидирует и парсит JWT токен
func ValidateToken(cfg Config, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
