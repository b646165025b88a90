package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const principalKey = "principal"

// principalClaims são as claims emitidas pelo provedor de identidade
type principalClaims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier valida tokens HS256 e extrai o Principal
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier cria um verificador com o segredo compartilhado
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify valida assinatura e validade do token
func (v *TokenVerifier) Verify(raw string) (Principal, error) {
	var claims principalClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return Principal{}, errors.New("invalid token: missing id claim")
	}

	return Principal{ID: claims.ID, Role: ParseRole(claims.Role)}, nil
}

// SignToken emite um token no formato esperado por Verify
func SignToken(secret string, principal Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := principalClaims{
		ID:   principal.ID,
		Role: string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthMiddleware exige um Bearer token válido e guarda o Principal no contexto
func AuthMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortWithError(c, ErrUnauthenticated, "")
			return
		}

		principal, err := verifier.Verify(strings.TrimSpace(raw))
		if err != nil {
			loggerFrom(c).Debug("rejected bearer token")
			abortWithError(c, ErrUnauthenticated, "")
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func principalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	principal, ok := v.(Principal)
	return principal, ok
}
