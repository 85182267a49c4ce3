package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	userIDKey    contextKey = "authUserID"
	permittedKey contextKey = "submissionPermitted"
)

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// SubmissionPermitted reports whether the gate allowed the request to submit.
func SubmissionPermitted(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	permitted, _ := ctx.Value(permittedKey).(bool)
	return permitted
}

// SubmissionGate validates an optional bearer token and records whether the caller may
// submit images for analysis. It never aborts the request; handlers decide what a missing
// permission means. With an empty secret every request is permitted.
func SubmissionGate(secret, audience string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if secret == "" {
			ctx = context.WithValue(ctx, permittedKey, true)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		subject, err := verify(c.Request.Header.Get("Authorization"), secret, audience)
		if err != nil {
			c.Next()
			return
		}

		ctx = context.WithValue(ctx, userIDKey, subject)
		ctx = context.WithValue(ctx, permittedKey, true)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(userIDKey), subject)
		c.Set(string(permittedKey), true)

		c.Next()
	}
}

func verify(header, secret, audience string) (string, error) {
	tokenString, err := extractBearerToken(header)
	if err != nil {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	if audience != "" && !containsAudience(claims.Audience, audience) {
		return "", errors.New("invalid audience")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
