package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/oaimirror/internal/errs"
)

// IssueToken creates a signed HS256 JWT for an operator or scheduler.
func IssueToken(signKey []byte, subject string, ttl time.Duration) (string, time.Time, error) {
	if len(signKey) == 0 || subject == "" {
		return "", time.Time{}, errors.New("validation: empty key/subject")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signKey)
	return signed, exp, err
}

// subjectFromMD extracts "authorization: Bearer <JWT>", verifies HS256 and returns sub.
func subjectFromMD(ctx context.Context, signKey []byte) (string, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return "", err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return signKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid token: %w", errs.ErrUnauthorized)
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return "", fmt.Errorf("token expired or not valid yet: %w", errs.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("empty subject: %w", errs.ErrUnauthorized)
	}
	return claims.Subject, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", fmt.Errorf("no metadata: %w", errs.ErrUnauthorized)
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", fmt.Errorf("no bearer token: %w", errs.ErrUnauthorized)
}
