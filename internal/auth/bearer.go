package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const BearerPrefix = "Bearer "

var ErrInvalidToken = errors.New("auth: invalid token")

// BearerAuthEngine accepts HS256 signed JWTs in the Authorization header.
// The user ID is read from the userId claim, falling back to sub.
type BearerAuthEngine struct {
	secret []byte
}

func NewBearerAuthEngine(secret string) *BearerAuthEngine {
	return &BearerAuthEngine{secret: []byte(secret)}
}

func (e *BearerAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, BearerPrefix) || len(e.secret) == 0 {
		return nil, nil
	}
	raw := strings.TrimSpace(header[len(BearerPrefix):])

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return e.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	id := ""
	switch v := claims["userId"].(type) {
	case string:
		id = v
	case float64:
		id = fmt.Sprintf("%.0f", v)
	}
	if id == "" {
		if sub, err := claims.GetSubject(); err == nil {
			id = sub
		}
	}
	if id == "" {
		return nil, fmt.Errorf("%w: token carries no user id", ErrInvalidToken)
	}

	return &User{ID: id, Method: "bearer"}, nil
}
