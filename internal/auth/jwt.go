package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/movement-ledger/internal/lib/jwt"
)

// JWTVerifier decodes HS256 tokens locally. It holds no mutable state.
type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (models.Identity, error) {
	const op = "auth.JWTVerifier.Verify"

	if token == "" {
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, err := jwt.ParseToken(token, v.secret)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, mapJWTError(err))
	}

	identity, err := jwt.Identity(claims)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, mapJWTError(err))
	}

	return identity, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrInvalidToken) {
		return fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	return err
}
