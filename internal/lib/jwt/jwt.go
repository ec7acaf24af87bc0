package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

func NewToken(identity models.Identity, jwtSecret string, duration time.Duration) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["uid"] = identity.UserID
	if identity.Username != "" {
		claims["username"] = identity.Username
	}
	claims["exp"] = time.Now().Add(duration).Unix()

	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken checks the HS256 signature and expiry of tokenString. Tokens without exp are rejected.
func ParseToken(tokenString string, secret string) (map[string]interface{}, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}

	return claims, nil
}

// Identity extracts the caller from parsed claims. Both "uid" and "user_id" are accepted.
func Identity(claims map[string]interface{}) (models.Identity, error) {
	var id models.Identity
	for _, key := range []string{"uid", "user_id"} {
		if v, ok := claims[key]; ok {
			id.UserID = claimString(v)
			break
		}
	}
	if id.UserID == "" {
		return models.Identity{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	if v, ok := claims["username"].(string); ok {
		id.Username = v
	}
	return id, nil
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return ""
	}
}
