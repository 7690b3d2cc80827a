package auth

import (
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClient authenticates with the same signed token the request/response
// path issues. Browsers cannot set headers on a websocket dial, so the token
// is read from the `token` query param first, then the `jwt` cookie.
type JWTClient struct {
	Secret []byte
}

func (c *JWTClient) Auth(r *http.Request) (string, error) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		if ck, err := r.Cookie("jwt"); err == nil {
			tokenStr = ck.Value
		}
	}
	if tokenStr == "" {
		return "", fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.Secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	uid, ok := claims["user_id"].(string)
	if !ok || uid == "" {
		return "", fmt.Errorf("token has no user_id claim")
	}
	return uid, nil
}
