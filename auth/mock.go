package auth

import (
	"fmt"
	"net/http"
)

// MockClient trusts the identity supplied by the client at connect time. It
// is the default, suitable behind a gateway that already authenticated the
// user; see JWTClient for the verified variant.
type MockClient struct {
	Client
}

func (c *MockClient) Auth(r *http.Request) (string, error) {
	var uid string

	if c, err := r.Cookie("x-uid"); err == nil {
		uid = c.Value
	}
	if uid == "" {
		uid = r.URL.Query().Get("uid")
	}

	if uid == "" {
		return "", fmt.Errorf("empty x-uid cookie and uid query param")
	}
	return uid, nil
}
