package auth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/api/idtoken"
)

// ErrUnauthorized is returned for any missing or unverifiable bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier resolves a bearer token to the caller's stable user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// GoogleVerifier accepts Google-signed ID tokens issued for audience.
type GoogleVerifier struct {
	audience string
}

func NewGoogleVerifier(audience string) *GoogleVerifier {
	return &GoogleVerifier{audience: audience}
}

func (v *GoogleVerifier) Verify(ctx context.Context, token string) (string, error) {
	payload, err := idtoken.Validate(ctx, token, v.audience)
	if err != nil || payload.Subject == "" {
		return "", ErrUnauthorized
	}
	return payload.Subject, nil
}

// DevVerifier trusts tokens of the form "dev:<user>". Local development and
// tests only.
type DevVerifier struct{}

func (DevVerifier) Verify(_ context.Context, token string) (string, error) {
	user, ok := strings.CutPrefix(token, "dev:")
	if !ok || strings.TrimSpace(user) == "" {
		return "", ErrUnauthorized
	}
	return strings.TrimSpace(user), nil
}
