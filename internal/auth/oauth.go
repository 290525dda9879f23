package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

var ErrInvalidState = errors.New("oauth state does not match this session")

// OAuthFlow runs the Gmail consent exchange for the browser client. It asks
// for online access only: no refresh token is issued and the access token
// lives in the session store until it expires.
type OAuthFlow struct {
	config *oauth2.Config
	secret []byte
}

func NewOAuthFlow(clientID, clientSecret, redirectURL string) *OAuthFlow {
	return &OAuthFlow{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailReadonlyScope},
		},
		secret: []byte(clientSecret),
	}
}

// AuthCodeURL returns the consent URL for userID.
func (f *OAuthFlow) AuthCodeURL(userID string) string {
	return f.config.AuthCodeURL(f.state(userID), oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for a token after checking that
// state was issued to userID.
func (f *OAuthFlow) Exchange(ctx context.Context, userID, code, state string) (*oauth2.Token, error) {
	if !hmac.Equal([]byte(state), []byte(f.state(userID))) {
		return nil, ErrInvalidState
	}
	tok, err := f.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func (f *OAuthFlow) state(userID string) string {
	mac := hmac.New(sha256.New, f.secret)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}
