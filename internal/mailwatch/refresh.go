package mailwatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is Google's OAuth2 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// OAuthRefresher runs the refresh-token grant. Fields fill in whatever the
// stored credential leaves empty.
type OAuthRefresher struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTP         *http.Client
}

func (r OAuthRefresher) Refresh(ctx context.Context, c Credential) (Credential, error) {
	if c.RefreshToken == "" {
		return c, errors.New("mailwatch: no refresh token")
	}
	conf := &oauth2.Config{
		ClientID:     firstNonEmpty(c.ClientID, r.ClientID),
		ClientSecret: firstNonEmpty(c.ClientSecret, r.ClientSecret),
		Endpoint: oauth2.Endpoint{
			TokenURL:  firstNonEmpty(c.TokenURI, r.TokenURL, DefaultTokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: c.GrantedScopes,
	}
	if r.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTP)
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}).Token()
	if err != nil {
		return c, fmt.Errorf("mailwatch: refresh: %w", err)
	}
	c.Token = tok.AccessToken
	if tok.RefreshToken != "" {
		c.RefreshToken = tok.RefreshToken
	}
	c.Expiry = tok.Expiry
	c.ClientID, c.ClientSecret = conf.ClientID, conf.ClientSecret
	c.TokenURI = conf.Endpoint.TokenURL
	return c, nil
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
