package mcp

import (
	"fmt"

	"golang.org/x/oauth2"
)

// OAuth2Auth adapts an oauth2.TokenSource to AuthProvider, the way
// BearerTokenAuth adapts a static token. Refresh is a no-op: TokenSource
// implementations from golang.org/x/oauth2 already refresh internally on
// Token(), so GetAuthHeader always returns a current header without a
// separate refresh step.
type OAuth2Auth struct {
	source oauth2.TokenSource
}

// NewOAuth2Auth wraps source for use as a Client's AuthProvider.
func NewOAuth2Auth(source oauth2.TokenSource) *OAuth2Auth {
	return &OAuth2Auth{source: source}
}

func (a *OAuth2Auth) GetAuthHeader() (string, error) {
	token, err := a.source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth2 token: %w", err)
	}
	return fmt.Sprintf("%s %s", token.TokenType, token.AccessToken), nil
}

func (a *OAuth2Auth) Refresh() error {
	_, err := a.source.Token()
	return err
}

var _ AuthProvider = (*OAuth2Auth)(nil)
