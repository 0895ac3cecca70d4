package auth

import (
	"context"

	"golang.org/x/oauth2"
)

type providerTokenSource struct {
	ctx      context.Context
	provider Provider
}

// TokenSource adapts a Provider so oauth2.Transport can attach it per request.
// ctx bounds any token mint triggered through the source.
func TokenSource(ctx context.Context, provider Provider) oauth2.TokenSource {
	return &providerTokenSource{ctx: ctx, provider: provider}
}

func (s *providerTokenSource) Token() (*oauth2.Token, error) {
	cred, err := s.provider.Credential(s.ctx)
	if err != nil {
		return nil, err
	}
	token := &oauth2.Token{AccessToken: cred.Token, TokenType: "Bearer"}
	if cred.ExpiresAt != nil {
		token.Expiry = *cred.ExpiresAt
	}
	return token, nil
}
