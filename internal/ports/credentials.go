package ports

import "context"

// CredentialProvider hands out bearer tokens for upstream calls.
type CredentialProvider interface {
	// AccessToken returns a token valid now or an *errs.AuthenticationError.
	AccessToken(ctx context.Context) (string, error)
	// Invalidate drops the current token after the upstream rejected it.
	Invalidate(ctx context.Context)
}
