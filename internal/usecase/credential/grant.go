package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mpsdash/internal/errs"
)

const (
	grantPassword = "password"
	grantRefresh  = "refresh_token"
)

var errMissingExpiresIn = errors.New("token response missing expires_in")

// issued is what a successful grant hands back before it becomes a record.
type issued struct {
	accessToken  string
	refreshToken string
	expiresIn    time.Duration
}

func (m *Manager) passwordGrant(ctx context.Context) (issued, error) {
	tok, err := m.conf.PasswordCredentialsToken(m.grantContext(ctx), m.opts.Username, m.opts.Password)
	if err != nil {
		return issued{}, m.translate(grantPassword, err)
	}
	return m.inspect(grantPassword, tok)
}

func (m *Manager) refreshGrant(ctx context.Context, refreshToken string) (issued, error) {
	src := m.conf.TokenSource(m.grantContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return issued{}, m.translate(grantRefresh, err)
	}
	return m.inspect(grantRefresh, tok)
}

// grantContext hands the bounded client to x/oauth2.
func (m *Manager) grantContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

func (m *Manager) inspect(grant string, tok *oauth2.Token) (issued, error) {
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		return issued{}, &errs.AuthenticationError{Grant: grant, Detail: "token response missing access_token"}
	}

	expiresIn, ok := expiresInOf(tok, m.opts.Now())
	if !ok {
		return issued{}, &errs.AuthenticationError{Grant: grant, Detail: errMissingExpiresIn.Error(), Err: errMissingExpiresIn}
	}

	return issued{
		accessToken:  tok.AccessToken,
		refreshToken: tok.RefreshToken,
		expiresIn:    expiresIn,
	}, nil
}

// expiresInOf prefers the raw expires_in field over the computed expiry so
// the safety buffer is applied to exactly what the server granted.
func expiresInOf(tok *oauth2.Token, now time.Time) (time.Duration, bool) {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second, true
	}

	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second, true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return time.Duration(n) * time.Second, true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Second, true
		}
	}

	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(now).Round(time.Second); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// translate maps x/oauth2 failures onto the error taxonomy. Transport
// problems stay reachable as *errs.NetworkError through Unwrap.
func (m *Manager) translate(grant string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		authErr := &errs.AuthenticationError{Grant: grant, Detail: retrieveDetail(re), Err: err}
		if re.Response != nil {
			authErr.StatusCode = re.Response.StatusCode
		}
		return authErr
	}

	if errs.IsTransport(err) {
		return &errs.AuthenticationError{
			Grant:  grant,
			Detail: "token endpoint unreachable",
			Err:    errs.NewNetworkError("POST", m.opts.TokenURL, err),
		}
	}

	return &errs.AuthenticationError{Grant: grant, Detail: err.Error(), Err: err}
}

func retrieveDetail(re *oauth2.RetrieveError) string {
	switch {
	case re.ErrorCode != "" && re.ErrorDescription != "":
		return fmt.Sprintf("%s: %s", re.ErrorCode, re.ErrorDescription)
	case re.ErrorDescription != "":
		return re.ErrorDescription
	case re.ErrorCode != "":
		return re.ErrorCode
	default:
		return strings.TrimSpace(string(re.Body))
	}
}
