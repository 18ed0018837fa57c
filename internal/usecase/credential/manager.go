package credential

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/domain/mps"
	"mpsdash/internal/errs"
	"mpsdash/internal/ports"
)

const defaultGrantTimeout = 30 * time.Second

type Options struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string
	SafetyBuffer time.Duration
	// Timeout bounds each token endpoint call.
	Timeout time.Duration
	// RefreshRetention keeps the record (and its refresh token) around after
	// the access token expired.
	RefreshRetention time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Now        func() time.Time
}

// Manager hands out a valid bearer token, reusing the stored one until it
// expires, then refreshing, then falling back to the password grant.
type Manager struct {
	store  ports.TokenStore
	opts   Options
	conf   *oauth2.Config
	client *http.Client
	group  singleflight.Group
}

func NewManager(store ports.TokenStore, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if strings.TrimSpace(opts.TokenURL) == "" {
		return nil, errors.New("token url is required")
	}
	if opts.SafetyBuffer < 0 {
		return nil, errors.New("safety buffer must not be negative")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGrantTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  opts.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if scope := strings.TrimSpace(opts.Scope); scope != "" {
		conf.Scopes = strings.Fields(scope)
	}

	return &Manager{store: store, opts: opts, conf: conf, client: client}, nil
}

// AccessToken returns a token that is valid now. Errors are always
// *errs.AuthenticationError.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	ctx = logging.WithComponent(ctx, "credential.manager")

	if rec, ok := m.stored(ctx); ok && rec.Valid(m.opts.Now()) {
		return rec.AccessToken, nil
	}

	// The grant ignores caller cancellation and is bounded by the token
	// client timeout. Each caller stops waiting on its own context.
	grantCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(mps.TokenCacheKey, func() (any, error) {
		// Another caller may have finished a grant while we waited.
		rec, ok := m.stored(grantCtx)
		if ok && rec.Valid(m.opts.Now()) {
			return rec.AccessToken, nil
		}
		issuedRec, err := m.obtain(grantCtx, rec)
		if err != nil {
			return "", err
		}
		return issuedRec.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		logging.Debug(ctx, "caller stopped waiting for token grant")
		return "", &errs.AuthenticationError{
			Detail: "gave up waiting for token",
			Err:    errs.NewNetworkError("POST", m.opts.TokenURL, ctx.Err()),
		}
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		if r.Shared {
			logging.Debug(ctx, "token grant shared with concurrent caller")
		}
		return r.Val.(string), nil
	}
}

// Invalidate forgets the stored record so the next AccessToken call runs a
// fresh grant. Used when the upstream rejects a token we believed valid.
func (m *Manager) Invalidate(ctx context.Context) {
	ctx = logging.WithComponent(ctx, "credential.manager")
	if err := m.store.Delete(ctx); err != nil {
		logging.Warn(ctx, "invalidate token failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	logging.Info(ctx, "stored token invalidated")
}

// Current returns the stored record as is, expired or not.
func (m *Manager) Current(ctx context.Context) (mps.TokenRecord, error) {
	return m.store.Load(ctx)
}

func (m *Manager) stored(ctx context.Context) (mps.TokenRecord, bool) {
	rec, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ports.ErrTokenNotFound) {
			logging.Warn(ctx, "load stored token failed", slog.Any("err", errs.Loggable(err)))
		}
		return mps.TokenRecord{}, false
	}
	return rec, true
}

func (m *Manager) obtain(ctx context.Context, prev mps.TokenRecord) (mps.TokenRecord, error) {
	if prev.Refreshable() {
		rec, err := m.grant(ctx, grantRefresh, func(ctx context.Context) (issued, error) {
			return m.refreshGrant(ctx, *prev.RefreshToken)
		})
		if err == nil {
			return rec, nil
		}
		logging.Warn(ctx, "refresh grant failed, falling back to password grant", slog.Any("err", errs.Loggable(err)))
	}

	return m.grant(ctx, grantPassword, m.passwordGrant)
}

func (m *Manager) grant(ctx context.Context, grant string, call func(context.Context) (issued, error)) (mps.TokenRecord, error) {
	ctx = logging.WithAttrs(ctx, slog.String("grant", grant))
	issuedAt := m.opts.Now()

	got, err := call(ctx)
	if err != nil {
		return mps.TokenRecord{}, err
	}

	rec, err := mps.NewTokenRecord(got.accessToken, got.refreshToken, issuedAt, got.expiresIn, m.opts.SafetyBuffer)
	if err != nil {
		return mps.TokenRecord{}, &errs.AuthenticationError{Grant: grant, Detail: err.Error(), Err: err}
	}

	retain := got.expiresIn
	if rec.Refreshable() && m.opts.RefreshRetention > retain {
		retain = m.opts.RefreshRetention
	}
	if err := m.store.Save(ctx, rec, retain); err != nil {
		logging.Warn(ctx, "persist token failed, token kept for this call only", slog.Any("err", errs.Loggable(err)))
	}

	logging.Info(ctx, "token obtained",
		slog.Time("expires_at", rec.Expiry()),
		slog.Bool("refreshable", rec.Refreshable()),
	)
	return rec, nil
}
