package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpsdash/internal/domain/mps"
	"mpsdash/internal/errs"
	"mpsdash/internal/infrastructure/cache"
	"mpsdash/internal/ports"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tokenServer fakes the OAuth token endpoint and records every form it saw.
type tokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	forms    []url.Values
	password atomic.Int32
	refresh  atomic.Int32
	respond  func(w http.ResponseWriter, form url.Values)
}

func newTokenServer(t *testing.T, respond func(w http.ResponseWriter, form url.Values)) *tokenServer {
	t.Helper()

	ts := &tokenServer{respond: respond}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := r.PostForm

		ts.mu.Lock()
		ts.forms = append(ts.forms, form)
		ts.mu.Unlock()

		switch form.Get("grant_type") {
		case "password":
			ts.password.Add(1)
		case "refresh_token":
			ts.refresh.Add(1)
		}
		ts.respond(w, form)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) lastForm() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.forms) == 0 {
		return nil
	}
	return ts.forms[len(ts.forms)-1]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// issuing answers every grant with a numbered access token and refresh token.
func issuing(expiresIn int) func(w http.ResponseWriter, form url.Values) {
	var n atomic.Int32
	return func(w http.ResponseWriter, _ url.Values) {
		i := n.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-" + string(rune('0'+i)),
			"refresh_token": "refresh-" + string(rune('0'+i)),
			"token_type":    "Bearer",
			"expires_in":    expiresIn,
		})
	}
}

func newManager(t *testing.T, tokenURL string, clock *testClock, mutate ...func(*Options)) (*Manager, *CacheTokenStore) {
	t.Helper()

	backend, err := cache.NewFileBackend(t.TempDir(), 0)
	require.NoError(t, err)
	store := NewCacheTokenStore(cache.NewStore(backend, cache.Options{Name: "tokens", Now: clock.Now}))

	opts := Options{
		TokenURL:         tokenURL,
		ClientID:         "dashboard",
		ClientSecret:     "s3cret",
		Username:         "ops@example.test",
		Password:         "hunter2",
		Scope:            "account",
		SafetyBuffer:     30 * time.Second,
		Timeout:          2 * time.Second,
		RefreshRetention: 24 * time.Hour,
		Now:              clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := NewManager(store, opts)
	require.NoError(t, err)
	return m, store
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func TestAccessTokenReusesStoredToken(t *testing.T) {
	ts := newTokenServer(t, issuing(3600))
	clock := newTestClock()
	m, store := newManager(t, ts.URL, clock)
	ctx := context.Background()

	first, err := m.AccessToken(ctx)
	require.NoError(t, err)
	second, err := m.AccessToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, "access-1", first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, ts.password.Load())

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(3600*time.Second-30*time.Second).Unix(), rec.ExpiresAt)
	require.True(t, rec.Refreshable())
	assert.Equal(t, "refresh-1", *rec.RefreshToken)
}

func TestPasswordGrantSendsCredentialsInBody(t *testing.T) {
	ts := newTokenServer(t, issuing(3600))
	m, _ := newManager(t, ts.URL, newTestClock())

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	form := ts.lastForm()
	assert.Equal(t, "password", form.Get("grant_type"))
	assert.Equal(t, "dashboard", form.Get("client_id"))
	assert.Equal(t, "s3cret", form.Get("client_secret"))
	assert.Equal(t, "ops@example.test", form.Get("username"))
	assert.Equal(t, "hunter2", form.Get("password"))
	assert.Equal(t, "account", form.Get("scope"))
}

func TestExpiredTokenIsRefreshedBeforePasswordGrant(t *testing.T) {
	ts := newTokenServer(t, issuing(3600))
	clock := newTestClock()
	m, _ := newManager(t, ts.URL, clock)
	ctx := context.Background()

	_, err := m.AccessToken(ctx)
	require.NoError(t, err)

	clock.Advance(3600 * time.Second)

	token, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.EqualValues(t, 1, ts.password.Load())
	assert.EqualValues(t, 1, ts.refresh.Load())

	form := ts.lastForm()
	assert.Equal(t, "refresh-1", form.Get("refresh_token"))
	assert.Equal(t, "dashboard", form.Get("client_id"))
}

func TestTokenIsReplacedInsideSafetyBuffer(t *testing.T) {
	ts := newTokenServer(t, issuing(3600))
	clock := newTestClock()
	m, _ := newManager(t, ts.URL, clock)
	ctx := context.Background()

	_, err := m.AccessToken(ctx)
	require.NoError(t, err)

	clock.Advance(3569 * time.Second)
	token, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	clock.Advance(time.Second)
	token, err = m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
}

func TestRefreshFailureFallsBackToPassword(t *testing.T) {
	var issued atomic.Int32
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		if form.Get("grant_type") == "refresh_token" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		i := issued.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-" + string(rune('0'+i)),
			"refresh_token": "refresh",
			"expires_in":    600,
		})
	})
	clock := newTestClock()
	m, _ := newManager(t, ts.URL, clock)
	ctx := context.Background()

	_, err := m.AccessToken(ctx)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	token, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.EqualValues(t, 1, ts.refresh.Load())
	assert.EqualValues(t, 2, ts.password.Load())
}

func TestRejectedCredentialsSurfaceUpstreamDetail(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             "invalid_client",
			"error_description": "client secret mismatch",
		})
	})
	m, _ := newManager(t, ts.URL, newTestClock())

	_, err := m.AccessToken(context.Background())

	var authErr *errs.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "password", authErr.Grant)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, authErr.Detail, "client secret mismatch")
	assert.Equal(t, "authentication", errs.Kind(err))
}

func TestMalformedTokenResponsesAreAuthenticationErrors(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter, form url.Values){
		"missing access token": func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, http.StatusOK, map[string]any{"token_type": "Bearer", "expires_in": 3600})
		},
		"missing expires_in": func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "a"})
		},
		"not json": func(w http.ResponseWriter, _ url.Values) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		},
		"lifetime within buffer": func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "a", "expires_in": 20})
		},
	}

	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			ts := newTokenServer(t, respond)
			m, store := newManager(t, ts.URL, newTestClock())
			ctx := context.Background()

			token, err := m.AccessToken(ctx)
			assert.Empty(t, token)

			var authErr *errs.AuthenticationError
			require.ErrorAs(t, err, &authErr)

			_, loadErr := store.Load(ctx)
			assert.Error(t, loadErr)
		})
	}
}

func TestLifetimeWithinBufferWrapsSentinel(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "a", "expires_in": 30})
	})
	m, _ := newManager(t, ts.URL, newTestClock())

	_, err := m.AccessToken(context.Background())
	assert.ErrorIs(t, err, mps.ErrTokenLifetimeTooShort)
}

func TestTokenEndpointTimeoutIsNetworkError(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		time.Sleep(300 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "late", "expires_in": 3600})
	})
	m, _ := newManager(t, ts.URL, newTestClock(), func(o *Options) {
		o.Timeout = 50 * time.Millisecond
	})

	_, err := m.AccessToken(context.Background())

	var authErr *errs.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	var netErr *errs.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout)
	assert.Equal(t, ts.URL, netErr.URL)
}

func TestUnreachableTokenEndpointIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	m, _ := newManager(t, addr, newTestClock())

	_, err := m.AccessToken(context.Background())

	var netErr *errs.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.False(t, netErr.Timeout)
	assert.Equal(t, "authentication", errs.Kind(err))
}

func TestConcurrentCallersShareOneGrant(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		time.Sleep(50 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "shared", "expires_in": 3600})
	})
	m, _ := newManager(t, ts.URL, newTestClock())

	var wg sync.WaitGroup
	tokens := make([]string, 12)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.AccessToken(context.Background())
			if err == nil {
				tokens[i] = token
			}
		}(i)
	}
	wg.Wait()

	for _, token := range tokens {
		assert.Equal(t, "shared", token)
	}
	assert.EqualValues(t, 1, ts.password.Load())
}

func TestInvalidateForcesNewGrant(t *testing.T) {
	ts := newTokenServer(t, issuing(3600))
	m, _ := newManager(t, ts.URL, newTestClock())
	ctx := context.Background()

	_, err := m.AccessToken(ctx)
	require.NoError(t, err)

	m.Invalidate(ctx)
	_, err = m.Current(ctx)
	assert.Error(t, err)

	token, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.EqualValues(t, 2, ts.password.Load())
	assert.Zero(t, ts.refresh.Load())
}

func TestNewManagerValidatesOptions(t *testing.T) {
	store := NewCacheTokenStore(cache.Disabled("tokens"))

	_, err := NewManager(nil, Options{TokenURL: "http://x"})
	assert.Error(t, err)
	_, err = NewManager(store, Options{})
	assert.Error(t, err)
	_, err = NewManager(store, Options{TokenURL: "http://x", SafetyBuffer: -time.Second})
	assert.Error(t, err)
}

func TestDisabledTokenCacheStillServesTokens(t *testing.T) {
	ts := newTokenServer(t, issuing(3600))
	m, err := NewManager(NewCacheTokenStore(cache.Disabled("tokens")), Options{TokenURL: ts.URL})
	require.NoError(t, err)

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	_, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, ts.password.Load())
}

func TestCacheTokenStoreReportsMissingRecord(t *testing.T) {
	store := NewCacheTokenStore(cache.Disabled("tokens"))
	_, err := store.Load(context.Background())
	assert.True(t, errors.Is(err, ports.ErrTokenNotFound))
}

func TestCancelledCallerDoesNotFailSharedGrant(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var releaseOnce sync.Once
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "shared", "expires_in": 3600})
	})
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })
	m, _ := newManager(t, ts.URL, newTestClock())

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.AccessToken(first)
		firstErr <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("grant never reached the token endpoint")
	}

	type outcome struct {
		token string
		err   error
	}
	second := make(chan outcome, 1)
	go func() {
		token, err := m.AccessToken(context.Background())
		second <- outcome{token: token, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		var authErr *errs.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	releaseOnce.Do(func() { close(release) })
	select {
	case out := <-second:
		require.NoError(t, out.err)
		assert.Equal(t, "shared", out.token)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got a token")
	}
	assert.EqualValues(t, 1, ts.password.Load())
}
