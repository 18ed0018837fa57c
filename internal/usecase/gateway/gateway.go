package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/domain/mps"
	"mpsdash/internal/errs"
	"mpsdash/internal/ports"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultTTL        = 5 * time.Minute
	maxResponseSize   = 32 << 20
	defaultUserAgent  = "mpsdash/1.0"
	maxAttempts       = 2
	headerContentType = "Content-Type"
)

var nullJSON = json.RawMessage("null")

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	DefaultTTL time.Duration
	// RateLimit is the upstream request budget per second; zero disables it.
	RateLimit  float64
	Burst      int
	UserAgent  string
	HTTPClient *http.Client
}

// Gateway is the single entry point for upstream calls: it validates input,
// serves cached answers, attaches bearer tokens and retries once on 401.
type Gateway struct {
	cache   ports.Cache
	creds   ports.CredentialProvider
	base    *url.URL
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
}

func New(cache ports.Cache, creds ports.CredentialProvider, opts Options) (*Gateway, error) {
	if cache == nil {
		return nil, errors.New("response cache is required")
	}
	if creds == nil {
		return nil, errors.New("credential provider is required")
	}

	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, errs.Wrap(err, "parse api base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultTTL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	g := &Gateway{cache: cache, creds: creds, base: base, opts: opts, client: client}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return g, nil
}

// Request performs one logical upstream call. Errors are one of
// *errs.ValidationError, *errs.AuthenticationError, *errs.NetworkError or
// *errs.UpstreamError.
func (g *Gateway) Request(ctx context.Context, req mps.Request) (mps.Result, error) {
	method := normalizeMethod(req.Method)
	path := normalizePath(req.Path)
	ctx = logging.WithAttrs(ctx,
		slog.String("component", "gateway"),
		slog.String("method", method),
		slog.String("path", path),
	)

	if err := validatePath(path); err != nil {
		return mps.Result{}, err
	}
	if err := validateRequired(req.Body, req.Options.RequiredFields); err != nil {
		logging.Debug(ctx, "request rejected", slog.Any("err", errs.Loggable(err)))
		return mps.Result{}, err
	}
	encoded, err := canonicalJSON(req.Body)
	if err != nil {
		logging.Debug(ctx, "request rejected", slog.Any("err", errs.Loggable(err)))
		return mps.Result{}, err
	}
	call := outbound{method: method, path: path, body: req.Body, encoded: encoded}

	if !req.Options.UseCache {
		return g.fetch(ctx, call)
	}

	key := cacheKey(method, path, encoded)
	ctx = logging.WithAttrs(ctx, slog.String("cache_key", key))

	if res, ok := g.cached(ctx, key); ok {
		return res, nil
	}

	// The shared fetch ignores caller cancellation and is bounded by the
	// client timeout. Each caller stops waiting on its own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		if res, ok := g.cached(flightCtx, key); ok {
			return res, nil
		}

		res, err := g.fetch(flightCtx, call)
		if err != nil {
			return nil, err
		}

		ttl := req.Options.TTL
		if ttl <= 0 {
			ttl = g.opts.DefaultTTL
		}
		g.cache.Set(flightCtx, key, mps.CachedResponse{StatusCode: res.StatusCode, Data: res.Data}, ttl)
		return res, nil
	})

	select {
	case <-ctx.Done():
		logging.Debug(ctx, "caller stopped waiting for shared fetch")
		return mps.Result{}, errs.NewNetworkError(method, g.target(path).String(), ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return mps.Result{}, r.Err
		}
		return r.Val.(mps.Result), nil
	}
}

// outbound is one validated upstream call. encoded is the canonical JSON
// body sent for non-GET methods.
type outbound struct {
	method  string
	path    string
	body    map[string]any
	encoded []byte
}

func (g *Gateway) target(path string) *url.URL {
	return g.base.ResolveReference(&url.URL{Path: path})
}

func (g *Gateway) cached(ctx context.Context, key string) (mps.Result, bool) {
	var hit mps.CachedResponse
	if !g.cache.Get(ctx, key, &hit) {
		return mps.Result{}, false
	}
	data := hit.Data
	if len(data) == 0 {
		data = nullJSON
	}
	logging.Debug(ctx, "served from cache")
	return mps.Result{StatusCode: hit.StatusCode, Data: data, FromCache: true}, true
}

// fetch runs the token + call sequence, retrying exactly once when the
// upstream rejects the token.
func (g *Gateway) fetch(ctx context.Context, call outbound) (mps.Result, error) {
	for attempt := 1; ; attempt++ {
		token, err := g.creds.AccessToken(ctx)
		if err != nil {
			return mps.Result{}, err
		}

		status, payload, err := g.call(ctx, call, token)
		if err != nil {
			return mps.Result{}, err
		}

		if status == http.StatusUnauthorized && attempt < maxAttempts {
			logging.Warn(ctx, "upstream rejected token, retrying with a fresh one")
			g.creds.Invalidate(ctx)
			continue
		}
		return interpret(status, payload)
	}
}

func (g *Gateway) call(ctx context.Context, call outbound, token string) (int, []byte, error) {
	method := call.method
	target := g.target(call.path)

	var reader io.Reader
	if method == http.MethodGet {
		target.RawQuery = encodeQuery(call.body)
	} else {
		reader = bytes.NewReader(call.encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, nil, &errs.ValidationError{Field: "method", Reason: "not a valid HTTP method", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", g.opts.UserAgent)
	if reader != nil {
		httpReq.Header.Set(headerContentType, "application/json")
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return 0, nil, errs.NewNetworkError(method, target.String(), err)
		}
	}

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		netErr := errs.NewNetworkError(method, target.String(), err)
		logging.Warn(ctx, "upstream call failed", slog.Any("err", errs.Loggable(netErr)))
		return 0, nil, netErr
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return 0, nil, errs.NewNetworkError(method, target.String(), err)
	}
	if len(payload) > maxResponseSize {
		return 0, nil, &errs.UpstreamError{StatusCode: resp.StatusCode, Message: "response body too large"}
	}

	logging.Debug(ctx, "upstream call finished",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(started)),
		slog.Int("bytes", len(payload)),
	)
	return resp.StatusCode, payload, nil
}

func interpret(status int, payload []byte) (mps.Result, error) {
	if status < 200 || status > 299 {
		return mps.Result{}, &errs.UpstreamError{StatusCode: status, Message: upstreamMessage(status, payload)}
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return mps.Result{StatusCode: status, Data: nullJSON}, nil
	}
	if !json.Valid(trimmed) {
		return mps.Result{}, &errs.UpstreamError{StatusCode: status, Message: "invalid JSON in upstream response"}
	}
	return mps.Result{StatusCode: status, Data: json.RawMessage(trimmed)}, nil
}
