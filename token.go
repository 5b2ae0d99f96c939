package figrnet

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTokenSkew refreshes access tokens this long before they expire.
const DefaultTokenSkew = 30 * time.Second

// Token is an access/refresh token pair.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// expiresWithin reports whether the token expires within skew of now. A
// token without an expiry never expires locally.
func (t Token) expiresWithin(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// TokenStore persists the current token pair.
type TokenStore interface {
	Load() (Token, bool)
	Save(Token) error
	Clear() error
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu  sync.RWMutex
	tok *Token
}

// NewMemoryTokenStore returns a store seeded with tok when non-empty.
func NewMemoryTokenStore(tok Token) *MemoryTokenStore {
	s := &MemoryTokenStore{}
	if tok.AccessToken != "" || tok.RefreshToken != "" {
		s.tok = &tok
	}
	return s
}

func (s *MemoryTokenStore) Load() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tok == nil {
		return Token{}, false
	}
	return *s.tok, true
}

func (s *MemoryTokenStore) Save(t Token) error {
	s.mu.Lock()
	s.tok = &t
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	s.tok = nil
	s.mu.Unlock()
	return nil
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Token, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	return f(ctx, refreshToken)
}

type refreshResult struct {
	tok Token
	err error
}

// TokenCoordinator hands out access tokens and guarantees that concurrent
// refresh requests result in a single call to the Refresher. The first
// caller to find no refresh running starts one; every caller that arrives
// while it runs is queued and released with the same outcome.
type TokenCoordinator struct {
	mu         sync.Mutex
	store      TokenStore
	refresher  Refresher
	clock      clock.Clock
	skew       time.Duration
	refreshing bool
	waiters    []chan refreshResult

	logger Logger
	sink   AnalyticsSink
}

// NewTokenCoordinator creates a coordinator. refresher may be nil, in which
// case every refresh fails with ErrUnauthorized.
func NewTokenCoordinator(store TokenStore, refresher Refresher, clk clock.Clock) *TokenCoordinator {
	if store == nil {
		store = NewMemoryTokenStore(Token{})
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TokenCoordinator{
		store:     store,
		refresher: refresher,
		clock:     clk,
		skew:      DefaultTokenSkew,
		logger:    NopLogger{},
		sink:      nopSink{},
	}
}

// Store returns the backing token store.
func (c *TokenCoordinator) Store() TokenStore {
	return c.store
}

func (c *TokenCoordinator) setRefresher(r Refresher) {
	c.mu.Lock()
	c.refresher = r
	c.mu.Unlock()
}

// AccessToken returns a usable access token, refreshing first when the
// stored one is about to expire.
func (c *TokenCoordinator) AccessToken(ctx context.Context) (string, error) {
	tok, ok := c.store.Load()
	if !ok || tok.AccessToken == "" {
		if ok && tok.RefreshToken != "" {
			fresh, err := c.Refresh(ctx, "")
			return fresh.AccessToken, err
		}
		return "", &Error{Kind: KindUnauthorized, Message: "no access token"}
	}
	if !tok.expiresWithin(c.clock.Now(), c.skew) {
		return tok.AccessToken, nil
	}
	fresh, err := c.Refresh(ctx, tok.AccessToken)
	return fresh.AccessToken, err
}

// Refresh obtains a new token after stale was rejected. If the stored
// token already differs from stale, another caller refreshed meanwhile and
// the stored token is returned without a new refresh.
func (c *TokenCoordinator) Refresh(ctx context.Context, stale string) (Token, error) {
	c.mu.Lock()
	cur, ok := c.store.Load()
	if ok && cur.AccessToken != "" && cur.AccessToken != stale && !c.refreshing &&
		!cur.expiresWithin(c.clock.Now(), c.skew) {
		c.mu.Unlock()
		return cur, nil
	}

	ch := make(chan refreshResult, 1)
	c.waiters = append(c.waiters, ch)
	if !c.refreshing {
		c.refreshing = true
		go c.run(context.WithoutCancel(ctx), cur.RefreshToken, c.refresher)
	}
	c.mu.Unlock()

	select {
	case r := <-ch:
		return r.tok, r.err
	case <-ctx.Done():
		return Token{}, newError(KindUnknown, "token refresh wait cancelled", ctx.Err())
	}
}

func (c *TokenCoordinator) run(ctx context.Context, refreshToken string, refresher Refresher) {
	start := c.clock.Now()
	tok, err := c.refresh(ctx, refreshToken, refresher)

	if err != nil {
		c.logger.Warn("Token refresh failed", "error", err)
		if !IsTransient(err) {
			_ = c.store.Clear()
		}
	} else if serr := c.store.Save(tok); serr != nil {
		c.logger.Error("Token store save failed", "error", serr)
	}
	c.sink.Track(Event{Type: EventTokenRefreshed, Err: err, Duration: c.clock.Since(start)})

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, w := range waiters {
		w <- refreshResult{tok: tok, err: err}
	}
}

func (c *TokenCoordinator) refresh(ctx context.Context, refreshToken string, refresher Refresher) (Token, error) {
	if refresher == nil || refreshToken == "" {
		return Token{}, &Error{Kind: KindUnauthorized, Message: "no refresh token available"}
	}
	tok, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			if e.Kind == KindBadRequest || e.Kind == KindForbidden || e.Kind == KindNotFound {
				return Token{}, &Error{Kind: KindUnauthorized, Message: "refresh token rejected", StatusCode: e.StatusCode, Cause: err}
			}
			return Token{}, err
		}
		return Token{}, newError(KindUnauthorized, "token refresh failed", err)
	}
	if tok.AccessToken == "" {
		return Token{}, &Error{Kind: KindInvalidResponse, Message: "refresh returned no access token"}
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// refreshPayload is the token document returned by a refresh endpoint.
type refreshPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewEndpointRefresher returns a Refresher that POSTs
// {"refresh_token": ...} to path through c. The response may be a bare token
// document or wrapped in the standard envelope.
func NewEndpointRefresher(c *Client, path string) Refresher {
	return RefresherFunc(func(ctx context.Context, refreshToken string) (Token, error) {
		ep := NewEndpoint(http.MethodPost, path,
			WithClass(ClassRefresh),
			WithJSONBody(map[string]string{"refresh_token": refreshToken}),
		)
		res, err := Dispatch[refreshPayload](ctx, c, ep)
		if err != nil {
			return Token{}, err
		}
		p := res.Value
		tok := Token{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresAt: p.ExpiresAt}
		if tok.ExpiresAt.IsZero() && p.ExpiresIn > 0 {
			tok.ExpiresAt = c.clock.Now().Add(time.Duration(p.ExpiresIn) * time.Second)
		}
		return tok, nil
	})
}
