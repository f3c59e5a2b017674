package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/strxno/ha-laddel/internal/config"
	"github.com/strxno/ha-laddel/internal/util"
)

// refreshBuffer is subtracted from the expiry instant when deciding whether a
// refresh is due, absorbing clock skew and request latency so a token is
// never used while already expired mid-flight.
const refreshBuffer = 30 * time.Second

// Manager owns the current token set and its expiry. It refreshes ahead of
// expiry, persists rotated refresh tokens, and collapses concurrent refresh
// attempts into a single exchange so two callers can never race on rotating
// the refresh token.
type Manager struct {
	mu    sync.RWMutex
	token *TokenSet

	store      Store
	httpClient *http.Client
	tokenURL   string
	sf         singleflight.Group
	now        func() time.Time
}

// NewManager constructs a manager seeded from a persisted token storage.
// The storage may hold only a refresh token; the first EnsureValid call will
// then perform the initial exchange.
func NewManager(cfg *config.Config, store Store, ts *TokenStorage) *Manager {
	m := &Manager{
		store:      store,
		httpClient: util.SetProxy(cfg, &http.Client{Timeout: cfg.RequestTimeout()}),
		tokenURL:   TokenURL,
		now:        time.Now,
	}
	if ts != nil {
		m.token = ts.TokenSet()
	}
	return m
}

// SetToken replaces the current token set and persists it. Used at enrollment
// time when the login flow hands over the freshly exchanged tokens.
func (m *Manager) SetToken(ctx context.Context, set *TokenSet) error {
	m.mu.Lock()
	m.token = set
	m.mu.Unlock()
	return m.persist(ctx, set)
}

// Token returns a copy of the current token set, or nil when unenrolled.
func (m *Manager) Token() *TokenSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return nil
	}
	copied := *m.token
	return &copied
}

// NeedsRefresh reports whether the access token is absent, of unknown expiry,
// or within the refresh buffer of expiring.
func (m *Manager) NeedsRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.needsRefreshLocked()
}

func (m *Manager) needsRefreshLocked() bool {
	if m.token == nil || m.token.AccessToken == "" {
		return true
	}
	if m.token.ExpiresAt.IsZero() {
		return true
	}
	return !m.now().Before(m.token.ExpiresAt.Add(-refreshBuffer))
}

// EnsureValid returns a currently valid access token, refreshing first when
// needed. Concurrent callers share one refresh exchange. On refresh failure
// the prior token set is left untouched and a TokenRefreshFailed error is
// surfaced; with no refresh token available the failure is NoRefreshToken,
// which requires re-enrollment.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	m.mu.RLock()
	if !m.needsRefreshLocked() {
		token := m.token.AccessToken
		m.mu.RUnlock()
		return token, nil
	}
	m.mu.RUnlock()

	result, err, _ := m.sf.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	// Re-check under the singleflight: a concurrent caller may have refreshed
	// while this one was waiting.
	m.mu.RLock()
	if !m.needsRefreshLocked() {
		token := m.token.AccessToken
		m.mu.RUnlock()
		return token, nil
	}
	var refreshToken string
	if m.token != nil {
		refreshToken = m.token.RefreshToken
	}
	m.mu.RUnlock()

	if refreshToken == "" {
		return "", flowErr(KindNoRefreshToken, "no refresh token available, re-enrollment required")
	}

	set, err := exchangeRefreshToken(ctx, m.httpClient, m.tokenURL, refreshToken)
	if err != nil {
		if IsKind(err, KindNetworkFailure) {
			return "", err
		}
		return "", wrapErr(KindTokenRefreshFailed, err, "refresh exchange failed")
	}

	// A response without a rotated refresh token means "keep the prior one".
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	} else if set.RefreshToken != refreshToken {
		log.Debug("refresh token rotated by provider")
	}

	m.mu.Lock()
	m.token = set
	m.mu.Unlock()

	if err = m.persist(ctx, set); err != nil {
		log.Warnf("failed to persist refreshed tokens: %v", err)
	}
	log.Debugf("access token refreshed, expires at %s", set.ExpiresAt.Format(time.RFC3339))
	return set.AccessToken, nil
}

func (m *Manager) persist(ctx context.Context, set *TokenSet) error {
	if m.store == nil {
		return nil
	}
	_, err := m.store.Save(ctx, NewTokenStorage(set))
	return err
}
