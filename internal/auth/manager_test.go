package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	saved *TokenStorage
	saves int
}

func (s *memoryStore) Load(ctx context.Context) (*TokenStorage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, nil
}

func (s *memoryStore) Save(ctx context.Context, ts *TokenStorage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = ts
	s.saves++
	return "memory", nil
}

func (s *memoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	return nil
}

func newTestManager(ts *TokenStorage) (*Manager, *memoryStore) {
	store := &memoryStore{}
	return NewManager(testConfig(), store, ts), store
}

func TestNeedsRefresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token *TokenSet
		want  bool
	}{
		{"no token", nil, true},
		{"empty access token", &TokenSet{RefreshToken: "RT"}, true},
		{"unknown expiry", &TokenSet{AccessToken: "AT"}, true},
		{"expired", &TokenSet{AccessToken: "AT", ExpiresAt: now.Add(-time.Minute)}, true},
		{"inside 30s buffer", &TokenSet{AccessToken: "AT", ExpiresAt: now.Add(10 * time.Second)}, true},
		{"exactly at buffer boundary", &TokenSet{AccessToken: "AT", ExpiresAt: now.Add(30 * time.Second)}, true},
		{"just outside buffer", &TokenSet{AccessToken: "AT", ExpiresAt: now.Add(30*time.Second + time.Millisecond)}, false},
		{"comfortably valid", &TokenSet{AccessToken: "AT", ExpiresAt: now.Add(time.Hour)}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, _ := newTestManager(nil)
			m.token = tt.token
			m.now = func() time.Time { return now }
			if got := m.NeedsRefresh(); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureValidNoRefreshToken(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(nil)
	_, err := m.EnsureValid(context.Background())
	if !IsKind(err, KindNoRefreshToken) {
		t.Fatalf("EnsureValid() error = %v, want kind %s", err, KindNoRefreshToken)
	}
}

func TestEnsureValidRefreshesAndPersists(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("refresh_token") != "RT1" {
			http.Error(w, "unknown refresh token", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"access_token":"AT2","refresh_token":"RT2","expires_in":300}`)
	}))
	t.Cleanup(srv.Close)

	m, store := newTestManager(&TokenStorage{RefreshToken: "RT1"})
	m.tokenURL = srv.URL

	token, err := m.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if token != "AT2" {
		t.Errorf("access token = %q, want AT2", token)
	}
	if store.saved == nil || store.saved.RefreshToken != "RT2" {
		t.Errorf("rotated refresh token not persisted: %+v", store.saved)
	}
}

func TestEnsureValidKeepsRefreshTokenWhenOmitted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"AT2","expires_in":300}`)
	}))
	t.Cleanup(srv.Close)

	m, store := newTestManager(&TokenStorage{RefreshToken: "RT1"})
	m.tokenURL = srv.URL

	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if got := m.Token().RefreshToken; got != "RT1" {
		t.Errorf("refresh token = %q, want prior RT1 retained", got)
	}
	if store.saved.RefreshToken != "RT1" {
		t.Errorf("persisted refresh token = %q, want RT1", store.saved.RefreshToken)
	}
}

func TestEnsureValidFailureLeavesTokenUntouched(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	expired := time.Now().Add(-time.Minute)
	m, store := newTestManager(&TokenStorage{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		Expire:       expired.Format(time.RFC3339),
	})
	m.tokenURL = srv.URL

	_, err := m.EnsureValid(context.Background())
	if !IsKind(err, KindTokenRefreshFailed) {
		t.Fatalf("EnsureValid() error = %v, want kind %s", err, KindTokenRefreshFailed)
	}
	tok := m.Token()
	if tok.AccessToken != "AT1" || tok.RefreshToken != "RT1" {
		t.Errorf("token set mutated on failed refresh: %+v", tok)
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, want 0 after failed refresh", store.saves)
	}
}

func TestEnsureValidSingleFlight(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	exchanges := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		exchanges++
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"access_token":"AT2","refresh_token":"RT2","expires_in":300}`)
	}))
	t.Cleanup(srv.Close)

	m, _ := newTestManager(&TokenStorage{RefreshToken: "RT1"})
	m.tokenURL = srv.URL

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureValid(context.Background()); err != nil {
				t.Errorf("EnsureValid() error = %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if exchanges != 1 {
		t.Errorf("refresh exchanges = %d, want 1 (single-flight)", exchanges)
	}
}
