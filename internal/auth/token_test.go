package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExchangeRefreshToken(t *testing.T) {
	t.Parallel()

	var gotGrant, gotRefresh, gotScope string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")
		gotScope = r.PostForm.Get("scope")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"AT2","expires_in":600,"token_type":"Bearer"}`)
	}))
	t.Cleanup(srv.Close)

	before := time.Now()
	set, err := exchangeRefreshToken(context.Background(), srv.Client(), srv.URL, "RT1")
	if err != nil {
		t.Fatalf("exchangeRefreshToken() error = %v", err)
	}
	if gotGrant != "refresh_token" || gotRefresh != "RT1" || gotScope != Scope {
		t.Errorf("request = grant:%q refresh:%q scope:%q", gotGrant, gotRefresh, gotScope)
	}
	if set.AccessToken != "AT2" {
		t.Errorf("AccessToken = %q", set.AccessToken)
	}
	// Refresh responses may omit the rotated refresh token; the exchanger
	// reports it verbatim and leaves retention policy to the manager.
	if set.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want empty", set.RefreshToken)
	}
	want := before.Add(600 * time.Second)
	if set.ExpiresAt.Before(want.Add(-5*time.Second)) || set.ExpiresAt.After(want.Add(5*time.Second)) {
		t.Errorf("ExpiresAt = %v, want ~%v", set.ExpiresAt, want)
	}
}

func TestExchangeDefaultsExpiresIn(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"AT","refresh_token":"RT"}`)
	}))
	t.Cleanup(srv.Close)

	before := time.Now()
	set, err := exchangeAuthorizationCode(context.Background(), srv.Client(), srv.URL, "code", "verifier")
	if err != nil {
		t.Fatalf("exchangeAuthorizationCode() error = %v", err)
	}
	want := before.Add(defaultExpiresIn * time.Second)
	if set.ExpiresAt.Before(want.Add(-5*time.Second)) || set.ExpiresAt.After(want.Add(5*time.Second)) {
		t.Errorf("ExpiresAt = %v, want ~%v (conservative default)", set.ExpiresAt, want)
	}
}

func TestExchangeCarriesStatusAndBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token is not active"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := exchangeRefreshToken(context.Background(), srv.Client(), srv.URL, "stale")
	if !IsKind(err, KindTokenExchangeFailed) {
		t.Fatalf("error = %v, want kind %s", err, KindTokenExchangeFailed)
	}
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatal("error is not a FlowError")
	}
	if fe.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", fe.Status)
	}
	if !strings.Contains(fe.Body, "invalid_grant") {
		t.Errorf("Body = %q, want provider diagnostics", fe.Body)
	}
}

func TestTokenStorageRoundTrip(t *testing.T) {
	t.Parallel()

	expire := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	set := &TokenSet{
		AccessToken:  "AT",
		RefreshToken: "RT",
		TokenType:    "Bearer",
		ExpiresAt:    expire,
	}
	ts := NewTokenStorage(set)
	back := ts.TokenSet()
	if back.AccessToken != "AT" || back.RefreshToken != "RT" || back.TokenType != "Bearer" {
		t.Errorf("round trip = %+v", back)
	}
	if !back.ExpiresAt.Equal(expire) {
		t.Errorf("ExpiresAt = %v, want %v", back.ExpiresAt, expire)
	}
}

func TestTokenStorageUnknownExpiry(t *testing.T) {
	t.Parallel()

	ts := &TokenStorage{AccessToken: "AT", RefreshToken: "RT", Expire: "not-a-timestamp"}
	if got := ts.TokenSet(); !got.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero for unparseable expiry", got.ExpiresAt)
	}
}
