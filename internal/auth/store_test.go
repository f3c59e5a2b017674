package auth

import (
	"context"
	"encoding/json"
	"os"
	"testing"
)

func TestFileTokenStoreSaveLoad(t *testing.T) {
	t.Parallel()

	store := NewFileTokenStore(t.TempDir())
	ctx := context.Background()

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on empty store error = %v", err)
	}
	if got != nil {
		t.Fatalf("Load() on empty store = %+v, want nil", got)
	}

	ts := &TokenStorage{AccessToken: "AT", RefreshToken: "RT", TokenType: "Bearer", Expire: "2026-08-25T12:00:00Z"}
	path, err := store.Save(ctx, ts)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if path != store.Path() {
		t.Errorf("Save() path = %q, want %q", path, store.Path())
	}

	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != "AT" || got.RefreshToken != "RT" || got.Type != "laddel" {
		t.Errorf("Load() = %+v", got)
	}
}

func TestFileTokenStorePreservesUnknownFields(t *testing.T) {
	t.Parallel()

	store := NewFileTokenStore(t.TempDir())
	ctx := context.Background()

	seed := `{"access_token":"old","refresh_token":"old-rt","type":"laddel","custom_note":"keep me"}`
	if err := os.WriteFile(store.Path(), []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Save(ctx, &TokenStorage{AccessToken: "new", RefreshToken: "new-rt"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err = json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("auth file is not valid JSON: %v", err)
	}
	if fields["access_token"] != "new" || fields["refresh_token"] != "new-rt" {
		t.Errorf("token fields not rotated: %v", fields)
	}
	if fields["custom_note"] != "keep me" {
		t.Errorf("unknown field dropped on rotation: %v", fields)
	}
}

func TestFileTokenStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewFileTokenStore(t.TempDir())
	ctx := context.Background()

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete() on missing file error = %v", err)
	}
	if _, err := store.Save(ctx, &TokenStorage{AccessToken: "AT"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("auth file still present after Delete()")
	}
}
