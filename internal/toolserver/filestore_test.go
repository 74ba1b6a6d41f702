package toolserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowdeck", "tokens.json")
	store := NewFileTokenStore(path)
	ctx := context.Background()

	if pair, err := store.LoadToken(ctx, "srv"); err != nil || pair != nil {
		t.Fatalf("empty store: pair=%v err=%v", pair, err)
	}

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := store.SaveToken(ctx, "srv", &TokenPair{
		AccessToken:  "a",
		RefreshToken: "r",
		Expiry:       expiry,
	}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := store.SaveToken(ctx, "other", &TokenPair{AccessToken: "b"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	// A new store instance reads what the first persisted.
	reopened := NewFileTokenStore(path)
	pair, err := reopened.LoadToken(ctx, "srv")
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if pair.AccessToken != "a" || pair.RefreshToken != "r" || !pair.Expiry.Equal(expiry) {
		t.Errorf("pair = %+v", pair)
	}
	if other, _ := reopened.LoadToken(ctx, "other"); other == nil || other.AccessToken != "b" {
		t.Errorf("other = %+v", other)
	}
}
