package store

import (
	"context"
	"testing"

	"github.com/erazemk/armory/internal/db"
)

func TestGetJWTSecretGeneratesAndPersists(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	secret1, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if len(secret1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(secret1))
	}

	secret2, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if secret1 != secret2 {
		t.Fatalf("secret changed between calls: %q and %q", secret1, secret2)
	}
}

func TestEnsureSettingKeepsFirstValue(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if got, err := GetSetting(ctx, database, "site"); err != nil || got != "" {
		t.Fatalf("expected unset setting, got %q, %v", got, err)
	}

	got, err := EnsureSetting(ctx, database, "site", "north")
	if err != nil || got != "north" {
		t.Fatalf("EnsureSetting = %q, %v", got, err)
	}
	got, err = EnsureSetting(ctx, database, "site", "south")
	if err != nil || got != "north" {
		t.Errorf("second EnsureSetting = %q, %v; want north", got, err)
	}
}
