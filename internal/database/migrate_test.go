package database

import (
	"strings"
	"testing"
)

// TestMigrationsFS は埋め込みマイグレーションがup/down対で存在することを検証する。
func TestMigrationsFS(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("マイグレーションファイルが埋め込まれているべき")
	}

	ups := make(map[string]bool)
	downs := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file: %s", name)
		}
	}

	for base := range ups {
		if !downs[base] {
			t.Errorf("up migration %s に対応するdownがない", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Errorf("down migration %s に対応するupがない", base)
		}
	}
}
