package session

import (
	"os"
	"path/filepath"
	"testing"

	"streamspeech/config"
)

func writeTokensFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.txt")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing tokens file: %v", err)
	}
	return path
}

func TestLoadTokenStoreParsesRecords(t *testing.T) {
	path := writeTokensFile(t, `
# comment line
T-alice:alice
T-bob:bob:admin
T-bare
`)
	store, err := LoadTokenStore(path)
	if err != nil {
		t.Fatalf("LoadTokenStore: %v", err)
	}

	rec, ok := store.Lookup("T-alice")
	if !ok || rec.ClientName != "alice" || rec.IsAdmin {
		t.Fatalf("T-alice lookup = %+v ok=%v", rec, ok)
	}

	rec, ok = store.Lookup("T-bob")
	if !ok || rec.ClientName != "bob" || !rec.IsAdmin {
		t.Fatalf("T-bob lookup = %+v ok=%v", rec, ok)
	}

	// A bare token line binds the token string itself as the client name.
	rec, ok = store.Lookup("T-bare")
	if !ok || rec.ClientName != "T-bare" {
		t.Fatalf("T-bare lookup = %+v ok=%v", rec, ok)
	}

	if store.Valid("T-unknown") {
		t.Fatal("unknown token should not validate")
	}
	if store.Valid("") {
		t.Fatal("empty token should not validate")
	}
}

func TestLoadTokenStoreMissingFileYieldsEmptyStore(t *testing.T) {
	store, err := LoadTokenStore(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if store.Valid("anything") {
		t.Fatal("empty store should reject every token")
	}
}

func TestAuthenticate(t *testing.T) {
	path := writeTokensFile(t, "T-alice:alice\nT-bob:bob:admin\n")
	store, err := LoadTokenStore(path)
	if err != nil {
		t.Fatalf("LoadTokenStore: %v", err)
	}

	cfg := config.AuthConfig{RequireToken: true, LocalhostAdmin: true}

	tests := []struct {
		name       string
		token      string
		remoteAddr string
		wantOK     bool
		wantName   string
		wantAdmin  bool
	}{
		{"valid token", "T-alice", "10.0.0.5:1234", true, "alice", false},
		{"admin token", "T-bob", "10.0.0.5:1234", true, "bob", true},
		{"invalid token", "T-nope", "10.0.0.5:1234", false, "", false},
		{"missing token", "", "10.0.0.5:1234", false, "", false},
		{"localhost bypass v4", "", "127.0.0.1:4321", true, "localhost", true},
		{"localhost bypass v6", "", "[::1]:4321", true, "localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, name, admin := Authenticate(cfg, store, tt.token, tt.remoteAddr)
			if ok != tt.wantOK || name != tt.wantName || admin != tt.wantAdmin {
				t.Fatalf("Authenticate(%q, %q) = (%v, %q, %v), want (%v, %q, %v)",
					tt.token, tt.remoteAddr, ok, name, admin, tt.wantOK, tt.wantName, tt.wantAdmin)
			}
		})
	}
}

func TestAuthenticateLocalhostBypassDisabled(t *testing.T) {
	store, _ := LoadTokenStore("")
	cfg := config.AuthConfig{RequireToken: true, LocalhostAdmin: false}

	if ok, _, _ := Authenticate(cfg, store, "", "127.0.0.1:4321"); ok {
		t.Fatal("localhost must not bypass auth when localhost_admin is disabled")
	}
}

func TestAuthenticateTokenNotRequired(t *testing.T) {
	store, _ := LoadTokenStore("")
	cfg := config.AuthConfig{RequireToken: false}

	ok, _, admin := Authenticate(cfg, store, "whatever", "10.0.0.5:1234")
	if !ok || admin {
		t.Fatalf("require_token=false should admit without admin, got ok=%v admin=%v", ok, admin)
	}
}
