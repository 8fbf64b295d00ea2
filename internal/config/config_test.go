package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const fullYAML = `
homeserver: https://matrix.example.org
access_token: secret
logging:
  level: debug
accounts:
  work:
    github_token: ghp_work
    room: "!work:example.org"
  personal:
    github_token: ghp_personal
    room: "!personal:example.org"
`

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "ghrelay.yaml", fullYAML)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := map[string]AccountConfig{
		"work":     {GitHubToken: "ghp_work", Room: "!work:example.org"},
		"personal": {GitHubToken: "ghp_personal", Room: "!personal:example.org"},
	}
	if diff := cmp.Diff(want, got.Accounts); diff != "" {
		t.Errorf("Accounts mismatch (-want +got):\n%s", diff)
	}
	if got.Homeserver != "https://matrix.example.org" {
		t.Errorf("Homeserver = %q", got.Homeserver)
	}
	if got.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", got.Logging.Level)
	}
	if !got.Logging.ConsoleEnabled() {
		t.Error("console should default to enabled when omitted")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "ghrelay.json", `{
  "homeserver": "https://matrix.example.org",
  "access_token": "secret",
  "accounts": {"work": {"github_token": "ghp", "room": "!r:example.org"}}
}`)

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestEnvFallback(t *testing.T) {
	path := writeConfig(t, "ghrelay.yaml", `
accounts:
  my-work:
    room: "!r:example.org"
`)
	t.Setenv("GHRELAY_HOMESERVER", "https://env.example.org")
	t.Setenv("GHRELAY_ACCESS_TOKEN", "env-secret")
	t.Setenv("GHRELAY_MY_WORK_GITHUB_TOKEN", "env-ghp")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Homeserver != "https://env.example.org" {
		t.Errorf("Homeserver = %q, want env value", got.Homeserver)
	}
	if got.Accounts["my-work"].GitHubToken != "env-ghp" {
		t.Errorf("GitHubToken = %q, want env value", got.Accounts["my-work"].GitHubToken)
	}
}

func TestMissingFieldsNameTheField(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantMiss string
	}{
		{
			name:     "missing homeserver",
			content:  "access_token: x\naccounts:\n  a:\n    github_token: t\n    room: \"!r:x\"\n",
			wantMiss: "homeserver",
		},
		{
			name:     "missing access token",
			content:  "homeserver: h\naccounts:\n  a:\n    github_token: t\n    room: \"!r:x\"\n",
			wantMiss: "access_token",
		},
		{
			name:     "missing account token",
			content:  "homeserver: h\naccess_token: x\naccounts:\n  work:\n    room: \"!r:x\"\n",
			wantMiss: "accounts.work.github_token",
		},
		{
			name:     "missing account room",
			content:  "homeserver: h\naccess_token: x\naccounts:\n  work:\n    github_token: t\n",
			wantMiss: "accounts.work.room",
		},
		{
			name:     "no accounts",
			content:  "homeserver: h\naccess_token: x\n",
			wantMiss: "account",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "ghrelay.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMiss) {
				t.Errorf("error %q does not name %q", err, tt.wantMiss)
			}
		})
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "ghrelay.yaml", fullYAML+"\nunknown_key: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted an unknown key, want strict decode error")
	}
}
