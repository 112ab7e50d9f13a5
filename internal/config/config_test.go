// ABOUTME: Tests for config loading, env expansion, durations, and validation.
// ABOUTME: Writes temp YAML files and asserts the parsed result.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
sessions:
  sweep_interval: "2m"
  max_idle: "30m"
transport:
  handshake_timeout: "5s"
  heartbeat_interval: "15s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.HTTPAddr != "localhost:8080" {
		t.Errorf("http_addr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Sessions.SweepInterval != 2*time.Minute {
		t.Errorf("sweep_interval = %v", cfg.Sessions.SweepInterval)
	}
	if cfg.Sessions.MaxIdle != 30*time.Minute {
		t.Errorf("max_idle = %v", cfg.Sessions.MaxIdle)
	}
	if cfg.Transport.HandshakeTimeout != 5*time.Second {
		t.Errorf("handshake_timeout = %v", cfg.Transport.HandshakeTimeout)
	}
	if cfg.Transport.HeartbeatInterval != 15*time.Second {
		t.Errorf("heartbeat_interval = %v", cfg.Transport.HeartbeatInterval)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Sessions.SweepInterval != DefaultSweepInterval {
		t.Errorf("sweep_interval = %v, want default", cfg.Sessions.SweepInterval)
	}
	if cfg.Transport.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("heartbeat_interval = %v, want default", cfg.Transport.HeartbeatInterval)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_GATEWAY_ADDR", "127.0.0.1:9999")

	path := writeConfig(t, `
server:
  http_addr: "${TEST_GATEWAY_ADDR}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("http_addr = %q, want expanded env value", cfg.Server.HTTPAddr)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name:    "missing http_addr",
			yaml:    `logging: {level: info}`,
			wantErr: true,
		},
		{
			name: "tailscale enabled allows empty server address",
			yaml: `
tailscale:
  enabled: true
  hostname: "transit"
`,
			wantErr: false,
		},
		{
			name: "tailscale requires hostname",
			yaml: `
tailscale:
  enabled: true
`,
			wantErr: true,
		},
		{
			name: "jwt mode requires secret",
			yaml: `
server: {http_addr: "localhost:8080"}
auth: {mode: jwt}
`,
			wantErr: true,
		},
		{
			name: "unknown auth mode",
			yaml: `
server: {http_addr: "localhost:8080"}
auth: {mode: magic}
`,
			wantErr: true,
		},
		{
			name: "token mode with hash",
			yaml: `
server: {http_addr: "localhost:8080"}
auth: {mode: token, token_hash: "$2a$10$abcdefghijklmnopqrstuv"}
`,
			wantErr: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBadDuration(t *testing.T) {
	path := writeConfig(t, `
server: {http_addr: "localhost:8080"}
sessions: {sweep_interval: "not-a-duration"}
`)

	if _, err := Load(path); err == nil {
		t.Error("expected duration parse error")
	}
}
