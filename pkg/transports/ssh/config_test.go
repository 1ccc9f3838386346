package ssh

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid password auth",
			config: Config{
				Host:       "web1",
				User:       "deploy",
				AuthMethod: AuthMethodPassword,
				Password:   "secret",
			},
		},
		{
			name: "valid key auth",
			config: Config{
				Host:           "web1",
				User:           "deploy",
				AuthMethod:     AuthMethodKey,
				PrivateKeyPath: "/home/deploy/.ssh/id_ed25519",
			},
		},
		{
			name:    "missing host",
			config:  Config{User: "deploy", AuthMethod: AuthMethodKey, PrivateKeyPath: "/k"},
			wantErr: "host is required",
		},
		{
			name:    "missing user",
			config:  Config{Host: "web1", AuthMethod: AuthMethodKey, PrivateKeyPath: "/k"},
			wantErr: "user is required",
		},
		{
			name:    "password auth without password",
			config:  Config{Host: "web1", User: "deploy", AuthMethod: AuthMethodPassword},
			wantErr: "password is required",
		},
		{
			name:    "key auth without key path",
			config:  Config{Host: "web1", User: "deploy", AuthMethod: AuthMethodKey},
			wantErr: "private key path is required",
		},
		{
			name:    "unknown auth method",
			config:  Config{Host: "web1", User: "deploy", AuthMethod: "kerberos"},
			wantErr: "unsupported auth method",
		},
		{
			name: "strict checking without known_hosts",
			config: Config{
				Host:                  "web1",
				User:                  "deploy",
				AuthMethod:            AuthMethodPassword,
				Password:              "secret",
				StrictHostKeyChecking: true,
			},
			wantErr: "known_hosts path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	c := Config{Host: "web1"}
	if got := c.Address(); got != "web1:22" {
		t.Errorf("expected default port 22, got %s", got)
	}

	c.Port = 2222
	if got := c.Address(); got != "web1:2222" {
		t.Errorf("expected explicit port, got %s", got)
	}
}

func TestConfigTempDir(t *testing.T) {
	c := Config{}
	if got := c.tempDir(); got != "/tmp" {
		t.Errorf("expected /tmp default, got %s", got)
	}

	c.RemoteTempDir = "/var/tmp"
	if got := c.tempDir(); got != "/var/tmp" {
		t.Errorf("expected configured dir, got %s", got)
	}
}

func TestBuildSSHClientConfigPassword(t *testing.T) {
	c := Config{
		Host:       "web1",
		User:       "deploy",
		AuthMethod: AuthMethodPassword,
		Password:   "secret",
	}

	clientConfig, err := c.BuildSSHClientConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clientConfig.User != "deploy" {
		t.Errorf("expected user deploy, got %s", clientConfig.User)
	}
	if len(clientConfig.Auth) != 1 {
		t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
	}
	if clientConfig.Timeout != 10*time.Second {
		t.Errorf("expected default 10s timeout, got %v", clientConfig.Timeout)
	}
}

func TestBuildSSHClientConfigMissingKeyFile(t *testing.T) {
	c := Config{
		Host:           "web1",
		User:           "deploy",
		AuthMethod:     AuthMethodKey,
		PrivateKeyPath: "/does/not/exist",
	}

	if _, err := c.BuildSSHClientConfig(); err == nil {
		t.Fatal("expected error for unreadable key file")
	}
}

func TestTransportError(t *testing.T) {
	inner := &TransportError{Op: "execute", Host: "web1", Err: errContains("broken"), Temporary: true}
	if !strings.Contains(inner.Error(), "web1") {
		t.Errorf("expected host in error text, got %q", inner.Error())
	}
	if inner.Unwrap() == nil {
		t.Error("expected unwrap to expose the cause")
	}
}

type errContains string

func (e errContains) Error() string { return string(e) }
