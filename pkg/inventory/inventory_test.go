package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/newtron-network/newtdeploy/pkg/util"
)

const sample = `
defaults:
  username: admin
  port: 22
devices:
  leaf1:
    host: 10.0.0.1
    password: secret
  leaf2:
    host: 10.0.0.2
    port: 2222
    username: ops
    key_file: /keys/ops
  leaf3: {}
`

func TestResolve(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		id       string
		addr     string
		username string
		password string
		keyFile  string
	}{
		{"leaf1", "10.0.0.1:22", "admin", "secret", ""},
		{"leaf2", "10.0.0.2:2222", "ops", "", "/keys/ops"},
		{"leaf3", "leaf3:22", "admin", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			tgt, err := f.Resolve(tt.id)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got := tgt.Endpoint.Address(); got != tt.addr {
				t.Errorf("addr = %s, want %s", got, tt.addr)
			}
			c := tgt.Credentials
			if c.Username != tt.username || c.Password != tt.password || c.KeyFile != tt.keyFile {
				t.Errorf("credentials = %+v", c)
			}
		})
	}

	if _, err := f.Resolve("spine9"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("unknown device err = %v", err)
	}
}

func TestSetPassword(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.NeedsPassword() {
		t.Fatal("leaf3 has no secret, NeedsPassword should be true")
	}
	f.SetPassword("prompted")

	tgt, _ := f.Resolve("leaf3")
	if tgt.Credentials.Password != "prompted" {
		t.Errorf("leaf3 password = %q", tgt.Credentials.Password)
	}
	tgt, _ = f.Resolve("leaf1")
	if tgt.Credentials.Password != "secret" {
		t.Errorf("leaf1 password overridden: %q", tgt.Credentials.Password)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("NEWTDEPLOY_TEST_LEAF_PASS", "from-env")
	f, err := Parse([]byte("devices:\n  leaf1:\n    username: admin\n    password: ${NEWTDEPLOY_TEST_LEAF_PASS}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tgt, _ := f.Resolve("leaf1")
	if tgt.Credentials.Password != "from-env" {
		t.Errorf("password = %q", tgt.Credentials.Password)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(f.DeviceIDs()); got != 3 {
		t.Errorf("devices = %d", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Parse([]byte("devices:\n  leaf1: {port: 70000}\n")); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("bad port err = %v", err)
	}
}
