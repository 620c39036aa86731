package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instances.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadInstancesFile(t *testing.T) {
	path := writeFile(t, `
instances:
  - name: prod
    url: https://n8n.example.com
    ssh_host: bastion.example.com
    ssh_user: deploy
    ssh_key_path: /keys/prod
    db_type: mysqldb
    db_name: n8n
    db_user: n8n
    db_password: secret
`)
	seeds, err := LoadInstancesFile(path)
	if err != nil {
		t.Fatalf("LoadInstancesFile: %v", err)
	}
	if len(seeds) != 1 || seeds[0].DBPassword != "secret" {
		t.Fatalf("unexpected seeds: %+v", seeds)
	}
	inst := seeds[0].Instance()
	if inst.SSHPort != 22 || inst.DBPort != 3306 || inst.DBHost != "127.0.0.1" {
		t.Errorf("defaults not applied: %+v", inst)
	}
	if inst.DBPassword != "" {
		t.Error("Instance() must not copy the plaintext password")
	}
}

func TestLoadInstancesFileValidation(t *testing.T) {
	tests := map[string]string{
		"missing name": "instances:\n  - ssh_host: h\n",
		"duplicate":    "instances:\n  - {name: a, ssh_host: h, ssh_user: u, ssh_key_path: k}\n  - {name: a, ssh_host: h, ssh_user: u, ssh_key_path: k}\n",
		"missing ssh":  "instances:\n  - {name: a}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadInstancesFile(writeFile(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	_, err := LoadInstancesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read instances file") {
		t.Errorf("expected read error, got %v", err)
	}
}
