package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nsg-ethz/SIFT/internal/config"
	"github.com/nsg-ethz/SIFT/internal/fetch"
)

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2026-01-01")
	if rootCmd.Version != "1.2.3 (built 2026-01-01)" {
		t.Errorf("rootCmd.Version = %q", rootCmd.Version)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"dispatch", "stitch"} {
		if !names[want] {
			t.Errorf("subcommand %s not registered", want)
		}
	}
}

func TestBuildTransportsLocalMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Local = true
	cfg.Script = "/opt/gt-fetch"

	transports, err := buildTransports(cfg)
	if err != nil {
		t.Fatalf("buildTransports failed: %v", err)
	}
	if len(transports) != 1 {
		t.Fatalf("%d transports in local mode, want 1", len(transports))
	}
	local, ok := transports[0].(*fetch.Local)
	if !ok || local.Script != "/opt/gt-fetch" {
		t.Errorf("local transport = %#v", transports[0])
	}
}

func TestBuildTransportsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transports.yml")
	body := `
- type: popen
  script: /opt/gt-fetch
- type: sudo
  user: gt
  group: gt
  script: /opt/gt-fetch
- type: ssh
  user: gt
  host: fetch1.example.org
- type: ssh
  active: false
  user: gt
  host: fetch2.example.org
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write transports file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.TransportsPath = path

	transports, err := buildTransports(cfg)
	if err != nil {
		t.Fatalf("buildTransports failed: %v", err)
	}
	if len(transports) != 3 {
		t.Fatalf("%d transports, want 3 active", len(transports))
	}
	if _, ok := transports[0].(*fetch.Local); !ok {
		t.Errorf("transport 0 = %#v, want Local", transports[0])
	}
	if _, ok := transports[1].(*fetch.Sudo); !ok {
		t.Errorf("transport 1 = %#v, want Sudo", transports[1])
	}
	ssh, ok := transports[2].(*fetch.SSH)
	if !ok || ssh.RemoteHost != "fetch1.example.org" {
		t.Errorf("transport 2 = %#v, want SSH to fetch1", transports[2])
	}
}
