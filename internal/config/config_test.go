package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tattle.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	fc, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Listen != ":8111" || fc.Store != "tattle.sqlite" || fc.Keep != 20 {
		t.Fatalf("unexpected defaults: %+v", fc)
	}
	d, err := fc.Interval()
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	if d != 24*time.Hour {
		t.Fatalf("default interval = %v", d)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen = ":9000"
base_path = "/tattle"
store = "postgres://user:pw@db/tattle"
default_interval = "2h"
keep = 5
history_url = "clickhouse://ch:9000/tattle_events"
metrics = false
sweep = "@every 1h"

[tls]
enabled = true
dir = "/etc/tattle/tls"
auto_generate = true

[log]
level = "debug"
file = "/var/log/tattle/tattle.log"
max_size_mb = 10
max_backups = 3
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Listen != ":9000" || fc.BasePath != "/tattle" {
		t.Fatalf("server fields: %+v", fc)
	}
	if fc.Store != "postgres://user:pw@db/tattle" || fc.Keep != 5 {
		t.Fatalf("store fields: %+v", fc)
	}
	if fc.HistoryURL != "clickhouse://ch:9000/tattle_events" || fc.Metrics {
		t.Fatalf("mirror fields: %+v", fc)
	}
	if fc.Log.Level != "debug" || fc.Log.MaxSizeMB != 10 {
		t.Fatalf("log fields: %+v", fc.Log)
	}
	if fc.Sweep != "@every 1h" {
		t.Fatalf("sweep = %q", fc.Sweep)
	}
	if !fc.TLS.Enabled || fc.TLS.Dir != "/etc/tattle/tls" || !fc.TLS.AutoGenerate {
		t.Fatalf("tls fields: %+v", fc.TLS)
	}
	d, err := fc.Interval()
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	if d != 2*time.Hour {
		t.Fatalf("interval = %v", d)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `listen = ":7000"`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Listen != ":7000" {
		t.Fatalf("listen = %q", fc.Listen)
	}
	if fc.Store != "tattle.sqlite" || fc.DefaultInterval != "1d" || fc.Keep != 20 {
		t.Fatalf("defaults not preserved: %+v", fc)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadBadInterval(t *testing.T) {
	path := writeConfig(t, `default_interval = "fortnightly"`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := fc.Interval(); err == nil {
		t.Fatal("expected interval parse error")
	}
}
