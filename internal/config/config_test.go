package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleYAML = `
storage:
  data_dir: /tmp/riskguard
  sqlite_path: /tmp/riskguard/riskguard.db
server:
  host: 127.0.0.1
  port: 9090
broker:
  provider: simulator
logging:
  level: debug
accounts:
  - id: ACC-1
    timezone: America/Chicago
    reset_time: "17:00"
  - id: ACC-2
rules:
  priority: [max_contracts, trade_frequency]
  max_contracts:
    enabled: true
    limit: 5
    action: close_all
  trade_frequency:
    enabled: true
    per_minute: 3
    minute_cooldown_sec: 60
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("len(Accounts) = %d, want 2", len(cfg.Accounts))
	}
	if cfg.Accounts[1].Timezone != "America/Chicago" {
		t.Errorf("default timezone = %q, want America/Chicago", cfg.Accounts[1].Timezone)
	}
	if cfg.Accounts[1].ResetTime != "17:00" {
		t.Errorf("default reset_time = %q, want 17:00", cfg.Accounts[1].ResetTime)
	}
	if !cfg.Rules.MaxContracts.Enabled || cfg.Rules.MaxContracts.Limit != 5 {
		t.Errorf("max_contracts not loaded: %+v", cfg.Rules.MaxContracts)
	}
	if got := cfg.Rules.Priority; len(got) != 2 || got[0] != "max_contracts" {
		t.Errorf("priority = %v, want [max_contracts trade_frequency]", got)
	}

	// Defaults applied.
	if cfg.Enforcement.MaxRetries != 3 {
		t.Errorf("default MaxRetries = %d, want 3", cfg.Enforcement.MaxRetries)
	}
	if cfg.Quotes.StalenessMS != 5000 {
		t.Errorf("default StalenessMS = %d, want 5000", cfg.Quotes.StalenessMS)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SQLITE_PATH", "/override/db")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want env override 'error'", cfg.Logging.Level)
	}
	if cfg.Storage.SQLitePath != "/override/db" {
		t.Errorf("SQLitePath = %q, want env override", cfg.Storage.SQLitePath)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"duplicate account", "accounts:\n  - id: A\n  - id: A\n"},
		{"bad timezone", "accounts:\n  - id: A\n    timezone: Mars/Olympus\n"},
		{"bad reset time", "accounts:\n  - id: A\n    reset_time: \"25:99\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Errorf("Load accepted invalid config %q", tc.name)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("17:05")
	if err != nil || h != 17 || m != 5 {
		t.Errorf("ParseClock(17:05) = %d,%d,%v", h, m, err)
	}
	if _, _, err := ParseClock("nope"); err == nil {
		t.Error("ParseClock should reject garbage")
	}
}

func TestSettingsStoreReplaceAndSubscribe(t *testing.T) {
	log := discardLogger()
	s := NewSettingsStore(Rules{MaxContracts: MaxContracts{Enabled: true, Limit: 5}}, log)

	id, ch := s.Subscribe(1)
	defer s.Unsubscribe(id)

	next := s.Snapshot()
	next.MaxContracts.Limit = 10
	s.Replace(next)

	if got := s.Snapshot().MaxContracts.Limit; got != 10 {
		t.Errorf("Snapshot after Replace: Limit = %d, want 10", got)
	}

	select {
	case got := <-ch:
		if got.MaxContracts.Limit != 10 {
			t.Errorf("subscriber got Limit = %d, want 10", got.MaxContracts.Limit)
		}
	default:
		t.Error("subscriber did not receive settings update")
	}
}
